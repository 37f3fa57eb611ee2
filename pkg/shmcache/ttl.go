package shmcache

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TTL is a time-to-live for [Cache.Set]. The zero value never expires.
//
// A zero duration is accepted and stores an entry that is already expired;
// reads treat it as absent. Negative durations fail with [ErrInvalidTTL].
type TTL struct {
	d   time.Duration
	set bool
}

// NoExpiry is the zero TTL.
var NoExpiry TTL

// Seconds returns a TTL of n seconds. Values beyond what [time.Duration]
// can hold are clamped to its range, so large negative values stay negative.
func Seconds(n int64) TTL {
	if n > math.MaxInt64/int64(time.Second) {
		return TTL{d: math.MaxInt64, set: true}
	}

	if n < math.MinInt64/int64(time.Second) {
		return TTL{d: math.MinInt64, set: true}
	}

	return TTL{d: time.Duration(n) * time.Second, set: true}
}

// Duration returns a TTL of d.
func Duration(d time.Duration) TTL {
	return TTL{d: d, set: true}
}

// ParseTTL parses "" (no expiry), an integer number of seconds ("60"), or a
// [time.ParseDuration] string ("1m30s").
func ParseTTL(s string) (TTL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoExpiry, nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		ttl := Seconds(n)

		return ttl, ttl.validate()
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return TTL{}, fmt.Errorf("%w: %q is neither seconds nor a duration", ErrInvalidTTL, s)
	}

	ttl := Duration(d)

	return ttl, ttl.validate()
}

// Expires reports whether entries written with t expire.
func (t TTL) Expires() bool { return t.set }

// Duration returns the configured duration, zero for [NoExpiry].
func (t TTL) Duration() time.Duration { return t.d }

func (t TTL) String() string {
	if !t.set {
		return "never"
	}

	return t.d.String()
}

func (t TTL) validate() error {
	if t.set && t.d < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidTTL, t.d)
	}

	return nil
}

// resolveExpiration returns the absolute expiry for a write at now, or the
// zero time for entries that never expire.
func resolveExpiration(ttl TTL, now time.Time) (time.Time, error) {
	if err := ttl.validate(); err != nil {
		return time.Time{}, err
	}

	if !ttl.set {
		return time.Time{}, nil
	}

	// Envelopes store unix nanoseconds, which end in 2262.
	expires := now.Add(ttl.d)
	if expires.After(maxExpiry) {
		expires = maxExpiry
	}

	return expires, nil
}

var maxExpiry = time.Unix(0, math.MaxInt64)
