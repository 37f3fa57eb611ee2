package shmcache

import (
	"time"
)

// envelope is the record stored at a slot. Payload holds the serialized
// value; Expires is unix nanoseconds, zero for entries that never expire.
//
// The envelope itself goes through the configured serializer, then the
// compressor.
type envelope struct {
	Payload []byte
	Expires int64
}

func newEnvelope(payload []byte, expires time.Time) envelope {
	env := envelope{Payload: payload}
	if !expires.IsZero() {
		env.Expires = expires.UnixNano()
	}

	return env
}

func (e envelope) expired(now time.Time) bool {
	return e.Expires != 0 && e.Expires <= now.UnixNano()
}

// expiresAt returns the expiry, or the zero time for entries that never
// expire.
func (e envelope) expiresAt() time.Time {
	if e.Expires == 0 {
		return time.Time{}
	}

	return time.Unix(0, e.Expires)
}
