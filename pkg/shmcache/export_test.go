package shmcache

import "time"

// WithClockForTesting returns opts with the cache clock replaced by now.
func WithClockForTesting(opts Options, now func() time.Time) Options {
	opts.now = now

	return opts
}
