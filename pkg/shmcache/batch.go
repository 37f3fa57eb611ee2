package shmcache

// Item is one key/value pair of a batch operation.
type Item[V any] struct {
	Key   string
	Value V
}

// GetMultiple returns one Item per key, in input order, duplicates
// included. Missing or expired keys carry def. The first error aborts the
// batch.
//
// Batch operations are loops over single-key operations; other processes may
// observe any intermediate state.
func (c *Cache[V]) GetMultiple(keys []string, def V) ([]Item[V], error) {
	items := make([]Item[V], 0, len(keys))

	for _, key := range keys {
		v, err := c.GetOr(key, def)
		if err != nil {
			return nil, err
		}

		items = append(items, Item[V]{Key: key, Value: v})
	}

	return items, nil
}

// SetMultiple stores every entry with the same ttl and reports whether all
// writes succeeded. An invalid ttl fails before anything is written. Every
// entry is attempted; individual failures are logged, not returned.
//
// An empty batch returns false.
func (c *Cache[V]) SetMultiple(entries []Item[V], ttl TTL) (bool, error) {
	if err := c.usable(); err != nil {
		return false, err
	}

	if err := ttl.validate(); err != nil {
		return false, err
	}

	if len(entries) == 0 {
		return false, nil
	}

	ok := true

	for _, entry := range entries {
		if err := c.Set(entry.Key, entry.Value, ttl); err != nil {
			c.logger.Warn("batch set failed", "key", entry.Key, "error", err)

			ok = false
		}
	}

	return ok, nil
}

// DeleteMultiple removes every key and reports whether each one was
// removed. Every key is attempted; individual failures are logged, not
// returned.
//
// An empty batch returns false.
func (c *Cache[V]) DeleteMultiple(keys []string) (bool, error) {
	if err := c.usable(); err != nil {
		return false, err
	}

	if len(keys) == 0 {
		return false, nil
	}

	ok := true

	for _, key := range keys {
		removed, err := c.Delete(key)
		if err != nil {
			c.logger.Warn("batch delete failed", "key", key, "error", err)
		}

		if err != nil || !removed {
			ok = false
		}
	}

	return ok, nil
}
