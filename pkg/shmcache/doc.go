// Package shmcache is a key/value cache shared between processes through a
// single System V shared memory segment. There is no broker: every process
// that opens the same key attaches to the same segment.
//
// # Basic Usage
//
//	cache, err := shmcache.Open[string](shmcache.Options{Size: "4M"})
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//
//	err = cache.Set("greeting", "hello", shmcache.Seconds(60))
//	v, found, err := cache.Get("greeting")
//
// # Keys and Slots
//
// Keys are hashed to 64-bit slots with the configured [HashAlgorithm]. Two
// keys hashing to the same slot overwrite each other; there is no collision
// resolution. Pick [HashXXH64] or [HashSHA256] to make that unlikely for
// large key sets.
//
// # Expiration
//
// Each entry carries an optional absolute expiry. Expired entries are
// removed lazily by the read ([Cache.Get], [Cache.Has]) that finds them;
// there is no background sweeper.
//
// # Consistency
//
// Single-key operations are atomic across processes. [Cache.Clear] and the
// batch operations are not: another process may observe a partial batch or
// a briefly missing segment. Use [Cache.Lock] to make such sequences
// exclusive among cooperating processes.
//
// # Lifetime
//
// The segment outlives every handle. [Cache.Close] only detaches;
// [Cache.Destroy] removes the segment from the OS.
package shmcache
