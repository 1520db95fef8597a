// Package shm provides the shared state that backs a protected resource.
//
// Every resource identifier owns one fixed-layout [Record] holding its
// bulkhead and circuit breaker counters. A [Store] hands out [Region]
// handles to those records; all reads and writes happen inside
// [Region.WithLock], which holds the identifier's mutex for the duration of
// a single read-modify-write and never longer.
//
// # Stores
//
//   - [MemoryStore] keeps records in the current address space. Every
//     handle opened on the same store value sees the same record.
//
//   - [FileStore] keeps one memory-mapped file per identifier in a state
//     directory (by default under /dev/shm) and serialises access with
//     flock(2), so separate processes on the same host share state and a
//     restarted process finds the record exactly as it was left.
//
// # Usage
//
//	store, err := shm.NewFileStore("")
//	if err != nil {
//	    return err // wraps shm.ErrStateUnavailable
//	}
//	region, err := store.Open("http_localhost_8080", shm.Sizing{Tickets: 3})
//	if err != nil {
//	    return err
//	}
//	defer region.Close()
//
//	err = region.WithLock(func(rec *shm.Record) error {
//	    rec.ConsecutiveFailures++
//	    return nil
//	})
//
// Mutations made inside WithLock are committed only when the callback
// returns nil.
package shm
