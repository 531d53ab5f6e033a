// Package leakybucket provides a leaky bucket rate limiter that smooths
// bursty arrivals into a constant drain rate.
//
// Items queue in a bucket of fixed capacity and leak out at a steady
// rate. Arrivals that would overfill the bucket are rejected with the
// time until they would fit; accepted arrivals carry an estimate of how
// long they wait behind the existing backlog. Draining happens lazily on
// access, so the store runs no background goroutine.
//
// Example:
//
//	store, err := leakybucket.New(leakybucket.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	store.Create("ingest:events", leakybucket.Options{Capacity: 100, LeakRate: 10})
//	result := store.Add("ingest:events", 1)
//	if result.Allowed {
//		time.Sleep(result.Delay) // pace to the drain rate
//	}
package leakybucket
