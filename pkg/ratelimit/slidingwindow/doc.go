// Package slidingwindow provides a sliding window rate limiter with
// configurable sub-window precision.
//
// Each window tracks hits in precision sub-windows. Recording purges
// sub-windows older than the window length, so the counted span slides
// continuously with sub-window granularity rather than resetting at
// fixed boundaries.
//
// Example:
//
//	store, err := slidingwindow.New(slidingwindow.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	store.Create("api:search", slidingwindow.Options{MaxRequests: 100})
//	result := store.Record("api:search", 1)
//	if !result.Allowed {
//		// back off for result.RetryAfter
//	}
package slidingwindow
