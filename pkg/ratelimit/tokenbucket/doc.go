/*
Package tokenbucket provides keyed token bucket admission with continuous
refill and burst headroom.

Each key owns an independent bucket that starts full and refills at a
constant rate up to its burst capacity. Plain Consume only draws tokens up
to the configured capacity; ConsumeBurst may drain into the headroom
between capacity and burst capacity.

	store, _ := tokenbucket.New(tokenbucket.DefaultConfig())
	store.Create("user-1:/api", tokenbucket.Options{Capacity: 100, RefillRate: 100.0 / 60})

	r := store.Consume("user-1:/api", 1)
	if !r.Allowed {
		// Retry after r.RetryAfter.
	}

Refill is continuous-time rather than tick-based: available tokens are a
pure function of the elapsed wall clock since the bucket was last touched.
Reported token counts truncate to whole tokens only at the API boundary.
*/
package tokenbucket
