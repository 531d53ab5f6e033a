// Package throttle provides load-based admission control.
//
// The host reports a scalar load in [0,1]; the controller answers
// admission checks against it. Load at or above the backpressure
// threshold rejects everything. Below that, prioritized rules fire when
// load reaches their threshold: hard rules reject, soft rules allow with
// a fixed delay, adaptive rules allow with a delay that scales with
// load. Per-target circuits reject when open.
//
// The controller never sleeps; delays are advisory and pacing is the
// caller's responsibility.
package throttle
