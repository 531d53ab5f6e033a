/*
Package goadmit provides an in-process admission-control layer: per-caller,
per-endpoint rate limiting with quotas, policies, throttling, violation
escalation, and usage analytics.

Admission algorithms (pkg/ratelimit):
  - tokenbucket: Continuous-refill admission with burst headroom
  - slidingwindow: Windowed counting with sub-window precision
  - leakybucket: Backlog admission drained at a constant rate

Management and control:
  - quota: Longer-period usage ceilings (minute through month)
  - policy: Tiered, overridable limit resolution per subject/endpoint
  - throttle: Load-based throttling, backpressure, and circuit state
  - violation: Escalating penalties, bans, and appeals
  - analytics: Usage patterns, peak detection, capacity reporting
  - orchestrator: The composed request-admission pipeline
  - reaper: Cron-driven eviction of idle keys

Example usage:

	import "github.com/vnykmshr/goadmit/pkg/ratelimit/orchestrator"

	orch, _ := orchestrator.New(orchestrator.Config{})
	d := orch.Check("user-42", "/api/search", 1)
	if !d.Allowed {
		// Reject with d.Reason; retry after d.RetryAfter.
	}

All decisions are returned immediately with advisory wait times; the library
never sleeps or schedules on the caller's behalf. State is in-memory and
single-process.
*/
package goadmit
