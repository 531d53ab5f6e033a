/*
Package ratelimit provides the shared vocabulary for goadmit's admission
components: decision reasons, algorithm names, admission keys, and the
Clock abstraction.

The admission algorithms live in subpackages:

  - tokenbucket: Token bucket with continuous refill and burst headroom
  - slidingwindow: Moving-interval counting with sub-window precision
  - leakybucket: Backlog admission drained at a constant rate

Supporting components:

  - quota: Period-bound usage ceilings
  - policy: Tiered, overridable limit resolution
  - throttle: Load-based throttling and backpressure
  - violation: Escalating penalties, bans, and appeals
  - analytics: Per-check telemetry and derived reports
  - orchestrator: The composed admission pipeline
  - reaper: Cron-driven eviction of idle keys

Token Bucket vs Sliding Window vs Leaky Bucket:

Token bucket allows controlled bursts and is ideal for interactive traffic.
Sliding window counts events over a moving interval and degrades gracefully
to a fixed window at precision 1. Leaky bucket models a backlog drained at
a constant rate and reports the queueing delay ahead of each admitted unit.

Every admission operation is synchronous and non-blocking: it returns a
typed result carrying the decision and an advisory wait time. The caller
owns waiting, scheduling, and retry.
*/
package ratelimit
