// Package orchestrator composes the admission components into a single
// check pipeline.
//
// A check passes through the stages in order, each short-circuiting on
// reject: ban check, throttle and backpressure check, policy resolution,
// then the selected algorithm's admission primitive over lazily
// provisioned per-key state. Every check lands in analytics; rejections
// at the algorithm stage record a violation, feeding the escalation
// ladder. Quota checks run as an independent path whose rejections also
// record violations.
//
// Example:
//
//	orch, err := orchestrator.New(orchestrator.Config{DefaultRPM: 120})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	d := orch.Check("user-42", "/api/search", 1)
//	if !d.Allowed {
//		// reject with d.Reason, advise d.RetryAfter
//	}
package orchestrator
