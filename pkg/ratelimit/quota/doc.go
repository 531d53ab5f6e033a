// Package quota tracks long-horizon usage allowances per subject and
// resource.
//
// Where the algorithm stores in the sibling packages shape short-term
// request rates, quotas cap cumulative consumption over minutes to
// months. Quotas reset lazily on the first access after a period
// boundary, so the manager runs no background timer.
//
// Example:
//
//	mgr := quota.New(quota.Config{})
//	mgr.Create("user-42", "api_calls", 10000, quota.PeriodDay)
//
//	result := mgr.Consume("user-42", "api_calls", 1)
//	if !result.Allowed {
//		// quota exhausted until result.ResetAt
//	}
package quota
