package throttle

import (
	"errors"
	"testing"
	"time"

	"github.com/vnykmshr/goadmit/internal/testutil"
	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := New(Config{
		LoadThreshold:         0.8,
		BackpressureThreshold: 0.95,
		HistorySize:           10,
	})
	testutil.AssertNoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{LoadThreshold: 1.5})
	testutil.AssertTrue(t, gaerrors.IsValidationError(err), "expected validation error")

	_, err = New(Config{BackpressureThreshold: -0.1})
	testutil.AssertTrue(t, gaerrors.IsValidationError(err), "expected validation error")
}

func TestCheckPassesLowLoad(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1", Mode: ModeHard, Threshold: 0.8})
	c.UpdateLoad(0.3)

	res := c.Check("")
	testutil.AssertTrue(t, res.Allowed, "expected allow under threshold")
	testutil.AssertFalse(t, res.Throttled, "expected no throttle under threshold")
	testutil.AssertEqual(t, time.Duration(0), res.Delay)
}

func TestCheckHardThrottle(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1", Mode: ModeHard, Threshold: 0.5})
	c.UpdateLoad(0.6)

	res := c.Check("")
	testutil.AssertFalse(t, res.Allowed, "expected hard reject")
	testutil.AssertEqual(t, ratelimit.ReasonHardThrottle, res.Reason)
	testutil.AssertEqual(t, "r1", res.RuleID)
}

func TestCheckSoftThrottle(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1", Mode: ModeSoft, Threshold: 0.5, Delay: 100 * time.Millisecond})
	c.UpdateLoad(0.6)

	res := c.Check("")
	testutil.AssertTrue(t, res.Allowed, "expected soft allow")
	testutil.AssertTrue(t, res.Throttled, "expected throttled flag")
	testutil.AssertEqual(t, 100*time.Millisecond, res.Delay)
}

func TestCheckAdaptiveThrottle(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1", Mode: ModeAdaptive, Threshold: 0.5, Delay: 100 * time.Millisecond})
	c.UpdateLoad(0.7)

	res := c.Check("")
	testutil.AssertTrue(t, res.Allowed, "expected adaptive allow")
	testutil.AssertTrue(t, res.Throttled, "expected throttled flag")
	// 100ms scaled by 0.7/0.5.
	testutil.AssertEqual(t, 140*time.Millisecond, res.Delay)
}

func TestCheckBackpressure(t *testing.T) {
	c := newTestController(t)
	c.UpdateLoad(0.96)

	res := c.Check("")
	testutil.AssertFalse(t, res.Allowed, "expected backpressure reject")
	testutil.AssertEqual(t, ratelimit.ReasonBackpressure, res.Reason)

	// Exactly at the threshold still rejects.
	c.UpdateLoad(0.95)
	res = c.Check("")
	testutil.AssertEqual(t, ratelimit.ReasonBackpressure, res.Reason)

	c.UpdateLoad(0.94)
	testutil.AssertTrue(t, c.Check("").Allowed, "expected allow just under threshold")
}

func TestBackpressureBeatsRules(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1", Mode: ModeSoft, Threshold: 0.5})
	c.UpdateLoad(0.96)

	res := c.Check("")
	testutil.AssertEqual(t, ratelimit.ReasonBackpressure, res.Reason)
	testutil.AssertEqual(t, "", res.RuleID)
}

func TestCheckCircuit(t *testing.T) {
	c := newTestController(t)

	c.SetCircuit("api", true)
	res := c.Check("api")
	testutil.AssertFalse(t, res.Allowed, "expected reject with open circuit")
	testutil.AssertEqual(t, ratelimit.ReasonCircuitOpen, res.Reason)
	testutil.AssertTrue(t, c.CircuitOpen("api"), "expected circuit to report open")

	c.SetCircuit("api", false)
	testutil.AssertTrue(t, c.Check("api").Allowed, "expected allow with closed circuit")

	// Other targets are unaffected.
	c.SetCircuit("api", true)
	testutil.AssertTrue(t, c.Check("worker").Allowed, "expected allow for other target")
}

func TestTargetFiltering(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1", Mode: ModeHard, Threshold: 0.5, Target: "api"})
	c.UpdateLoad(0.6)

	testutil.AssertFalse(t, c.Check("api").Allowed, "expected reject for rule target")
	testutil.AssertTrue(t, c.Check("other").Allowed, "expected allow for other target")
}

func TestRulePriority(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "soft", Mode: ModeSoft, Threshold: 0.5, Priority: 1})
	c.AddRule(Rule{ID: "hard", Mode: ModeHard, Threshold: 0.5, Priority: 9})
	c.UpdateLoad(0.6)

	res := c.Check("")
	testutil.AssertEqual(t, "hard", res.RuleID)
	testutil.AssertFalse(t, res.Allowed, "expected higher-priority rule to fire")
}

func TestAddRuleDefaultsAndValidation(t *testing.T) {
	c := newTestController(t)

	testutil.AssertNoError(t, c.AddRule(Rule{ID: "r1"}))
	r, ok := c.GetRule("r1")
	testutil.AssertTrue(t, ok, "expected rule to exist")
	testutil.AssertEqual(t, ModeSoft, r.Mode)
	testutil.AssertEqual(t, 0.8, r.Threshold)
	testutil.AssertEqual(t, 100*time.Millisecond, r.Delay)

	err := c.AddRule(Rule{ID: "r1"})
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrExists), "expected already-exists error")

	err = c.AddRule(Rule{ID: "r2", Mode: Mode("medium")})
	testutil.AssertTrue(t, gaerrors.IsValidationError(err), "expected validation error for bad mode")

	err = c.AddRule(Rule{ID: ""})
	testutil.AssertTrue(t, gaerrors.IsValidationError(err), "expected validation error for empty id")
}

func TestRemoveRule(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1"})

	testutil.AssertTrue(t, c.RemoveRule("r1"), "expected remove to report existing rule")
	testutil.AssertFalse(t, c.RemoveRule("r1"), "expected remove to report missing rule")
	testutil.AssertEqual(t, 0, c.RuleCount())
}

func TestUpdateLoadClamps(t *testing.T) {
	c := newTestController(t)

	testutil.AssertEqual(t, 1.0, c.UpdateLoad(1.5))
	testutil.AssertEqual(t, 1.0, c.Load())

	testutil.AssertEqual(t, 0.0, c.UpdateLoad(-0.5))
	testutil.AssertEqual(t, 0.0, c.Load())
}

func TestLoadHistoryBounded(t *testing.T) {
	c := newTestController(t)

	for i := 0; i < 15; i++ {
		c.UpdateLoad(float64(i) / 20)
	}

	h := c.LoadHistory()
	testutil.AssertEqual(t, 10, len(h))
	// Oldest retained sample is the sixth update.
	testutil.AssertEqual(t, 0.25, h[0].Load)
}

func TestListRulesAndCounters(t *testing.T) {
	c := newTestController(t)
	c.AddRule(Rule{ID: "r1", Mode: ModeHard, Threshold: 0.5})
	c.AddRule(Rule{ID: "r2"})

	testutil.AssertEqual(t, 2, len(c.ListRules()))

	c.UpdateLoad(0.6)
	c.Check("")
	c.UpdateLoad(0.1)
	c.Check("")

	testutil.AssertEqual(t, int64(2), c.Checks())
	testutil.AssertEqual(t, int64(1), c.Throttled())
}
