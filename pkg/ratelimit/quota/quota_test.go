package quota

import (
	"errors"
	"testing"
	"time"

	"github.com/vnykmshr/goadmit/internal/testutil"
	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(base)
	return New(Config{Clock: clock}), clock
}

func TestPeriodDuration(t *testing.T) {
	tests := []struct {
		period Period
		want   time.Duration
	}{
		{PeriodMinute, time.Minute},
		{PeriodHour, time.Hour},
		{PeriodDay, 24 * time.Hour},
		{PeriodWeek, 7 * 24 * time.Hour},
		{PeriodMonth, 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			testutil.AssertEqual(t, tt.want, tt.period.Duration())
			testutil.AssertTrue(t, tt.period.Valid(), "expected valid period")
		})
	}

	testutil.AssertFalse(t, Period("fortnight").Valid(), "expected invalid period")
}

func TestCreateValidation(t *testing.T) {
	mgr, _ := newTestManager(t)

	tests := []struct {
		name     string
		subject  string
		resource string
		limit    int64
		period   Period
	}{
		{"empty subject", "", "api", 10, PeriodHour},
		{"empty resource", "user-1", "", 10, PeriodHour},
		{"zero limit", "user-1", "api", 0, PeriodHour},
		{"negative limit", "user-1", "api", -5, PeriodHour},
		{"bad period", "user-1", "api", 10, Period("fortnight")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Create(tt.subject, tt.resource, tt.limit, tt.period)
			testutil.AssertError(t, err)
			testutil.AssertTrue(t, gaerrors.IsValidationError(err), "expected validation error")
		})
	}
}

func TestCreateDuplicate(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Create("user-1", "api", 100, PeriodHour)
	testutil.AssertNoError(t, err)

	_, err = mgr.Create("user-1", "api", 200, PeriodDay)
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrExists), "expected already-exists error")
}

func TestConsume(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Create("user-1", "api", 10, PeriodHour)

	res := mgr.Consume("user-1", "api", 3)
	testutil.AssertTrue(t, res.Allowed, "expected allow")
	testutil.AssertEqual(t, int64(3), res.Used)
	testutil.AssertEqual(t, int64(7), res.Remaining)
	testutil.AssertEqual(t, int64(10), res.Limit)
	testutil.AssertEqual(t, base.Add(time.Hour), res.ResetAt)
}

func TestConsumeExceeded(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Create("user-1", "api", 10, PeriodHour)

	mgr.Consume("user-1", "api", 9)
	res := mgr.Consume("user-1", "api", 2)
	testutil.AssertFalse(t, res.Allowed, "expected reject over limit")
	testutil.AssertEqual(t, ratelimit.ReasonQuotaExceeded, res.Reason)
	// Rejected consumption does not charge the quota.
	testutil.AssertEqual(t, int64(9), res.Used)
	testutil.AssertEqual(t, int64(1), res.Remaining)
}

func TestConsumeUnknown(t *testing.T) {
	mgr, _ := newTestManager(t)

	res := mgr.Consume("ghost", "api", 1)
	testutil.AssertFalse(t, res.Allowed, "expected reject for unknown quota")
	testutil.AssertEqual(t, ratelimit.ReasonNotFound, res.Reason)
}

func TestLazyReset(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Create("user-1", "api", 5, PeriodMinute)

	mgr.Consume("user-1", "api", 5)
	testutil.AssertFalse(t, mgr.Consume("user-1", "api", 1).Allowed, "expected reject at limit")

	clock.Advance(time.Minute)
	res := mgr.Consume("user-1", "api", 1)
	testutil.AssertTrue(t, res.Allowed, "expected allow after period reset")
	testutil.AssertEqual(t, int64(1), res.Used)
	testutil.AssertEqual(t, base.Add(2*time.Minute), res.ResetAt)
}

func TestLazyResetSkipsWholePeriods(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Create("user-1", "api", 5, PeriodMinute)
	mgr.Consume("user-1", "api", 5)

	// Three and a half periods idle: the boundary lands on a whole
	// period step, not on the access time.
	clock.Advance(3*time.Minute + 30*time.Second)
	res := mgr.Consume("user-1", "api", 1)
	testutil.AssertTrue(t, res.Allowed, "expected allow after reset")
	testutil.AssertEqual(t, base.Add(4*time.Minute), res.ResetAt)
}

func TestUsage(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Create("user-1", "api", 10, PeriodHour)
	mgr.Consume("user-1", "api", 4)

	u, err := mgr.Usage("user-1", "api")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, int64(4), u.Used)
	testutil.AssertEqual(t, int64(6), u.Remaining)
	testutil.AssertEqual(t, 40.0, u.Percentage)
	testutil.AssertEqual(t, PeriodHour, u.Period)

	_, err = mgr.Usage("ghost", "api")
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrNotFound), "expected not-found error")
}

func TestSubjectUsage(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Create("user-1", "api", 10, PeriodHour)
	mgr.Create("user-1", "exports", 5, PeriodDay)
	mgr.Create("user-2", "api", 10, PeriodHour)

	mgr.Consume("user-1", "api", 2)
	mgr.Consume("user-1", "exports", 1)
	mgr.Consume("user-2", "api", 9)

	usages := mgr.SubjectUsage("user-1")
	testutil.AssertEqual(t, 2, len(usages))
	for _, u := range usages {
		testutil.AssertEqual(t, "user-1", u.Subject)
	}
}

func TestTotalConsumedSurvivesReset(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Create("user-1", "api", 5, PeriodMinute)

	mgr.Consume("user-1", "api", 5)
	clock.Advance(time.Minute)
	mgr.Consume("user-1", "api", 3)

	testutil.AssertEqual(t, int64(8), mgr.TotalConsumed("user-1", "api"))

	u, _ := mgr.Usage("user-1", "api")
	testutil.AssertEqual(t, int64(3), u.Used)
}

func TestUpdate(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Create("user-1", "api", 5, PeriodHour)
	mgr.Consume("user-1", "api", 5)

	testutil.AssertNoError(t, mgr.Update("user-1", "api", 10))
	testutil.AssertTrue(t, mgr.Consume("user-1", "api", 3).Allowed, "expected allow at raised limit")

	err := mgr.Update("ghost", "api", 10)
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrNotFound), "expected not-found error")

	err = mgr.Update("user-1", "api", 0)
	testutil.AssertTrue(t, gaerrors.IsValidationError(err), "expected validation error")
}

func TestReset(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Create("user-1", "api", 5, PeriodHour)
	mgr.Consume("user-1", "api", 5)

	clock.Advance(10 * time.Minute)
	testutil.AssertNoError(t, mgr.Reset("user-1", "api"))

	q, ok := mgr.Get("user-1", "api")
	testutil.AssertTrue(t, ok, "expected quota to exist")
	testutil.AssertEqual(t, int64(0), q.Used)
	testutil.AssertEqual(t, base.Add(70*time.Minute), q.ResetAt)

	err := mgr.Reset("ghost", "api")
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrNotFound), "expected not-found error")
}

func TestDeleteAndList(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Create("user-1", "api", 5, PeriodHour)
	mgr.Create("user-2", "api", 5, PeriodHour)

	testutil.AssertEqual(t, 2, len(mgr.List()))
	testutil.AssertEqual(t, 2, mgr.Len())

	testutil.AssertTrue(t, mgr.Delete("user-1", "api"), "expected delete to report existing quota")
	testutil.AssertFalse(t, mgr.Delete("user-1", "api"), "expected delete to report missing quota")
	testutil.AssertEqual(t, 1, mgr.Len())
}

func TestCounters(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Create("user-1", "api", 5, PeriodHour)

	mgr.Consume("user-1", "api", 3)
	mgr.Consume("user-1", "api", 3)
	mgr.Consume("user-1", "api", 2)

	testutil.AssertEqual(t, int64(5), mgr.Consumed())
	testutil.AssertEqual(t, int64(1), mgr.Exceeded())
}

func TestIdleKeys(t *testing.T) {
	mgr, clock := newTestManager(t)
	mgr.Create("old", "api", 5, PeriodHour)
	mgr.Consume("old", "api", 1)

	clock.Advance(time.Hour)
	mgr.Create("fresh", "api", 5, PeriodHour)
	mgr.Consume("fresh", "api", 1)

	idle := mgr.IdleKeys(30 * time.Minute)
	testutil.AssertEqual(t, 1, len(idle))
	testutil.AssertEqual(t, ratelimit.Key("old", "api"), idle[0])
	testutil.AssertTrue(t, mgr.DeleteKey(idle[0]), "expected delete by key")
}
