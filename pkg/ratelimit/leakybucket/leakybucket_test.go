package leakybucket

import (
	"errors"
	"testing"
	"time"

	"github.com/vnykmshr/goadmit/internal/testutil"
	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(base)
	store, err := New(Config{
		DefaultCapacity: 10,
		DefaultLeakRate: 1.0,
		Clock:           clock,
	})
	testutil.AssertNoError(t, err)
	return store, clock
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero capacity", Config{DefaultLeakRate: 1.0}},
		{"zero leak rate", Config{DefaultCapacity: 10}},
		{"negative leak rate", Config{DefaultCapacity: 10, DefaultLeakRate: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			testutil.AssertError(t, err)
			testutil.AssertTrue(t, gaerrors.IsValidationError(err), "expected validation error")
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	store, _ := newTestStore(t)

	b, err := store.Create("k1", Options{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, 10, b.Capacity)
	testutil.AssertEqual(t, 1.0, b.LeakRate)
	testutil.AssertEqual(t, 0.0, b.Level)
}

func TestAddQueuesItems(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("k1", Options{Capacity: 5})

	res := store.Add("k1", 3)
	testutil.AssertTrue(t, res.Allowed, "expected allow")
	testutil.AssertEqual(t, 3.0, res.Level)
	testutil.AssertEqual(t, 5, res.Capacity)
	testutil.AssertEqual(t, time.Duration(0), res.Delay)
}

func TestAddDelayBehindBacklog(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("k1", Options{Capacity: 10, LeakRate: 2.0})

	store.Add("k1", 4)
	res := store.Add("k1", 1)
	testutil.AssertTrue(t, res.Allowed, "expected allow")
	// 4 items drain at 2/s ahead of this one.
	testutil.AssertEqual(t, 2*time.Second, res.Delay)
}

func TestAddOverflow(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("k1", Options{Capacity: 5, LeakRate: 1.0})

	store.Add("k1", 5)
	res := store.Add("k1", 2)
	testutil.AssertFalse(t, res.Allowed, "expected overflow reject")
	testutil.AssertEqual(t, ratelimit.ReasonOverflow, res.Reason)
	testutil.AssertEqual(t, 5.0, res.Level)
	// 2 items over capacity drain at 1/s.
	testutil.AssertEqual(t, 2*time.Second, res.RetryAfter)
}

func TestAddUnknownKey(t *testing.T) {
	store, _ := newTestStore(t)

	res := store.Add("missing", 1)
	testutil.AssertFalse(t, res.Allowed, "expected reject for unknown key")
	testutil.AssertEqual(t, ratelimit.ReasonNotFound, res.Reason)
}

func TestLazyLeak(t *testing.T) {
	store, clock := newTestStore(t)
	store.Create("k1", Options{Capacity: 10, LeakRate: 2.0})

	store.Add("k1", 8)
	clock.Advance(3 * time.Second)

	b, ok := store.Get("k1")
	testutil.AssertTrue(t, ok, "expected bucket to exist")
	testutil.AssertEqual(t, 2.0, b.Level)
}

func TestLeakNeverBelowEmpty(t *testing.T) {
	store, clock := newTestStore(t)
	store.Create("k1", Options{Capacity: 10, LeakRate: 5.0})

	store.Add("k1", 2)
	clock.Advance(time.Hour)

	b, err := store.Leak("k1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, 0.0, b.Level)

	_, err = store.Leak("missing")
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrNotFound), "expected not-found error")
}

func TestOverflowThenDrain(t *testing.T) {
	store, clock := newTestStore(t)
	store.Create("k1", Options{Capacity: 4, LeakRate: 1.0})

	store.Add("k1", 4)
	testutil.AssertFalse(t, store.Add("k1", 1).Allowed, "expected overflow at capacity")

	clock.Advance(time.Second)
	res := store.Add("k1", 1)
	testutil.AssertTrue(t, res.Allowed, "expected allow after drain")
	testutil.AssertEqual(t, 4.0, res.Level)
}

func TestReset(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("k1", Options{Capacity: 5})

	store.Add("k1", 5)
	testutil.AssertNoError(t, store.Reset("k1"))

	b, _ := store.Get("k1")
	testutil.AssertEqual(t, 0.0, b.Level)

	err := store.Reset("missing")
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrNotFound), "expected not-found error")
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("k1", Options{})

	testutil.AssertTrue(t, store.Delete("k1"), "expected delete to report existing key")
	testutil.AssertFalse(t, store.Delete("k1"), "expected delete to report missing key")
	testutil.AssertEqual(t, 0, store.Len())
}

func TestUpdateRate(t *testing.T) {
	store, clock := newTestStore(t)
	store.Create("k1", Options{Capacity: 10, LeakRate: 1.0})

	store.Add("k1", 8)
	testutil.AssertNoError(t, store.UpdateRate("k1", 4.0, 20))

	clock.Advance(time.Second)
	b, _ := store.Get("k1")
	testutil.AssertEqual(t, 4.0, b.Level)
	testutil.AssertEqual(t, 20, b.Capacity)

	err := store.UpdateRate("missing", 1.0, 0)
	testutil.AssertTrue(t, errors.Is(err, gaerrors.ErrNotFound), "expected not-found error")
}

func TestListAndCounters(t *testing.T) {
	store, _ := newTestStore(t)
	store.Create("k1", Options{Capacity: 1})
	store.Create("k2", Options{})

	store.Add("k1", 1)
	store.Add("k1", 1)
	store.Add("k2", 1)

	testutil.AssertEqual(t, 2, len(store.List()))
	testutil.AssertEqual(t, int64(2), store.Allowed())
	testutil.AssertEqual(t, int64(1), store.Rejected())
}

func TestIdleKeys(t *testing.T) {
	store, clock := newTestStore(t)
	store.Create("old", Options{})
	store.Add("old", 1)

	clock.Advance(time.Hour)
	store.Create("fresh", Options{})
	store.Add("fresh", 1)

	idle := store.IdleKeys(30 * time.Minute)
	testutil.AssertEqual(t, 1, len(idle))
	testutil.AssertEqual(t, "old", idle[0])
}
