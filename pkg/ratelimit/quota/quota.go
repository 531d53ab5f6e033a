package quota

import (
	"sync"
	"time"

	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/common/validation"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

// Period is the reset cycle of a quota.
type Period string

// Supported quota periods.
const (
	PeriodMinute Period = "minute"
	PeriodHour   Period = "hour"
	PeriodDay    Period = "day"
	PeriodWeek   Period = "week"
	PeriodMonth  Period = "month"
)

// Duration returns the period length. The month period is a fixed 30
// days so reset arithmetic stays calendar-independent.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodMinute:
		return time.Minute
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether p is a supported period.
func (p Period) Valid() bool {
	return p.Duration() > 0
}

// Config configures a quota manager.
type Config struct {
	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

// Quota is a point-in-time snapshot of one quota's state.
type Quota struct {
	Subject   string
	Resource  string
	Limit     int64
	Used      int64
	Period    Period
	ResetAt   time.Time
	CreatedAt time.Time
}

// Usage describes how much of a quota is consumed.
type Usage struct {
	Subject    string
	Resource   string
	Limit      int64
	Used       int64
	Remaining  int64
	Percentage float64
	Period     Period
	ResetAt    time.Time
}

// Result is the outcome of a consume call.
type Result struct {
	Allowed   bool
	Reason    ratelimit.Reason
	Used      int64
	Remaining int64
	Limit     int64
	ResetAt   time.Time
}

type quota struct {
	subject   string
	resource  string
	limit     int64
	used      int64
	period    Period
	resetAt   time.Time
	createdAt time.Time
	lastSeen  time.Time
}

// Manager tracks long-horizon usage allowances per subject and resource.
// Quotas reset lazily: the first access after a period boundary advances
// the boundary and zeroes usage, so no background timer runs. All methods
// are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	quotas   map[string]*quota
	totals   map[string]int64
	consumed int64
	exceeded int64
}

// New creates a quota manager.
func New(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}
	return &Manager{
		cfg:    cfg,
		quotas: make(map[string]*quota),
		totals: make(map[string]int64),
	}
}

// Create provisions a quota of limit units per period for subject's use
// of resource. Fails if the quota already exists.
func (m *Manager) Create(subject, resource string, limit int64, period Period) (Quota, error) {
	if err := validation.ValidateNotEmpty("quota", "subject", subject); err != nil {
		return Quota{}, err
	}
	if err := validation.ValidateNotEmpty("quota", "resource", resource); err != nil {
		return Quota{}, err
	}
	if limit <= 0 {
		return Quota{}, gaerrors.NewValidationError("quota", "limit", limit, "must be positive")
	}
	if !period.Valid() {
		return Quota{}, gaerrors.NewValidationError("quota", "period", period, "must be minute, hour, day, week or month")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ratelimit.Key(subject, resource)
	if _, ok := m.quotas[key]; ok {
		return Quota{}, gaerrors.ErrExists
	}

	now := m.cfg.Clock.Now()
	q := &quota{
		subject:   subject,
		resource:  resource,
		limit:     limit,
		period:    period,
		resetAt:   now.Add(period.Duration()),
		createdAt: now,
		lastSeen:  now,
	}
	m.quotas[key] = q
	return q.snapshot(), nil
}

// Consume charges n units against subject's quota for resource. Usage
// that would exceed the limit is rejected whole; quotas never go
// partially consumed.
func (m *Manager) Consume(subject, resource string, n int64) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[ratelimit.Key(subject, resource)]
	if !ok {
		return Result{Allowed: false, Reason: ratelimit.ReasonNotFound}
	}

	now := m.cfg.Clock.Now()
	q.rollover(now)
	q.lastSeen = now

	if q.used+n > q.limit {
		m.exceeded++
		return Result{
			Allowed:   false,
			Reason:    ratelimit.ReasonQuotaExceeded,
			Used:      q.used,
			Remaining: q.limit - q.used,
			Limit:     q.limit,
			ResetAt:   q.resetAt,
		}
	}

	q.used += n
	m.consumed += n
	m.totals[ratelimit.Key(subject, resource)] += n
	return Result{
		Allowed:   true,
		Used:      q.used,
		Remaining: q.limit - q.used,
		Limit:     q.limit,
		ResetAt:   q.resetAt,
	}
}

// Usage returns consumption detail for subject's quota on resource.
func (m *Manager) Usage(subject, resource string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[ratelimit.Key(subject, resource)]
	if !ok {
		return Usage{}, gaerrors.ErrNotFound
	}
	q.rollover(m.cfg.Clock.Now())

	return Usage{
		Subject:    q.subject,
		Resource:   q.resource,
		Limit:      q.limit,
		Used:       q.used,
		Remaining:  q.limit - q.used,
		Percentage: float64(q.used) / float64(q.limit) * 100,
		Period:     q.period,
		ResetAt:    q.resetAt,
	}, nil
}

// SubjectUsage returns consumption detail for every quota held by subject.
func (m *Manager) SubjectUsage(subject string) []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock.Now()
	var out []Usage
	for _, q := range m.quotas {
		if q.subject != subject {
			continue
		}
		q.rollover(now)
		out = append(out, Usage{
			Subject:    q.subject,
			Resource:   q.resource,
			Limit:      q.limit,
			Used:       q.used,
			Remaining:  q.limit - q.used,
			Percentage: float64(q.used) / float64(q.limit) * 100,
			Period:     q.period,
			ResetAt:    q.resetAt,
		})
	}
	return out
}

// Update changes the limit of subject's quota on resource. Existing usage
// is kept, so a lowered limit can leave the quota already exceeded.
func (m *Manager) Update(subject, resource string, limit int64) error {
	if limit <= 0 {
		return gaerrors.NewValidationError("quota", "limit", limit, "must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[ratelimit.Key(subject, resource)]
	if !ok {
		return gaerrors.ErrNotFound
	}
	q.limit = limit
	return nil
}

// Reset zeroes usage on subject's quota for resource and restarts its
// period from now.
func (m *Manager) Reset(subject, resource string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[ratelimit.Key(subject, resource)]
	if !ok {
		return gaerrors.ErrNotFound
	}
	q.used = 0
	q.resetAt = m.cfg.Clock.Now().Add(q.period.Duration())
	return nil
}

// Delete removes subject's quota on resource and reports whether it existed.
func (m *Manager) Delete(subject, resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ratelimit.Key(subject, resource)
	if _, ok := m.quotas[key]; !ok {
		return false
	}
	delete(m.quotas, key)
	return true
}

// Get returns a snapshot of subject's quota on resource.
func (m *Manager) Get(subject, resource string) (Quota, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.quotas[ratelimit.Key(subject, resource)]
	if !ok {
		return Quota{}, false
	}
	q.rollover(m.cfg.Clock.Now())
	return q.snapshot(), true
}

// List returns snapshots of all quotas.
func (m *Manager) List() []Quota {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Clock.Now()
	out := make([]Quota, 0, len(m.quotas))
	for _, q := range m.quotas {
		q.rollover(now)
		out = append(out, q.snapshot())
	}
	return out
}

// Len returns the number of quotas.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.quotas)
}

// TotalConsumed returns the lifetime units charged against subject's
// quota on resource, across period resets.
func (m *Manager) TotalConsumed(subject, resource string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[ratelimit.Key(subject, resource)]
}

// Consumed returns the total units charged across all quotas.
func (m *Manager) Consumed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumed
}

// Exceeded returns the count of rejected consume calls.
func (m *Manager) Exceeded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exceeded
}

// IdleKeys returns keys whose quotas have not been consumed for longer
// than olderThan. Used by the reaper; the manager itself never sweeps.
func (m *Manager) IdleKeys(olderThan time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.cfg.Clock.Now().Add(-olderThan)
	var keys []string
	for key, q := range m.quotas {
		if q.lastSeen.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}

// DeleteKey removes the quota stored under a combined key. Callers
// normally use Delete; sweepers go through Keyed.
func (m *Manager) DeleteKey(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.quotas[key]; !ok {
		return false
	}
	delete(m.quotas, key)
	return true
}

// KeyedView exposes the manager under combined subject:resource keys so
// sweepers that delete by key can evict idle quotas.
type KeyedView struct {
	m *Manager
}

// Keyed returns a keyed view of the manager.
func (m *Manager) Keyed() KeyedView { return KeyedView{m: m} }

// IdleKeys reports keys idle past olderThan.
func (v KeyedView) IdleKeys(olderThan time.Duration) []string {
	return v.m.IdleKeys(olderThan)
}

// Delete removes the quota stored under key.
func (v KeyedView) Delete(key string) bool { return v.m.DeleteKey(key) }

// rollover advances the reset boundary past now in whole period steps and
// zeroes usage if at least one boundary was crossed.
func (q *quota) rollover(now time.Time) {
	if now.Before(q.resetAt) {
		return
	}
	step := q.period.Duration()
	for !now.Before(q.resetAt) {
		q.resetAt = q.resetAt.Add(step)
	}
	q.used = 0
}

func (q *quota) snapshot() Quota {
	return Quota{
		Subject:   q.subject,
		Resource:  q.resource,
		Limit:     q.limit,
		Used:      q.used,
		Period:    q.period,
		ResetAt:   q.resetAt,
		CreatedAt: q.createdAt,
	}
}
