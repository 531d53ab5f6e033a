package policy

import (
	"strings"
	"sync"
	"time"

	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/common/validation"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

// Tier names a service level with canonical limits.
type Tier string

// Built-in tiers. SetTierLimits can define additional custom tiers.
const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierUnlimited  Tier = "unlimited"
)

// Source identifies which precedence level produced a set of limits.
type Source string

// Evaluation sources, from highest precedence to lowest.
const (
	SourceSubjectOverride Source = "subject_override"
	SourceEndpointRule    Source = "endpoint_rule"
	SourcePolicy          Source = "policy"
	SourceDynamicRule     Source = "dynamic_rule"
	SourceDefault         Source = "default"
)

// Limits is the resolved outcome of an evaluation. Unlimited means no
// ceiling applies and the numeric fields are advisory only.
type Limits struct {
	RPM       int
	Daily     int64
	Burst     int
	Unlimited bool
	Source    Source
}

// Policy binds a tier, optionally with overriding limits, under a name.
type Policy struct {
	ID        string
	Name      string
	Tier      Tier
	RPM       int
	Daily     int64
	Enabled   bool
	CreatedAt time.Time
}

// Options carries optional policy fields. Zero RPM and Daily defer to the
// tier's canonical limits.
type Options struct {
	RPM      int
	Daily    int64
	Disabled bool
}

// DynamicRule applies its limits to any subject containing Condition.
type DynamicRule struct {
	ID        string
	Condition string
	RPM       int
	CreatedAt time.Time
}

// Config configures an Engine.
type Config struct {
	// DefaultRPM is returned when no precedence level matches. Zero
	// means 60.
	DefaultRPM int

	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

type endpointRule struct {
	endpoint string
	rpm      int
}

type subjectOverride struct {
	subject string
	rpm     int
}

type tierLimits struct {
	rpm       int
	daily     int64
	unlimited bool
}

// Engine resolves effective limits for (subject, endpoint) pairs by a
// fixed precedence: subject override, then endpoint rule, then the first
// enabled policy (its tier applies to every endpoint), then the first
// dynamic rule whose condition is a substring of the subject, then the
// default. Evaluation mutates nothing beyond a counter; limits change
// only through explicit calls. All methods are safe for concurrent use.
type Engine struct {
	mu          sync.Mutex
	cfg         Config
	policies    []*Policy
	rules       []endpointRule
	overrides   []subjectOverride
	dynamic     []DynamicRule
	tiers       map[Tier]tierLimits
	evaluations int64
}

// New creates a policy engine with the built-in tier table.
func New(cfg Config) *Engine {
	if cfg.DefaultRPM == 0 {
		cfg.DefaultRPM = 60
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}
	return &Engine{
		cfg: cfg,
		tiers: map[Tier]tierLimits{
			TierFree:       {rpm: 10, daily: 1_000},
			TierBasic:      {rpm: 60, daily: 10_000},
			TierPro:        {rpm: 300, daily: 100_000},
			TierEnterprise: {rpm: 1_000, daily: 1_000_000},
			TierUnlimited:  {unlimited: true},
		},
	}
}

// Evaluate resolves the effective limits for subject on endpoint.
func (e *Engine) Evaluate(subject, endpoint string) Limits {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evaluations++

	for _, o := range e.overrides {
		if o.subject == subject {
			return withBurst(Limits{RPM: o.rpm, Daily: dailyFor(o.rpm), Source: SourceSubjectOverride})
		}
	}

	for _, r := range e.rules {
		if r.endpoint == endpoint {
			return withBurst(Limits{RPM: r.rpm, Daily: dailyFor(r.rpm), Source: SourceEndpointRule})
		}
	}

	for _, p := range e.policies {
		if !p.Enabled {
			continue
		}
		tl := e.tiers[p.Tier]
		if tl.unlimited {
			return Limits{Unlimited: true, Source: SourcePolicy}
		}
		rpm, daily := tl.rpm, tl.daily
		if p.RPM > 0 {
			rpm = p.RPM
		}
		if p.Daily > 0 {
			daily = p.Daily
		}
		return withBurst(Limits{RPM: rpm, Daily: daily, Source: SourcePolicy})
	}

	for _, d := range e.dynamic {
		if strings.Contains(subject, d.Condition) {
			return withBurst(Limits{RPM: d.RPM, Daily: dailyFor(d.RPM), Source: SourceDynamicRule})
		}
	}

	return withBurst(Limits{RPM: e.cfg.DefaultRPM, Daily: dailyFor(e.cfg.DefaultRPM), Source: SourceDefault})
}

// CreatePolicy registers a policy. Fails if the id is taken.
func (e *Engine) CreatePolicy(id, name string, tier Tier, opts Options) (Policy, error) {
	if err := validation.ValidateNotEmpty("policy", "id", id); err != nil {
		return Policy{}, err
	}
	if err := validation.ValidateNotEmpty("policy", "name", name); err != nil {
		return Policy{}, err
	}
	if tier == "" {
		tier = TierBasic
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tiers[tier]; !ok {
		return Policy{}, gaerrors.NewValidationError("policy", "tier", tier, "unknown tier")
	}
	for _, p := range e.policies {
		if p.ID == id {
			return Policy{}, gaerrors.ErrExists
		}
	}

	p := &Policy{
		ID:        id,
		Name:      name,
		Tier:      tier,
		RPM:       opts.RPM,
		Daily:     opts.Daily,
		Enabled:   !opts.Disabled,
		CreatedAt: e.cfg.Clock.Now(),
	}
	e.policies = append(e.policies, p)
	return *p, nil
}

// DeletePolicy removes a policy and reports whether it existed.
func (e *Engine) DeletePolicy(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, p := range e.policies {
		if p.ID == id {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			return true
		}
	}
	return false
}

// SetPolicyEnabled flips a policy in or out of the evaluation chain.
func (e *Engine) SetPolicyEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.policies {
		if p.ID == id {
			p.Enabled = enabled
			return nil
		}
	}
	return gaerrors.ErrNotFound
}

// GetPolicy returns the policy registered under id.
func (e *Engine) GetPolicy(id string) (Policy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.policies {
		if p.ID == id {
			return *p, true
		}
	}
	return Policy{}, false
}

// ListPolicies returns policies in registration order, optionally
// filtered by tier. An empty tier matches all.
func (e *Engine) ListPolicies(tier Tier) []Policy {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Policy
	for _, p := range e.policies {
		if tier != "" && p.Tier != tier {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// SetEndpointRule sets the per-minute limit for an endpoint, replacing
// any previous rule for it.
func (e *Engine) SetEndpointRule(endpoint string, rpm int) error {
	if err := validation.ValidateNotEmpty("policy", "endpoint", endpoint); err != nil {
		return err
	}
	if err := validation.ValidatePositive("policy", "rpm", rpm); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.endpoint == endpoint {
			e.rules[i].rpm = rpm
			return nil
		}
	}
	e.rules = append(e.rules, endpointRule{endpoint: endpoint, rpm: rpm})
	return nil
}

// RemoveEndpointRule removes an endpoint rule and reports whether it existed.
func (e *Engine) RemoveEndpointRule(endpoint string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.endpoint == endpoint {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetSubjectOverride pins a subject to a per-minute limit ahead of all
// other precedence levels, replacing any previous override.
func (e *Engine) SetSubjectOverride(subject string, rpm int) error {
	if err := validation.ValidateNotEmpty("policy", "subject", subject); err != nil {
		return err
	}
	if err := validation.ValidatePositive("policy", "rpm", rpm); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.overrides {
		if o.subject == subject {
			e.overrides[i].rpm = rpm
			return nil
		}
	}
	e.overrides = append(e.overrides, subjectOverride{subject: subject, rpm: rpm})
	return nil
}

// RemoveSubjectOverride removes a subject override and reports whether it
// existed.
func (e *Engine) RemoveSubjectOverride(subject string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, o := range e.overrides {
		if o.subject == subject {
			e.overrides = append(e.overrides[:i], e.overrides[i+1:]...)
			return true
		}
	}
	return false
}

// AddDynamicRule registers a rule applying rpm to any subject containing
// condition. Fails if the id is taken.
func (e *Engine) AddDynamicRule(id, condition string, rpm int) error {
	if err := validation.ValidateNotEmpty("policy", "id", id); err != nil {
		return err
	}
	if err := validation.ValidateNotEmpty("policy", "condition", condition); err != nil {
		return err
	}
	if err := validation.ValidatePositive("policy", "rpm", rpm); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, d := range e.dynamic {
		if d.ID == id {
			return gaerrors.ErrExists
		}
	}
	e.dynamic = append(e.dynamic, DynamicRule{
		ID:        id,
		Condition: condition,
		RPM:       rpm,
		CreatedAt: e.cfg.Clock.Now(),
	})
	return nil
}

// RemoveDynamicRule removes a dynamic rule and reports whether it existed.
func (e *Engine) RemoveDynamicRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, d := range e.dynamic {
		if d.ID == id {
			e.dynamic = append(e.dynamic[:i], e.dynamic[i+1:]...)
			return true
		}
	}
	return false
}

// SetTierLimits sets the canonical limits of a tier, defining the tier if
// it does not exist.
func (e *Engine) SetTierLimits(tier Tier, rpm int, daily int64) error {
	if err := validation.ValidateNotEmpty("policy", "tier", string(tier)); err != nil {
		return err
	}
	if err := validation.ValidatePositive("policy", "rpm", rpm); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tiers[tier] = tierLimits{rpm: rpm, daily: daily}
	return nil
}

// TierLimits returns the canonical limits of a tier.
func (e *Engine) TierLimits(tier Tier) (Limits, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tl, ok := e.tiers[tier]
	if !ok {
		return Limits{}, false
	}
	if tl.unlimited {
		return Limits{Unlimited: true}, true
	}
	return withBurst(Limits{RPM: tl.rpm, Daily: tl.daily}), true
}

// PolicyCount returns the number of registered policies.
func (e *Engine) PolicyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.policies)
}

// OverrideCount returns the number of subject overrides.
func (e *Engine) OverrideCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.overrides)
}

// EndpointRuleCount returns the number of endpoint rules.
func (e *Engine) EndpointRuleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

// Evaluations returns the count of evaluate calls.
func (e *Engine) Evaluations() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluations
}

// withBurst fills the burst ceiling at twice the per-minute limit.
func withBurst(l Limits) Limits {
	l.Burst = l.RPM * 2
	return l
}

// dailyFor derives a daily ceiling for levels that only carry a
// per-minute limit: a whole day at the allowed rate.
func dailyFor(rpm int) int64 {
	return int64(rpm) * 60 * 24
}
