package throttle

import (
	"math"
	"sort"
	"sync"
	"time"

	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/common/validation"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

// Mode decides what a firing rule does to the request.
type Mode string

// Throttle modes.
const (
	// ModeHard rejects outright.
	ModeHard Mode = "hard"
	// ModeSoft allows with the rule's fixed delay.
	ModeSoft Mode = "soft"
	// ModeAdaptive allows with the rule's delay scaled by load over
	// threshold, so the penalty grows as the system heats up.
	ModeAdaptive Mode = "adaptive"
)

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	return m == ModeHard || m == ModeSoft || m == ModeAdaptive
}

// Rule fires when current load reaches its threshold. An empty target
// matches every check; otherwise only checks naming the same target.
type Rule struct {
	ID        string
	Mode      Mode
	Threshold float64
	Delay     time.Duration
	Target    string
	Priority  int
	CreatedAt time.Time
}

// Result is the outcome of a check.
type Result struct {
	Allowed   bool
	Throttled bool
	Reason    ratelimit.Reason
	Delay     time.Duration
	Load      float64
	RuleID    string
}

// Config configures a Controller.
type Config struct {
	// LoadThreshold is the default threshold for rules added without
	// one. Zero means 0.8.
	LoadThreshold float64

	// BackpressureThreshold is the load at which every check rejects
	// regardless of rules. Zero means 0.95.
	BackpressureThreshold float64

	// HistorySize bounds the retained load samples. Zero means 100.
	HistorySize int

	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

// LoadSample is one recorded load update.
type LoadSample struct {
	Load float64
	At   time.Time
}

// Controller makes load-based admission decisions. Load is a scalar in
// [0,1] pushed in by the host; the controller never measures anything
// itself. All methods are safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	cfg       Config
	load      float64
	rules     []*Rule
	circuits  map[string]bool // true = open
	history   []LoadSample
	checks    int64
	throttled int64
}

// New creates a throttle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.LoadThreshold == 0 {
		cfg.LoadThreshold = 0.8
	}
	if cfg.BackpressureThreshold == 0 {
		cfg.BackpressureThreshold = 0.95
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = 100
	}
	if err := validation.ValidateFraction("throttle", "load_threshold", cfg.LoadThreshold); err != nil {
		return nil, err
	}
	if err := validation.ValidateFraction("throttle", "backpressure_threshold", cfg.BackpressureThreshold); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}

	return &Controller{
		cfg:      cfg,
		circuits: make(map[string]bool),
	}, nil
}

// Check decides admission for target under the current load. Backpressure
// rejects before any rule is consulted; otherwise the highest-priority
// matching rule whose threshold the load has reached fires. With no
// firing rule the target's circuit decides, defaulting to allow.
func (c *Controller) Check(target string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks++

	if c.load >= c.cfg.BackpressureThreshold {
		c.throttled++
		return Result{Allowed: false, Reason: ratelimit.ReasonBackpressure, Load: c.load}
	}

	for _, r := range c.rules {
		if r.Target != "" && r.Target != target {
			continue
		}
		if c.load < r.Threshold {
			continue
		}
		switch r.Mode {
		case ModeHard:
			c.throttled++
			return Result{Allowed: false, Reason: ratelimit.ReasonHardThrottle, Load: c.load, RuleID: r.ID}
		case ModeSoft:
			c.throttled++
			return Result{Allowed: true, Throttled: true, Reason: ratelimit.ReasonThrottled, Delay: r.Delay, Load: c.load, RuleID: r.ID}
		case ModeAdaptive:
			c.throttled++
			scaled := time.Duration(float64(r.Delay) * c.load / r.Threshold)
			return Result{Allowed: true, Throttled: true, Reason: ratelimit.ReasonThrottled, Delay: scaled, Load: c.load, RuleID: r.ID}
		}
	}

	if c.circuits[target] {
		c.throttled++
		return Result{Allowed: false, Reason: ratelimit.ReasonCircuitOpen, Load: c.load}
	}

	return Result{Allowed: true, Load: c.load}
}

// AddRule registers a rule. Defaults: soft mode, the controller's load
// threshold, 100ms delay, priority 0. Fails if the id is taken.
func (c *Controller) AddRule(rule Rule) error {
	if err := validation.ValidateNotEmpty("throttle", "id", rule.ID); err != nil {
		return err
	}
	if rule.Mode == "" {
		rule.Mode = ModeSoft
	}
	if !rule.Mode.Valid() {
		return gaerrors.NewValidationError("throttle", "mode", rule.Mode, "must be hard, soft or adaptive")
	}
	if rule.Threshold == 0 {
		rule.Threshold = c.cfg.LoadThreshold
	}
	if err := validation.ValidateFraction("throttle", "threshold", rule.Threshold); err != nil {
		return err
	}
	if rule.Delay == 0 {
		rule.Delay = 100 * time.Millisecond
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.rules {
		if r.ID == rule.ID {
			return gaerrors.ErrExists
		}
	}

	rule.CreatedAt = c.cfg.Clock.Now()
	c.rules = append(c.rules, &rule)
	// Highest priority first; stable, so equal priorities keep
	// registration order.
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority > c.rules[j].Priority
	})
	return nil
}

// RemoveRule removes a rule and reports whether it existed.
func (c *Controller) RemoveRule(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, r := range c.rules {
		if r.ID == id {
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			return true
		}
	}
	return false
}

// GetRule returns the rule registered under id.
func (c *Controller) GetRule(id string) (Rule, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.rules {
		if r.ID == id {
			return *r, true
		}
	}
	return Rule{}, false
}

// ListRules returns rules in evaluation order.
func (c *Controller) ListRules() []Rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, *r)
	}
	return out
}

// UpdateLoad sets the current load, clamped to [0,1], and appends it to
// the bounded history. Returns the clamped value.
func (c *Controller) UpdateLoad(load float64) float64 {
	load = math.Max(0, math.Min(1, load))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.load = load
	c.history = append(c.history, LoadSample{Load: load, At: c.cfg.Clock.Now()})
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
	return load
}

// Load returns the current load.
func (c *Controller) Load() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load
}

// LoadHistory returns the retained load samples, oldest first.
func (c *Controller) LoadHistory() []LoadSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]LoadSample, len(c.history))
	copy(out, c.history)
	return out
}

// SetCircuit opens or closes the circuit for target. Checks against a
// target with an open circuit reject unless a rule fires first.
func (c *Controller) SetCircuit(target string, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if open {
		c.circuits[target] = true
	} else {
		delete(c.circuits, target)
	}
}

// CircuitOpen reports whether target's circuit is open.
func (c *Controller) CircuitOpen(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.circuits[target]
}

// RuleCount returns the number of registered rules.
func (c *Controller) RuleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rules)
}

// Checks returns the count of check calls.
func (c *Controller) Checks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

// Throttled returns the count of checks that were rejected or delayed.
func (c *Controller) Throttled() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttled
}
