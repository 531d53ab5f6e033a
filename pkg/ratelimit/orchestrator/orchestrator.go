package orchestrator

import (
	"sync"
	"time"

	"github.com/vnykmshr/goadmit/pkg/metrics"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/analytics"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/leakybucket"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/policy"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/quota"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/slidingwindow"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/throttle"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/tokenbucket"
	"github.com/vnykmshr/goadmit/pkg/ratelimit/violation"
)

// Config configures an Orchestrator. Zero fields take the documented
// defaults.
type Config struct {
	// DefaultRPM is the per-minute limit used when policy resolution
	// falls through to the default. Zero means 60.
	DefaultRPM int

	// BurstMultiplier sizes token bucket burst headroom relative to
	// capacity. Zero means 1.5.
	BurstMultiplier float64

	// DefaultAlgorithm selects the admission algorithm for checks that
	// do not name one. Empty means the token bucket.
	DefaultAlgorithm ratelimit.Algorithm

	// PenaltyDuration is how long violation penalties last. Zero means
	// 15 minutes.
	PenaltyDuration time.Duration

	// BanThreshold is the violation count that triggers a ban. Zero
	// means 10.
	BanThreshold int

	// BanDuration is how long bans last. Zero means 1 hour.
	BanDuration time.Duration

	// LoadThreshold and BackpressureThreshold configure the throttle
	// stage. Zero means 0.8 and 0.95.
	LoadThreshold         float64
	BackpressureThreshold float64

	// MaxEvents bounds the analytics event buffer. Zero means 10000.
	MaxEvents int

	// Metrics enables Prometheus instrumentation of the pipeline.
	Metrics metrics.Config

	// Clock provides the current time to every component. If nil, the
	// system clock is used.
	Clock ratelimit.Clock
}

// Decision is the outcome of a pipeline check.
type Decision struct {
	Allowed    bool
	Reason     ratelimit.Reason
	Subject    string
	Endpoint   string
	Algorithm  ratelimit.Algorithm
	Remaining  int
	Limit      int
	Throttled  bool
	Delay      time.Duration
	RetryAfter time.Duration
}

// QuotaDecision is the outcome of a quota check.
type QuotaDecision struct {
	Allowed   bool
	Reason    ratelimit.Reason
	Used      int64
	Remaining int64
	Limit     int64
	ResetAt   time.Time
}

// Status summarizes the orchestrator's components.
type Status struct {
	TotalChecks    int64
	Allowed        int64
	Rejected       int64
	TokenBuckets   int
	SlidingWindows int
	LeakyBuckets   int
	Quotas         int
	ThrottleRules  int
	Policies       int
	Violations     int64
	ActiveBans     int
}

// AnalyticsReport bundles the collector's derived views.
type AnalyticsReport struct {
	Overview     analytics.Report
	Capacity     analytics.CapacityReport
	Trends       analytics.TrendReport
	TopSubjects  []analytics.CounterStats
	TopEndpoints []analytics.CounterStats
}

// Orchestrator composes the admission components into one check
// pipeline: ban check, throttle check, policy resolution, the selected
// algorithm's admission primitive, analytics recording, and violation
// recording on algorithm-stage rejection. All methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg        Config
	tokens     *tokenbucket.Store
	windows    *slidingwindow.Store
	leaky      *leakybucket.Store
	quotas     *quota.Manager
	policies   *policy.Engine
	throttle   *throttle.Controller
	violations *violation.Handler
	analytics  *analytics.Collector

	mu        sync.Mutex
	registry  *metrics.Registry
	metricsOn bool
	checks    int64
	allowed   int64
	rejected  int64
}

// New creates an orchestrator and its component stores.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.DefaultRPM == 0 {
		cfg.DefaultRPM = 60
	}
	if cfg.BurstMultiplier == 0 {
		cfg.BurstMultiplier = 1.5
	}
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = ratelimit.TokenBucket
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}

	tokens, err := tokenbucket.New(tokenbucket.Config{
		DefaultCapacity:   cfg.DefaultRPM,
		DefaultRefillRate: float64(cfg.DefaultRPM) / 60.0,
		BurstMultiplier:   cfg.BurstMultiplier,
		Clock:             cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	windows, err := slidingwindow.New(slidingwindow.Config{
		DefaultWindow:      time.Minute,
		DefaultMaxRequests: cfg.DefaultRPM,
		DefaultPrecision:   10,
		Clock:              cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	leaky, err := leakybucket.New(leakybucket.Config{
		DefaultCapacity: cfg.DefaultRPM * 2,
		DefaultLeakRate: float64(cfg.DefaultRPM) / 60.0,
		Clock:           cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	throttler, err := throttle.New(throttle.Config{
		LoadThreshold:         cfg.LoadThreshold,
		BackpressureThreshold: cfg.BackpressureThreshold,
		Clock:                 cfg.Clock,
	})
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		tokens:   tokens,
		windows:  windows,
		leaky:    leaky,
		quotas:   quota.New(quota.Config{Clock: cfg.Clock}),
		policies: policy.New(policy.Config{DefaultRPM: cfg.DefaultRPM, Clock: cfg.Clock}),
		throttle: throttler,
		violations: violation.New(violation.Config{
			PenaltyDuration: cfg.PenaltyDuration,
			BanThreshold:    cfg.BanThreshold,
			BanDuration:     cfg.BanDuration,
			Clock:           cfg.Clock,
		}),
		analytics: analytics.New(analytics.Config{MaxEvents: cfg.MaxEvents, Clock: cfg.Clock}),
	}

	if cfg.Metrics.Enabled {
		if err := o.EnableMetrics(cfg.Metrics); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// EnableMetrics turns on Prometheus instrumentation. The first call with
// a registerer builds the instrument set; later calls reuse it, so the
// same collectors are never registered twice.
func (o *Orchestrator) EnableMetrics(config metrics.Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.registry == nil {
		if config.Registry == nil {
			o.registry = metrics.DefaultRegistry
		} else {
			o.registry = metrics.NewRegistry(config.Registry)
		}
	}
	o.metricsOn = true
	return nil
}

// DisableMetrics stops instrumentation. Registered collectors are kept,
// so a later EnableMetrics resumes with the same instruments.
func (o *Orchestrator) DisableMetrics() {
	o.mu.Lock()
	o.metricsOn = false
	o.mu.Unlock()
}

// MetricsEnabled reports whether instrumentation is active.
func (o *Orchestrator) MetricsEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metricsOn
}

// reg returns the active registry, or nil while metrics are disabled.
func (o *Orchestrator) reg() *metrics.Registry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.metricsOn {
		return nil
	}
	return o.registry
}

// Check runs the full pipeline for subject on endpoint with the default
// algorithm, charging cost units.
func (o *Orchestrator) Check(subject, endpoint string, cost int) Decision {
	return o.CheckAlgorithm(subject, endpoint, cost, o.cfg.DefaultAlgorithm)
}

// CheckAlgorithm runs the full pipeline with an explicit algorithm.
// Unknown algorithms fall back to the token bucket.
func (o *Orchestrator) CheckAlgorithm(subject, endpoint string, cost int, algo ratelimit.Algorithm) Decision {
	if !algo.Valid() {
		algo = ratelimit.TokenBucket
	}

	start := o.cfg.Clock.Now()
	o.bumpChecks(algo)

	d := Decision{Subject: subject, Endpoint: endpoint, Algorithm: algo}

	if bs := o.violations.CheckBanned(subject); bs.Banned {
		d.Reason = ratelimit.ReasonBanned
		d.RetryAfter = bs.RetryAfter
		o.finish(&d, start)
		return d
	}

	tr := o.throttle.Check(endpoint)
	if !tr.Allowed {
		// Callers see backpressure or a uniform throttled reason; which
		// rule or circuit fired stays a throttle.Result detail.
		d.Reason = ratelimit.ReasonThrottled
		if tr.Reason == ratelimit.ReasonBackpressure {
			d.Reason = ratelimit.ReasonBackpressure
		}
		d.Delay = tr.Delay
		o.finish(&d, start)
		if reg := o.reg(); reg != nil {
			reg.ThrottleRejections.WithLabelValues(string(tr.Reason)).Inc()
		}
		return d
	}
	if tr.Throttled {
		// Soft or adaptive throttle: the check proceeds but carries
		// the advisory delay.
		d.Throttled = true
		d.Delay = tr.Delay
	}

	limits := o.policies.Evaluate(subject, endpoint)
	if limits.Unlimited {
		d.Allowed = true
		o.finish(&d, start)
		return d
	}

	key := ratelimit.Key(subject, endpoint)
	switch algo {
	case ratelimit.SlidingWindow:
		o.admitSlidingWindow(key, cost, limits.RPM, &d)
	case ratelimit.LeakyBucket:
		o.admitLeakyBucket(key, cost, limits.RPM, &d)
	default:
		o.admitTokenBucket(key, cost, limits.RPM, &d)
	}

	o.finish(&d, start)
	if !d.Allowed {
		rec := o.violations.RecordViolation(subject, string(ratelimit.ReasonRateExceeded), endpoint)
		if reg := o.reg(); reg != nil {
			reg.ViolationsRecorded.WithLabelValues(rec.Type).Inc()
			reg.BansActive.Set(float64(o.violations.ActiveBans()))
		}
	}
	return d
}

func (o *Orchestrator) admitTokenBucket(key string, cost, rpm int, d *Decision) {
	if _, ok := o.tokens.Get(key); !ok {
		o.tokens.Create(key, tokenbucket.Options{
			Capacity:   rpm,
			RefillRate: float64(rpm) / 60.0,
		})
	}
	res := o.tokens.Consume(key, cost)
	d.Allowed = res.Allowed
	d.Remaining = res.Remaining
	d.Limit = res.Limit
	d.RetryAfter = res.RetryAfter
	if !res.Allowed {
		// The caller sees a rate limit, not bucket internals.
		d.Reason = ratelimit.ReasonRateExceeded
	}
}

func (o *Orchestrator) admitSlidingWindow(key string, cost, rpm int, d *Decision) {
	if _, ok := o.windows.Get(key); !ok {
		o.windows.Create(key, slidingwindow.Options{
			Window:      time.Minute,
			MaxRequests: rpm,
		})
	}
	res := o.windows.Record(key, cost)
	d.Allowed = res.Allowed
	d.Remaining = res.Remaining
	d.Limit = res.Limit
	d.RetryAfter = res.RetryAfter
	if !res.Allowed {
		d.Reason = ratelimit.ReasonRateExceeded
	}
}

func (o *Orchestrator) admitLeakyBucket(key string, cost, rpm int, d *Decision) {
	if _, ok := o.leaky.Get(key); !ok {
		o.leaky.Create(key, leakybucket.Options{
			Capacity: rpm * 2,
			LeakRate: float64(rpm) / 60.0,
		})
	}
	res := o.leaky.Add(key, cost)
	d.Allowed = res.Allowed
	d.Remaining = res.Capacity - int(res.Level)
	d.Limit = res.Capacity
	d.RetryAfter = res.RetryAfter
	if res.Allowed && res.Delay > d.Delay {
		d.Delay = res.Delay
	}
	if !res.Allowed {
		d.Reason = res.Reason
	}
}

// CheckQuota charges n units against subject's quota for resource,
// recording a violation when the quota rejects.
func (o *Orchestrator) CheckQuota(subject, resource string, n int64) QuotaDecision {
	res := o.quotas.Consume(subject, resource, n)

	if reg := o.reg(); reg != nil {
		if res.Allowed {
			reg.QuotaConsumed.WithLabelValues(resource).Add(float64(n))
		} else if res.Reason == ratelimit.ReasonQuotaExceeded {
			reg.QuotaExceeded.WithLabelValues(resource).Inc()
		}
	}

	if !res.Allowed && res.Reason == ratelimit.ReasonQuotaExceeded {
		rec := o.violations.RecordViolation(subject, string(ratelimit.ReasonQuotaExceeded), resource)
		if reg := o.reg(); reg != nil {
			reg.ViolationsRecorded.WithLabelValues(rec.Type).Inc()
			reg.BansActive.Set(float64(o.violations.ActiveBans()))
		}
	}

	return QuotaDecision{
		Allowed:   res.Allowed,
		Reason:    res.Reason,
		Used:      res.Used,
		Remaining: res.Remaining,
		Limit:     res.Limit,
		ResetAt:   res.ResetAt,
	}
}

// SetupRateLimit pre-provisions algorithm state for subject on endpoint
// outside the hot path. Zero rpm uses the default. Returns the
// provisioned key.
func (o *Orchestrator) SetupRateLimit(subject, endpoint string, rpm int, algo ratelimit.Algorithm) (string, error) {
	if rpm == 0 {
		rpm = o.cfg.DefaultRPM
	}
	if !algo.Valid() {
		algo = ratelimit.TokenBucket
	}

	key := ratelimit.Key(subject, endpoint)
	var err error
	switch algo {
	case ratelimit.SlidingWindow:
		_, err = o.windows.Create(key, slidingwindow.Options{
			Window:      time.Minute,
			MaxRequests: rpm,
		})
	case ratelimit.LeakyBucket:
		_, err = o.leaky.Create(key, leakybucket.Options{
			Capacity: rpm * 2,
			LeakRate: float64(rpm) / 60.0,
		})
	default:
		_, err = o.tokens.Create(key, tokenbucket.Options{
			Capacity:   rpm,
			RefillRate: float64(rpm) / 60.0,
		})
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

// UpdateLoad feeds the throttle stage a new load sample.
func (o *Orchestrator) UpdateLoad(load float64) float64 {
	clamped := o.throttle.UpdateLoad(load)
	if reg := o.reg(); reg != nil {
		reg.ThrottleLoad.Set(clamped)
	}
	return clamped
}

// Status reports component sizes and pipeline counters.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	checks, allowed, rejected := o.checks, o.allowed, o.rejected
	o.mu.Unlock()

	return Status{
		TotalChecks:    checks,
		Allowed:        allowed,
		Rejected:       rejected,
		TokenBuckets:   o.tokens.Len(),
		SlidingWindows: o.windows.Len(),
		LeakyBuckets:   o.leaky.Len(),
		Quotas:         o.quotas.Len(),
		ThrottleRules:  o.throttle.RuleCount(),
		Policies:       o.policies.PolicyCount(),
		Violations:     o.violations.Recorded(),
		ActiveBans:     o.violations.ActiveBans(),
	}
}

// Report bundles the analytics views for operators.
func (o *Orchestrator) Report() AnalyticsReport {
	return AnalyticsReport{
		Overview:     o.analytics.GetReport(),
		Capacity:     o.analytics.Capacity(),
		Trends:       o.analytics.AnalyzeTrends(24),
		TopSubjects:  o.analytics.TopSubjects(10),
		TopEndpoints: o.analytics.TopEndpoints(10),
	}
}

// TokenBuckets exposes the token bucket store for management calls.
func (o *Orchestrator) TokenBuckets() *tokenbucket.Store { return o.tokens }

// SlidingWindows exposes the sliding window store for management calls.
func (o *Orchestrator) SlidingWindows() *slidingwindow.Store { return o.windows }

// LeakyBuckets exposes the leaky bucket store for management calls.
func (o *Orchestrator) LeakyBuckets() *leakybucket.Store { return o.leaky }

// Quotas exposes the quota manager for management calls.
func (o *Orchestrator) Quotas() *quota.Manager { return o.quotas }

// Policies exposes the policy engine for management calls.
func (o *Orchestrator) Policies() *policy.Engine { return o.policies }

// Throttle exposes the throttle controller for management calls.
func (o *Orchestrator) Throttle() *throttle.Controller { return o.throttle }

// Violations exposes the violation handler for management calls.
func (o *Orchestrator) Violations() *violation.Handler { return o.violations }

// Analytics exposes the analytics collector for management calls.
func (o *Orchestrator) Analytics() *analytics.Collector { return o.analytics }

func (o *Orchestrator) bumpChecks(algo ratelimit.Algorithm) {
	o.mu.Lock()
	o.checks++
	o.mu.Unlock()
	if reg := o.reg(); reg != nil {
		reg.AdmissionChecks.WithLabelValues(string(algo)).Inc()
	}
}

// finish records the decision with analytics, counters and metrics.
func (o *Orchestrator) finish(d *Decision, start time.Time) {
	latency := o.cfg.Clock.Now().Sub(start)
	o.analytics.RecordRequest(d.Subject, d.Endpoint, d.Allowed, latency)

	o.mu.Lock()
	if d.Allowed {
		o.allowed++
	} else {
		o.rejected++
	}
	o.mu.Unlock()

	if reg := o.reg(); reg != nil {
		algo := string(d.Algorithm)
		if d.Allowed {
			reg.AdmissionAllowed.WithLabelValues(algo).Inc()
		} else {
			reg.AdmissionDenied.WithLabelValues(algo, string(d.Reason)).Inc()
		}
		reg.AdmissionLatency.WithLabelValues(algo).Observe(latency.Seconds())
	}
}
