package analytics

import (
	"sort"
	"sync"
	"time"

	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

// Pattern classifies a subject's recent traffic shape.
type Pattern string

// Usage patterns.
const (
	PatternSteady     Pattern = "steady"
	PatternBursty     Pattern = "bursty"
	PatternAggressive Pattern = "aggressive"
	PatternInactive   Pattern = "inactive"
)

// Trend classifies the direction of recent traffic volume.
type Trend string

// Traffic trends.
const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendNew        Trend = "new"
	TrendFlat       Trend = "flat"
)

// Recommendation is the outcome of a capacity report.
type Recommendation string

// Capacity recommendations.
const (
	RecommendIncreaseLimits  Recommendation = "increase_limits"
	RecommendMonitorClosely  Recommendation = "monitor_closely"
	RecommendConsiderScaling Recommendation = "consider_scaling"
	RecommendHealthy         Recommendation = "healthy"
)

// Event is one recorded admission check.
type Event struct {
	Subject  string
	Endpoint string
	Allowed  bool
	Latency  time.Duration
	At       time.Time
}

// UsagePattern summarizes one subject's recent traffic.
type UsagePattern struct {
	Subject    string
	Requests   int
	Allowed    int
	Rejected   int
	PeakHourly int
	AvgHourly  float64
	Pattern    Pattern
}

// Peak flags one hour whose volume exceeded the detection threshold.
type Peak struct {
	Hour       int64
	Total      int
	Threshold  float64
	Multiplier float64
}

// TrendReport compares the recent half of a window against the older half.
type TrendReport struct {
	Trend     Trend
	ChangePct float64
	RecentAvg float64
	OlderAvg  float64
	Hours     int
}

// CapacityReport summarizes global pressure and recommends an action.
type CapacityReport struct {
	TotalRequests   int64
	RejectionRate   float64
	PeakHourly      int
	UniqueSubjects  int
	UniqueEndpoints int
	Recommendation  Recommendation
}

// CounterStats aggregates allowed and rejected totals for one subject or
// endpoint.
type CounterStats struct {
	Name      string
	Total     int64
	Allowed   int64
	Rejected  int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// Report is the global summary.
type Report struct {
	TotalRequests   int64
	Allowed         int64
	Rejected        int64
	UniqueSubjects  int
	UniqueEndpoints int
	HoursTracked    int
	At              time.Time
}

type hourly struct {
	total    int
	allowed  int
	rejected int
}

// Config configures a Collector.
type Config struct {
	// MaxEvents bounds the raw event buffer; the oldest events drop
	// when it overflows. Zero means 10000.
	MaxEvents int

	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

// Collector ingests admission check events and answers pattern, peak,
// trend and capacity queries over them. Raw events live in a capped
// buffer; hourly and per-subject/per-endpoint aggregates survive buffer
// eviction. All methods are safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	cfg       Config
	events    []Event
	hours     map[int64]*hourly
	subjects  map[string]*CounterStats
	endpoints map[string]*CounterStats
	total     int64
	allowed   int64
	rejected  int64
}

// New creates an analytics collector.
func New(cfg Config) *Collector {
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}
	return &Collector{
		cfg:       cfg,
		hours:     make(map[int64]*hourly),
		subjects:  make(map[string]*CounterStats),
		endpoints: make(map[string]*CounterStats),
	}
}

// RecordRequest ingests one admission check outcome.
func (c *Collector) RecordRequest(subject, endpoint string, allowed bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Clock.Now()
	c.events = append(c.events, Event{
		Subject:  subject,
		Endpoint: endpoint,
		Allowed:  allowed,
		Latency:  latency,
		At:       now,
	})
	if len(c.events) > c.cfg.MaxEvents {
		c.events = c.events[len(c.events)-c.cfg.MaxEvents:]
	}

	c.total++
	if allowed {
		c.allowed++
	} else {
		c.rejected++
	}

	hour := now.Unix() / 3600
	h, ok := c.hours[hour]
	if !ok {
		h = &hourly{}
		c.hours[hour] = h
	}
	h.total++
	if allowed {
		h.allowed++
	} else {
		h.rejected++
	}

	s, ok := c.subjects[subject]
	if !ok {
		s = &CounterStats{Name: subject, FirstSeen: now}
		c.subjects[subject] = s
	}
	bump(s, allowed, now)

	if endpoint != "" {
		e, ok := c.endpoints[endpoint]
		if !ok {
			e = &CounterStats{Name: endpoint, FirstSeen: now}
			c.endpoints[endpoint] = e
		}
		bump(e, allowed, now)
	}
}

func bump(s *CounterStats, allowed bool, now time.Time) {
	s.Total++
	if allowed {
		s.Allowed++
	} else {
		s.Rejected++
	}
	s.LastSeen = now
}

// GetUsagePattern classifies subject's traffic over the trailing window:
// bursty when the peak hour exceeds three times the hourly mean,
// aggressive when over 30% of requests were rejected, inactive with no
// events, steady otherwise.
func (c *Collector) GetUsagePattern(subject string, window time.Duration) UsagePattern {
	if window == 0 {
		window = 24 * time.Hour
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.cfg.Clock.Now().Add(-window)
	var total, allowed int
	counts := make(map[int64]int)
	for _, e := range c.events {
		if e.Subject != subject || !e.At.After(cutoff) {
			continue
		}
		total++
		if e.Allowed {
			allowed++
		}
		counts[e.At.Unix()/3600]++
	}

	if total == 0 {
		return UsagePattern{Subject: subject, Pattern: PatternInactive}
	}

	rejected := total - allowed
	peak := 0
	for _, n := range counts {
		if n > peak {
			peak = n
		}
	}
	avg := float64(total) / float64(len(counts))

	pattern := PatternSteady
	switch {
	case float64(peak) > avg*3:
		pattern = PatternBursty
	case float64(rejected) > float64(total)*0.3:
		pattern = PatternAggressive
	}

	return UsagePattern{
		Subject:    subject,
		Requests:   total,
		Allowed:    allowed,
		Rejected:   rejected,
		PeakHourly: peak,
		AvgHourly:  avg,
		Pattern:    pattern,
	}
}

// DetectPeaks flags hours whose volume exceeds multiplier times the mean
// hourly volume.
func (c *Collector) DetectPeaks(multiplier float64) []Peak {
	if multiplier == 0 {
		multiplier = 2.0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.hours) == 0 {
		return nil
	}

	sum := 0
	for _, h := range c.hours {
		sum += h.total
	}
	avg := float64(sum) / float64(len(c.hours))
	threshold := avg * multiplier

	var peaks []Peak
	for hour, h := range c.hours {
		if float64(h.total) > threshold {
			peaks = append(peaks, Peak{
				Hour:       hour,
				Total:      h.total,
				Threshold:  threshold,
				Multiplier: float64(h.total) / avg,
			})
		}
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].Hour < peaks[j].Hour })
	return peaks
}

// AnalyzeTrends splits the trailing window of whole hours in half and
// compares average volume: over +20% is increasing, under -20%
// decreasing, otherwise stable. An empty older half reports new when the
// recent half has traffic and flat when it does not.
func (c *Collector) AnalyzeTrends(hours int) TrendReport {
	if hours == 0 {
		hours = 24
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	currentHour := c.cfg.Clock.Now().Unix() / 3600
	half := hours / 2

	var recentSum, olderSum, recentN, olderN int
	for i := 0; i < hours; i++ {
		count := 0
		if h, ok := c.hours[currentHour-int64(i)]; ok {
			count = h.total
		}
		if i < half {
			recentSum += count
			recentN++
		} else {
			olderSum += count
			olderN++
		}
	}

	recentAvg := float64(recentSum) / float64(max(recentN, 1))
	olderAvg := float64(olderSum) / float64(max(olderN, 1))

	r := TrendReport{RecentAvg: recentAvg, OlderAvg: olderAvg, Hours: hours}
	if olderAvg == 0 {
		if recentAvg > 0 {
			r.Trend = TrendNew
		} else {
			r.Trend = TrendFlat
		}
		return r
	}

	r.ChangePct = (recentAvg - olderAvg) / olderAvg * 100
	switch {
	case r.ChangePct > 20:
		r.Trend = TrendIncreasing
	case r.ChangePct < -20:
		r.Trend = TrendDecreasing
	default:
		r.Trend = TrendStable
	}
	return r
}

// Capacity reports global pressure: rejection rate over 20% recommends
// raising limits, over 10% closer monitoring; a peak hour above 1000
// requests suggests scaling; otherwise healthy.
func (c *Collector) Capacity() CapacityReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	peak := 0
	for _, h := range c.hours {
		if h.total > peak {
			peak = h.total
		}
	}

	rate := 0.0
	if c.total > 0 {
		rate = float64(c.rejected) / float64(c.total) * 100
	}

	rec := RecommendHealthy
	switch {
	case rate > 20:
		rec = RecommendIncreaseLimits
	case rate > 10:
		rec = RecommendMonitorClosely
	case peak > 1000:
		rec = RecommendConsiderScaling
	}

	return CapacityReport{
		TotalRequests:   c.total,
		RejectionRate:   rate,
		PeakHourly:      peak,
		UniqueSubjects:  len(c.subjects),
		UniqueEndpoints: len(c.endpoints),
		Recommendation:  rec,
	}
}

// TopSubjects returns the busiest subjects by total requests, descending.
// Limit ≤ 0 means 10.
func (c *Collector) TopSubjects(limit int) []CounterStats {
	if limit <= 0 {
		limit = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return top(c.subjects, limit)
}

// TopEndpoints returns the busiest endpoints by total requests,
// descending. Limit ≤ 0 means 10.
func (c *Collector) TopEndpoints(limit int) []CounterStats {
	if limit <= 0 {
		limit = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return top(c.endpoints, limit)
}

func top(m map[string]*CounterStats, limit int) []CounterStats {
	out := make([]CounterStats, 0, len(m))
	for _, s := range m {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetReport returns the global summary.
func (c *Collector) GetReport() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Report{
		TotalRequests:   c.total,
		Allowed:         c.allowed,
		Rejected:        c.rejected,
		UniqueSubjects:  len(c.subjects),
		UniqueEndpoints: len(c.endpoints),
		HoursTracked:    len(c.hours),
		At:              c.cfg.Clock.Now(),
	}
}

// EventCount returns the number of events in the buffer.
func (c *Collector) EventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
