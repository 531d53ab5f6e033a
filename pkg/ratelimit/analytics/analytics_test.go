package analytics

import (
	"testing"
	"time"

	"github.com/vnykmshr/goadmit/internal/testutil"
)

var base = time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

func newTestCollector(t *testing.T) (*Collector, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(base)
	return New(Config{MaxEvents: 100, Clock: clock}), clock
}

func TestRecordRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRequest("user-1", "/api", true, 5*time.Millisecond)
	testutil.AssertEqual(t, 1, c.EventCount())

	r := c.GetReport()
	testutil.AssertEqual(t, int64(1), r.TotalRequests)
	testutil.AssertEqual(t, int64(1), r.Allowed)
	testutil.AssertEqual(t, int64(0), r.Rejected)
	testutil.AssertEqual(t, 1, r.UniqueSubjects)
	testutil.AssertEqual(t, 1, r.UniqueEndpoints)
}

func TestRecordRejected(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRequest("user-1", "/api", false, 0)
	r := c.GetReport()
	testutil.AssertEqual(t, int64(1), r.Rejected)
}

func TestEventBufferCapped(t *testing.T) {
	c, _ := newTestCollector(t)

	for i := 0; i < 150; i++ {
		c.RecordRequest("user-1", "/api", true, 0)
	}
	testutil.AssertEqual(t, 100, c.EventCount())

	// Aggregates keep counting past eviction.
	r := c.GetReport()
	testutil.AssertEqual(t, int64(150), r.TotalRequests)
}

func TestUsagePatternInactive(t *testing.T) {
	c, _ := newTestCollector(t)

	p := c.GetUsagePattern("ghost", 0)
	testutil.AssertEqual(t, PatternInactive, p.Pattern)
	testutil.AssertEqual(t, 0, p.Requests)
}

func TestUsagePatternSteady(t *testing.T) {
	c, clock := newTestCollector(t)

	// Even spread: two requests per hour over three hours.
	for hour := 0; hour < 3; hour++ {
		c.RecordRequest("user-1", "/api", true, 0)
		c.RecordRequest("user-1", "/api", true, 0)
		clock.Advance(time.Hour)
	}

	p := c.GetUsagePattern("user-1", 24*time.Hour)
	testutil.AssertEqual(t, PatternSteady, p.Pattern)
	testutil.AssertEqual(t, 6, p.Requests)
	testutil.AssertEqual(t, 2, p.PeakHourly)
	testutil.AssertEqual(t, 2.0, p.AvgHourly)
}

func TestUsagePatternBursty(t *testing.T) {
	c, clock := newTestCollector(t)

	// One request in each of five quiet hours, then a 20-request spike.
	for hour := 0; hour < 5; hour++ {
		c.RecordRequest("user-1", "/api", true, 0)
		clock.Advance(time.Hour)
	}
	for i := 0; i < 20; i++ {
		c.RecordRequest("user-1", "/api", true, 0)
	}

	p := c.GetUsagePattern("user-1", 24*time.Hour)
	testutil.AssertEqual(t, PatternBursty, p.Pattern)
	testutil.AssertEqual(t, 20, p.PeakHourly)
}

func TestUsagePatternAggressive(t *testing.T) {
	c, _ := newTestCollector(t)

	for i := 0; i < 6; i++ {
		c.RecordRequest("user-1", "/api", true, 0)
	}
	for i := 0; i < 4; i++ {
		c.RecordRequest("user-1", "/api", false, 0)
	}

	p := c.GetUsagePattern("user-1", 24*time.Hour)
	testutil.AssertEqual(t, PatternAggressive, p.Pattern)
	testutil.AssertEqual(t, 4, p.Rejected)
}

func TestUsagePatternWindowed(t *testing.T) {
	c, clock := newTestCollector(t)

	c.RecordRequest("user-1", "/api", true, 0)
	clock.Advance(48 * time.Hour)
	c.RecordRequest("user-1", "/api", true, 0)

	p := c.GetUsagePattern("user-1", 24*time.Hour)
	testutil.AssertEqual(t, 1, p.Requests)
}

func TestDetectPeaks(t *testing.T) {
	c, clock := newTestCollector(t)

	// Three quiet hours then a spike hour.
	for hour := 0; hour < 3; hour++ {
		c.RecordRequest("user-1", "/api", true, 0)
		clock.Advance(time.Hour)
	}
	for i := 0; i < 17; i++ {
		c.RecordRequest("user-1", "/api", true, 0)
	}

	// Mean is 5; at multiplier 2 only the 17-request hour exceeds 10.
	peaks := c.DetectPeaks(2.0)
	testutil.AssertEqual(t, 1, len(peaks))
	testutil.AssertEqual(t, 17, peaks[0].Total)
	testutil.AssertEqual(t, 10.0, peaks[0].Threshold)
}

func TestDetectPeaksEmpty(t *testing.T) {
	c, _ := newTestCollector(t)
	testutil.AssertEqual(t, 0, len(c.DetectPeaks(2.0)))
}

func TestAnalyzeTrendsIncreasing(t *testing.T) {
	c, clock := newTestCollector(t)

	// Older half: 1/hour. Recent half: 5/hour.
	for hour := 0; hour < 4; hour++ {
		c.RecordRequest("user-1", "/api", true, 0)
		clock.Advance(time.Hour)
	}
	for hour := 0; hour < 4; hour++ {
		for i := 0; i < 5; i++ {
			c.RecordRequest("user-1", "/api", true, 0)
		}
		if hour < 3 {
			clock.Advance(time.Hour)
		}
	}

	r := c.AnalyzeTrends(8)
	testutil.AssertEqual(t, TrendIncreasing, r.Trend)
	testutil.AssertTrue(t, r.ChangePct > 20, "expected change above 20%")
}

func TestAnalyzeTrendsNewAndFlat(t *testing.T) {
	c, _ := newTestCollector(t)

	r := c.AnalyzeTrends(4)
	testutil.AssertEqual(t, TrendFlat, r.Trend)

	c.RecordRequest("user-1", "/api", true, 0)
	r = c.AnalyzeTrends(4)
	testutil.AssertEqual(t, TrendNew, r.Trend)
}

func TestAnalyzeTrendsStable(t *testing.T) {
	c, clock := newTestCollector(t)

	for hour := 0; hour < 8; hour++ {
		c.RecordRequest("user-1", "/api", true, 0)
		if hour < 7 {
			clock.Advance(time.Hour)
		}
	}

	r := c.AnalyzeTrends(8)
	testutil.AssertEqual(t, TrendStable, r.Trend)
	testutil.AssertEqual(t, 0.0, r.ChangePct)
}

func TestCapacityHealthy(t *testing.T) {
	c, _ := newTestCollector(t)

	for i := 0; i < 20; i++ {
		c.RecordRequest("user-1", "/api", true, 0)
	}

	r := c.Capacity()
	testutil.AssertEqual(t, RecommendHealthy, r.Recommendation)
	testutil.AssertEqual(t, 0.0, r.RejectionRate)
}

func TestCapacityIncreaseLimits(t *testing.T) {
	c, _ := newTestCollector(t)

	for i := 0; i < 7; i++ {
		c.RecordRequest("user-1", "/api", true, 0)
	}
	for i := 0; i < 3; i++ {
		c.RecordRequest("user-1", "/api", false, 0)
	}

	r := c.Capacity()
	testutil.AssertEqual(t, RecommendIncreaseLimits, r.Recommendation)
	testutil.AssertEqual(t, 30.0, r.RejectionRate)
}

func TestCapacityMonitorClosely(t *testing.T) {
	c, _ := newTestCollector(t)

	for i := 0; i < 17; i++ {
		c.RecordRequest("user-1", "/api", true, 0)
	}
	for i := 0; i < 3; i++ {
		c.RecordRequest("user-1", "/api", false, 0)
	}

	r := c.Capacity()
	testutil.AssertEqual(t, RecommendMonitorClosely, r.Recommendation)
}

func TestTopSubjectsAndEndpoints(t *testing.T) {
	c, _ := newTestCollector(t)

	for i := 0; i < 5; i++ {
		c.RecordRequest("heavy", "/search", true, 0)
	}
	for i := 0; i < 2; i++ {
		c.RecordRequest("light", "/status", true, 0)
	}

	subjects := c.TopSubjects(10)
	testutil.AssertEqual(t, 2, len(subjects))
	testutil.AssertEqual(t, "heavy", subjects[0].Name)
	testutil.AssertEqual(t, int64(5), subjects[0].Total)

	endpoints := c.TopEndpoints(1)
	testutil.AssertEqual(t, 1, len(endpoints))
	testutil.AssertEqual(t, "/search", endpoints[0].Name)
}

func TestEmptyEndpointNotAggregated(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRequest("user-1", "", true, 0)
	r := c.GetReport()
	testutil.AssertEqual(t, 0, r.UniqueEndpoints)
}
