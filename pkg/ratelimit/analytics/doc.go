// Package analytics aggregates admission check outcomes for reporting.
//
// The collector keeps raw events in a capped ring buffer and maintains
// hourly, per-subject and per-endpoint aggregates that survive buffer
// eviction. On top of those it classifies usage patterns, detects peak
// hours, reports volume trends and recommends capacity actions.
package analytics
