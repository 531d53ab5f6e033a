// Package violation tracks rate limit infractions and escalates
// sanctions.
//
// Violations accumulate per subject and cross fixed thresholds: three
// earn a delay penalty that grows with the count, five a reject penalty,
// and ten a timed ban. Sanctions expire lazily on access. Subjects may
// appeal a ban; approving an appeal lifts the ban and penalty together.
package violation
