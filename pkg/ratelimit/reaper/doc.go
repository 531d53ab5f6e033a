// Package reaper evicts idle per-key limiter state on a cron schedule.
//
// Limiter stores accumulate one entry per key and never sweep
// themselves. A reaper polls each store for keys idle past a threshold
// and deletes them, bounding memory for workloads with churning key
// populations.
package reaper
