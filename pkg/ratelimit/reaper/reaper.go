package reaper

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
)

// Store is the surface the reaper needs from a keyed limiter store: the
// keys idle past a threshold, and deletion by key.
type Store interface {
	IdleKeys(olderThan time.Duration) []string
	Delete(key string) bool
}

// Config configures a Reaper.
type Config struct {
	// Schedule is a cron expression controlling sweep timing. Empty
	// means every five minutes.
	Schedule string

	// MaxIdle is how long a key may go untouched before eviction. Zero
	// means 30 minutes.
	MaxIdle time.Duration

	// Stores are swept in order on every run.
	Stores []Store
}

// Reaper periodically evicts idle keys from limiter stores. The stores
// themselves never sweep; without a reaper, per-key state lives until
// explicitly deleted.
type Reaper struct {
	cfg  Config
	cron *cron.Cron

	mu      sync.Mutex
	entry   cron.EntryID
	running bool
	evicted int64
}

// New creates a reaper over the given stores.
func New(cfg Config) (*Reaper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "*/5 * * * *"
	}
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = 30 * time.Minute
	}
	if len(cfg.Stores) == 0 {
		return nil, gaerrors.NewValidationError("reaper", "stores", len(cfg.Stores), "at least one store is required")
	}
	if cfg.MaxIdle < 0 {
		return nil, gaerrors.NewValidationError("reaper", "max_idle", cfg.MaxIdle, "must be positive")
	}

	r := &Reaper{
		cfg:  cfg,
		cron: cron.New(),
	}

	entry, err := r.cron.AddFunc(cfg.Schedule, func() { r.Sweep() })
	if err != nil {
		return nil, gaerrors.NewValidationError("reaper", "schedule", cfg.Schedule, err.Error())
	}
	r.entry = entry
	return r, nil
}

// Start begins scheduled sweeping. Safe to call more than once.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.cron.Start()
	r.running = true
}

// Stop halts scheduled sweeping and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
}

// Sweep evicts idle keys from every store once, returning the number of
// keys removed. Runs on the cron schedule but may be called directly.
func (r *Reaper) Sweep() int {
	removed := 0
	for _, s := range r.cfg.Stores {
		for _, key := range s.IdleKeys(r.cfg.MaxIdle) {
			if s.Delete(key) {
				removed++
			}
		}
	}

	r.mu.Lock()
	r.evicted += int64(removed)
	r.mu.Unlock()
	return removed
}

// Evicted returns the total keys removed across all sweeps.
func (r *Reaper) Evicted() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// NextRun returns the next scheduled sweep time, zero when not running.
func (r *Reaper) NextRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return time.Time{}
	}
	return r.cron.Entry(r.entry).Next
}
