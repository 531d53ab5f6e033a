package leakybucket

import (
	"math"
	"sync"
	"time"

	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/common/validation"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

// Config holds defaults applied to buckets created without explicit options.
type Config struct {
	// DefaultCapacity is the queue depth of new buckets.
	DefaultCapacity int

	// DefaultLeakRate is the drain rate of new buckets, in items per second.
	DefaultLeakRate float64

	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

// DefaultConfig returns the default store configuration: buckets holding
// 60 items draining at 1 item per second.
func DefaultConfig() Config {
	return Config{
		DefaultCapacity: 60,
		DefaultLeakRate: 1.0,
	}
}

// Options overrides store defaults for a single bucket. Zero fields fall
// back to the store defaults.
type Options struct {
	Capacity int
	LeakRate float64
}

// Bucket is a point-in-time snapshot of one bucket's state.
type Bucket struct {
	Key      string
	Capacity int
	LeakRate float64
	Level    float64
	LastSeen time.Time
}

// Result is the outcome of an add call. Delay estimates how long the
// added items wait behind the backlog before draining.
type Result struct {
	Allowed    bool
	Reason     ratelimit.Reason
	Level      float64
	Capacity   int
	Delay      time.Duration
	RetryAfter time.Duration
}

type bucket struct {
	key      string
	capacity int
	leakRate float64
	level    float64
	lastLeak time.Time
	lastSeen time.Time
}

// Store owns a keyed collection of leaky buckets. Buckets drain lazily:
// each access applies the leak accrued since the previous one, so no
// background goroutine runs. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	buckets  map[string]*bucket
	allowed  int64
	rejected int64
}

// New creates a leaky bucket store with the given configuration.
func New(cfg Config) (*Store, error) {
	if err := validation.ValidatePositive("leakybucket", "default_capacity", cfg.DefaultCapacity); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveFloat("leakybucket", "default_leak_rate", cfg.DefaultLeakRate); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}

	return &Store{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}, nil
}

// Create provisions an empty bucket for key. Creating over an existing
// key re-provisions it.
func (s *Store) Create(key string, opts Options) (Bucket, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = s.cfg.DefaultCapacity
	}
	leakRate := opts.LeakRate
	if leakRate == 0 {
		leakRate = s.cfg.DefaultLeakRate
	}

	if err := validation.ValidatePositive("leakybucket", "capacity", capacity); err != nil {
		return Bucket{}, err
	}
	if err := validation.ValidatePositiveFloat("leakybucket", "leak_rate", leakRate); err != nil {
		return Bucket{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	b := &bucket{
		key:      key,
		capacity: capacity,
		leakRate: leakRate,
		lastLeak: now,
		lastSeen: now,
	}
	s.buckets[key] = b
	return b.snapshot(), nil
}

// Add queues n items in key's bucket. The bucket leaks first; if the
// items do not fit the call rejects with the time until enough backlog
// drains for them to fit.
func (s *Store) Add(key string, n int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Result{Allowed: false, Reason: ratelimit.ReasonNotFound}
	}

	now := s.cfg.Clock.Now()
	b.leak(now)
	b.lastSeen = now

	needed := b.level + float64(n)
	if needed > float64(b.capacity) {
		s.rejected++
		overflow := needed - float64(b.capacity)
		return Result{
			Allowed:    false,
			Reason:     ratelimit.ReasonOverflow,
			Level:      b.level,
			Capacity:   b.capacity,
			RetryAfter: drainTime(overflow, b.leakRate),
		}
	}

	// Items queue behind the existing backlog.
	delay := drainTime(b.level, b.leakRate)
	b.level = needed
	s.allowed++
	return Result{
		Allowed:  true,
		Level:    b.level,
		Capacity: b.capacity,
		Delay:    delay,
	}
}

// Leak applies accrued drain to key's bucket and returns its snapshot.
func (s *Store) Leak(key string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, gaerrors.ErrNotFound
	}
	b.leak(s.cfg.Clock.Now())
	return b.snapshot(), nil
}

// Get returns a snapshot of key's bucket after applying accrued drain.
func (s *Store) Get(key string) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	b.leak(s.cfg.Clock.Now())
	return b.snapshot(), true
}

// Reset empties key's bucket.
func (s *Store) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return gaerrors.ErrNotFound
	}
	b.level = 0
	b.lastLeak = s.cfg.Clock.Now()
	return nil
}

// Delete removes key's bucket and reports whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[key]; !ok {
		return false
	}
	delete(s.buckets, key)
	return true
}

// UpdateRate changes key's leak rate and, when positive, its capacity.
func (s *Store) UpdateRate(key string, leakRate float64, capacity int) error {
	if err := validation.ValidatePositiveFloat("leakybucket", "leak_rate", leakRate); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return gaerrors.ErrNotFound
	}
	b.leak(s.cfg.Clock.Now())
	b.leakRate = leakRate
	if capacity > 0 {
		b.capacity = capacity
	}
	return nil
}

// List returns snapshots of all buckets.
func (s *Store) List() []Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	out := make([]Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		b.leak(now)
		out = append(out, b.snapshot())
	}
	return out
}

// Len returns the number of buckets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Allowed returns the count of allowed add calls.
func (s *Store) Allowed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed
}

// Rejected returns the count of rejected add calls.
func (s *Store) Rejected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// IdleKeys returns keys whose buckets have not taken an item for longer
// than olderThan. Used by the reaper; the store itself never sweeps.
func (s *Store) IdleKeys(olderThan time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.cfg.Clock.Now().Add(-olderThan)
	var keys []string
	for key, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}

// leak drains the backlog accrued since the last leak, never below empty.
func (b *bucket) leak(now time.Time) {
	elapsed := now.Sub(b.lastLeak).Seconds()
	if elapsed <= 0 {
		return
	}
	b.level = math.Max(0, b.level-elapsed*b.leakRate)
	b.lastLeak = now
}

// drainTime is how long draining the given backlog takes at rate items
// per second.
func drainTime(backlog, rate float64) time.Duration {
	if backlog <= 0 {
		return 0
	}
	return time.Duration(backlog / rate * float64(time.Second))
}

func (b *bucket) snapshot() Bucket {
	return Bucket{
		Key:      b.key,
		Capacity: b.capacity,
		LeakRate: b.leakRate,
		Level:    b.level,
		LastSeen: b.lastSeen,
	}
}
