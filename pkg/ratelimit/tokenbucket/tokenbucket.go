package tokenbucket

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
	// DefaultCapacity is the token capacity of new buckets.
	DefaultCapacity int

	// DefaultRefillRate is the refill rate of new buckets, in tokens per second.
	DefaultRefillRate float64

	// BurstMultiplier scales capacity into burst capacity for new buckets.
	// Must be >= 1.
	BurstMultiplier float64

	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

// DefaultConfig returns the default store configuration: 60 tokens,
// one token per second, 1.5x burst headroom.
func DefaultConfig() Config {
	return Config{
		DefaultCapacity:   60,
		DefaultRefillRate: 1.0,
		BurstMultiplier:   1.5,
	}
}

// Options overrides store defaults for a single bucket. Zero fields fall
// back to the store defaults.
type Options struct {
	Capacity      int
	RefillRate    float64
	BurstCapacity int
}

// Bucket is a point-in-time snapshot of one bucket's state.
type Bucket struct {
	Key           string
	Capacity      int
	BurstCapacity int
	Tokens        float64
	RefillRate    float64
	LastRefill    time.Time
}

// Result is the outcome of a consume call.
type Result struct {
	Allowed    bool
	Reason     ratelimit.Reason
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

// bucket holds the mutable per-key state. Refill is continuous-time:
// tokens are a pure function of elapsed wall clock since lastRefill.
type bucket struct {
	key           string
	capacity      int
	burstCapacity int
	tokens        float64
	refillRate    float64
	lastRefill    time.Time
}

// Store owns a keyed collection of token buckets. All methods are safe
// for concurrent use; calls never block.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	buckets  map[string]*bucket
	allowed  int64
	rejected int64
}

// New creates a token bucket store with the given configuration.
func New(cfg Config) (*Store, error) {
	if err := validation.ValidatePositive("tokenbucket", "default_capacity", cfg.DefaultCapacity); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveFloat("tokenbucket", "default_refill_rate", cfg.DefaultRefillRate); err != nil {
		return nil, err
	}
	if cfg.BurstMultiplier < 1 {
		return nil, gaerrors.NewValidationError("tokenbucket", "burst_multiplier", cfg.BurstMultiplier, "must be >= 1").
			WithHint("burst capacity can never be below capacity")
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}

	return &Store{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}, nil
}

// Create provisions a bucket for key, starting full. Creating over an
// existing key re-provisions it.
func (s *Store) Create(key string, opts Options) (Bucket, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = s.cfg.DefaultCapacity
	}
	rate := opts.RefillRate
	if rate == 0 {
		rate = s.cfg.DefaultRefillRate
	}
	burst := opts.BurstCapacity
	if burst == 0 {
		burst = int(math.Ceil(float64(capacity) * s.cfg.BurstMultiplier))
	}

	if err := validation.ValidatePositive("tokenbucket", "capacity", capacity); err != nil {
		return Bucket{}, err
	}
	if err := validation.ValidatePositiveFloat("tokenbucket", "refill_rate", rate); err != nil {
		return Bucket{}, err
	}
	if burst < capacity {
		return Bucket{}, gaerrors.NewValidationError("tokenbucket", "burst_capacity", burst, "must be >= capacity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &bucket{
		key:           key,
		capacity:      capacity,
		burstCapacity: burst,
		tokens:        float64(capacity),
		refillRate:    rate,
		lastRefill:    s.cfg.Clock.Now(),
	}
	s.buckets[key] = b
	return b.snapshot(), nil
}

// Consume takes n tokens from key's bucket. Only tokens up to the plain
// capacity are usable; headroom above capacity is reserved for
// ConsumeBurst. Unknown keys reject with not_found.
func (s *Store) Consume(key string, n int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Result{Allowed: false, Reason: ratelimit.ReasonNotFound}
	}

	now := s.cfg.Clock.Now()
	b.refill(now)

	avail := math.Min(b.tokens, float64(b.capacity))
	if avail >= float64(n) {
		b.tokens -= float64(n)
		s.allowed++
		return Result{
			Allowed:   true,
			Remaining: int(b.tokens),
			Limit:     b.capacity,
		}
	}

	s.rejected++
	return Result{
		Allowed:    false,
		Reason:     ratelimit.ReasonInsufficientTokens,
		Remaining:  int(avail),
		Limit:      b.capacity,
		RetryAfter: retryAfter(float64(n)-avail, b.refillRate),
	}
}

// ConsumeBurst takes n tokens from key's bucket, permitting a drain into
// the burst headroom above plain capacity.
func (s *Store) ConsumeBurst(key string, n int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Result{Allowed: false, Reason: ratelimit.ReasonNotFound}
	}

	now := s.cfg.Clock.Now()
	b.refill(now)

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		s.allowed++
		return Result{
			Allowed:   true,
			Remaining: int(b.tokens),
			Limit:     b.burstCapacity,
		}
	}

	s.rejected++
	return Result{
		Allowed:    false,
		Reason:     ratelimit.ReasonBurstExceeded,
		Remaining:  int(b.tokens),
		Limit:      b.burstCapacity,
		RetryAfter: retryAfter(float64(n)-b.tokens, b.refillRate),
	}
}

// Get returns a snapshot of key's bucket after a lazy refill.
func (s *Store) Get(key string) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	b.refill(s.cfg.Clock.Now())
	return b.snapshot(), true
}

// Reset refills key's bucket to full capacity.
func (s *Store) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return gaerrors.ErrNotFound
	}
	b.tokens = float64(b.capacity)
	b.lastRefill = s.cfg.Clock.Now()
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

// UpdateRate changes key's refill rate and, if capacity > 0, its capacity.
// Burst capacity is re-derived from the store's multiplier when capacity
// changes.
func (s *Store) UpdateRate(key string, refillRate float64, capacity int) error {
	if err := validation.ValidatePositiveFloat("tokenbucket", "refill_rate", refillRate); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		return gaerrors.ErrNotFound
	}

	b.refill(s.cfg.Clock.Now())
	b.refillRate = refillRate
	if capacity > 0 {
		b.capacity = capacity
		b.burstCapacity = int(math.Ceil(float64(capacity) * s.cfg.BurstMultiplier))
		if b.tokens > float64(b.burstCapacity) {
			b.tokens = float64(b.burstCapacity)
		}
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
		b.refill(now)
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

// Allowed returns the count of allowed consume calls.
func (s *Store) Allowed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed
}

// Rejected returns the count of rejected consume calls.
func (s *Store) Rejected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// IdleKeys returns keys whose buckets have not been touched for longer
// than olderThan. Used by the reaper; the store itself never sweeps.
func (s *Store) IdleKeys(olderThan time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.cfg.Clock.Now().Add(-olderThan)
	var keys []string
	for key, b := range s.buckets {
		if b.lastRefill.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}

// refill adds tokens for the elapsed time, capped at burst capacity.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(float64(b.burstCapacity), b.tokens+elapsed.Seconds()*b.refillRate)
	b.lastRefill = now
}

func (b *bucket) snapshot() Bucket {
	return Bucket{
		Key:           b.key,
		Capacity:      b.capacity,
		BurstCapacity: b.burstCapacity,
		Tokens:        b.tokens,
		RefillRate:    b.refillRate,
		LastRefill:    b.lastRefill,
	}
}

// retryAfter converts a token deficit into an advisory wait.
func retryAfter(deficit, rate float64) time.Duration {
	if rate <= 0 || deficit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) * deficit / rate)
}
