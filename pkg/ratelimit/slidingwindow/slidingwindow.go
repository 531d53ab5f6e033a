package slidingwindow

import (
	"sync"
	"time"

	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/common/validation"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

// Config holds defaults applied to windows created without explicit options.
type Config struct {
	// DefaultWindow is the window length of new windows.
	DefaultWindow time.Duration

	// DefaultMaxRequests is the request ceiling of new windows.
	DefaultMaxRequests int

	// DefaultPrecision is the number of sub-windows the window is split
	// into. Precision 1 degenerates to a fixed window; larger values
	// smooth the boundary at proportional memory cost.
	DefaultPrecision int

	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

// DefaultConfig returns the default store configuration: a 60-second
// window of 60 requests split into 10 sub-windows.
func DefaultConfig() Config {
	return Config{
		DefaultWindow:      time.Minute,
		DefaultMaxRequests: 60,
		DefaultPrecision:   10,
	}
}

// Options overrides store defaults for a single window. Zero fields fall
// back to the store defaults.
type Options struct {
	Window      time.Duration
	MaxRequests int
	Precision   int
}

// Window is a point-in-time snapshot of one window's state.
type Window struct {
	Key         string
	Window      time.Duration
	MaxRequests int
	Precision   int
	Current     int
	LastSeen    time.Time
}

// Result is the outcome of a record call.
type Result struct {
	Allowed    bool
	Reason     ratelimit.Reason
	Current    int
	Remaining  int
	Limit      int
	RetryAfter time.Duration
}

// slot counts hits inside one sub-window. Slots are purged lazily when
// their start falls out of the window.
type slot struct {
	start time.Time
	count int
}

type window struct {
	key         string
	window      time.Duration
	maxRequests int
	precision   int
	slots       []slot
	lastSeen    time.Time
}

// Store owns a keyed collection of sliding windows. All methods are safe
// for concurrent use; calls never block.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	windows  map[string]*window
	allowed  int64
	rejected int64
}

// New creates a sliding window store with the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.DefaultWindow <= 0 {
		return nil, gaerrors.NewValidationError("slidingwindow", "default_window", cfg.DefaultWindow, "must be positive")
	}
	if err := validation.ValidatePositive("slidingwindow", "default_max_requests", cfg.DefaultMaxRequests); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("slidingwindow", "default_precision", cfg.DefaultPrecision); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}

	return &Store{
		cfg:     cfg,
		windows: make(map[string]*window),
	}, nil
}

// Create provisions a window for key. Creating over an existing key
// re-provisions it.
func (s *Store) Create(key string, opts Options) (Window, error) {
	length := opts.Window
	if length == 0 {
		length = s.cfg.DefaultWindow
	}
	maxReq := opts.MaxRequests
	if maxReq == 0 {
		maxReq = s.cfg.DefaultMaxRequests
	}
	precision := opts.Precision
	if precision == 0 {
		precision = s.cfg.DefaultPrecision
	}

	if length <= 0 {
		return Window{}, gaerrors.NewValidationError("slidingwindow", "window", length, "must be positive")
	}
	if err := validation.ValidatePositive("slidingwindow", "max_requests", maxReq); err != nil {
		return Window{}, err
	}
	if err := validation.ValidatePositive("slidingwindow", "precision", precision); err != nil {
		return Window{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := &window{
		key:         key,
		window:      length,
		maxRequests: maxReq,
		precision:   precision,
		lastSeen:    s.cfg.Clock.Now(),
	}
	s.windows[key] = w
	return w.snapshot(), nil
}

// Record counts n hits against key's window. Sub-windows older than the
// window length are purged first; if the surviving sum plus n exceeds the
// ceiling the call rejects with the time until the oldest surviving
// sub-window leaves the window.
func (s *Store) Record(key string, n int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return Result{Allowed: false, Reason: ratelimit.ReasonNotFound}
	}

	now := s.cfg.Clock.Now()
	w.purge(now)
	w.lastSeen = now

	sum := w.sum()
	if sum+n > w.maxRequests {
		s.rejected++
		return Result{
			Allowed:    false,
			Reason:     ratelimit.ReasonRateExceeded,
			Current:    sum,
			Remaining:  w.maxRequests - sum,
			Limit:      w.maxRequests,
			RetryAfter: w.retryAfter(now),
		}
	}

	w.add(now, n)
	sum += n
	s.allowed++
	return Result{
		Allowed:   true,
		Current:   sum,
		Remaining: w.maxRequests - sum,
		Limit:     w.maxRequests,
	}
}

// Count returns the number of hits currently inside key's window.
// Unknown keys count zero.
func (s *Store) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return 0
	}
	w.purge(s.cfg.Clock.Now())
	return w.sum()
}

// Remaining returns the hits still admissible inside key's window.
// Unknown keys have zero remaining.
func (s *Store) Remaining(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return 0
	}
	w.purge(s.cfg.Clock.Now())
	remaining := w.maxRequests - w.sum()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset discards all hits in key's window.
func (s *Store) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return gaerrors.ErrNotFound
	}
	w.slots = nil
	return nil
}

// Delete removes key's window and reports whether it existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.windows[key]; !ok {
		return false
	}
	delete(s.windows, key)
	return true
}

// UpdateLimits changes key's ceiling and, when positive, its window length.
func (s *Store) UpdateLimits(key string, maxRequests int, length time.Duration) error {
	if err := validation.ValidatePositive("slidingwindow", "max_requests", maxRequests); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return gaerrors.ErrNotFound
	}
	w.maxRequests = maxRequests
	if length > 0 {
		w.window = length
	}
	return nil
}

// Get returns a snapshot of key's window after a lazy purge.
func (s *Store) Get(key string) (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return Window{}, false
	}
	w.purge(s.cfg.Clock.Now())
	return w.snapshot(), true
}

// List returns snapshots of all windows.
func (s *Store) List() []Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	out := make([]Window, 0, len(s.windows))
	for _, w := range s.windows {
		w.purge(now)
		out = append(out, w.snapshot())
	}
	return out
}

// Len returns the number of windows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Allowed returns the count of allowed record calls.
func (s *Store) Allowed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowed
}

// Rejected returns the count of rejected record calls.
func (s *Store) Rejected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// IdleKeys returns keys whose windows have not recorded a hit for longer
// than olderThan. Used by the reaper; the store itself never sweeps.
func (s *Store) IdleKeys(olderThan time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.cfg.Clock.Now().Add(-olderThan)
	var keys []string
	for key, w := range s.windows {
		if w.lastSeen.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}

// purge drops sub-windows whose start has left the window. A slot
// starting exactly at now-window still holds hits inside the window and
// survives.
func (w *window) purge(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.slots) && w.slots[i].start.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.slots = append(w.slots[:0], w.slots[i:]...)
	}
}

// add counts n hits in the sub-window containing now. Slots are kept in
// start order; hits land in the newest slot when it matches.
func (w *window) add(now time.Time, n int) {
	start := now.Truncate(w.window / time.Duration(w.precision))
	if len(w.slots) > 0 && w.slots[len(w.slots)-1].start.Equal(start) {
		w.slots[len(w.slots)-1].count += n
		return
	}
	w.slots = append(w.slots, slot{start: start, count: n})
}

func (w *window) sum() int {
	total := 0
	for _, s := range w.slots {
		total += s.count
	}
	return total
}

// retryAfter is the time until the oldest surviving sub-window exits the
// window, freeing capacity. Zero when no slots survive.
func (w *window) retryAfter(now time.Time) time.Duration {
	if len(w.slots) == 0 {
		return 0
	}
	d := w.slots[0].start.Add(w.window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (w *window) snapshot() Window {
	return Window{
		Key:         w.key,
		Window:      w.window,
		MaxRequests: w.maxRequests,
		Precision:   w.precision,
		Current:     w.sum(),
		LastSeen:    w.lastSeen,
	}
}
