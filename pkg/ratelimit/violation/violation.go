package violation

import (
	"sync"
	"time"

	gaerrors "github.com/vnykmshr/goadmit/pkg/common/errors"
	"github.com/vnykmshr/goadmit/pkg/ratelimit"
)

// Action is the penalty applied after an escalation threshold.
type Action string

// Penalty actions, in escalation order.
const (
	ActionWarn   Action = "warn"
	ActionDelay  Action = "delay"
	ActionReject Action = "reject"
	ActionBan    Action = "ban"
)

// AppealStatus tracks an appeal through its lifecycle.
type AppealStatus string

// Appeal statuses.
const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealRejected AppealStatus = "rejected"
)

// Violation is one recorded infraction. Records are append-only.
type Violation struct {
	Subject string
	Type    string
	Detail  string
	At      time.Time
}

// Record is the outcome of recording a violation: the subject's running
// count and the penalty it escalated to.
type Record struct {
	Subject string
	Type    string
	Count   int
	Action  Action
	Delay   time.Duration
}

// BanStatus describes a subject's ban state. WasBanned is set when the
// check itself expired a ban.
type BanStatus struct {
	Banned     bool
	WasBanned  bool
	Reason     string
	ExpiresAt  time.Time
	RetryAfter time.Duration
}

// Penalty is an active non-ban sanction.
type Penalty struct {
	Action    Action
	Delay     time.Duration
	ExpiresAt time.Time
}

// Appeal is a subject's request to lift a ban.
type Appeal struct {
	Subject     string
	Reason      string
	Status      AppealStatus
	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// Response is a caller-facing decision derived from a subject's current
// sanction state, expressed as an HTTP-equivalent status.
type Response struct {
	StatusCode int
	Reason     ratelimit.Reason
	Throttled  bool
	Delay      time.Duration
	RetryAfter time.Duration
}

type ban struct {
	reason    string
	count     int
	bannedAt  time.Time
	expiresAt time.Time
}

// Config configures a Handler.
type Config struct {
	// PenaltyDuration is how long delay and reject penalties last.
	// Zero means 15 minutes.
	PenaltyDuration time.Duration

	// BanThreshold is the violation count that triggers a ban. Zero
	// means 10.
	BanThreshold int

	// BanDuration is how long bans last. Zero means 1 hour.
	BanDuration time.Duration

	// Clock provides the current time. If nil, the system clock is used.
	Clock ratelimit.Clock
}

// Handler tracks violations per subject and escalates sanctions across
// fixed thresholds: 3 violations earn a delay penalty scaled by count, 5
// a reject penalty, and the ban threshold a timed ban. Counts never
// decrease except through an explicit clear or an approved appeal. Bans
// and penalties expire lazily on access. All methods are safe for
// concurrent use.
type Handler struct {
	mu        sync.Mutex
	cfg       Config
	log       []Violation
	bySubject map[string][]Violation
	penalties map[string]Penalty
	bans      map[string]ban
	appeals   []*Appeal
	recorded  int64
	banned    int64
	penalized int64
}

// New creates a violation handler.
func New(cfg Config) *Handler {
	if cfg.PenaltyDuration == 0 {
		cfg.PenaltyDuration = 15 * time.Minute
	}
	if cfg.BanThreshold == 0 {
		cfg.BanThreshold = 10
	}
	if cfg.BanDuration == 0 {
		cfg.BanDuration = time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}
	return &Handler{
		cfg:       cfg,
		bySubject: make(map[string][]Violation),
		penalties: make(map[string]Penalty),
		bans:      make(map[string]ban),
	}
}

// RecordViolation appends a violation for subject and escalates its
// sanction when the running count crosses a threshold.
func (h *Handler) RecordViolation(subject, vtype, detail string) Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.cfg.Clock.Now()
	v := Violation{Subject: subject, Type: vtype, Detail: detail, At: now}
	h.log = append(h.log, v)
	h.bySubject[subject] = append(h.bySubject[subject], v)
	h.recorded++

	count := len(h.bySubject[subject])
	rec := Record{Subject: subject, Type: vtype, Count: count}

	switch {
	case count >= h.cfg.BanThreshold:
		h.bans[subject] = ban{
			reason:    "excessive_violations",
			count:     count,
			bannedAt:  now,
			expiresAt: now.Add(h.cfg.BanDuration),
		}
		h.banned++
		rec.Action = ActionBan

	case count >= 5:
		h.penalties[subject] = Penalty{
			Action:    ActionReject,
			ExpiresAt: now.Add(h.cfg.PenaltyDuration),
		}
		h.penalized++
		rec.Action = ActionReject

	case count >= 3:
		delay := time.Duration(count) * time.Second
		h.penalties[subject] = Penalty{
			Action:    ActionDelay,
			Delay:     delay,
			ExpiresAt: now.Add(h.cfg.PenaltyDuration),
		}
		h.penalized++
		rec.Action = ActionDelay
		rec.Delay = delay

	default:
		rec.Action = ActionWarn
	}

	return rec
}

// CheckBanned reports subject's ban state, expiring a lapsed ban in the
// process.
func (h *Handler) CheckBanned(subject string) BanStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checkBannedLocked(subject)
}

func (h *Handler) checkBannedLocked(subject string) BanStatus {
	b, ok := h.bans[subject]
	if !ok {
		return BanStatus{}
	}

	now := h.cfg.Clock.Now()
	if now.After(b.expiresAt) {
		delete(h.bans, subject)
		return BanStatus{WasBanned: true}
	}

	return BanStatus{
		Banned:     true,
		Reason:     b.reason,
		ExpiresAt:  b.expiresAt,
		RetryAfter: b.expiresAt.Sub(now),
	}
}

// GetPenalty returns subject's active penalty, expiring a lapsed one in
// the process.
func (h *Handler) GetPenalty(subject string) (Penalty, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.getPenaltyLocked(subject)
}

func (h *Handler) getPenaltyLocked(subject string) (Penalty, bool) {
	p, ok := h.penalties[subject]
	if !ok {
		return Penalty{}, false
	}
	if h.cfg.Clock.Now().After(p.ExpiresAt) {
		delete(h.penalties, subject)
		return Penalty{}, false
	}
	return p, true
}

// GenerateResponse maps subject's current sanction state to a decision:
// banned subjects get a 403-equivalent, reject penalties a 429-equivalent
// with retry-after, delay penalties a 200-equivalent with the delay, and
// everything else the default 429-equivalent.
func (h *Handler) GenerateResponse(subject string) Response {
	h.mu.Lock()
	defer h.mu.Unlock()

	if bs := h.checkBannedLocked(subject); bs.Banned {
		return Response{
			StatusCode: 403,
			Reason:     ratelimit.ReasonBanned,
			RetryAfter: bs.RetryAfter,
		}
	}

	if p, ok := h.getPenaltyLocked(subject); ok {
		switch p.Action {
		case ActionReject:
			return Response{
				StatusCode: 429,
				Reason:     ratelimit.ReasonRateExceeded,
				RetryAfter: p.ExpiresAt.Sub(h.cfg.Clock.Now()),
			}
		case ActionDelay:
			return Response{
				StatusCode: 200,
				Reason:     ratelimit.ReasonThrottled,
				Throttled:  true,
				Delay:      p.Delay,
			}
		}
	}

	return Response{
		StatusCode: 429,
		Reason:     ratelimit.ReasonRateExceeded,
		RetryAfter: h.cfg.PenaltyDuration,
	}
}

// SubmitAppeal queues a pending appeal for subject.
func (h *Handler) SubmitAppeal(subject, reason string) Appeal {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := &Appeal{
		Subject:     subject,
		Reason:      reason,
		Status:      AppealPending,
		SubmittedAt: h.cfg.Clock.Now(),
	}
	h.appeals = append(h.appeals, a)
	return *a
}

// ResolveAppeal settles subject's oldest pending appeal. Approval lifts
// the subject's ban and penalty together. Fails when no pending appeal
// exists.
func (h *Handler) ResolveAppeal(subject string, approved bool) (Appeal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, a := range h.appeals {
		if a.Subject != subject || a.Status != AppealPending {
			continue
		}
		if approved {
			a.Status = AppealApproved
			delete(h.bans, subject)
			delete(h.penalties, subject)
		} else {
			a.Status = AppealRejected
		}
		a.ResolvedAt = h.cfg.Clock.Now()
		return *a, nil
	}
	return Appeal{}, gaerrors.ErrNotFound
}

// ClearViolations erases subject's violations, penalty and ban, returning
// the number of violations cleared. The global log keeps its entries.
func (h *Handler) ClearViolations(subject string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := len(h.bySubject[subject])
	delete(h.bySubject, subject)
	delete(h.penalties, subject)
	delete(h.bans, subject)
	return count
}

// Violations returns the most recent violations, newest last. A non-empty
// subject filters to that subject; limit ≤ 0 means 50.
func (h *Handler) Violations(subject string, limit int) []Violation {
	if limit <= 0 {
		limit = 50
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	src := h.log
	if subject != "" {
		src = h.bySubject[subject]
	}
	if len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]Violation, len(src))
	copy(out, src)
	return out
}

// Appeals returns the most recent appeals, newest last, optionally
// filtered by status. Limit ≤ 0 means 50.
func (h *Handler) Appeals(status AppealStatus, limit int) []Appeal {
	if limit <= 0 {
		limit = 50
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Appeal
	for _, a := range h.appeals {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ViolationCount returns subject's running violation count.
func (h *Handler) ViolationCount(subject string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bySubject[subject])
}

// Recorded returns the total violations recorded.
func (h *Handler) Recorded() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recorded
}

// ActiveBans returns the number of stored bans, including any not yet
// lazily expired.
func (h *Handler) ActiveBans() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bans)
}

// ActivePenalties returns the number of stored penalties, including any
// not yet lazily expired.
func (h *Handler) ActivePenalties() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.penalties)
}

// AppealCount returns the total appeals submitted.
func (h *Handler) AppealCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.appeals)
}
