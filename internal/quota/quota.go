// Package quota enforces per-identity request ceilings over fixed
// minute and day windows plus a lifetime session counter. Windows are
// aligned to the clock (minute boundaries, UTC day boundaries) rather
// than sliding: a burst at 12:00:59 does not spill into the 12:01
// window. Counters only ever increase within their window; an identity
// with no recorded history is never limited.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Window identifiers reported in quota status.
const (
	WindowMinute  = "minute"
	WindowDay     = "day"
	WindowSession = "session"
)

// ErrStore indicates the counter store failed.
var ErrStore = errors.New("quota store failure")

// Limits are the ceilings applied to one identity. A zero ceiling
// means the window is unlimited.
type Limits struct {
	PerMinute  int
	PerDay     int
	PerSession int
}

// WindowUsage is the observed usage of one window against its limit.
type WindowUsage struct {
	Window  string
	Current int
	Limit   int
}

// Status is the result of a quota check.
type Status struct {
	// Allowed is true when no window is exhausted and the identity is
	// not revoked.
	Allowed bool

	// Revoked is true when the identity has been permanently limited.
	Revoked bool

	// Exceeded lists every window at or over its limit. Empty when
	// Allowed.
	Exceeded []WindowUsage

	// Usage lists current usage for all limited windows, whether
	// exceeded or not.
	Usage []WindowUsage
}

// Counts are the raw counters for one identity at given window starts.
type Counts struct {
	Minute  int
	Day     int
	Session int
}

// CounterStore persists per-identity counters. Implementations must
// make Increment and IncrementIfAllowed atomic across all three
// counters: concurrent calls may interleave freely but no increment
// may be lost, and IncrementIfAllowed must make its limit comparison
// and its increment one indivisible step so two concurrent calls
// cannot both take the last slot under a limit.
//
// Counters are keyed by window start. A stored minute or day counter
// whose window start differs from the requested one reads as zero; the
// session counter never resets.
type CounterStore interface {
	Increment(ctx context.Context, identity string, minuteStart, dayStart time.Time) error
	IncrementIfAllowed(ctx context.Context, identity string, minuteStart, dayStart time.Time, limits Limits) (bool, error)
	Counts(ctx context.Context, identity string, minuteStart, dayStart time.Time) (Counts, error)
	Delete(ctx context.Context, identity string) error
	Revoke(ctx context.Context, identity string) error
	IsRevoked(ctx context.Context, identity string) (bool, error)
}

// windowStarts computes the fixed window boundaries containing now.
// Minutes truncate on the wall clock; days are UTC calendar days.
func windowStarts(now time.Time) (minuteStart, dayStart time.Time) {
	minuteStart = now.Truncate(time.Minute)
	u := now.UTC()
	dayStart = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return minuteStart, dayStart
}

// Ledger answers quota checks and records usage.
type Ledger struct {
	store   CounterStore
	logger  *zap.Logger
	metrics *Metrics
}

// NewLedger creates a Ledger over the given counter store.
func NewLedger(store CounterStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:   store,
		logger:  logger,
		metrics: DefaultMetrics(),
	}
}

// Check evaluates the identity against the limits without mutating any
// counter. The decision is computed at the current clock reading, so a
// denial in one minute window clears itself when the next begins.
func (l *Ledger) Check(ctx context.Context, identity string, limits Limits) (*Status, error) {
	revoked, err := l.store.IsRevoked(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if revoked {
		l.metrics.check("revoked")
		return &Status{Allowed: false, Revoked: true}, nil
	}

	minuteStart, dayStart := windowStarts(timeNow())
	counts, err := l.store.Counts(ctx, identity, minuteStart, dayStart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}

	status := statusFor(counts, limits)

	if status.Allowed {
		l.metrics.check("allowed")
	} else {
		l.metrics.check("limited")
		l.logger.Debug("quota exceeded",
			zap.String("identity", identity),
			zap.Int("exceeded_windows", len(status.Exceeded)),
		)
	}
	return status, nil
}

// statusFor evaluates counts against limits. A zero or negative limit
// leaves its window unlimited and unreported.
func statusFor(counts Counts, limits Limits) *Status {
	status := &Status{Allowed: true}
	for _, w := range []WindowUsage{
		{Window: WindowMinute, Current: counts.Minute, Limit: limits.PerMinute},
		{Window: WindowDay, Current: counts.Day, Limit: limits.PerDay},
		{Window: WindowSession, Current: counts.Session, Limit: limits.PerSession},
	} {
		if w.Limit <= 0 {
			continue
		}
		status.Usage = append(status.Usage, w)
		if w.Current >= w.Limit {
			status.Allowed = false
			status.Exceeded = append(status.Exceeded, w)
		}
	}
	return status
}

// Admit charges one request to the identity if and only if every
// limited window still has room. The limit comparison and the
// increment happen atomically in the store, so with one slot left two
// concurrent calls admit exactly one request. A Check result is
// advisory; admission to a slot is decided here.
func (l *Ledger) Admit(ctx context.Context, identity string, limits Limits) (*Status, error) {
	revoked, err := l.store.IsRevoked(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if revoked {
		l.metrics.check("revoked")
		return &Status{Allowed: false, Revoked: true}, nil
	}

	minuteStart, dayStart := windowStarts(timeNow())
	admitted, err := l.store.IncrementIfAllowed(ctx, identity, minuteStart, dayStart, limits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if admitted {
		l.metrics.recorded.Inc()
		return &Status{Allowed: true}, nil
	}

	// Denied: read the counters back so the caller can report usage.
	counts, err := l.store.Counts(ctx, identity, minuteStart, dayStart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	status := statusFor(counts, limits)
	status.Allowed = false
	l.metrics.check("limited")
	l.logger.Debug("quota exceeded",
		zap.String("identity", identity),
		zap.Int("exceeded_windows", len(status.Exceeded)),
	)
	return status, nil
}

// Forget discards all counters for an identity, including any
// revocation mark. Intended for identities that can no longer make
// requests, such as expired sessions.
func (l *Ledger) Forget(ctx context.Context, identity string) error {
	if err := l.store.Delete(ctx, identity); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// Record charges one request to the identity, incrementing the minute,
// day and session counters atomically. Callers invoke Record once the
// request is admitted, before downstream work, so failures later in
// the pipeline still count against quota.
func (l *Ledger) Record(ctx context.Context, identity string) error {
	minuteStart, dayStart := windowStarts(timeNow())
	if err := l.store.Increment(ctx, identity, minuteStart, dayStart); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	l.metrics.recorded.Inc()
	return nil
}

// Revoke permanently limits the identity. There is no unrevoke.
func (l *Ledger) Revoke(ctx context.Context, identity string) error {
	if err := l.store.Revoke(ctx, identity); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	l.logger.Info("identity revoked", zap.String("identity", identity))
	return nil
}
