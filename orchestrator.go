package livra

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Clock abstracts time for the orchestrator and the realtime
// invalidator so debounce and throttle behavior is testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SyncState is the orchestrator's explicit lifecycle state.
type SyncState int

const (
	// StateIdle means no sync is running or scheduled.
	StateIdle SyncState = iota

	// StatePending means a debounced request is waiting to fire.
	StatePending

	// StateRunning means a sync cycle is executing.
	StateRunning
)

func (s SyncState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Orchestrator serializes sync cycles. Requests are debounced, spaced by
// a throttle floor (first sync exempt), and executed one at a time: a
// request arriving while a cycle runs is satisfied by that cycle rather
// than starting another.
//
// A cycle is push, pull, streak recompute, cleanup, then cursor advance.
// The cursor moves only when every stage succeeded, so a failed cycle
// replays in full next time. Transient failures are logged and swallowed;
// permanent ones propagate.
type Orchestrator struct {
	syncer *Syncer
	store  *Store
	logger *log.Logger
	clock  Clock

	mu            sync.Mutex
	state         SyncState
	lastCompleted time.Time
	firstDone     bool
	tierLimited   bool
	lastErr       error
}

// NewOrchestrator creates an orchestrator around a syncer.
func NewOrchestrator(syncer *Syncer, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Orchestrator{
		syncer: syncer,
		store:  syncer.store,
		logger: logger,
		clock:  realClock{},
	}
}

// WithClock swaps the time source. Call before any request.
func (o *Orchestrator) WithClock(c Clock) *Orchestrator {
	o.clock = c
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// TierLimited reports whether the last push hit the backend's counter
// limit. It stays set until a later push succeeds in full.
func (o *Orchestrator) TierLimited() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tierLimited
}

// LastError returns the error recorded by the most recent cycle, nil
// after a clean one.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// RequestSync schedules a sync. Fire and forget: rapid requests inside
// the debounce window coalesce into one execution, and a request landing
// while a cycle runs is satisfied by that cycle.
func (o *Orchestrator) RequestSync(ctx context.Context) {
	o.mu.Lock()
	if o.state != StateIdle {
		// Pending request or running cycle already covers this one.
		o.mu.Unlock()
		return
	}
	o.state = StatePending
	timer := o.clock.After(DebounceWindow)
	o.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			if o.state == StatePending {
				o.state = StateIdle
			}
			o.mu.Unlock()
			return
		case <-timer:
		}

		o.mu.Lock()
		if o.state != StatePending {
			// SyncNow claimed the lane while the timer ran; that cycle
			// satisfies this request.
			o.mu.Unlock()
			return
		}
		if o.firstDone && o.clock.Now().Sub(o.lastCompleted) < ThrottleFloor {
			o.state = StateIdle
			o.mu.Unlock()
			return
		}
		o.state = StateRunning
		o.mu.Unlock()

		if err := o.runCycle(ctx, true); err != nil {
			o.logger.Printf("sync: %v", err)
		}
	}()
}

// SyncNow runs a full cycle immediately, bypassing debounce and
// throttle. Used by one-shot CLI invocations. Returns ErrSyncInProgress
// if a cycle is already running.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return ErrSyncInProgress
	}
	// A pending debounced request is claimed outright; its goroutine
	// stands down when it finds the state moved past StatePending.
	o.state = StateRunning
	o.mu.Unlock()

	return o.runCycle(ctx, true)
}

// PullNow runs a pull-only cycle immediately, used by realtime
// invalidation where local state is already on the backend. Skipped when
// a cycle is running or pending, since that cycle's pull covers it.
func (o *Orchestrator) PullNow(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil
	}
	o.state = StateRunning
	o.mu.Unlock()

	return o.runCycle(ctx, false)
}

// runCycle executes one cycle with state already set to StateRunning.
func (o *Orchestrator) runCycle(ctx context.Context, withPush bool) error {
	cycleStart := o.clock.Now().UTC()

	err := o.execute(ctx, cycleStart, withPush)

	o.mu.Lock()
	o.state = StateIdle
	o.lastCompleted = o.clock.Now()
	o.firstDone = true
	o.lastErr = err
	o.mu.Unlock()

	if err == nil {
		return nil
	}
	if Classify(err).Transient() {
		// Offline and flaky-network cycles are routine; retry later.
		o.logger.Printf("sync: transient failure, will retry: %v", err)
		return nil
	}
	return err
}

func (o *Orchestrator) execute(ctx context.Context, cycleStart time.Time, withPush bool) error {
	userID := o.syncer.client.UserID()
	advanceCursor := withPush

	cursor, err := o.store.LastSyncedAt()
	if err != nil {
		return err
	}
	// Tombstones deleted before this moment are acknowledged by the
	// backend and safe for the garbage collector to consider.
	acknowledged := cursor

	if withPush {
		pushed, err := o.syncer.Push(ctx, cursor)
		switch {
		case err == nil:
			o.setTierLimited(false)
			acknowledged = cycleStart
		case IsTierLimit(err):
			// Capped counters stay local-only; keeping the cursor put
			// lets them push automatically once the limit lifts.
			o.setTierLimited(true)
			advanceCursor = false
		default:
			return err
		}
		o.syncer.debugf("sync: pushed %d rows", pushed)
	}

	merged, err := o.syncer.Pull(ctx)
	if err != nil {
		return err
	}
	o.syncer.debugf("sync: merged %d rows", merged)

	if err := o.store.RecomputeStreaks(userID); err != nil {
		return err
	}

	report, err := o.store.Cleanup(userID, acknowledged)
	if err != nil {
		return err
	}
	if report.DuplicatesMerged > 0 || report.OrphansRemoved > 0 || report.TombstonesReaped > 0 {
		o.logger.Printf("sync: cleanup merged=%d orphans=%d reaped=%d",
			report.DuplicatesMerged, report.OrphansRemoved, report.TombstonesReaped)
	}
	if len(report.ReapedCounterIDs) > 0 {
		// Best effort: a failed hard delete leaves a tombstone on the
		// backend, which pulls already discard.
		if err := o.syncer.DeleteRemote(ctx, report.ReapedCounterIDs); err != nil {
			o.logger.Printf("sync: tombstone gc: %v", err)
		}
	}

	if advanceCursor {
		// Cycle-start time, not completion time: rows written during the
		// cycle re-push next time instead of being skipped.
		if err := o.store.SetLastSyncedAt(cycleStart); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) setTierLimited(v bool) {
	o.mu.Lock()
	o.tierLimited = v
	o.mu.Unlock()
}
