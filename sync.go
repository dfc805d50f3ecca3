package livra

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/howk27/livra-sub000/internal/remote"
)

// Syncer moves deltas between the local store and the backend. The push
// and pull engines live on it; ordering, locking, and cursor management
// belong to the Orchestrator.
type Syncer struct {
	store      *Store
	client     remote.Client
	projection *Projection
	logger     *log.Logger
	debug      *DebugLogger
}

// NewSyncer creates a syncer. projection may be nil when no reactive
// consumer is attached (one-shot CLI syncs).
func NewSyncer(store *Store, client remote.Client, projection *Projection, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{
		store:      store,
		client:     client,
		projection: projection,
		logger:     logger,
	}
}

// WithDebug attaches a debug logger for verbose wire logging.
func (s *Syncer) WithDebug(debug *DebugLogger) *Syncer {
	s.debug = debug
	return s
}

// Push uploads local deltas newer than cursor, plus every tombstoned
// counter regardless of cursor. Counters go first, tombstoned before
// live, so child uploads never race a missing or deleted parent.
//
// A tier-limit rejection from the backend aborts the remaining counter
// chunks and is returned as *TierLimitError after the child phase ran;
// the caller surfaces it as user-visible state rather than a failure.
func (s *Syncer) Push(ctx context.Context, cursor time.Time) (int, error) {
	userID := s.client.UserID()
	pushed := 0

	counters, err := s.gatherCounters(userID, cursor)
	if err != nil {
		return 0, err
	}

	var tierLimit *TierLimitError
	for _, chunk := range chunkCounters(counters, PushChunkSize) {
		rows := make([]remote.CounterRow, len(chunk))
		for i := range chunk {
			rows[i] = CounterToRemote(&chunk[i])
		}
		s.debugf("push counters chunk n=%d", len(rows))
		if err := s.client.UpsertCounters(ctx, rows); err != nil {
			if apiErr, ok := asAPIError(err); ok && apiErr.IsTierLimit() {
				s.logger.Printf("push: counter limit reached, deferring %d counters", len(counters)-pushed)
				tierLimit = &TierLimitError{}
				break
			}
			return pushed, &SyncError{Operation: "push", Table: remote.TableCounters, StatusCode: statusCode(err), Err: err}
		}
		pushed += len(chunk)
	}

	// Children are rejected server-side without a live parent; fetch the
	// remote-existing counter id set once and pre-filter against it.
	remoteIDs, err := s.remoteCounterIDs(ctx)
	if err != nil {
		return pushed, &SyncError{Operation: "push", Table: remote.TableCounters, StatusCode: statusCode(err), Err: err}
	}

	n, err := s.pushEvents(ctx, userID, cursor, remoteIDs)
	pushed += n
	if err != nil {
		return pushed, err
	}

	n, err = s.pushStreaks(ctx, userID, cursor, remoteIDs)
	pushed += n
	if err != nil {
		return pushed, err
	}

	n, err = s.pushBadges(ctx, userID, cursor, remoteIDs)
	pushed += n
	if err != nil {
		return pushed, err
	}

	if tierLimit != nil {
		return pushed, tierLimit
	}
	return pushed, nil
}

// DeleteRemote hard-deletes counters on the backend. The garbage
// collector calls it for tombstones it reaped locally, so acknowledged
// deletions stop accumulating server-side.
func (s *Syncer) DeleteRemote(ctx context.Context, counterIDs []string) error {
	for _, id := range counterIDs {
		if err := s.client.Delete(ctx, remote.TableCounters, id); err != nil {
			return &SyncError{Operation: "delete", Table: remote.TableCounters, StatusCode: statusCode(err), Err: err}
		}
		s.debugf("gc: hard-deleted counter %s", id)
	}
	return nil
}

// gatherCounters selects counter deltas plus all tombstones, drops rows
// not owned by the authenticated user, and orders tombstones first.
func (s *Syncer) gatherCounters(userID string, cursor time.Time) ([]Counter, error) {
	since, err := s.store.CountersSince(userID, cursor)
	if err != nil {
		return nil, err
	}
	tombstoned, err := s.store.TombstonedCounters(userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(since)+len(tombstoned))
	var dead, live []Counter
	add := func(c Counter) {
		if _, dup := seen[c.ID]; dup {
			return
		}
		seen[c.ID] = struct{}{}
		if c.UserID != userID {
			// Rows for a foreign user must never leave the device.
			s.logger.Printf("push: SECURITY dropping counter %s owned by %q, session user %q", c.ID, c.UserID, userID)
			return
		}
		if c.Deleted() {
			dead = append(dead, c)
		} else {
			live = append(live, c)
		}
	}
	for _, c := range tombstoned {
		add(c)
	}
	for _, c := range since {
		add(c)
	}

	return append(dead, live...), nil
}

func (s *Syncer) remoteCounterIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	offset := 0
	for {
		rows, err := s.client.SelectCounters(ctx, remote.Query{Alive: true, Offset: offset, Limit: PullPageSize})
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			ids[r.ID] = struct{}{}
		}
		if len(rows) < PullPageSize {
			return ids, nil
		}
		offset += len(rows)
	}
}

func (s *Syncer) pushEvents(ctx context.Context, userID string, cursor time.Time, remoteIDs map[string]struct{}) (int, error) {
	events, err := s.store.EventsSince(userID, cursor)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	valid := events[:0]
	for _, ev := range events {
		if ev.UserID != userID {
			s.logger.Printf("push: SECURITY dropping event %s owned by %q, session user %q", ev.ID, ev.UserID, userID)
			continue
		}
		if reason := validateEventForPush(&ev, now); reason != "" {
			s.logger.Printf("push: dropping event %s: %s", ev.ID, reason)
			continue
		}
		if _, ok := remoteIDs[ev.MarkID]; !ok {
			s.logger.Printf("push: dropping orphaned event %s (counter %s not on backend)", ev.ID, ev.MarkID)
			continue
		}
		valid = append(valid, ev)
	}

	pushed := 0
	for _, chunk := range chunkEvents(valid, PushChunkSize) {
		rows := make([]remote.EventRow, len(chunk))
		for i := range chunk {
			rows[i] = EventToRemote(&chunk[i])
		}
		n, err := s.uploadEvents(ctx, rows)
		pushed += n
		if err != nil {
			return pushed, err
		}
	}
	return pushed, nil
}

// uploadEvents sends one chunk, falling back to row-by-row on a
// foreign-key violation so a single bad row does not sacrifice the batch.
func (s *Syncer) uploadEvents(ctx context.Context, rows []remote.EventRow) (int, error) {
	err := s.client.UpsertEvents(ctx, rows)
	if err == nil {
		return len(rows), nil
	}
	if apiErr, ok := asAPIError(err); !ok || !apiErr.IsForeignKeyViolation() {
		return 0, &SyncError{Operation: "push", Table: remote.TableEvents, StatusCode: statusCode(err), Err: err}
	}

	s.logger.Printf("push: events batch hit foreign-key violation, retrying %d rows individually", len(rows))
	pushed := 0
	for _, row := range rows {
		if err := s.client.UpsertEvents(ctx, []remote.EventRow{row}); err != nil {
			if apiErr, ok := asAPIError(err); ok && apiErr.IsForeignKeyViolation() {
				s.logger.Printf("push: dropping event %s: %v", row.ID, err)
				continue
			}
			return pushed, &SyncError{Operation: "push", Table: remote.TableEvents, StatusCode: statusCode(err), Err: err}
		}
		pushed++
	}
	return pushed, nil
}

func (s *Syncer) pushStreaks(ctx context.Context, userID string, cursor time.Time, remoteIDs map[string]struct{}) (int, error) {
	streaks, err := s.store.StreaksSince(userID, cursor)
	if err != nil {
		return 0, err
	}

	valid := streaks[:0]
	for _, st := range streaks {
		if st.UserID != userID {
			s.logger.Printf("push: SECURITY dropping streak %s owned by %q, session user %q", st.ID, st.UserID, userID)
			continue
		}
		if _, ok := remoteIDs[st.MarkID]; !ok {
			s.logger.Printf("push: dropping orphaned streak %s (counter %s not on backend)", st.ID, st.MarkID)
			continue
		}
		valid = append(valid, st)
	}

	pushed := 0
	for _, chunk := range chunkStreaks(valid, PushChunkSize) {
		rows := make([]remote.StreakRow, len(chunk))
		for i := range chunk {
			rows[i] = StreakToRemote(&chunk[i])
		}
		n, err := s.uploadStreaks(ctx, rows)
		pushed += n
		if err != nil {
			return pushed, err
		}
	}
	return pushed, nil
}

func (s *Syncer) uploadStreaks(ctx context.Context, rows []remote.StreakRow) (int, error) {
	err := s.client.UpsertStreaks(ctx, rows)
	if err == nil {
		return len(rows), nil
	}
	if apiErr, ok := asAPIError(err); !ok || !apiErr.IsForeignKeyViolation() {
		return 0, &SyncError{Operation: "push", Table: remote.TableStreaks, StatusCode: statusCode(err), Err: err}
	}

	s.logger.Printf("push: streaks batch hit foreign-key violation, retrying %d rows individually", len(rows))
	pushed := 0
	for _, row := range rows {
		if err := s.client.UpsertStreaks(ctx, []remote.StreakRow{row}); err != nil {
			if apiErr, ok := asAPIError(err); ok && apiErr.IsForeignKeyViolation() {
				s.logger.Printf("push: dropping streak %s: %v", row.ID, err)
				continue
			}
			return pushed, &SyncError{Operation: "push", Table: remote.TableStreaks, StatusCode: statusCode(err), Err: err}
		}
		pushed++
	}
	return pushed, nil
}

func (s *Syncer) pushBadges(ctx context.Context, userID string, cursor time.Time, remoteIDs map[string]struct{}) (int, error) {
	badges, err := s.store.BadgesSince(userID, cursor)
	if err != nil {
		return 0, err
	}

	valid := badges[:0]
	for _, b := range badges {
		if b.UserID != userID {
			s.logger.Printf("push: SECURITY dropping badge %s owned by %q, session user %q", b.ID, b.UserID, userID)
			continue
		}
		if _, ok := remoteIDs[b.MarkID]; !ok {
			s.logger.Printf("push: dropping orphaned badge %s (counter %s not on backend)", b.ID, b.MarkID)
			continue
		}
		valid = append(valid, b)
	}

	pushed := 0
	for _, chunk := range chunkBadges(valid, PushChunkSize) {
		rows := make([]remote.BadgeRow, len(chunk))
		for i := range chunk {
			rows[i] = BadgeToRemote(&chunk[i])
		}
		n, err := s.uploadBadges(ctx, rows)
		pushed += n
		if err != nil {
			return pushed, err
		}
	}
	return pushed, nil
}

func (s *Syncer) uploadBadges(ctx context.Context, rows []remote.BadgeRow) (int, error) {
	err := s.client.UpsertBadges(ctx, rows)
	if err == nil {
		return len(rows), nil
	}
	if apiErr, ok := asAPIError(err); !ok || !apiErr.IsForeignKeyViolation() {
		return 0, &SyncError{Operation: "push", Table: remote.TableBadges, StatusCode: statusCode(err), Err: err}
	}

	s.logger.Printf("push: badges batch hit foreign-key violation, retrying %d rows individually", len(rows))
	pushed := 0
	for _, row := range rows {
		if err := s.client.UpsertBadges(ctx, []remote.BadgeRow{row}); err != nil {
			if apiErr, ok := asAPIError(err); ok && apiErr.IsForeignKeyViolation() {
				s.logger.Printf("push: dropping badge %s: %v", row.ID, err)
				continue
			}
			return pushed, &SyncError{Operation: "push", Table: remote.TableBadges, StatusCode: statusCode(err), Err: err}
		}
		pushed++
	}
	return pushed, nil
}

// validateEventForPush rejects events whose timestamps cannot be real:
// more than a few minutes in the future (clock drift tolerance) or more
// than a year in the past. Returns a reason, or "" when valid.
func validateEventForPush(ev *Event, now time.Time) string {
	if ev.MarkID == "" {
		return "missing parent counter reference"
	}
	if !ev.EventType.IsValid() {
		return "unknown event type"
	}
	if ev.OccurredAt.After(now.Add(EventMaxFutureDrift)) {
		return "occurred_at too far in the future"
	}
	if ev.OccurredAt.Before(now.Add(-EventMaxAge)) {
		return "occurred_at more than a year old"
	}
	if ev.OccurredLocalDate == "" {
		return "missing occurred_local_date"
	}
	return ""
}

func (s *Syncer) debugf(format string, args ...any) {
	if s.debug != nil {
		s.debug.Log(format, args...)
	}
}

func asAPIError(err error) (*remote.APIError, bool) {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func statusCode(err error) int {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.StatusCode
	}
	return 0
}

func chunkCounters(rows []Counter, size int) [][]Counter {
	var chunks [][]Counter
	for len(rows) > size {
		chunks = append(chunks, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		chunks = append(chunks, rows)
	}
	return chunks
}

func chunkEvents(rows []Event, size int) [][]Event {
	var chunks [][]Event
	for len(rows) > size {
		chunks = append(chunks, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		chunks = append(chunks, rows)
	}
	return chunks
}

func chunkStreaks(rows []Streak, size int) [][]Streak {
	var chunks [][]Streak
	for len(rows) > size {
		chunks = append(chunks, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		chunks = append(chunks, rows)
	}
	return chunks
}

func chunkBadges(rows []Badge, size int) [][]Badge {
	var chunks [][]Badge
	for len(rows) > size {
		chunks = append(chunks, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		chunks = append(chunks, rows)
	}
	return chunks
}
