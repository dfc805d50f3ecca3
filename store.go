package livra

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/howk27/livra-sub000/internal/store/migrations"
	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// timeLayout is a fixed-width UTC format so that string comparison of
// stored timestamps matches chronological order in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// Store manages the local SQLite database holding counters, events,
// streaks, badges, sync metadata, and the pending-write journal.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewStore opens or creates a local store.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES (?, ?)
	`, MetaSchemaVersion, schemaVersion)
	return err
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Metadata / cursors

// GetMetadata returns the value for a metadata key, or ErrNotFound.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMetadata stores a metadata key/value pair.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// LastSyncedAt returns the sync cursor, or the zero time when no sync has
// completed yet.
func (s *Store) LastSyncedAt() (time.Time, error) {
	v, err := s.GetMetadata(MetaLastSyncedAt)
	if err == ErrNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(v), nil
}

// SetLastSyncedAt advances the sync cursor.
func (s *Store) SetLastSyncedAt(t time.Time) error {
	return s.SetMetadata(MetaLastSyncedAt, fmtTime(t))
}

// LastPulledAt returns the pull watermark, or the zero time on first sync.
func (s *Store) LastPulledAt() (time.Time, error) {
	v, err := s.GetMetadata(MetaLastPulledAt)
	if err == ErrNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(v), nil
}

// SetLastPulledAt advances the pull watermark.
func (s *Store) SetLastPulledAt(t time.Time) error {
	return s.SetMetadata(MetaLastPulledAt, fmtTime(t))
}

// RecordLogin appends to the small last-login history kept in metadata.
// Only the five most recent entries are retained.
func (s *Store) RecordLogin(at time.Time) error {
	history, err := s.GetMetadata(MetaLastLogin)
	if err != nil && err != ErrNotFound {
		return err
	}

	entries := []string{}
	if history != "" {
		entries = strings.Split(history, ",")
	}
	entries = append(entries, fmtTime(at))
	if len(entries) > 5 {
		entries = entries[len(entries)-5:]
	}

	return s.SetMetadata(MetaLastLogin, strings.Join(entries, ","))
}

// InstallID returns this device's stable install identifier, creating
// one on first call. It distinguishes devices of the same user in debug
// logs and the pending-write journal.
func (s *Store) InstallID() (string, error) {
	id, err := s.GetMetadata(MetaInstallID)
	if err == nil {
		return id, nil
	}
	if err != ErrNotFound {
		return "", err
	}

	id = uuid.NewString()
	if err := s.SetMetadata(MetaInstallID, id); err != nil {
		return "", err
	}
	return id, nil
}

// LoginHistory returns the retained login timestamps, oldest first.
func (s *Store) LoginHistory() ([]time.Time, error) {
	history, err := s.GetMetadata(MetaLastLogin)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []time.Time
	for _, entry := range strings.Split(history, ",") {
		t := parseTime(entry)
		if t.IsZero() {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Counters

const counterColumns = `id, user_id, name, color, icon, unit, streak_enabled, sort_order,
       total, last_activity_date, created_at, updated_at, deleted_at`

// CreateCounter inserts a new counter, enforcing the duplicate-name
// invariant for live counters of the same user.
func (s *Store) CreateCounter(c *Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}

	existing, err := s.findLiveCounterByName(c.UserID, c.Name)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %q", ErrDuplicateName, c.Name)
	}

	if c.ID == "" {
		c.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	return s.upsertCounter(s.db, c)
}

// GetCounter retrieves a counter by ID, tombstoned or not.
func (s *Store) GetCounter(id string) (*Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`SELECT `+counterColumns+` FROM counters WHERE id = ?`, id)
	return scanCounter(row)
}

// ListCounters returns all live counters for a user ordered by sort
// position.
func (s *Store) ListCounters(userID string) ([]Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+counterColumns+` FROM counters
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY sort_order, name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectCounters(rows)
}

// FindLiveCounterByName finds a live counter by case-insensitive name.
func (s *Store) FindLiveCounterByName(userID, name string) (*Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.findLiveCounterByName(userID, name)
}

func (s *Store) findLiveCounterByName(userID, name string) (*Counter, error) {
	row := s.db.QueryRow(`
		SELECT `+counterColumns+` FROM counters
		WHERE user_id = ? AND deleted_at IS NULL AND LOWER(name) = LOWER(?)
		LIMIT 1
	`, userID, name)
	return scanCounter(row)
}

// UpsertCounter writes a counter row unconditionally. Merge decisions are
// made by the conflict resolver before this is called.
func (s *Store) UpsertCounter(c *Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.upsertCounter(s.db, c)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertCounter(db execer, c *Counter) error {
	_, err := db.Exec(`
		INSERT INTO counters (`+counterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			icon = excluded.icon,
			unit = excluded.unit,
			streak_enabled = excluded.streak_enabled,
			sort_order = excluded.sort_order,
			total = excluded.total,
			last_activity_date = excluded.last_activity_date,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`,
		c.ID, c.UserID, c.Name, nullString(c.Color), nullString(c.Icon), nullString(c.Unit),
		boolToInt(c.StreakEnabled), c.SortOrder, c.Total, nullString(c.LastActivityDate),
		fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt), fmtTimePtr(c.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert counter: %w", err)
	}
	return nil
}

// DeleteCounter tombstones a counter. Children stay in place for the
// cleanup pass; the tombstone alone removes the counter from sync and
// projection.
func (s *Store) DeleteCounter(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.Exec(`
		UPDATE counters SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtTime(at), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("store: delete counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountersSince returns counters with updated_at strictly greater than
// since, tombstoned or not.
func (s *Store) CountersSince(userID string, since time.Time) ([]Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+counterColumns+` FROM counters
		WHERE user_id = ? AND updated_at > ?
		ORDER BY updated_at
	`, userID, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectCounters(rows)
}

// TombstonedCounters returns every deleted counter regardless of cursor.
// Deletions must never be missed due to a timestamp race.
func (s *Store) TombstonedCounters(userID string) ([]Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+counterColumns+` FROM counters
		WHERE user_id = ? AND deleted_at IS NOT NULL
		ORDER BY updated_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectCounters(rows)
}

// TombstonedCounterIDs returns the id set of locally deleted counters.
func (s *Store) TombstonedCounterIDs(userID string) (map[string]struct{}, error) {
	counters, err := s.TombstonedCounters(userID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(counters))
	for _, c := range counters {
		ids[c.ID] = struct{}{}
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Events

const eventColumns = `id, user_id, mark_id, event_type, amount, occurred_at,
       occurred_local_date, created_at, updated_at, deleted_at`

// ApplyEvent records a counter mutation: the event row, the parent
// counter's new total and activity date, and a pending-write journal entry
// are written in one transaction. This is the optimistic local apply; the
// push engine confirms it in the background.
func (s *Store) ApplyEvent(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if !ev.EventType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, ev.EventType)
	}
	if ev.MarkID == "" {
		return ErrMissingParent
	}

	counter, err := s.getCounter(ev.MarkID)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("store: apply event: %w: %s", ErrMissingParent, ev.MarkID)
	}
	if err != nil {
		return fmt.Errorf("store: apply event: %w", err)
	}
	if counter.Deleted() {
		return fmt.Errorf("store: apply event: %w: %s", ErrMissingParent, ev.MarkID)
	}

	now := time.Now().UTC()
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.UserID == "" {
		ev.UserID = counter.UserID
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	if ev.OccurredLocalDate == "" {
		ev.OccurredLocalDate = LocalDate(ev.OccurredAt)
	}
	ev.CreatedAt = now
	ev.UpdatedAt = now

	newTotal := counter.Total
	switch ev.EventType {
	case EventIncrement:
		newTotal += ev.Amount
	case EventDecrement:
		newTotal -= ev.Amount
		if newTotal < 0 {
			newTotal = 0
		}
	case EventReset:
		newTotal = 0
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if err := s.upsertEvent(tx, ev); err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE counters SET total = ?, last_activity_date = ?, updated_at = ? WHERE id = ?
	`, newTotal, ev.OccurredLocalDate, fmtTime(now), counter.ID)
	if err != nil {
		return fmt.Errorf("store: update counter total: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO pending_writes (mark_id, total, written_at) VALUES (?, ?, ?)
	`, counter.ID, newTotal, fmtTime(now))
	if err != nil {
		return fmt.Errorf("store: journal pending write: %w", err)
	}

	return tx.Commit()
}

// GetEvent retrieves an event by ID.
func (s *Store) GetEvent(id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// UpsertEvent writes an event row unconditionally.
func (s *Store) UpsertEvent(ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.upsertEvent(s.db, ev)
}

func (s *Store) upsertEvent(db execer, ev *Event) error {
	_, err := db.Exec(`
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type = excluded.event_type,
			amount = excluded.amount,
			occurred_at = excluded.occurred_at,
			occurred_local_date = excluded.occurred_local_date,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`,
		ev.ID, ev.UserID, ev.MarkID, string(ev.EventType), ev.Amount,
		fmtTime(ev.OccurredAt), ev.OccurredLocalDate,
		fmtTime(ev.CreatedAt), fmtTime(ev.UpdatedAt), fmtTimePtr(ev.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert event: %w", err)
	}
	return nil
}

// EventsSince returns events with updated_at strictly greater than since.
func (s *Store) EventsSince(userID string, since time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+eventColumns+` FROM events
		WHERE user_id = ? AND updated_at > ?
		ORDER BY updated_at
	`, userID, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEvents(rows)
}

// EventsForMark returns all live events for a counter ordered by
// occurrence. Used for streak recomputation after each merge cycle.
func (s *Store) EventsForMark(markID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+eventColumns+` FROM events
		WHERE mark_id = ? AND deleted_at IS NULL
		ORDER BY occurred_at
	`, markID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ---------------------------------------------------------------------------
// Streaks

const streakColumns = `id, user_id, mark_id, current, longest, last_date,
       created_at, updated_at, deleted_at`

// GetStreak returns the live streak row for (user, mark).
func (s *Store) GetStreak(userID, markID string) (*Streak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT `+streakColumns+` FROM streaks
		WHERE user_id = ? AND mark_id = ? AND deleted_at IS NULL
	`, userID, markID)
	return scanStreak(row)
}

// UpsertStreak writes a streak row unconditionally.
func (s *Store) UpsertStreak(st *Streak) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.upsertStreak(s.db, st)
}

func (s *Store) upsertStreak(db execer, st *Streak) error {
	_, err := db.Exec(`
		INSERT INTO streaks (`+streakColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current = excluded.current,
			longest = excluded.longest,
			last_date = excluded.last_date,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`,
		st.ID, st.UserID, st.MarkID, st.Current, st.Longest, nullString(st.LastDate),
		fmtTime(st.CreatedAt), fmtTime(st.UpdatedAt), fmtTimePtr(st.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert streak: %w", err)
	}
	return nil
}

// StreaksSince returns streaks with updated_at strictly greater than since.
func (s *Store) StreaksSince(userID string, since time.Time) ([]Streak, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+streakColumns+` FROM streaks
		WHERE user_id = ? AND updated_at > ?
		ORDER BY updated_at
	`, userID, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectStreaks(rows)
}

// ---------------------------------------------------------------------------
// Badges

const badgeColumns = `id, user_id, mark_id, code, progress, target, earned_at,
       created_at, updated_at, deleted_at`

// GetBadge retrieves a badge by ID.
func (s *Store) GetBadge(id string) (*Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`SELECT `+badgeColumns+` FROM badges WHERE id = ?`, id)
	return scanBadge(row)
}

// UpsertBadge writes a badge row unconditionally.
func (s *Store) UpsertBadge(b *Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return s.upsertBadge(s.db, b)
}

func (s *Store) upsertBadge(db execer, b *Badge) error {
	_, err := db.Exec(`
		INSERT INTO badges (`+badgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			progress = excluded.progress,
			target = excluded.target,
			earned_at = excluded.earned_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`,
		b.ID, b.UserID, b.MarkID, b.Code, b.Progress, b.Target, fmtTimePtr(b.EarnedAt),
		fmtTime(b.CreatedAt), fmtTime(b.UpdatedAt), fmtTimePtr(b.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("store: upsert badge: %w", err)
	}
	return nil
}

// BadgesSince returns badges with updated_at strictly greater than since.
func (s *Store) BadgesSince(userID string, since time.Time) ([]Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT `+badgeColumns+` FROM badges
		WHERE user_id = ? AND updated_at > ?
		ORDER BY updated_at
	`, userID, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBadges(rows)
}

// ---------------------------------------------------------------------------
// Pending writes

// LatestPendingWrite returns the most recent pending write for a counter
// written at or after notBefore, or ErrNotFound.
func (s *Store) LatestPendingWrite(markID string, notBefore time.Time) (*PendingWrite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRow(`
		SELECT mark_id, total, written_at FROM pending_writes
		WHERE mark_id = ? AND written_at >= ?
		ORDER BY written_at DESC LIMIT 1
	`, markID, fmtTime(notBefore))

	var pw PendingWrite
	var writtenAt string
	err := row.Scan(&pw.MarkID, &pw.Total, &writtenAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pw.WrittenAt = parseTime(writtenAt)
	return &pw, nil
}

// ReapPendingWrites drops journal entries older than before. The journal
// only arbitrates merges inside the pending window, so aged rows are dead
// weight.
func (s *Store) ReapPendingWrites(before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`DELETE FROM pending_writes WHERE written_at < ?`, fmtTime(before))
	return err
}

// ---------------------------------------------------------------------------
// Batch merge application

// CounterApply is one accepted counter merge decision.
type CounterApply struct {
	Counter   Counter
	TotalOnly bool
}

// ApplyCounters applies accepted counter merges in one transaction so a
// killed process cannot leave a partially merged counter pass behind.
func (s *Store) ApplyCounters(applies []CounterApply) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(applies) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range applies {
		a := &applies[i]
		if a.TotalOnly {
			_, err := tx.Exec(`UPDATE counters SET total = ? WHERE id = ?`, a.Counter.Total, a.Counter.ID)
			if err != nil {
				return fmt.Errorf("store: apply total: %w", err)
			}
			continue
		}
		if err := s.upsertCounter(tx, &a.Counter); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ApplyEvents applies accepted event merges in one transaction.
func (s *Store) ApplyEvents(events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range events {
		if err := s.upsertEvent(tx, &events[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ApplyStreaks applies accepted streak merges in one transaction.
func (s *Store) ApplyStreaks(streaks []Streak) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(streaks) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range streaks {
		if err := s.upsertStreak(tx, &streaks[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ApplyBadges applies accepted badge merges in one transaction.
func (s *Store) ApplyBadges(badges []Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(badges) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range badges {
		if err := s.upsertBadge(tx, &badges[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Stats

// Stats returns store statistics.
func (s *Store) Stats(userID string) (*StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	stats := &StoreStats{SchemaVersion: schemaVersion}

	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM counters WHERE user_id = ? AND deleted_at IS NULL
	`, userID).Scan(&stats.Counters); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM events WHERE user_id = ? AND deleted_at IS NULL
	`, userID).Scan(&stats.Events); err != nil {
		return nil, err
	}

	var lastSync sql.NullString
	_ = s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, MetaLastSyncedAt).Scan(&lastSync)
	var cursor time.Time
	if lastSync.Valid {
		cursor = parseTime(lastSync.String)
		stats.LastSync = cursor
	}

	if err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM counters WHERE user_id = ?1 AND (updated_at > ?2 OR deleted_at IS NOT NULL)) +
			(SELECT COUNT(*) FROM events   WHERE user_id = ?1 AND updated_at > ?2) +
			(SELECT COUNT(*) FROM streaks  WHERE user_id = ?1 AND updated_at > ?2) +
			(SELECT COUNT(*) FROM badges   WHERE user_id = ?1 AND updated_at > ?2)
	`, userID, fmtTime(cursor)).Scan(&stats.PendingDeltas); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Store) getCounter(id string) (*Counter, error) {
	row := s.db.QueryRow(`SELECT `+counterColumns+` FROM counters WHERE id = ?`, id)
	return scanCounter(row)
}

// ---------------------------------------------------------------------------
// Scan helpers

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCounter(sc scanner) (*Counter, error) {
	var (
		c                Counter
		color, icon      sql.NullString
		unit             sql.NullString
		lastActivity     sql.NullString
		streakEnabled    int
		created, updated string
		deleted          sql.NullString
	)

	err := sc.Scan(
		&c.ID, &c.UserID, &c.Name, &color, &icon, &unit,
		&streakEnabled, &c.SortOrder, &c.Total, &lastActivity,
		&created, &updated, &deleted,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Color = color.String
	c.Icon = icon.String
	c.Unit = unit.String
	c.StreakEnabled = streakEnabled != 0
	c.LastActivityDate = lastActivity.String
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	c.DeletedAt = parseTimePtr(deleted)
	return &c, nil
}

func collectCounters(rows *sql.Rows) ([]Counter, error) {
	var results []Counter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *c)
	}
	return results, rows.Err()
}

func scanEvent(sc scanner) (*Event, error) {
	var (
		ev               Event
		eventType        string
		occurred         string
		created, updated string
		deleted          sql.NullString
	)

	err := sc.Scan(
		&ev.ID, &ev.UserID, &ev.MarkID, &eventType, &ev.Amount,
		&occurred, &ev.OccurredLocalDate, &created, &updated, &deleted,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ev.EventType = EventType(eventType)
	ev.OccurredAt = parseTime(occurred)
	ev.CreatedAt = parseTime(created)
	ev.UpdatedAt = parseTime(updated)
	ev.DeletedAt = parseTimePtr(deleted)
	return &ev, nil
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var results []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *ev)
	}
	return results, rows.Err()
}

func scanStreak(sc scanner) (*Streak, error) {
	var (
		st               Streak
		lastDate         sql.NullString
		created, updated string
		deleted          sql.NullString
	)

	err := sc.Scan(
		&st.ID, &st.UserID, &st.MarkID, &st.Current, &st.Longest,
		&lastDate, &created, &updated, &deleted,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st.LastDate = lastDate.String
	st.CreatedAt = parseTime(created)
	st.UpdatedAt = parseTime(updated)
	st.DeletedAt = parseTimePtr(deleted)
	return &st, nil
}

func collectStreaks(rows *sql.Rows) ([]Streak, error) {
	var results []Streak
	for rows.Next() {
		st, err := scanStreak(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *st)
	}
	return results, rows.Err()
}

func scanBadge(sc scanner) (*Badge, error) {
	var (
		b                Badge
		earned           sql.NullString
		created, updated string
		deleted          sql.NullString
	)

	err := sc.Scan(
		&b.ID, &b.UserID, &b.MarkID, &b.Code, &b.Progress, &b.Target,
		&earned, &created, &updated, &deleted,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.EarnedAt = parseTimePtr(earned)
	b.CreatedAt = parseTime(created)
	b.UpdatedAt = parseTime(updated)
	b.DeletedAt = parseTimePtr(deleted)
	return &b, nil
}

func collectBadges(rows *sql.Rows) ([]Badge, error) {
	var results []Badge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *b)
	}
	return results, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
