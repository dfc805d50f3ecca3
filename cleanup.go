package livra

import (
	"fmt"
	"strings"
	"time"
)

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TombstoneRetention is how long an acknowledged tombstone is retained
// before the garbage-collection pass reaps the physical row. The
// retention keeps the resurrection guard effective while other devices
// catch up.
const TombstoneRetention = 30 * 24 * time.Hour

// CleanupReport summarizes one maintenance pass.
type CleanupReport struct {
	DuplicatesMerged int
	OrphansRemoved   int
	TombstonesReaped int

	// ReapedCounterIDs are the counters whose acknowledged tombstones
	// were physically removed; their backend rows can be hard-deleted
	// too.
	ReapedCounterIDs []string
}

// Cleanup runs the post-sync maintenance pass: folds duplicate live
// counters, removes child rows without a live parent, reaps acknowledged
// tombstones past retention, and expires stale pending writes.
//
// acknowledgedBefore is the push cursor: a tombstone older than it has
// been uploaded, so the backend carries the deletion and the local
// physical row is no longer the only guard.
func (s *Store) Cleanup(userID string, acknowledgedBefore time.Time) (*CleanupReport, error) {
	report := &CleanupReport{}

	merged, err := s.dedupeCounters(userID)
	if err != nil {
		return report, err
	}
	report.DuplicatesMerged = merged

	orphans, err := s.removeOrphans(userID)
	if err != nil {
		return report, err
	}
	report.OrphansRemoved = orphans

	cutoff := time.Now().UTC().Add(-TombstoneRetention)
	if acknowledgedBefore.Before(cutoff) {
		cutoff = acknowledgedBefore
	}
	reaped, err := s.reapTombstones(userID, cutoff)
	if err != nil {
		return report, err
	}
	report.TombstonesReaped = len(reaped)
	report.ReapedCounterIDs = reaped

	if err := s.ReapPendingWrites(time.Now().UTC().Add(-PendingWriteWindow)); err != nil {
		return report, err
	}
	return report, nil
}

// dedupeCounters folds live counters that share a case-insensitive name
// into the most recently updated one. The keeper absorbs the highest
// total and adopts the losers' child rows; losers are tombstoned so the
// fold propagates on the next push.
func (s *Store) dedupeCounters(userID string) (int, error) {
	counters, err := s.ListCounters(userID)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]Counter)
	for _, c := range counters {
		if c.Deleted() {
			continue
		}
		key := foldName(c.Name)
		groups[key] = append(groups[key], c)
	}

	merged := 0
	now := time.Now().UTC()
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		keeper := group[0]
		for _, c := range group[1:] {
			if c.UpdatedAt.After(keeper.UpdatedAt) {
				keeper = c
			}
		}
		for _, loser := range group {
			if loser.ID == keeper.ID {
				continue
			}
			if err := s.foldCounter(&keeper, &loser, now); err != nil {
				return merged, err
			}
			merged++
		}
	}
	return merged, nil
}

func (s *Store) foldCounter(keeper, loser *Counter, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if loser.Total > keeper.Total {
		if _, err := tx.Exec(`UPDATE counters SET total = ?, updated_at = ? WHERE id = ?`,
			loser.Total, fmtTime(now), keeper.ID); err != nil {
			return fmt.Errorf("store: fold total: %w", err)
		}
		keeper.Total = loser.Total
	}

	for _, table := range []string{"events", "streaks", "badges"} {
		if _, err := tx.Exec(`UPDATE `+table+` SET mark_id = ?, updated_at = ? WHERE mark_id = ?`,
			keeper.ID, fmtTime(now), loser.ID); err != nil {
			return fmt.Errorf("store: reparent %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(`UPDATE counters SET deleted_at = ?, updated_at = ? WHERE id = ?`,
		fmtTime(now), fmtTime(now), loser.ID); err != nil {
		return fmt.Errorf("store: tombstone duplicate: %w", err)
	}

	return tx.Commit()
}

// removeOrphans deletes child rows whose parent counter does not exist.
// Children of tombstoned parents are kept until the tombstone itself is
// reaped so the deletion can still propagate as a unit.
func (s *Store) removeOrphans(userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	for _, table := range []string{"events", "streaks", "badges"} {
		res, err := s.db.Exec(`
			DELETE FROM `+table+`
			WHERE user_id = ?
			  AND mark_id NOT IN (SELECT id FROM counters)`, userID)
		if err != nil {
			return removed, fmt.Errorf("store: remove orphans from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

// reapTombstones hard-deletes counters tombstoned before cutoff along
// with their child rows, returning the reaped counter ids.
func (s *Store) reapTombstones(userID string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id FROM counters
		WHERE user_id = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
		userID, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: list reapable tombstones: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan reapable tombstone: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list reapable tombstones: %w", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	for _, table := range []string{"events", "streaks", "badges"} {
		if _, err := tx.Exec(`
			DELETE FROM `+table+`
			WHERE mark_id IN (
				SELECT id FROM counters
				WHERE user_id = ? AND deleted_at IS NOT NULL AND deleted_at < ?
			)`, userID, fmtTime(cutoff)); err != nil {
			return nil, fmt.Errorf("store: reap %s: %w", table, err)
		}
	}

	if _, err := tx.Exec(`
		DELETE FROM counters
		WHERE user_id = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
		userID, fmtTime(cutoff)); err != nil {
		return nil, fmt.Errorf("store: reap tombstones: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}
