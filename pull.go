package livra

import (
	"context"
	"errors"
	"time"

	"github.com/howk27/livra-sub000/internal/remote"
)

// Pull downloads remote deltas newer than the pull watermark and merges
// them through the per-entity resolvers. The first pull ever walks the
// full remote history page by page; later pulls are incremental. The
// watermark moves only after every page of the cycle has been merged, so
// an interrupted pull re-fetches rather than losing rows.
func (s *Syncer) Pull(ctx context.Context) (int, error) {
	userID := s.client.UserID()

	watermark, err := s.store.LastPulledAt()
	if err != nil {
		return 0, err
	}
	cycleStart := time.Now().UTC()

	tombstoned, err := s.store.TombstonedCounterIDs(userID)
	if err != nil {
		return 0, err
	}

	merged := 0
	n, err := s.pullCounters(ctx, userID, watermark, tombstoned)
	merged += n
	if err != nil {
		return merged, err
	}

	n, err = s.pullEvents(ctx, userID, watermark, tombstoned)
	merged += n
	if err != nil {
		return merged, err
	}

	n, err = s.pullStreaks(ctx, userID, watermark, tombstoned)
	merged += n
	if err != nil {
		return merged, err
	}

	n, err = s.pullBadges(ctx, userID, watermark, tombstoned)
	merged += n
	if err != nil {
		return merged, err
	}

	if err := s.store.SetLastPulledAt(cycleStart); err != nil {
		return merged, err
	}
	return merged, nil
}

func pullQuery(watermark time.Time, offset int) remote.Query {
	q := remote.Query{Offset: offset, Limit: PullPageSize}
	if !watermark.IsZero() {
		after := watermark
		q.UpdatedAfter = &after
	}
	return q
}

func (s *Syncer) pullCounters(ctx context.Context, userID string, watermark time.Time, tombstoned map[string]struct{}) (int, error) {
	merged := 0
	offset := 0
	for {
		rows, err := s.client.SelectCounters(ctx, pullQuery(watermark, offset))
		if err != nil {
			return merged, &SyncError{Operation: "pull", Table: remote.TableCounters, StatusCode: statusCode(err), Err: err}
		}
		s.debugf("pull counters page offset=%d n=%d", offset, len(rows))

		n, err := s.mergeCounterPage(userID, rows, tombstoned)
		merged += n
		if err != nil {
			return merged, err
		}

		if len(rows) < PullPageSize {
			return merged, nil
		}
		offset += len(rows)
	}
}

func (s *Syncer) mergeCounterPage(userID string, rows []remote.CounterRow, tombstoned map[string]struct{}) (int, error) {
	pendingSince := time.Now().UTC().Add(-PendingWriteWindow)

	var applies []CounterApply
	for i := range rows {
		remoteRow := CounterFromRemote(rows[i])
		if remoteRow.ID == "" {
			s.logger.Printf("pull: dropping counter row with empty id")
			continue
		}
		if remoteRow.UserID != userID {
			s.logger.Printf("pull: SECURITY dropping counter %s owned by %q, session user %q", remoteRow.ID, remoteRow.UserID, userID)
			continue
		}
		if _, dead := tombstoned[remoteRow.ID]; dead {
			continue
		}

		local, err := s.store.GetCounter(remoteRow.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		var sameName *Counter
		if local == nil {
			sameName, err = s.store.FindLiveCounterByName(userID, remoteRow.Name)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return 0, err
			}
		}
		pending, err := s.store.LatestPendingWrite(remoteRow.ID, pendingSince)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return 0, err
		}

		decision := ResolveCounter(remoteRow, local, sameName, pending)
		if decision.Action == CounterSkip {
			s.debugf("pull: skip counter %s: %s", remoteRow.ID, decision.Reason)
			continue
		}
		applies = append(applies, CounterApply{
			Counter:   decision.Row,
			TotalOnly: decision.Action == CounterTotalOnly,
		})
	}

	if len(applies) == 0 {
		return 0, nil
	}
	if err := s.store.ApplyCounters(applies); err != nil {
		return 0, err
	}
	if s.projection != nil {
		for i := range applies {
			s.projection.PutCounter(applies[i].Counter)
		}
	}
	return len(applies), nil
}

func (s *Syncer) pullEvents(ctx context.Context, userID string, watermark time.Time, tombstoned map[string]struct{}) (int, error) {
	merged := 0
	offset := 0
	for {
		rows, err := s.client.SelectEvents(ctx, pullQuery(watermark, offset))
		if err != nil {
			return merged, &SyncError{Operation: "pull", Table: remote.TableEvents, StatusCode: statusCode(err), Err: err}
		}
		s.debugf("pull events page offset=%d n=%d", offset, len(rows))

		var accepted []Event
		for i := range rows {
			ev := EventFromRemote(rows[i])
			if ev.UserID != userID {
				s.logger.Printf("pull: SECURITY dropping event %s owned by %q, session user %q", ev.ID, ev.UserID, userID)
				continue
			}
			if _, dead := tombstoned[ev.MarkID]; dead {
				continue
			}

			local, err := s.store.GetEvent(ev.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return merged, err
			}
			if ok, reason := ResolveEvent(ev, local); !ok {
				s.debugf("pull: skip event %s: %s", ev.ID, reason)
				continue
			}
			accepted = append(accepted, ev)
		}

		if len(accepted) > 0 {
			if err := s.store.ApplyEvents(accepted); err != nil {
				return merged, err
			}
			if s.projection != nil {
				for i := range accepted {
					s.projection.PutEvent(accepted[i])
				}
			}
			merged += len(accepted)
		}

		if len(rows) < PullPageSize {
			return merged, nil
		}
		offset += len(rows)
	}
}

func (s *Syncer) pullStreaks(ctx context.Context, userID string, watermark time.Time, tombstoned map[string]struct{}) (int, error) {
	merged := 0
	offset := 0
	for {
		rows, err := s.client.SelectStreaks(ctx, pullQuery(watermark, offset))
		if err != nil {
			return merged, &SyncError{Operation: "pull", Table: remote.TableStreaks, StatusCode: statusCode(err), Err: err}
		}

		var accepted []Streak
		for i := range rows {
			st := StreakFromRemote(rows[i])
			if st.UserID != userID {
				s.logger.Printf("pull: SECURITY dropping streak %s owned by %q, session user %q", st.ID, st.UserID, userID)
				continue
			}
			if _, dead := tombstoned[st.MarkID]; dead {
				continue
			}

			local, err := s.store.GetStreak(userID, st.MarkID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return merged, err
			}
			if ok, reason := ResolveStreak(st, local); !ok {
				s.debugf("pull: skip streak %s: %s", st.ID, reason)
				continue
			}
			accepted = append(accepted, st)
		}

		if len(accepted) > 0 {
			if err := s.store.ApplyStreaks(accepted); err != nil {
				return merged, err
			}
			merged += len(accepted)
		}

		if len(rows) < PullPageSize {
			return merged, nil
		}
		offset += len(rows)
	}
}

func (s *Syncer) pullBadges(ctx context.Context, userID string, watermark time.Time, tombstoned map[string]struct{}) (int, error) {
	merged := 0
	offset := 0
	for {
		rows, err := s.client.SelectBadges(ctx, pullQuery(watermark, offset))
		if err != nil {
			return merged, &SyncError{Operation: "pull", Table: remote.TableBadges, StatusCode: statusCode(err), Err: err}
		}

		var accepted []Badge
		for i := range rows {
			b := BadgeFromRemote(rows[i])
			if b.UserID != userID {
				s.logger.Printf("pull: SECURITY dropping badge %s owned by %q, session user %q", b.ID, b.UserID, userID)
				continue
			}
			if _, dead := tombstoned[b.MarkID]; dead {
				continue
			}

			local, err := s.store.GetBadge(b.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return merged, err
			}
			row, ok, reason := ResolveBadge(b, local)
			if !ok {
				s.debugf("pull: skip badge %s: %s", b.ID, reason)
				continue
			}
			accepted = append(accepted, row)
		}

		if len(accepted) > 0 {
			if err := s.store.ApplyBadges(accepted); err != nil {
				return merged, err
			}
			merged += len(accepted)
		}

		if len(rows) < PullPageSize {
			return merged, nil
		}
		offset += len(rows)
	}
}
