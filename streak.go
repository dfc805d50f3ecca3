package livra

import (
	"errors"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

const dayLayout = "2006-01-02"

// ComputeStreak derives streak state from an event history. Only
// incrementing events count toward a streak; a reset breaks it on the
// day it happened. Dates are the device-local calendar dates recorded
// with each event, so a streak survives timezone changes.
func ComputeStreak(events []Event) StreakState {
	type dayMark struct {
		active bool
		reset  bool
	}
	days := make(map[string]*dayMark)
	for i := range events {
		ev := &events[i]
		if ev.OccurredLocalDate == "" {
			continue
		}
		d, ok := days[ev.OccurredLocalDate]
		if !ok {
			d = &dayMark{}
			days[ev.OccurredLocalDate] = d
		}
		switch ev.EventType {
		case EventIncrement:
			d.active = true
		case EventReset:
			d.reset = true
		}
	}

	dates := make([]string, 0, len(days))
	for date, d := range days {
		if d.active || d.reset {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	var state StreakState
	run := 0
	var prev time.Time
	for _, date := range dates {
		day, err := time.Parse(dayLayout, date)
		if err != nil {
			continue
		}
		d := days[date]
		if d.reset {
			run = 0
			prev = time.Time{}
			state.Current = 0
			if !d.active {
				continue
			}
		}
		if !prev.IsZero() && day.Sub(prev) == 24*time.Hour {
			run++
		} else {
			run = 1
		}
		prev = day
		if run > state.Longest {
			state.Longest = run
		}
		state.Current = run
		state.LastDate = date
	}
	return state
}

// RecomputeStreaks rebuilds the streak row of every live streak-enabled
// counter from its event history. Rows whose derived state is unchanged
// are left alone so they do not churn back into the push delta.
func (s *Store) RecomputeStreaks(userID string) error {
	counters, err := s.ListCounters(userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for i := range counters {
		c := &counters[i]
		if !c.StreakEnabled || c.Deleted() {
			continue
		}

		events, err := s.EventsForMark(c.ID)
		if err != nil {
			return err
		}
		state := ComputeStreak(events)

		existing, err := s.GetStreak(userID, c.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		st := Streak{
			UserID:    userID,
			MarkID:    c.ID,
			Current:   state.Current,
			Longest:   state.Longest,
			LastDate:  state.LastDate,
			UpdatedAt: now,
		}
		if existing != nil {
			if existing.Current == st.Current && existing.Longest == st.Longest && existing.LastDate == st.LastDate {
				continue
			}
			st.ID = existing.ID
			st.CreatedAt = existing.CreatedAt
		} else {
			st.ID = ulid.Make().String()
			st.CreatedAt = now
		}
		if err := s.UpsertStreak(&st); err != nil {
			return err
		}
	}
	return nil
}
