package livra

import (
	"testing"
	"time"
)

func dayEvent(id, date string, typ EventType) Event {
	at, _ := time.Parse("2006-01-02", date)
	return Event{
		ID:                id,
		UserID:            testUser,
		MarkID:            "c1",
		EventType:         typ,
		Amount:            1,
		OccurredAt:        at,
		OccurredLocalDate: date,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

func TestComputeStreak(t *testing.T) {
	tests := []struct {
		name     string
		events   []Event
		current  int
		longest  int
		lastDate string
	}{
		{
			name: "no events",
		},
		{
			name:     "single day",
			events:   []Event{dayEvent("e1", "2024-06-01", EventIncrement)},
			current:  1,
			longest:  1,
			lastDate: "2024-06-01",
		},
		{
			name: "three consecutive days",
			events: []Event{
				dayEvent("e1", "2024-06-01", EventIncrement),
				dayEvent("e2", "2024-06-02", EventIncrement),
				dayEvent("e3", "2024-06-03", EventIncrement),
			},
			current:  3,
			longest:  3,
			lastDate: "2024-06-03",
		},
		{
			name: "gap breaks streak but longest kept",
			events: []Event{
				dayEvent("e1", "2024-06-01", EventIncrement),
				dayEvent("e2", "2024-06-02", EventIncrement),
				dayEvent("e3", "2024-06-03", EventIncrement),
				dayEvent("e4", "2024-06-07", EventIncrement),
			},
			current:  1,
			longest:  3,
			lastDate: "2024-06-07",
		},
		{
			name: "multiple events one day count once",
			events: []Event{
				dayEvent("e1", "2024-06-01", EventIncrement),
				dayEvent("e2", "2024-06-01", EventIncrement),
				dayEvent("e3", "2024-06-02", EventIncrement),
			},
			current:  2,
			longest:  2,
			lastDate: "2024-06-02",
		},
		{
			name: "decrements do not extend streak",
			events: []Event{
				dayEvent("e1", "2024-06-01", EventIncrement),
				dayEvent("e2", "2024-06-02", EventDecrement),
			},
			current:  1,
			longest:  1,
			lastDate: "2024-06-01",
		},
		{
			name: "reset breaks the run on its day",
			events: []Event{
				dayEvent("e1", "2024-06-01", EventIncrement),
				dayEvent("e2", "2024-06-02", EventIncrement),
				dayEvent("e3", "2024-06-03", EventReset),
				dayEvent("e4", "2024-06-04", EventIncrement),
			},
			current:  1,
			longest:  2,
			lastDate: "2024-06-04",
		},
		{
			name: "trailing reset zeroes current",
			events: []Event{
				dayEvent("e1", "2024-06-01", EventIncrement),
				dayEvent("e2", "2024-06-02", EventIncrement),
				dayEvent("e3", "2024-06-03", EventReset),
			},
			current:  0,
			longest:  2,
			lastDate: "2024-06-02",
		},
		{
			name: "reset and increment same day restarts at one",
			events: []Event{
				dayEvent("e1", "2024-06-01", EventIncrement),
				dayEvent("e2", "2024-06-02", EventReset),
				dayEvent("e3", "2024-06-02", EventIncrement),
			},
			current:  1,
			longest:  1,
			lastDate: "2024-06-02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStreak(tt.events)
			if got.Current != tt.current {
				t.Errorf("current = %d, want %d", got.Current, tt.current)
			}
			if got.Longest != tt.longest {
				t.Errorf("longest = %d, want %d", got.Longest, tt.longest)
			}
			if got.LastDate != tt.lastDate {
				t.Errorf("last date = %q, want %q", got.LastDate, tt.lastDate)
			}
		})
	}
}

func TestRecomputeStreaks_WritesAndSkipsUnchanged(t *testing.T) {
	store := newTestStore(t)

	now := time.Now().UTC()
	c := makeCounter("c1", "Run", 0, now)
	c.StreakEnabled = true
	insertCounter(t, store, c)

	for i, date := range []string{"2024-06-01", "2024-06-02"} {
		ev := dayEvent("e"+date, date, EventIncrement)
		ev.ID = ev.ID + string(rune('a'+i))
		if err := store.UpsertEvent(&ev); err != nil {
			t.Fatalf("UpsertEvent failed: %v", err)
		}
	}

	if err := store.RecomputeStreaks(testUser); err != nil {
		t.Fatalf("RecomputeStreaks failed: %v", err)
	}

	st, err := store.GetStreak(testUser, "c1")
	if err != nil {
		t.Fatalf("GetStreak failed: %v", err)
	}
	if st.Current != 2 || st.Longest != 2 {
		t.Errorf("streak = %d/%d, want 2/2", st.Current, st.Longest)
	}

	// Unchanged recompute must not touch updated_at, or the row would
	// churn back into every push delta.
	firstUpdated := st.UpdatedAt
	if err := store.RecomputeStreaks(testUser); err != nil {
		t.Fatalf("second RecomputeStreaks failed: %v", err)
	}
	again, _ := store.GetStreak(testUser, "c1")
	if !again.UpdatedAt.Equal(firstUpdated) {
		t.Error("recompute of unchanged streak bumped updated_at")
	}
}

func TestComputeStreak_LastDateFromLastLocalDate(t *testing.T) {
	// A device travelling across timezones logs its local date; the
	// absolute instant does not matter.
	ev := dayEvent("e1", "2024-06-02", EventIncrement)
	ev.OccurredAt = time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)

	got := ComputeStreak([]Event{ev})
	if got.LastDate != "2024-06-02" {
		t.Errorf("last date = %q, want local date 2024-06-02", got.LastDate)
	}
}
