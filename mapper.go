package livra

import (
	"time"

	"github.com/howk27/livra-sub000/internal/remote"
)

// The backend schema differs from the device schema in naming (children
// reference counter_id where the device uses mark_id) and in timestamp
// representation (strings on the wire). These functions adapt rows in both
// directions; no merge logic lives here.

const wireTimeLayout = time.RFC3339Nano

func wireTime(t time.Time) string { return t.UTC().Format(wireTimeLayout) }

func parseWireTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func wireTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := wireTime(*t)
	return &s
}

func parseWireTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseWireTime(*s)
	return &t
}

// CounterToRemote maps a local counter to the backend schema.
func CounterToRemote(c *Counter) remote.CounterRow {
	return remote.CounterRow{
		ID:               c.ID,
		UserID:           c.UserID,
		Name:             c.Name,
		Color:            c.Color,
		Icon:             c.Icon,
		Unit:             c.Unit,
		StreakEnabled:    c.StreakEnabled,
		SortOrder:        c.SortOrder,
		Total:            c.Total,
		LastActivityDate: c.LastActivityDate,
		CreatedAt:        wireTime(c.CreatedAt),
		UpdatedAt:        wireTime(c.UpdatedAt),
		DeletedAt:        wireTimePtr(c.DeletedAt),
	}
}

// CounterFromRemote maps a backend counter row to the local schema.
func CounterFromRemote(r remote.CounterRow) Counter {
	return Counter{
		ID:               r.ID,
		UserID:           r.UserID,
		Name:             r.Name,
		Color:            r.Color,
		Icon:             r.Icon,
		Unit:             r.Unit,
		StreakEnabled:    r.StreakEnabled,
		SortOrder:        r.SortOrder,
		Total:            r.Total,
		LastActivityDate: r.LastActivityDate,
		CreatedAt:        parseWireTime(r.CreatedAt),
		UpdatedAt:        parseWireTime(r.UpdatedAt),
		DeletedAt:        parseWireTimePtr(r.DeletedAt),
	}
}

// EventToRemote maps a local event to the backend schema, renaming
// mark_id to counter_id.
func EventToRemote(ev *Event) remote.EventRow {
	return remote.EventRow{
		ID:                ev.ID,
		UserID:            ev.UserID,
		CounterID:         ev.MarkID,
		EventType:         string(ev.EventType),
		Amount:            ev.Amount,
		OccurredAt:        wireTime(ev.OccurredAt),
		OccurredLocalDate: ev.OccurredLocalDate,
		CreatedAt:         wireTime(ev.CreatedAt),
		UpdatedAt:         wireTime(ev.UpdatedAt),
		DeletedAt:         wireTimePtr(ev.DeletedAt),
	}
}

// EventFromRemote maps a backend event row to the local schema.
func EventFromRemote(r remote.EventRow) Event {
	return Event{
		ID:                r.ID,
		UserID:            r.UserID,
		MarkID:            r.CounterID,
		EventType:         EventType(r.EventType),
		Amount:            r.Amount,
		OccurredAt:        parseWireTime(r.OccurredAt),
		OccurredLocalDate: r.OccurredLocalDate,
		CreatedAt:         parseWireTime(r.CreatedAt),
		UpdatedAt:         parseWireTime(r.UpdatedAt),
		DeletedAt:         parseWireTimePtr(r.DeletedAt),
	}
}

// StreakToRemote maps a local streak to the backend schema.
func StreakToRemote(st *Streak) remote.StreakRow {
	return remote.StreakRow{
		ID:        st.ID,
		UserID:    st.UserID,
		CounterID: st.MarkID,
		Current:   st.Current,
		Longest:   st.Longest,
		LastDate:  st.LastDate,
		CreatedAt: wireTime(st.CreatedAt),
		UpdatedAt: wireTime(st.UpdatedAt),
		DeletedAt: wireTimePtr(st.DeletedAt),
	}
}

// StreakFromRemote maps a backend streak row to the local schema.
func StreakFromRemote(r remote.StreakRow) Streak {
	return Streak{
		ID:        r.ID,
		UserID:    r.UserID,
		MarkID:    r.CounterID,
		Current:   r.Current,
		Longest:   r.Longest,
		LastDate:  r.LastDate,
		CreatedAt: parseWireTime(r.CreatedAt),
		UpdatedAt: parseWireTime(r.UpdatedAt),
		DeletedAt: parseWireTimePtr(r.DeletedAt),
	}
}

// BadgeToRemote maps a local badge to the backend schema.
func BadgeToRemote(b *Badge) remote.BadgeRow {
	return remote.BadgeRow{
		ID:        b.ID,
		UserID:    b.UserID,
		CounterID: b.MarkID,
		Code:      b.Code,
		Progress:  b.Progress,
		Target:    b.Target,
		EarnedAt:  wireTimePtr(b.EarnedAt),
		CreatedAt: wireTime(b.CreatedAt),
		UpdatedAt: wireTime(b.UpdatedAt),
		DeletedAt: wireTimePtr(b.DeletedAt),
	}
}

// BadgeFromRemote maps a backend badge row to the local schema.
func BadgeFromRemote(r remote.BadgeRow) Badge {
	return Badge{
		ID:        r.ID,
		UserID:    r.UserID,
		MarkID:    r.CounterID,
		Code:      r.Code,
		Progress:  r.Progress,
		Target:    r.Target,
		EarnedAt:  parseWireTimePtr(r.EarnedAt),
		CreatedAt: parseWireTime(r.CreatedAt),
		UpdatedAt: parseWireTime(r.UpdatedAt),
		DeletedAt: parseWireTimePtr(r.DeletedAt),
	}
}
