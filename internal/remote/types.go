package remote

import "time"

// Table names on the backend.
const (
	TableCounters = "counters"
	TableEvents   = "events"
	TableStreaks  = "streaks"
	TableBadges   = "badges"
)

// Tables lists every synchronized table, parents first.
func Tables() []string {
	return []string{TableCounters, TableEvents, TableStreaks, TableBadges}
}

// CounterRow is a counter in the backend schema.
type CounterRow struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	Name             string  `json:"name"`
	Color            string  `json:"color,omitempty"`
	Icon             string  `json:"icon,omitempty"`
	Unit             string  `json:"unit,omitempty"`
	StreakEnabled    bool    `json:"streak_enabled"`
	SortOrder        int     `json:"sort_order"`
	Total            int64   `json:"total"`
	LastActivityDate string  `json:"last_activity_date,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
	DeletedAt        *string `json:"deleted_at,omitempty"`
}

// EventRow is an event in the backend schema. The backend names the parent
// reference counter_id where the device schema uses mark_id.
type EventRow struct {
	ID                string  `json:"id"`
	UserID            string  `json:"user_id"`
	CounterID         string  `json:"counter_id"`
	EventType         string  `json:"event_type"`
	Amount            int64   `json:"amount"`
	OccurredAt        string  `json:"occurred_at"`
	OccurredLocalDate string  `json:"occurred_local_date"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
	DeletedAt         *string `json:"deleted_at,omitempty"`
}

// StreakRow is a streak in the backend schema.
type StreakRow struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	CounterID string  `json:"counter_id"`
	Current   int     `json:"current"`
	Longest   int     `json:"longest"`
	LastDate  string  `json:"last_date,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}

// BadgeRow is a badge in the backend schema.
type BadgeRow struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	CounterID string  `json:"counter_id"`
	Code      string  `json:"code"`
	Progress  int64   `json:"progress"`
	Target    int64   `json:"target"`
	EarnedAt  *string `json:"earned_at,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}

// Query narrows a table select.
type Query struct {
	// UpdatedAfter selects rows with updated_at strictly greater.
	UpdatedAfter *time.Time

	// Alive selects only rows without a tombstone (deleted_at is null).
	Alive bool

	// Offset and Limit drive range-based pagination. A Limit of zero
	// means the server default.
	Offset int
	Limit  int
}

// Notification is a change push for one table.
type Notification struct {
	Table  string `json:"table"`
	Op     string `json:"op"` // INSERT | UPDATE | DELETE
	RowID  string `json:"row_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}
