package livra

import "time"

// Counter is a tracked habit with a running total.
type Counter struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Name             string     `json:"name"`
	Color            string     `json:"color,omitempty"`
	Icon             string     `json:"icon,omitempty"`
	Unit             string     `json:"unit,omitempty"`
	StreakEnabled    bool       `json:"streak_enabled"`
	SortOrder        int        `json:"sort_order"`
	Total            int64      `json:"total"`
	LastActivityDate string     `json:"last_activity_date,omitempty"` // YYYY-MM-DD
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Deleted reports whether the counter carries a tombstone.
func (c *Counter) Deleted() bool { return c.DeletedAt != nil }

// EventType classifies a counter mutation.
type EventType string

const (
	EventIncrement EventType = "increment"
	EventDecrement EventType = "decrement"
	EventReset     EventType = "reset"
)

// IsValid checks if the event type is recognized.
func (t EventType) IsValid() bool {
	switch t {
	case EventIncrement, EventDecrement, EventReset:
		return true
	}
	return false
}

// Event records a single counter mutation.
//
// OccurredAt is the absolute timestamp; OccurredLocalDate is the calendar
// date in the device's timezone at the moment of the mutation. Streak and
// date-bucket logic use the local date, so the two must stay consistent.
type Event struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	MarkID            string     `json:"mark_id"`
	EventType         EventType  `json:"event_type"`
	Amount            int64      `json:"amount"`
	OccurredAt        time.Time  `json:"occurred_at"`
	OccurredLocalDate string     `json:"occurred_local_date"` // YYYY-MM-DD
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// Streak tracks consecutive-day activity for one counter.
// Exactly one live row exists per (user, mark).
type Streak struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	MarkID    string     `json:"mark_id"`
	Current   int        `json:"current"`
	Longest   int        `json:"longest"`
	LastDate  string     `json:"last_date,omitempty"` // YYYY-MM-DD
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Badge tracks progress toward an achievement for one counter.
// EarnedAt is set once progress reaches target and is never unset.
type Badge struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	MarkID    string     `json:"mark_id"`
	Code      string     `json:"code"`
	Progress  int64      `json:"progress"`
	Target    int64      `json:"target"`
	EarnedAt  *time.Time `json:"earned_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// PendingWrite journals a very recent local counter mutation. A pending
// write younger than PendingWriteWindow arbitrates total merges in its
// favor, covering both increments and decrements.
type PendingWrite struct {
	MarkID    string
	Total     int64
	WrittenAt time.Time
}

// StreakState is the result of computing a streak over an event list.
type StreakState struct {
	Current  int
	Longest  int
	LastDate string // YYYY-MM-DD, empty if no incrementing activity
}

// SyncStats summarizes one completed sync cycle.
type SyncStats struct {
	Pushed    int           `json:"pushed"`
	Pulled    int           `json:"pulled"`
	Merged    int           `json:"merged"`
	Rejected  int           `json:"rejected"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// StoreStats contains statistics about the local store.
type StoreStats struct {
	Counters      int       `json:"counters"`
	Events        int       `json:"events"`
	PendingDeltas int       `json:"pending_deltas"`
	LastSync      time.Time `json:"last_sync"`
	SchemaVersion string    `json:"schema_version"`
}

// Sync tuning constants.
const (
	// PendingWriteWindow bounds how long a local total write outranks a
	// remote merge.
	PendingWriteWindow = 5 * time.Minute

	// PushChunkSize bounds rows per upload request and isolates partial
	// failure to one chunk.
	PushChunkSize = 100

	// PullPageSize is the page size for the first-sync full history fetch.
	PullPageSize = 1000

	// EventMaxFutureDrift tolerates device clock drift on event timestamps.
	EventMaxFutureDrift = 5 * time.Minute

	// EventMaxAge rejects events older than one year at push time.
	EventMaxAge = 365 * 24 * time.Hour

	// DebounceWindow coalesces rapid sync requests.
	DebounceWindow = 500 * time.Millisecond

	// ThrottleFloor is the minimum spacing between completed syncs. The
	// first sync after process start is exempt.
	ThrottleFloor = 30 * time.Second
)

// Metadata keys used by the sync engine.
const (
	MetaLastSyncedAt  = "last_synced_at"
	MetaLastPulledAt  = "last_pulled_at"
	MetaSchemaVersion = "schema_version"
	MetaLastLogin     = "last_login_history"
	MetaInstallID     = "install_id"
)

// LocalDate formats t as a device-local calendar date string.
func LocalDate(t time.Time) string {
	return t.Local().Format("2006-01-02")
}
