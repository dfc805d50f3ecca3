package livra

// Conflict resolution between a remote row R and local state L. Each
// entity type gets one resolver; the pull engine feeds every incoming row
// through its resolver and applies only accepted decisions, so a rejected
// row can never leak into the store or the projection.

// CounterAction is the outcome of resolving one remote counter.
type CounterAction int

const (
	// CounterSkip discards the remote row.
	CounterSkip CounterAction = iota

	// CounterInsert accepts the remote row as new local state.
	CounterInsert

	// CounterUpdate applies the remote row's fields over local state.
	CounterUpdate

	// CounterTotalOnly updates only the total field; local is otherwise
	// newer.
	CounterTotalOnly

	// CounterMergeIntoExisting folds the remote row into a live local
	// counter that shares its case-insensitive name under a different id.
	CounterMergeIntoExisting
)

func (a CounterAction) String() string {
	switch a {
	case CounterInsert:
		return "insert"
	case CounterUpdate:
		return "update"
	case CounterTotalOnly:
		return "total-only"
	case CounterMergeIntoExisting:
		return "merge-into-existing"
	default:
		return "skip"
	}
}

// CounterDecision is a resolved counter merge.
type CounterDecision struct {
	Action CounterAction
	Row    Counter
	Reason string
}

// ResolveCounter decides how a remote counter row merges with local state.
//
// local is the row with the same id, or nil if absent. sameName is a live
// local counter with the same case-insensitive name under a different id,
// or nil. pending is the newest local total write inside the pending
// window, or nil.
func ResolveCounter(remoteRow Counter, local, sameName *Counter, pending *PendingWrite) CounterDecision {
	// A tombstoned remote row is never taken as new local state.
	if remoteRow.Deleted() {
		return CounterDecision{Action: CounterSkip, Reason: "remote row tombstoned"}
	}

	// Local deletion is authoritative and irreversible: no remote row,
	// however new it looks, resurrects a tombstoned counter.
	if local != nil && local.Deleted() {
		return CounterDecision{Action: CounterSkip, Reason: "local tombstone wins"}
	}

	if local == nil {
		if sameName != nil && sameName.ID != remoteRow.ID {
			if remoteRow.UpdatedAt.After(sameName.UpdatedAt) {
				merged := remoteRow
				merged.ID = sameName.ID
				merged.CreatedAt = sameName.CreatedAt
				merged.Total = resolveTotal(sameName, &remoteRow, pending)
				return CounterDecision{Action: CounterMergeIntoExisting, Row: merged, Reason: "name collision, remote newer"}
			}
			return CounterDecision{Action: CounterSkip, Reason: "name collision, local newer"}
		}
		return CounterDecision{Action: CounterInsert, Row: remoteRow}
	}

	if remoteRow.UpdatedAt.After(local.UpdatedAt) {
		merged := remoteRow
		merged.CreatedAt = local.CreatedAt
		merged.Total = resolveTotal(local, &remoteRow, pending)
		return CounterDecision{Action: CounterUpdate, Row: merged}
	}

	// Local is newer, but a remote device may have written a higher total
	// before its clock caught up. Take just the total.
	if remoteRow.Total > local.Total {
		merged := *local
		merged.Total = remoteRow.Total
		return CounterDecision{Action: CounterTotalOnly, Row: merged, Reason: "remote total higher"}
	}

	return CounterDecision{Action: CounterSkip, Reason: "local newer"}
}

// resolveTotal arbitrates the total field of a counter merge.
//
// A pending local write inside the window is trusted outright, covering
// both increments and decrements. Otherwise the higher of the two values
// wins, with a hard floor: local > 0 against remote == 0 always keeps
// local, protecting against a backend returning a stale or reset snapshot.
func resolveTotal(local, remoteRow *Counter, pending *PendingWrite) int64 {
	if pending != nil {
		return pending.Total
	}
	if local.Total > 0 && remoteRow.Total == 0 {
		return local.Total
	}
	if local.Total > remoteRow.Total {
		return local.Total
	}
	return remoteRow.Total
}

// ResolveEvent decides whether a remote event row is accepted.
// Events are last-write-wins by updated_at and must carry a well-formed
// parent reference; malformed rows are rejected, not coerced.
func ResolveEvent(remoteRow Event, local *Event) (accept bool, reason string) {
	if remoteRow.ID == "" || remoteRow.MarkID == "" {
		return false, "malformed parent reference"
	}
	if !remoteRow.EventType.IsValid() {
		return false, "unknown event type"
	}
	if local == nil {
		return true, ""
	}
	if remoteRow.UpdatedAt.After(local.UpdatedAt) {
		return true, ""
	}
	return false, "local newer"
}

// ResolveStreak decides whether a remote streak row is accepted
// (last-write-wins by updated_at).
func ResolveStreak(remoteRow Streak, local *Streak) (accept bool, reason string) {
	if remoteRow.ID == "" || remoteRow.MarkID == "" {
		return false, "malformed parent reference"
	}
	if local == nil {
		return true, ""
	}
	if remoteRow.UpdatedAt.After(local.UpdatedAt) {
		return true, ""
	}
	return false, "local newer"
}

// ResolveBadge decides whether and how a remote badge row is accepted.
// Last-write-wins by updated_at, except that an earned badge never loses
// its earned_at to a remote row that lacks one.
func ResolveBadge(remoteRow Badge, local *Badge) (row Badge, accept bool, reason string) {
	if remoteRow.ID == "" || remoteRow.MarkID == "" {
		return Badge{}, false, "malformed parent reference"
	}
	if local == nil {
		return remoteRow, true, ""
	}
	if !remoteRow.UpdatedAt.After(local.UpdatedAt) {
		return Badge{}, false, "local newer"
	}
	merged := remoteRow
	if merged.EarnedAt == nil && local.EarnedAt != nil {
		merged.EarnedAt = local.EarnedAt
	}
	return merged, true, ""
}
