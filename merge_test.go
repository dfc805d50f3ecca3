package livra

import (
	"testing"
	"time"
)

var mergeBase = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func tombstoned(c Counter, at time.Time) Counter {
	c.DeletedAt = &at
	c.UpdatedAt = at
	return c
}

func TestResolveCounter_RemoteTombstoneNeverAccepted(t *testing.T) {
	remote := tombstoned(makeCounter("c1", "Gym", 5, mergeBase.Add(time.Hour)), mergeBase.Add(time.Hour))

	d := ResolveCounter(remote, nil, nil, nil)
	if d.Action != CounterSkip {
		t.Errorf("action = %s, want skip for tombstoned remote row", d.Action)
	}
}

func TestResolveCounter_LocalTombstoneWinsOverNewerRemote(t *testing.T) {
	local := tombstoned(makeCounter("c2", "Gym", 5, mergeBase), mergeBase)
	remote := makeCounter("c2", "Gym", 9, mergeBase.Add(2*time.Hour))

	d := ResolveCounter(remote, &local, nil, nil)
	if d.Action != CounterSkip {
		t.Errorf("action = %s, want skip: deletion is irreversible", d.Action)
	}
}

func TestResolveCounter_NewRemoteRowInserted(t *testing.T) {
	remote := makeCounter("c1", "Water", 3, mergeBase)

	d := ResolveCounter(remote, nil, nil, nil)
	if d.Action != CounterInsert {
		t.Fatalf("action = %s, want insert", d.Action)
	}
	if d.Row.ID != "c1" || d.Row.Total != 3 {
		t.Errorf("row = %+v, want remote row as-is", d.Row)
	}
}

func TestResolveCounter_NewerRemoteUpdatesButTotalProtected(t *testing.T) {
	// Device A incremented to 5 moments ago; device B pushed an older
	// snapshot with total 0 but a newer name edit.
	local := makeCounter("c1", "Pushups", 5, mergeBase)
	remote := makeCounter("c1", "Push-ups", 0, mergeBase.Add(time.Minute))

	d := ResolveCounter(remote, &local, nil, nil)
	if d.Action != CounterUpdate {
		t.Fatalf("action = %s, want update", d.Action)
	}
	if d.Row.Name != "Push-ups" {
		t.Errorf("name = %q, want remote rename applied", d.Row.Name)
	}
	if d.Row.Total != 5 {
		t.Errorf("total = %d, want 5: nonzero local never loses to remote zero", d.Row.Total)
	}
}

func TestResolveCounter_PendingWriteArbitratesTotal(t *testing.T) {
	local := makeCounter("c1", "Pushups", 2, mergeBase)
	remote := makeCounter("c1", "Pushups", 8, mergeBase.Add(time.Minute))
	pending := &PendingWrite{MarkID: "c1", Total: 2, WrittenAt: mergeBase}

	d := ResolveCounter(remote, &local, nil, pending)
	if d.Action != CounterUpdate {
		t.Fatalf("action = %s, want update", d.Action)
	}
	if d.Row.Total != 2 {
		t.Errorf("total = %d, want 2: pending local write wins, even downward", d.Row.Total)
	}
}

func TestResolveCounter_LocalNewerTakesOnlyHigherTotal(t *testing.T) {
	local := makeCounter("c1", "Pushups", 5, mergeBase.Add(time.Hour))
	remote := makeCounter("c1", "Old Name", 7, mergeBase)

	d := ResolveCounter(remote, &local, nil, nil)
	if d.Action != CounterTotalOnly {
		t.Fatalf("action = %s, want total-only", d.Action)
	}
	if d.Row.Total != 7 {
		t.Errorf("total = %d, want 7", d.Row.Total)
	}
	if d.Row.Name != "Pushups" {
		t.Errorf("name = %q, want local name kept", d.Row.Name)
	}
}

func TestResolveCounter_LocalNewerAndHigherSkips(t *testing.T) {
	local := makeCounter("c1", "Pushups", 9, mergeBase.Add(time.Hour))
	remote := makeCounter("c1", "Pushups", 7, mergeBase)

	d := ResolveCounter(remote, &local, nil, nil)
	if d.Action != CounterSkip {
		t.Errorf("action = %s, want skip", d.Action)
	}
}

func TestResolveCounter_NameCollisionMergesIntoExisting(t *testing.T) {
	// "Gym" created on two devices before first sync: different ids,
	// case-insensitively equal names.
	sameName := makeCounter("local-id", "gym", 4, mergeBase)
	remote := makeCounter("remote-id", "Gym", 6, mergeBase.Add(time.Minute))

	d := ResolveCounter(remote, nil, &sameName, nil)
	if d.Action != CounterMergeIntoExisting {
		t.Fatalf("action = %s, want merge-into-existing", d.Action)
	}
	if d.Row.ID != "local-id" {
		t.Errorf("merged id = %q, want the existing local id", d.Row.ID)
	}
	if d.Row.Total != 6 {
		t.Errorf("merged total = %d, want max(4,6)=6", d.Row.Total)
	}
}

func TestResolveCounter_NameCollisionLocalNewerSkips(t *testing.T) {
	sameName := makeCounter("local-id", "gym", 4, mergeBase.Add(time.Hour))
	remote := makeCounter("remote-id", "Gym", 6, mergeBase)

	d := ResolveCounter(remote, nil, &sameName, nil)
	if d.Action != CounterSkip {
		t.Errorf("action = %s, want skip: local name holder is newer", d.Action)
	}
}

func TestResolveEvent(t *testing.T) {
	newer := makeEvent("e1", "c1", EventIncrement, 1, mergeBase.Add(time.Hour))
	older := makeEvent("e1", "c1", EventIncrement, 1, mergeBase)
	malformed := makeEvent("e2", "", EventIncrement, 1, mergeBase)
	badType := makeEvent("e3", "c1", EventType("explode"), 1, mergeBase)

	tests := []struct {
		name   string
		remote Event
		local  *Event
		accept bool
	}{
		{"new row accepted", newer, nil, true},
		{"remote newer wins", newer, &older, true},
		{"local newer wins", older, &newer, false},
		{"missing parent rejected", malformed, nil, false},
		{"unknown type rejected", badType, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := ResolveEvent(tt.remote, tt.local)
			if got != tt.accept {
				t.Errorf("accept = %v (%s), want %v", got, reason, tt.accept)
			}
		})
	}
}

func TestResolveBadge_PreservesEarnedAt(t *testing.T) {
	earned := mergeBase.Add(-24 * time.Hour)
	local := Badge{ID: "b1", UserID: testUser, MarkID: "c1", Code: "streak-7",
		Progress: 7, Target: 7, EarnedAt: &earned, UpdatedAt: mergeBase}
	remote := Badge{ID: "b1", UserID: testUser, MarkID: "c1", Code: "streak-7",
		Progress: 7, Target: 7, UpdatedAt: mergeBase.Add(time.Hour)}

	row, accept, _ := ResolveBadge(remote, &local)
	if !accept {
		t.Fatal("newer remote badge rejected")
	}
	if row.EarnedAt == nil || !row.EarnedAt.Equal(earned) {
		t.Errorf("earned_at = %v, want preserved %v", row.EarnedAt, earned)
	}
}
