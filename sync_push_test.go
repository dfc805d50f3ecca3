package livra

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestSyncer(store *Store, fake *fakeRemote) *Syncer {
	return NewSyncer(store, fake, nil, testLogger())
}

func TestPush_EmptyStoreNoUploads(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	pushed, err := syncer.Push(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if pushed != 0 {
		t.Errorf("pushed = %d, want 0", pushed)
	}
	if len(fake.counterBatches) != 0 {
		t.Errorf("counter upload batches = %d, want 0", len(fake.counterBatches))
	}
}

func TestPush_TombstonesBeforeLiveCounters(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	now := time.Now().UTC()
	insertCounter(t, store, makeCounter("live", "Water", 2, now))
	dead := makeCounter("dead", "Old", 0, now)
	insertCounter(t, store, dead)
	if err := store.DeleteCounter("dead", now.Add(time.Second)); err != nil {
		t.Fatalf("DeleteCounter failed: %v", err)
	}

	if _, err := syncer.Push(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if len(fake.counterBatches) != 1 {
		t.Fatalf("batches = %d, want 1", len(fake.counterBatches))
	}
	batch := fake.counterBatches[0]
	if len(batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(batch))
	}
	if batch[0].ID != "dead" {
		t.Errorf("first uploaded row = %s, want the tombstone", batch[0].ID)
	}
	if batch[0].DeletedAt == nil {
		t.Error("tombstone uploaded without deleted_at")
	}
}

func TestPush_TombstonesIgnoreCursor(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	old := time.Now().UTC().Add(-48 * time.Hour)
	insertCounter(t, store, makeCounter("dead", "Old", 0, old))
	if err := store.DeleteCounter("dead", old.Add(time.Second)); err != nil {
		t.Fatalf("DeleteCounter failed: %v", err)
	}

	// Cursor is well past the tombstone's updated_at; it must upload anyway.
	cursor := time.Now().UTC().Add(-time.Hour)
	if _, err := syncer.Push(context.Background(), cursor); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if _, ok := fake.counter["dead"]; !ok {
		t.Error("tombstone older than cursor was not pushed")
	}
}

func TestPush_ChunksAtLimit(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	now := time.Now().UTC()
	for i := 0; i < PushChunkSize+50; i++ {
		insertCounter(t, store, makeCounter(fmt.Sprintf("c%03d", i), fmt.Sprintf("Counter %d", i), 0, now))
	}

	if _, err := syncer.Push(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if len(fake.counterBatches) != 2 {
		t.Fatalf("batches = %d, want 2", len(fake.counterBatches))
	}
	if len(fake.counterBatches[0]) != PushChunkSize {
		t.Errorf("first batch = %d rows, want %d", len(fake.counterBatches[0]), PushChunkSize)
	}
	if len(fake.counterBatches[1]) != 50 {
		t.Errorf("second batch = %d rows, want 50", len(fake.counterBatches[1]))
	}
}

func TestPush_DropsForeignUserRows(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	now := time.Now().UTC()
	insertCounter(t, store, makeCounter("mine", "Water", 1, now))
	foreign := makeCounter("theirs", "Stolen", 1, now)
	foreign.UserID = "someone-else"
	insertCounter(t, store, foreign)

	if _, err := syncer.Push(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if _, ok := fake.counter["theirs"]; ok {
		t.Error("row owned by another user left the device")
	}
	if _, ok := fake.counter["mine"]; !ok {
		t.Error("own row was not pushed")
	}
}

func TestPush_OrphanedEventsNotUploaded(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	now := time.Now().UTC()
	insertCounter(t, store, makeCounter("c1", "Water", 0, now))
	// c1 exists on the backend only after push; orphan's parent never will.
	ev := makeEvent("e1", "c1", EventIncrement, 1, now)
	if err := store.ApplyEvent(&ev); err != nil {
		t.Fatalf("ApplyEvent failed: %v", err)
	}
	orphan := makeEvent("e2", "ghost", EventIncrement, 1, now)
	if err := store.UpsertEvent(&orphan); err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}

	if _, err := syncer.Push(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if _, ok := fake.event["e1"]; !ok {
		t.Error("event with live parent was not pushed")
	}
	if _, ok := fake.event["e2"]; ok {
		t.Error("orphaned event was uploaded")
	}
}

func TestPush_EventTimestampValidation(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	now := time.Now().UTC()
	insertCounter(t, store, makeCounter("c1", "Water", 0, now))

	future := makeEvent("future", "c1", EventIncrement, 1, now.Add(time.Hour))
	ancient := makeEvent("ancient", "c1", EventIncrement, 1, now.Add(-400*24*time.Hour))
	drift := makeEvent("drift", "c1", EventIncrement, 1, now.Add(2*time.Minute))
	for _, ev := range []Event{future, ancient, drift} {
		e := ev
		if err := store.UpsertEvent(&e); err != nil {
			t.Fatalf("UpsertEvent(%s) failed: %v", ev.ID, err)
		}
	}

	if _, err := syncer.Push(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if _, ok := fake.event["future"]; ok {
		t.Error("event an hour in the future was uploaded")
	}
	if _, ok := fake.event["ancient"]; ok {
		t.Error("event older than a year was uploaded")
	}
	if _, ok := fake.event["drift"]; !ok {
		t.Error("event within clock-drift tolerance was dropped")
	}
}

func TestPush_ForeignKeyViolationRetriesRowByRow(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	syncer := newTestSyncer(store, fake)

	now := time.Now().UTC()
	insertCounter(t, store, makeCounter("c1", "Water", 0, now))
	for _, id := range []string{"e1", "e2", "e3"} {
		ev := makeEvent(id, "c1", EventIncrement, 1, now)
		if err := store.UpsertEvent(&ev); err != nil {
			t.Fatalf("UpsertEvent failed: %v", err)
		}
	}
	fake.fkRejectEvents["e2"] = true

	pushed, err := syncer.Push(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if _, ok := fake.event["e1"]; !ok {
		t.Error("e1 lost to the bad row in its batch")
	}
	if _, ok := fake.event["e3"]; !ok {
		t.Error("e3 lost to the bad row in its batch")
	}
	if _, ok := fake.event["e2"]; ok {
		t.Error("rejected row was stored anyway")
	}
	if pushed < 3 {
		t.Errorf("pushed = %d, want at least counter + 2 events", pushed)
	}
}

func TestPush_TierLimitReturnsTypedError(t *testing.T) {
	store := newTestStore(t)
	fake := newFakeRemote()
	fake.counterLimit = 1
	syncer := newTestSyncer(store, fake)

	now := time.Now().UTC()
	insertCounter(t, store, makeCounter("c1", "One", 0, now))
	insertCounter(t, store, makeCounter("c2", "Two", 0, now))

	_, err := syncer.Push(context.Background(), time.Time{})
	if !IsTierLimit(err) {
		t.Fatalf("Push over limit = %v, want tier-limit error", err)
	}
}
