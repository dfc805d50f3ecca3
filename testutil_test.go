package livra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/howk27/livra-sub000/internal/remote"
)

const testUser = "user-1"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func makeCounter(id, name string, total int64, updatedAt time.Time) Counter {
	return Counter{
		ID:        id,
		UserID:    testUser,
		Name:      name,
		Total:     total,
		CreatedAt: updatedAt.Add(-time.Hour),
		UpdatedAt: updatedAt,
	}
}

func insertCounter(t *testing.T, store *Store, c Counter) {
	t.Helper()
	if err := store.UpsertCounter(&c); err != nil {
		t.Fatalf("UpsertCounter(%s) failed: %v", c.ID, err)
	}
}

func makeEvent(id, markID string, typ EventType, amount int64, at time.Time) Event {
	return Event{
		ID:                id,
		UserID:            testUser,
		MarkID:            markID,
		EventType:         typ,
		Amount:            amount,
		OccurredAt:        at,
		OccurredLocalDate: at.Format("2006-01-02"),
		CreatedAt:         at,
		UpdatedAt:         at,
	}
}

// fakeRemote is an in-memory backend implementing remote.Client. Knobs
// simulate the failure modes the sync engine has to survive.
type fakeRemote struct {
	mu      sync.Mutex
	userID  string
	counter map[string]remote.CounterRow
	event   map[string]remote.EventRow
	streak  map[string]remote.StreakRow
	badge   map[string]remote.BadgeRow

	counterBatches [][]remote.CounterRow
	eventBatches   [][]remote.EventRow

	// counterLimit rejects counter upserts once the stored count would
	// exceed it, mimicking the backend's tier cap. 0 means unlimited.
	counterLimit int

	// fkRejectEvents makes upserts containing any of these event ids
	// fail with a foreign-key violation.
	fkRejectEvents map[string]bool

	// failAll makes every call return this error.
	failAll error

	// holdEvents, when non-nil, blocks SelectEvents until closed. The
	// counters below observe how many cycles reach the pull at once.
	holdEvents     chan struct{}
	eventSelects   int
	pullsInFlight  int
	maxPullOverlap int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		userID:         testUser,
		counter:        make(map[string]remote.CounterRow),
		event:          make(map[string]remote.EventRow),
		streak:         make(map[string]remote.StreakRow),
		badge:          make(map[string]remote.BadgeRow),
		fkRejectEvents: make(map[string]bool),
	}
}

func (f *fakeRemote) UserID() string { return f.userID }

func (f *fakeRemote) seedCounter(c Counter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter[c.ID] = CounterToRemote(&c)
}

func (f *fakeRemote) seedEvent(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.event[ev.ID] = EventToRemote(&ev)
}

func matchQuery(updatedAt string, deletedAt *string, q remote.Query) bool {
	if q.Alive && deletedAt != nil {
		return false
	}
	if q.UpdatedAfter != nil {
		t, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil || !t.After(*q.UpdatedAfter) {
			return false
		}
	}
	return true
}

func page[T any](rows []T, q remote.Query) []T {
	if q.Offset >= len(rows) {
		return nil
	}
	rows = rows[q.Offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows
}

func (f *fakeRemote) SelectCounters(ctx context.Context, q remote.Query) ([]remote.CounterRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	var out []remote.CounterRow
	for _, r := range f.counter {
		if matchQuery(r.UpdatedAt, r.DeletedAt, q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, q), nil
}

func (f *fakeRemote) SelectEvents(ctx context.Context, q remote.Query) ([]remote.EventRow, error) {
	f.mu.Lock()
	if f.failAll != nil {
		f.mu.Unlock()
		return nil, f.failAll
	}
	f.eventSelects++
	f.pullsInFlight++
	if f.pullsInFlight > f.maxPullOverlap {
		f.maxPullOverlap = f.pullsInFlight
	}
	hold := f.holdEvents
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullsInFlight--
	var out []remote.EventRow
	for _, r := range f.event {
		if matchQuery(r.UpdatedAt, r.DeletedAt, q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, q), nil
}

func (f *fakeRemote) SelectStreaks(ctx context.Context, q remote.Query) ([]remote.StreakRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	var out []remote.StreakRow
	for _, r := range f.streak {
		if matchQuery(r.UpdatedAt, r.DeletedAt, q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, q), nil
}

func (f *fakeRemote) SelectBadges(ctx context.Context, q remote.Query) ([]remote.BadgeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	var out []remote.BadgeRow
	for _, r := range f.badge {
		if matchQuery(r.UpdatedAt, r.DeletedAt, q) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, q), nil
}

func (f *fakeRemote) UpsertCounters(ctx context.Context, rows []remote.CounterRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	if f.counterLimit > 0 {
		added := 0
		for _, r := range rows {
			if _, ok := f.counter[r.ID]; !ok {
				added++
			}
		}
		if len(f.counter)+added > f.counterLimit {
			return &remote.APIError{
				StatusCode: 403,
				Code:       remote.CodeTierLimit,
				Message:    "counter limit exceeded for plan",
			}
		}
	}
	batch := make([]remote.CounterRow, len(rows))
	copy(batch, rows)
	f.counterBatches = append(f.counterBatches, batch)
	for _, r := range rows {
		f.counter[r.ID] = r
	}
	return nil
}

func (f *fakeRemote) UpsertEvents(ctx context.Context, rows []remote.EventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	for _, r := range rows {
		if f.fkRejectEvents[r.ID] {
			return &remote.APIError{
				StatusCode: 409,
				Code:       remote.CodeForeignKeyViolation,
				Message:    fmt.Sprintf("insert or update on table violates foreign key constraint (event %s)", r.ID),
			}
		}
	}
	batch := make([]remote.EventRow, len(rows))
	copy(batch, rows)
	f.eventBatches = append(f.eventBatches, batch)
	for _, r := range rows {
		f.event[r.ID] = r
	}
	return nil
}

func (f *fakeRemote) UpsertStreaks(ctx context.Context, rows []remote.StreakRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	for _, r := range rows {
		f.streak[r.ID] = r
	}
	return nil
}

func (f *fakeRemote) UpsertBadges(ctx context.Context, rows []remote.BadgeRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	for _, r := range rows {
		f.badge[r.ID] = r
	}
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	switch table {
	case remote.TableCounters:
		delete(f.counter, id)
	case remote.TableEvents:
		delete(f.event, id)
	case remote.TableStreaks:
		delete(f.streak, id)
	case remote.TableBadges:
		delete(f.badge, id)
	}
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, tables []string) (*remote.Subscription, error) {
	return nil, errors.New("fake remote has no change feed")
}

func (f *fakeRemote) eventSelectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventSelects
}

func (f *fakeRemote) pullOverlap() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPullOverlap
}

// fakeClock drives time manually. After channels fire when Advance moves
// past their deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward and fires due waiters.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var remaining []fakeWaiter
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()
}
