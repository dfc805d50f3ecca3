package livra

import (
	"sort"
	"sync"
)

// Projection is an in-memory view of live counters kept current by the
// pull engine and by local writes. Subscribers get change callbacks for
// exactly the rows a merge accepted, never for rows a resolver rejected.
type Projection struct {
	mu       sync.RWMutex
	counters map[string]Counter
	subs     map[int]func(ProjectionChange)
	nextSub  int
}

// ProjectionChange describes one accepted mutation.
type ProjectionChange struct {
	Table   string
	Counter *Counter
	Event   *Event
	Removed bool
}

// NewProjection creates an empty projection.
func NewProjection() *Projection {
	return &Projection{
		counters: make(map[string]Counter),
		subs:     make(map[int]func(ProjectionChange)),
	}
}

// Load seeds the projection from the store's live counters.
func (p *Projection) Load(store *Store, userID string) error {
	counters, err := store.ListCounters(userID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters = make(map[string]Counter, len(counters))
	for _, c := range counters {
		if !c.Deleted() {
			p.counters[c.ID] = c
		}
	}
	return nil
}

// Subscribe registers a change callback and returns an unsubscribe func.
// Callbacks run synchronously on the mutating goroutine.
func (p *Projection) Subscribe(fn func(ProjectionChange)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// PutCounter applies one accepted counter row to the view. A tombstoned
// row removes the counter.
func (p *Projection) PutCounter(c Counter) {
	p.mu.Lock()
	removed := c.Deleted()
	if removed {
		if _, ok := p.counters[c.ID]; !ok {
			p.mu.Unlock()
			return
		}
		delete(p.counters, c.ID)
	} else {
		p.counters[c.ID] = c
	}
	subs := p.snapshotSubs()
	p.mu.Unlock()

	change := ProjectionChange{Table: "counters", Counter: &c, Removed: removed}
	for _, fn := range subs {
		fn(change)
	}
}

// PutEvent notifies subscribers of an accepted event.
func (p *Projection) PutEvent(ev Event) {
	p.mu.Lock()
	subs := p.snapshotSubs()
	p.mu.Unlock()

	change := ProjectionChange{Table: "events", Event: &ev}
	for _, fn := range subs {
		fn(change)
	}
}

// Counters returns the live counters sorted by sort order, then name.
func (p *Projection) Counters() []Counter {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Counter, 0, len(p.counters))
	for _, c := range p.counters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns a counter by id.
func (p *Projection) Get(id string) (Counter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.counters[id]
	return c, ok
}

// Len returns the number of live counters in the view.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.counters)
}

func (p *Projection) snapshotSubs() []func(ProjectionChange) {
	out := make([]func(ProjectionChange), 0, len(p.subs))
	for _, fn := range p.subs {
		out = append(out, fn)
	}
	return out
}
