package livra

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/howk27/livra-sub000/internal/remote"
)

// Client is the main interface for tracking habits and keeping them in
// sync with the backend. All local writes succeed offline; sync happens
// opportunistically in the background.
type Client struct {
	store       *Store
	projection  *Projection
	orch        *Orchestrator
	invalidator *Invalidator
	config      Config
	debug       *DebugLogger
	logger      *log.Logger

	mu       sync.Mutex
	cancelBg context.CancelFunc
	bgDone   chan struct{}
}

// New creates a new Livra client.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := NewStore(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	logger := log.New(os.Stderr, "[livra] ", log.LstdFlags)
	debug := NewDebugLogger(cfg.Debug, cfg.DebugLogPath)

	c := &Client{
		store:      store,
		projection: NewProjection(),
		config:     cfg,
		debug:      debug,
		logger:     logger,
	}

	if err := store.RecordLogin(time.Now().UTC()); err != nil {
		store.Close()
		return nil, fmt.Errorf("client: %w", err)
	}
	installID, err := store.InstallID()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("client: %w", err)
	}
	debug.Log("client open: install=%s user=%s offline=%v", installID, cfg.UserID, cfg.IsOffline())

	if !cfg.IsOffline() {
		rc := remote.NewHTTPClient(cfg.BackendURL, cfg.APIKey, cfg.UserID).WithTracer(debug)
		syncer := NewSyncer(store, rc, c.projection, logger).WithDebug(debug)
		c.orch = NewOrchestrator(syncer, logger)

		if err := c.projection.Load(store, cfg.UserID); err != nil {
			store.Close()
			return nil, fmt.Errorf("client: %w", err)
		}

		bgCtx, cancel := context.WithCancel(context.Background())
		c.cancelBg = cancel
		c.bgDone = make(chan struct{})

		if cfg.Realtime {
			c.invalidator = NewInvalidator(rc, c.orch, logger)
		}
		go c.background(bgCtx)
	} else if cfg.UserID != "" {
		if err := c.projection.Load(store, cfg.UserID); err != nil {
			store.Close()
			return nil, fmt.Errorf("client: %w", err)
		}
	}

	return c, nil
}

// CounterParams describes a new counter.
type CounterParams struct {
	Name          string
	Color         string
	Icon          string
	Unit          string
	StreakEnabled bool
	SortOrder     int
}

// CreateCounter creates a new counter and schedules a sync.
func (c *Client) CreateCounter(ctx context.Context, params CounterParams) (*Counter, error) {
	if params.Name == "" {
		return nil, ErrEmptyName
	}

	now := time.Now().UTC()
	counter := &Counter{
		UserID:        c.config.UserID,
		Name:          params.Name,
		Color:         params.Color,
		Icon:          params.Icon,
		Unit:          params.Unit,
		StreakEnabled: params.StreakEnabled,
		SortOrder:     params.SortOrder,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateCounter(counter); err != nil {
		return nil, err
	}

	c.projection.PutCounter(*counter)
	c.requestSync(ctx)
	return counter, nil
}

// Increment records an incrementing event against a counter.
func (c *Client) Increment(ctx context.Context, counterID string, amount int64) (*Event, error) {
	return c.record(ctx, counterID, EventIncrement, amount)
}

// Decrement records a decrementing event. The counter total floors at
// zero.
func (c *Client) Decrement(ctx context.Context, counterID string, amount int64) (*Event, error) {
	return c.record(ctx, counterID, EventDecrement, amount)
}

// Reset records a reset event, zeroing the counter total.
func (c *Client) Reset(ctx context.Context, counterID string) (*Event, error) {
	return c.record(ctx, counterID, EventReset, 0)
}

func (c *Client) record(ctx context.Context, counterID string, typ EventType, amount int64) (*Event, error) {
	counter, err := c.store.GetCounter(counterID)
	if err != nil {
		return nil, err
	}
	if counter.Deleted() {
		return nil, ErrNotFound
	}

	now := time.Now()
	ev := &Event{
		ID:                ulid.Make().String(),
		UserID:            c.config.UserID,
		MarkID:            counterID,
		EventType:         typ,
		Amount:            amount,
		OccurredAt:        now.UTC(),
		OccurredLocalDate: LocalDate(now),
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
	if err := c.store.ApplyEvent(ev); err != nil {
		return nil, err
	}

	if updated, err := c.store.GetCounter(counterID); err == nil {
		c.projection.PutCounter(*updated)
	}
	c.projection.PutEvent(*ev)
	c.requestSync(ctx)
	return ev, nil
}

// DeleteCounter tombstones a counter. The deletion is irreversible and
// propagates to every device on the next sync.
func (c *Client) DeleteCounter(ctx context.Context, counterID string) error {
	now := time.Now().UTC()
	if err := c.store.DeleteCounter(counterID, now); err != nil {
		return err
	}

	if dead, err := c.store.GetCounter(counterID); err == nil {
		c.projection.PutCounter(*dead)
	}
	c.requestSync(ctx)
	return nil
}

// Counters returns the live counters from the reactive view.
func (c *Client) Counters() []Counter {
	return c.projection.Counters()
}

// GetCounter returns one counter by id.
func (c *Client) GetCounter(id string) (*Counter, error) {
	return c.store.GetCounter(id)
}

// Streak returns the streak state for a counter, or ErrNotFound when
// the counter has no streak row yet.
func (c *Client) Streak(counterID string) (*Streak, error) {
	return c.store.GetStreak(c.config.UserID, counterID)
}

// Badges returns the badge rows for a counter.
func (c *Client) Badges(counterID string) ([]Badge, error) {
	badges, err := c.store.BadgesSince(c.config.UserID, time.Time{})
	if err != nil {
		return nil, err
	}
	out := badges[:0]
	for _, b := range badges {
		if b.MarkID == counterID {
			out = append(out, b)
		}
	}
	return out, nil
}

// Subscribe registers a callback for accepted changes to the reactive
// view. Returns an unsubscribe func.
func (c *Client) Subscribe(fn func(ProjectionChange)) func() {
	return c.projection.Subscribe(fn)
}

// Sync runs a full sync cycle immediately.
func (c *Client) Sync(ctx context.Context) error {
	if c.orch == nil {
		return ErrOffline
	}
	return c.orch.SyncNow(ctx)
}

// SyncState returns the orchestrator's lifecycle state.
func (c *Client) SyncState() SyncState {
	if c.orch == nil {
		return StateIdle
	}
	return c.orch.State()
}

// TierLimited reports whether the backend rejected counters over the
// account's limit on the last push.
func (c *Client) TierLimited() bool {
	return c.orch != nil && c.orch.TierLimited()
}

// Stats returns local store statistics.
func (c *Client) Stats() (*StoreStats, error) {
	return c.store.Stats(c.config.UserID)
}

// Close stops background work, attempts a final flush of pending local
// deltas, and closes the store.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelBg != nil {
		c.cancelBg()
		select {
		case <-c.bgDone:
		case <-time.After(5 * time.Second):
		}
		c.cancelBg = nil
	}

	if c.orch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.orch.SyncNow(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			c.logger.Printf("close: final sync: %v", err)
		}
		cancel()
	}

	if err := c.debug.Close(); err != nil {
		c.logger.Printf("close: debug log: %v", err)
	}
	return c.store.Close()
}

func (c *Client) requestSync(ctx context.Context) {
	if c.orch != nil {
		c.orch.RequestSync(ctx)
	}
}

// background runs the periodic sync ticker and, when enabled, the
// realtime invalidator, until the client is closed.
func (c *Client) background(ctx context.Context) {
	defer close(c.bgDone)

	var wg sync.WaitGroup
	if c.invalidator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.invalidator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Printf("realtime: %v", err)
			}
		}()
	}

	if c.config.AutoSync {
		c.orch.RequestSync(ctx)

		ticker := time.NewTicker(c.config.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case <-ticker.C:
				c.orch.RequestSync(ctx)
			}
		}
	}

	<-ctx.Done()
	wg.Wait()
}
