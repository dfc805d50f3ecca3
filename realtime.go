package livra

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/howk27/livra-sub000/internal/remote"
)

// Realtime invalidation debounce windows. Counter changes settle longer
// than child changes because counter edits often arrive in bursts from
// reordering and renames.
const (
	ChildInvalidateDebounce   = 1 * time.Second
	CounterInvalidateDebounce = 3 * time.Second
)

// Invalidator subscribes to the backend's change feed and turns
// notifications into pull-only cycles. A notification never carries row
// data; it only marks local state stale. Reconnects back off 3s, 5s,
// then 10s per attempt, with unbounded attempts, and the schedule resets
// after a healthy connection.
type Invalidator struct {
	client remote.Client
	orch   *Orchestrator
	logger *log.Logger
	clock  Clock

	counterArmed chan struct{}
	childArmed   chan struct{}
}

// NewInvalidator creates an invalidator bound to an orchestrator.
func NewInvalidator(client remote.Client, orch *Orchestrator, logger *log.Logger) *Invalidator {
	if logger == nil {
		logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	return &Invalidator{
		client:       client,
		orch:         orch,
		logger:       logger,
		clock:        orch.clock,
		counterArmed: make(chan struct{}, 1),
		childArmed:   make(chan struct{}, 1),
	}
}

// Run consumes the change feed until ctx is canceled. It owns the
// reconnect loop; the caller just launches it in a goroutine.
func (inv *Invalidator) Run(ctx context.Context) error {
	backoff := reconnectBackoff()
	for {
		sub, err := inv.client.Subscribe(ctx, remote.Tables())
		if err == nil {
			inv.logger.Printf("realtime: connected")
			backoff = reconnectBackoff()
			inv.consume(ctx, sub)
			sub.Close()
		} else {
			inv.logger.Printf("realtime: connect failed: %v", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay, _ := backoff.Next()
		inv.logger.Printf("realtime: reconnecting in %s", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-inv.clock.After(delay):
		}
	}
}

// reconnectBackoff walks 3s, 5s, 10s and stays at 10s.
func reconnectBackoff() retry.Backoff {
	delays := []time.Duration{3 * time.Second, 5 * time.Second, 10 * time.Second}
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d := delays[attempt]
		if attempt < len(delays)-1 {
			attempt++
		}
		return d, false
	})
}

func (inv *Invalidator) consume(ctx context.Context, sub *remote.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					inv.logger.Printf("realtime: stream closed: %v", err)
				}
				return
			}
			inv.handle(ctx, n)
		}
	}
}

func (inv *Invalidator) handle(ctx context.Context, n remote.Notification) {
	window := ChildInvalidateDebounce
	armed := inv.childArmed
	if n.Table == remote.TableCounters {
		window = CounterInvalidateDebounce
		armed = inv.counterArmed
	}

	select {
	case armed <- struct{}{}:
	default:
		// A pull for this channel is already scheduled.
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			<-armed
			return
		case <-inv.clock.After(window):
		}
		<-armed
		if err := inv.orch.PullNow(ctx); err != nil {
			inv.logger.Printf("realtime: pull failed: %v", err)
		}
	}()
}
