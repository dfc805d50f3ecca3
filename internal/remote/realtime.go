package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const heartbeatInterval = 30 * time.Second

// subscribeFrame is sent once per table after the socket opens.
type subscribeFrame struct {
	Action string `json:"action"` // "subscribe"
	Table  string `json:"table"`
	Filter string `json:"filter"` // e.g. "user_id=eq.<uid>"
}

// serverFrame is every message the change feed delivers.
type serverFrame struct {
	Action string `json:"action,omitempty"` // "heartbeat" | "" for changes
	Table  string `json:"table,omitempty"`
	Op     string `json:"op,omitempty"`
	RowID  string `json:"row_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// Subscription is one open change-notification stream. Notifications are
// delivered on C until the stream fails or is closed; the terminal error
// is then available from Err.
type Subscription struct {
	C <-chan Notification

	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Subscribe opens the websocket change feed and joins the given tables,
// filtered to the authenticated user. The caller owns the returned
// Subscription and must Close it.
func (c *HTTPClient) Subscribe(ctx context.Context, tables []string) (*Subscription, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/realtime/v1/changes?apikey=" + c.apiKey

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial realtime: %w", err)
	}

	for _, table := range tables {
		frame := subscribeFrame{
			Action: "subscribe",
			Table:  table,
			Filter: "user_id=eq." + c.userID,
		}
		if err := wsjson.Write(ctx, conn, frame); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
			return nil, fmt.Errorf("remote: subscribe %s: %w", table, err)
		}
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	ch := make(chan Notification, 16)
	sub := &Subscription{
		C:      ch,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go sub.readLoop(streamCtx, ch)
	go sub.heartbeatLoop(streamCtx)

	return sub, nil
}

func (s *Subscription) readLoop(ctx context.Context, ch chan<- Notification) {
	defer close(s.done)
	defer close(ch)

	for {
		var frame serverFrame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			s.err = err
			return
		}
		if frame.Action == "heartbeat" || frame.Table == "" {
			continue
		}
		select {
		case ch <- Notification{Table: frame.Table, Op: frame.Op, RowID: frame.RowID, UserID: frame.UserID}:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
}

func (s *Subscription) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, s.conn, serverFrame{Action: "heartbeat"}); err != nil {
				return
			}
		}
	}
}

// Err returns the terminal stream error after C is closed.
func (s *Subscription) Err() error { return s.err }

// Close tears down the stream. Safe to call more than once.
func (s *Subscription) Close() error {
	s.cancel()
	err := s.conn.Close(websocket.StatusNormalClosure, "closing")
	<-s.done
	return err
}
