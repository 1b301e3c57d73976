package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Stream event types.
const (
	StreamAudit    = "audit"
	StreamReset    = "reset"
	StreamShutdown = "shutdown"
)

const maxSeenIDs = 4096

// ErrStreamReset is returned by StreamAudit when the server could not replay
// from the requested id. Reload with AuditService.List and resubscribe from zero.
var ErrStreamReset = errors.New("seovault: audit stream reset")

// ErrStreamShutdown is returned by StreamAudit when the server is going away.
var ErrStreamShutdown = errors.New("seovault: server shutting down")

// StreamAudit subscribes to audit notices newer than lastEventID and calls fn
// for each one until ctx is done, fn fails, or the server ends the stream.
// It returns the highest notice id delivered, which the caller can pass back
// in to resume after a reconnect.
func (c *Client) StreamAudit(ctx context.Context, lastEventID int64, fn func(StreamEvent) error) (int64, error) {
	u := c.baseURL + "/api/v1/audit/stream"
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	// The stream is long-lived; ctx bounds it instead of the client timeout.
	hc := *c.httpClient
	hc.Timeout = 0

	opts := &websocket.DialOptions{HTTPClient: &hc}
	if c.apiKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.apiKey}}
	}

	conn, resp, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return lastEventID, &APIError{StatusCode: resp.StatusCode, Code: "stream_rejected", Message: err.Error()}
		}
		return lastEventID, fmt.Errorf("dial audit stream: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck

	sub := map[string]any{"type": "subscribe", "last_event_id": lastEventID}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return lastEventID, fmt.Errorf("subscribe: %w", err)
	}

	// Notices can arrive out of id order, and a replay may repeat one that
	// was already delivered live.
	start := lastEventID
	seen := make(map[int64]struct{})

	for {
		var ev StreamEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if ctx.Err() != nil {
				return lastEventID, ctx.Err()
			}
			return lastEventID, fmt.Errorf("read audit stream: %w", err)
		}

		switch ev.Type {
		case StreamReset:
			return lastEventID, ErrStreamReset
		case StreamShutdown:
			conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
			return lastEventID, ErrStreamShutdown
		case StreamAudit:
			if _, dup := seen[ev.ID]; dup || ev.ID <= start {
				continue
			}
			if err := fn(ev); err != nil {
				conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
				return lastEventID, err
			}
			if len(seen) >= maxSeenIDs {
				clear(seen)
			}
			seen[ev.ID] = struct{}{}
			lastEventID = max(lastEventID, ev.ID)
		}
	}
}
