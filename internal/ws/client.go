package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/models"
)

const (
	writeTimeout         = 10 * time.Second
	wsReadLimit          = 4096
	clientSendBuffer     = maxReplay + 16
	maxConnLifetime      = 4 * time.Hour    // safety-net lifetime (token refresh handles auth)
	tokenRefreshInterval = 15 * time.Minute // periodic re-validation of API key
	tokenRefreshTimeout  = 10 * time.Second
	replayTimeout        = 10 * time.Second
	pingInterval         = 30 * time.Second
	pingTimeout          = 10 * time.Second
	maxMissedPongs       = int32(2)
	sentIDWindow         = 2 * models.MaxAuditListLimit
)

// ActorValidator resolves an API key to its current actor.
type ActorValidator interface {
	LookupActor(ctx context.Context, apiKey string) (models.Actor, error)
}

// Client wraps a single WebSocket connection managed by the Hub.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	log         *logrus.Logger
	ActorID     string
	apiKey      string
	validator   ActorValidator
	mu          sync.Mutex
	closed      bool
	connectedAt time.Time

	sent *sentIDs
}

// closeSend safely closes the send channel exactly once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// trySend queues msg without blocking. It is safe to call from outside the
// hub's Run goroutine.
func (c *Client) trySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// markSent records id as queued to this client and reports whether it was
// new. Live and replayed audit events can arrive in any id order and may
// repeat, so dedupe is by id rather than by high-water mark. Non-audit
// messages (id 0) always pass.
func (c *Client) markSent(id int64) bool {
	if id <= 0 {
		return true
	}
	return c.sent.add(id)
}

// sentIDs remembers the last len(ring) audit ids queued to a client.
// Repeats come from a replay racing live delivery or from a LISTEN
// backfill, and neither reaches further back than one store page.
type sentIDs struct {
	mu   sync.Mutex
	seen map[int64]struct{}
	ring []int64
	next int
}

func newSentIDs(size int) *sentIDs {
	return &sentIDs{
		seen: make(map[int64]struct{}, size),
		ring: make([]int64, size),
	}
}

func (s *sentIDs) add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != 0 {
		delete(s.seen, old)
	}
	s.ring[s.next] = id
	s.seen[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)

	return true
}

// NewClient creates a new Client for the given WebSocket connection.
func NewClient(hub *Hub, conn *websocket.Conn, validator ActorValidator, actorID, apiKey string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, clientSendBuffer),
		log:         hub.log,
		ActorID:     actorID,
		apiKey:      apiKey,
		validator:   validator,
		connectedAt: time.Now(),
		sent:        newSentIDs(sentIDWindow),
	}
}

// ReadPump reads messages from the WebSocket connection until it closes.
// The first message may be a subscribe request for event replay.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown
	}()

	c.conn.SetReadLimit(wsReadLimit)

	for {
		_, msgBytes, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.WithField("status", websocket.CloseStatus(err)).Debug("client disconnected")
			}

			return
		}

		c.handleMessage(ctx, msgBytes)
	}
}

// sendPing sends a WebSocket ping and tracks missed pongs.
// Returns true if the connection should be closed.
func (c *Client) sendPing(ctx context.Context, missedPongs *atomic.Int32) bool {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := c.conn.Ping(pingCtx)
	cancel()

	if err != nil {
		if missedPongs.Add(1) >= maxMissedPongs {
			c.log.Debug("closing: 2 consecutive missed pongs")

			return true
		}

		return false
	}

	missedPongs.Store(0)

	return false
}

// handleMessage processes an incoming client message.
func (c *Client) handleMessage(ctx context.Context, msgBytes []byte) {
	var msg SubscribeMsg
	if err := json.Unmarshal(msgBytes, &msg); err != nil {
		return
	}

	if msg.Type != "subscribe" {
		return
	}

	replayCtx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()

	if !c.hub.ReplayEvents(replayCtx, c, msg.LastEventID) {
		resetMsg, err := json.Marshal(ResetMsg{
			Type:   "reset",
			Reason: "requested events no longer available, perform full refresh",
		})
		if err != nil {
			return
		}
		c.trySend(resetMsg)
	}
}

// WritePump writes messages from the send channel to the WebSocket connection.
// It enforces a maximum connection lifetime and periodically re-validates the API key.
func (c *Client) WritePump(ctx context.Context) {
	defer c.conn.CloseNow() //nolint:errcheck // best-effort close on teardown

	lifetimeTimer := time.NewTimer(time.Until(c.connectedAt.Add(maxConnLifetime)))
	defer lifetimeTimer.Stop()

	refreshTicker := time.NewTicker(tokenRefreshInterval)
	defer refreshTicker.Stop()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	var missedPongs atomic.Int32

	for {
		select {
		case <-pingTicker.C:
			if c.sendPing(ctx, &missedPongs) {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)

			err := c.conn.Write(writeCtx, websocket.MessageText, msg)

			cancel()

			if err != nil {
				c.log.WithError(err).Debug("write failed")

				return
			}
		case <-refreshTicker.C:
			if !c.refreshToken(ctx) {
				return
			}
		case <-lifetimeTimer.C:
			c.log.Info("closing WebSocket: max connection lifetime exceeded")
			c.conn.Close(websocket.StatusNormalClosure, "max connection lifetime exceeded") //nolint:errcheck // best-effort

			return
		}
	}
}

// refreshToken re-validates the API key and the actor's view_reports
// capability. Returns false if the connection should close.
func (c *Client) refreshToken(ctx context.Context) bool {
	if c.validator == nil {
		return true
	}

	refreshCtx, cancel := context.WithTimeout(ctx, tokenRefreshTimeout)
	actor, err := c.validator.LookupActor(refreshCtx, c.apiKey)
	cancel()

	if err != nil || !actor.Can(models.CapViewReports) {
		c.log.WithField("actor", c.ActorID).Info("closing WebSocket: token refresh failed")
		c.conn.Close(websocket.StatusPolicyViolation, "authentication expired") //nolint:errcheck // best-effort

		return false
	}

	return true
}
