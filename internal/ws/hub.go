// Package ws streams audit log notices to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/metrics"
	"github.com/persistorai/seovault/internal/models"
)

// Hub channel buffer sizes.
const (
	broadcastBuffer = 256
	registerBuffer  = 64
)

// Connection caps.
const (
	maxClients         = 1000
	maxClientsPerActor = 10
)

// maxReplay is the largest gap a reconnecting client may catch up on before
// it is told to reset. One more row is read to detect an overflow, and a
// store read is capped at MaxAuditListLimit.
const maxReplay = models.MaxAuditListLimit - 1

// Replayer reads audit events newer than a given id, oldest first.
type Replayer interface {
	ListAfter(ctx context.Context, afterID int64, limit int) ([]models.AuditEvent, error)
}

// Hub manages active WebSocket clients and broadcasts messages.
// All client map mutations happen exclusively in the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	actorCount map[string]int
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
	shutdown   chan struct{} // signals Run to begin graceful drain
	done       chan struct{} // closed when Run has finished draining
	count      atomic.Int64
	log        *logrus.Logger
	replay     Replayer
}

// NewHub creates a new Hub. replay may be nil, in which case subscribe
// requests with a last_event_id always get a reset.
func NewHub(log *logrus.Logger, replay Replayer) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		actorCount: make(map[string]int),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		broadcast:  make(chan outbound, broadcastBuffer),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
		replay:     replay,
	}
}

// drainTimeout is how long the hub waits for clients to flush after shutdown.
const drainTimeout = 3 * time.Second

// Run starts the hub event loop. It should be run as a goroutine.
// It exits when Shutdown is called or the context is cancelled.
func (h *Hub) Run(ctx context.Context) { //nolint:gocognit // connection-limit checks add necessary branching.
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.drainClients()

			return
		case <-h.shutdown:
			h.drainClients()

			return

		case client := <-h.register:
			if len(h.clients) >= maxClients {
				h.log.Warn("global connection limit reached, dropping client")
				client.closeSend()
				continue
			}
			if h.actorCount[client.ActorID] >= maxClientsPerActor {
				h.log.WithField("actor", client.ActorID).Warn("per-actor connection limit reached, dropping client")
				client.closeSend()
				continue
			}
			h.clients[client] = true
			h.actorCount[client.ActorID]++
			h.setCount()
			h.log.WithField("total", len(h.clients)).Info("client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
			}
			h.setCount()
			h.log.WithField("total", len(h.clients)).Info("client unregistered")

		case out := <-h.broadcast:
			for client := range h.clients {
				if !client.markSent(out.id) {
					continue
				}
				select {
				case client.send <- out.msg:
				default:
					// Slow consumer; it can reconnect and replay.
					h.remove(client)
				}
			}
			h.setCount()
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	client.closeSend()
	h.actorCount[client.ActorID]--
	if h.actorCount[client.ActorID] <= 0 {
		delete(h.actorCount, client.ActorID)
	}
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSConnections.Set(float64(len(h.clients)))
}

// maxBroadcastPayload is the maximum allowed notification payload size (4 KB).
const maxBroadcastPayload = 4096

// outbound is a queued broadcast. id is the audit event id, or 0 for
// messages that are not audit events.
type outbound struct {
	id  int64
	msg []byte
}

// Broadcast sends a raw message to every connected client.
// Payloads exceeding 4 KB are dropped with a warning log.
// The actual send is performed by the Run goroutine via a channel.
func (h *Hub) Broadcast(msg []byte) {
	h.enqueue(outbound{msg: msg})
}

func (h *Hub) enqueue(out outbound) {
	if len(out.msg) > maxBroadcastPayload {
		h.log.WithFields(logrus.Fields{
			"payload_size": len(out.msg),
			"max_size":     maxBroadcastPayload,
		}).Warn("dropping oversized broadcast payload")
		return
	}
	select {
	case h.broadcast <- out:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastAudit wraps an audit notice (as produced by the postgres
// trigger or the audit service) in an Event and broadcasts it.
func (h *Hub) BroadcastAudit(data json.RawMessage) {
	var head struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.ID <= 0 {
		h.log.WithError(err).Warn("dropping malformed audit notice")
		return
	}

	msg, err := json.Marshal(Event{
		Type: EventTypeAudit,
		ID:   head.ID,
		Data: data,
		Time: time.Now().UTC(),
	})
	if err != nil {
		h.log.WithError(err).Error("failed to marshal event")
		return
	}

	h.enqueue(outbound{id: head.ID, msg: msg})
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	default:
		h.log.Warn("register channel full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	default:
		// Run loop already exited; client cleanup happened in Run shutdown.
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Shutdown initiates a graceful WebSocket drain: sends a shutdown frame to
// every connected client, waits for their write pumps to flush, then closes
// all connections. It blocks until drain is complete or the timeout expires.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done
}

// drainClients sends a close frame to every client and waits for buffers to flush.
func (h *Hub) drainClients() {
	if len(h.clients) == 0 {
		return
	}

	h.log.WithField("clients", len(h.clients)).Info("draining WebSocket clients")

	// Send shutdown notification so clients know to reconnect.
	shutdownMsg := []byte(`{"type":"shutdown","message":"server shutting down"}`)
	for client := range h.clients {
		select {
		case client.send <- shutdownMsg:
		default:
		}
	}

	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond) //nolint:mnd // poll interval
	defer ticker.Stop()

wait:
	for {
		allDrained := true
		for client := range h.clients {
			if len(client.send) > 0 {
				allDrained = false
				break
			}
		}
		if allDrained {
			break
		}

		select {
		case <-deadline:
			h.log.Warn("WebSocket drain timeout, closing remaining clients")
			break wait
		case <-ticker.C:
		}
	}

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}

	h.actorCount = make(map[string]int)
	h.count.Store(0)
	metrics.WSConnections.Set(0)
}

// ReplayEvents sends audit events newer than lastEventID to the client.
// It returns false if the gap is larger than maxReplay or cannot be read,
// in which case the client should do a full refresh.
func (h *Hub) ReplayEvents(ctx context.Context, client *Client, lastEventID int64) bool {
	if lastEventID <= 0 {
		return true
	}
	if h.replay == nil {
		return false
	}

	events, err := h.replay.ListAfter(ctx, lastEventID, maxReplay+1)
	if err != nil {
		h.log.WithError(err).Warn("audit replay failed")
		return false
	}
	if len(events) > maxReplay {
		return false
	}

	for _, ev := range events {
		evt, err := eventFromAudit(ev)
		if err != nil {
			continue
		}
		msg, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if !client.markSent(ev.ID) {
			continue
		}
		if !client.trySend(msg) {
			return false // channel full, client must refresh
		}
	}
	return true
}
