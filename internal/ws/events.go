package ws

import (
	"encoding/json"
	"time"

	"github.com/persistorai/seovault/internal/models"
)

// EventTypeAudit tags events carrying an audit log notice.
const EventTypeAudit = "audit"

// Event is the structured message sent to WebSocket clients. ID is the
// audit event id, so a reconnecting client can resume from the last one it saw.
type Event struct {
	Type string          `json:"type"`
	ID   int64           `json:"id"`
	Data json.RawMessage `json:"data"`
	Time time.Time       `json:"time"`
}

// SubscribeMsg is sent by the client on connect to request event replay.
type SubscribeMsg struct {
	Type        string `json:"type"`
	LastEventID int64  `json:"last_event_id"`
}

// ResetMsg tells the client to do a full refresh (requested events too old).
type ResetMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// notice is the audit summary pushed to clients. It never carries details,
// which may name settings fields or draft sources.
type notice struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	SubjectID *int64    `json:"subject_id"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// eventFromAudit builds the replay form of a stored audit event.
func eventFromAudit(ev models.AuditEvent) (Event, error) {
	data, err := json.Marshal(notice{
		ID:        ev.ID,
		EventType: ev.EventType,
		SubjectID: ev.SubjectID,
		Actor:     ev.Actor,
		CreatedAt: ev.CreatedAt,
	})
	if err != nil {
		return Event{}, err
	}

	return Event{Type: EventTypeAudit, ID: ev.ID, Data: data, Time: ev.CreatedAt}, nil
}
