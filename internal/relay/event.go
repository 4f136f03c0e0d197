package relay

import (
	"time"

	"herlink/pkg/domain"
)

// Event types carried over the live channel.
const (
	EventJoin    = "join"    // client -> server: authenticate and bind
	EventSend    = "send"    // client -> server: persist and deliver
	EventJoined  = "joined"  // server -> client: bind succeeded
	EventSent    = "sent"    // server -> sender: persisted message echo
	EventMessage = "message" // server -> receiver: live delivery
	EventError   = "error"   // server -> client: request failed
)

// Event is the single JSON envelope exchanged over a websocket connection.
// Fields are populated according to Type.
type Event struct {
	Type string `json:"type"`

	// join
	Token string `json:"token,omitempty"`

	// send / sent / message
	ID         string     `json:"id,omitempty"`
	SenderID   string     `json:"senderId,omitempty"`
	SenderName string     `json:"senderName,omitempty"`
	ReceiverID string     `json:"receiverId,omitempty"`
	Content    string     `json:"content,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

func messageEvent(eventType string, msg domain.Message, senderName string) Event {
	createdAt := msg.CreatedAt
	return Event{
		Type:       eventType,
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: senderName,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		CreatedAt:  &createdAt,
	}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Error: message}
}
