package ws

import (
	"encoding/json"
	"time"

	"github.com/convsession/internal/model"
)

type EventType string

const (
	EventNewMessage     EventType = "new_message"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventSubscribe      EventType = "subscribe"
	EventUnsubscribe    EventType = "unsubscribe"
	EventPing           EventType = "ping"
	EventPong           EventType = "pong"
	EventError          EventType = "error"
)

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Envelope is the receiving side of OutgoingMessage; Payload is decoded per Type.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessagePayload carries the created message in the backend's wire format.
type NewMessagePayload = model.Message

// MessageEditedPayload is broadcast when a message is edited.
type MessageEditedPayload struct {
	MessageID      model.ID  `json:"message_id"`
	ConversationID model.ID  `json:"conversation_id"`
	Content        string    `json:"content"`
	EditedAt       time.Time `json:"edited_at"`
}

// MessageDeletedPayload is broadcast when a message is deleted for everyone.
type MessageDeletedPayload struct {
	MessageID      model.ID `json:"message_id"`
	ConversationID model.ID `json:"conversation_id"`
}

// SubscriptionPayload is sent by a client to widen or narrow its scope and echoed
// back once applied.
type SubscriptionPayload struct {
	ConversationID model.ID `json:"conversation_id"`
}
