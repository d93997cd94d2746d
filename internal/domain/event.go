package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	// EventMessage carries a full message. Clients replace-by-id on receipt,
	// so edits, reactions and pin changes reuse this type.
	EventMessage EventType = "message"
	// EventMessageDeleted is distinct from EventMessage so clients can tell
	// "replace" from "remove".
	EventMessageDeleted EventType = "message_deleted"
	EventReadReceipt    EventType = "read_receipt"
	EventTyping         EventType = "typing"
	EventGroupUpdated   EventType = "group_updated"
	EventGroupDeleted   EventType = "group_deleted"
	EventAck            EventType = "ack"
	EventHistory        EventType = "history"
	EventPong           EventType = "pong"
	EventError          EventType = "error"
)

// Event is the outbound broadcast unit. Every event carries a unique id so
// clients can deduplicate redeliveries from the at-least-once fabric.
type Event struct {
	ID             string        `json:"event_id"`
	Type           EventType     `json:"type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Messages       []*Message    `json:"messages,omitempty"`
	MessageID      string        `json:"message_id,omitempty"`
	ClientID       string        `json:"client_message_id,omitempty"`
	SenderID       string        `json:"sender_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
	Error          string        `json:"error,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

func NewEvent(t EventType, conversationID string) *Event {
	return &Event{
		ID:             uuid.NewString(),
		Type:           t,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}
