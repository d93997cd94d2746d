package domain

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindVideo  MessageKind = "video"
	KindAudio  MessageKind = "audio"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// TombstoneContent replaces the body of a deleted message. The record keeps
// its id and conversation reference so clients can render the tombstone in
// place.
const TombstoneContent = "This message was deleted"

// CryptoEnvelope carries end-to-end encryption fields. The server never
// interprets them; they are passed through unchanged.
type CryptoEnvelope struct {
	Nonce        string `bson:"nonce,omitempty" json:"nonce,omitempty"`
	EphemeralKey string `bson:"ephemeral_key,omitempty" json:"ephemeral_key,omitempty"`
	MessageKey   string `bson:"message_key,omitempty" json:"message_key,omitempty"`
}

type Attachment struct {
	Name string `bson:"name" json:"file_name"`
	Type string `bson:"type" json:"file_type"`
	Size int64  `bson:"size" json:"file_size"`
	URL  string `bson:"url" json:"file_url"`
}

type ReadReceipt struct {
	UserID string    `bson:"user_id" json:"user_id"`
	At     time.Time `bson:"at" json:"at"`
}

// Message is a single entry in a conversation. SenderID is nil for system
// messages generated by administrative actions. ParentID is a weak reference:
// only the id is stored, never the parent record.
type Message struct {
	ID             string            `bson:"_id" json:"id"`
	ClientID       string            `bson:"client_id,omitempty" json:"client_message_id,omitempty"`
	ConversationID string            `bson:"conversation_id" json:"conversation_id"`
	SenderID       *string           `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	Kind           MessageKind       `bson:"kind" json:"kind"`
	Content        string            `bson:"content" json:"content"`
	Envelope       *CryptoEnvelope   `bson:"envelope,omitempty" json:"envelope,omitempty"`
	Attachment     *Attachment       `bson:"attachment,omitempty" json:"attachment,omitempty"`
	ParentID       *string           `bson:"parent_id,omitempty" json:"parent_message_id,omitempty"`
	Reactions      map[string]string `bson:"reactions,omitempty" json:"reactions,omitempty"`
	DeliveredTo    []string          `bson:"delivered_to" json:"delivered_to"`
	ReadBy         []ReadReceipt     `bson:"read_by" json:"read_by"`
	Pinned         bool              `bson:"pinned" json:"is_pinned"`
	Deleted        bool              `bson:"deleted" json:"deleted"`
	CreatedAt      time.Time         `bson:"created_at" json:"created_at"`
	EditedAt       *time.Time        `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
}

func (m *Message) IsSystem() bool {
	return m.SenderID == nil
}

func (m *Message) HasRead(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
