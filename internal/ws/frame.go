package ws

import (
	"github.com/gebre-tech/backend/internal/domain"
)

// Frame types accepted on the inbound side of a session.
const (
	FrameMessage     = "message"
	FrameEdit        = "edit"
	FrameDelete      = "delete"
	FrameReaction    = "reaction"
	FrameReadReceipt = "read_receipt"
	FrameTyping      = "typing"
	FramePin         = "pin"
	FrameUnpin       = "unpin"
	FrameGroupAction = "group_action"
	FrameDeleteGroup = "delete_group"
	FrameHistory     = "history"
	FramePing        = "ping"
)

// Group action verbs carried by a group_action frame.
const (
	ActionAdd      = "add"
	ActionRemove   = "remove"
	ActionPromote  = "promote"
	ActionDemote   = "demote"
	ActionTransfer = "transfer"
	ActionLeave    = "leave"
)

// Frame is one inbound logical action. For `message` frames, message_id is
// the client-supplied id used for deduplication; for edit/delete/reaction/
// read_receipt/pin it targets a server-assigned id. Minimal-schema senders
// omit type entirely and are treated as new messages.
type Frame struct {
	Type            string `json:"type,omitempty"`
	Message         string `json:"message,omitempty"`
	Content         string `json:"content,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	Emoji           string `json:"emoji,omitempty"`
	Reaction        string `json:"reaction,omitempty"`
	Action          string `json:"action,omitempty"`
	MemberID        string `json:"member_id,omitempty"`
	GroupID         string `json:"group_id,omitempty"`
	ChatID          string `json:"chat_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	Kind            string `json:"kind,omitempty"`
	Page            int    `json:"page,omitempty"`
	PageSize        int    `json:"page_size,omitempty"`
	RequestHistory  bool   `json:"request_history,omitempty"`
	Nonce           string `json:"nonce,omitempty"`
	EphemeralKey    string `json:"ephemeral_key,omitempty"`
	MessageKey      string `json:"message_key,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	FileType        string `json:"file_type,omitempty"`
	FileSize        int64  `json:"file_size,omitempty"`
}

// body accepts both historical field names.
func (f *Frame) body() string {
	if f.Message != "" {
		return f.Message
	}
	return f.Content
}

func (f *Frame) emoji() string {
	if f.Emoji != "" {
		return f.Emoji
	}
	return f.Reaction
}

func (f *Frame) envelope() *domain.CryptoEnvelope {
	if f.Nonce == "" && f.EphemeralKey == "" && f.MessageKey == "" {
		return nil
	}
	return &domain.CryptoEnvelope{
		Nonce:        f.Nonce,
		EphemeralKey: f.EphemeralKey,
		MessageKey:   f.MessageKey,
	}
}

// conversationRef returns the explicit conversation id a frame names, for
// sessions subscribed to more than one channel.
func (f *Frame) conversationRef() string {
	if f.GroupID != "" {
		return f.GroupID
	}
	return f.ChatID
}

// attachmentMetadataOnly reports whether the frame is the metadata half of
// an attachment pair: no body, but file fields set. The binary payload
// follows in the next frame.
func (f *Frame) attachmentMetadataOnly() bool {
	return f.Type == "" && f.body() == "" && f.FileName != ""
}
