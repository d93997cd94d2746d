package domain

import (
	"fmt"
	"time"
)

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is a direct (2-party) or group (N-party) messaging context.
// For groups the owner is always present in Admins, and Admins is a subset
// of Participants. Direct conversations carry no admin/owner state.
type Conversation struct {
	ID              string           `bson:"_id" json:"id"`
	Kind            ConversationKind `bson:"kind" json:"kind"`
	Name            string           `bson:"name,omitempty" json:"name,omitempty"`
	PairKey         string           `bson:"pair_key,omitempty" json:"-"`
	Participants    []string         `bson:"participants" json:"participants"`
	Admins          []string         `bson:"admins,omitempty" json:"admins,omitempty"`
	Owner           string           `bson:"owner,omitempty" json:"owner,omitempty"`
	PinnedMessageID *string          `bson:"pinned_message_id,omitempty" json:"pinned_message_id,omitempty"`
	CreatedAt       time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `bson:"updated_at" json:"updated_at"`
}

// DirectPairKey is the unique key for a direct conversation between two
// users, independent of who connected first.
func DirectPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s:%s", a, b)
}

func (c *Conversation) IsParticipant(userID string) bool {
	return contains(c.Participants, userID)
}

func (c *Conversation) IsAdmin(userID string) bool {
	return c.Kind == KindGroup && contains(c.Admins, userID)
}

func (c *Conversation) IsOwner(userID string) bool {
	return c.Kind == KindGroup && c.Owner == userID
}

// CanModerate reports whether userID may perform administrative actions
// such as add/remove member or pin/unpin.
func (c *Conversation) CanModerate(userID string) bool {
	return c.IsAdmin(userID) || c.IsOwner(userID)
}

// CanEditOrDelete reports whether userID may edit or delete msg: the sender
// always can, and in groups so can any admin or the owner.
func (c *Conversation) CanEditOrDelete(userID string, msg *Message) bool {
	if msg.SenderID != nil && *msg.SenderID == userID {
		return true
	}
	return c.CanModerate(userID)
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
