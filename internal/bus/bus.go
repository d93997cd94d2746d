// Package bus is the delivery fan-out fabric: one published event reaches
// every session currently subscribed to a conversation's channel. It is an
// injected capability, never a process-wide singleton, so tests can swap in
// the local hub alone.
package bus

import (
	"context"
	"strings"

	"github.com/gebre-tech/backend/internal/domain"
)

// Subscriber receives broadcast events. Receive must not block: sessions
// back it with a buffered channel and drop on overflow.
type Subscriber interface {
	Receive(ev *domain.Event)
}

type Bus interface {
	// Publish delivers ev to every subscriber of channel. Within one
	// channel, events are delivered in publish order.
	Publish(ctx context.Context, channel string, ev *domain.Event) error
	// Subscribe registers s and returns an idempotent unsubscribe func.
	Subscribe(channel string, s Subscriber) (unsubscribe func())
}

// ConversationChannel derives the channel name for a conversation id.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// ValidChannelID reports whether id can form a channel name. Conversation
// ids come from route parameters, so reject anything that could smuggle
// separators into the pub/sub namespace.
func ValidChannelID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	return !strings.ContainsAny(id, " \t\r\n:*?")
}
