// Package presence tracks which users currently hold at least one open
// connection, shared across instances through Redis. Presence is advisory:
// message delivery never consults it.
package presence

import (
	"context"
	"time"
)

type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

type Info struct {
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Tracker records connection lifetimes. A user with several simultaneous
// connections stays online until the last one goes.
type Tracker interface {
	Connected(ctx context.Context, userID, connID string) error
	Disconnected(ctx context.Context, userID, connID string) error
	Get(ctx context.Context, userID string) (Info, error)
}
