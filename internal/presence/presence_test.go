package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerOnlineWhileAnyConnectionOpen(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	require.NoError(t, tr.Connected(ctx, "alice", "conn-1"))
	require.NoError(t, tr.Connected(ctx, "alice", "conn-2"))

	info, err := tr.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Online, info.Status)

	require.NoError(t, tr.Disconnected(ctx, "alice", "conn-1"))
	info, err = tr.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Online, info.Status, "still online: conn-2 is open")

	require.NoError(t, tr.Disconnected(ctx, "alice", "conn-2"))
	info, err = tr.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Offline, info.Status)
}

func TestMemoryTrackerUnknownUserIsOffline(t *testing.T) {
	tr := NewMemoryTracker()
	info, err := tr.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, Offline, info.Status)
	assert.True(t, info.LastSeen.IsZero())
}

func TestMemoryTrackerLastSeenAdvances(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return clock }

	require.NoError(t, tr.Connected(ctx, "bob", "c1"))
	clock = clock.Add(time.Minute)
	require.NoError(t, tr.Disconnected(ctx, "bob", "c1"))

	info, err := tr.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, Offline, info.Status)
	assert.Equal(t, clock, info.LastSeen)
}

func TestMemoryTrackerDisconnectedUnknownConnIsNoOp(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	require.NoError(t, tr.Connected(ctx, "carol", "c1"))
	require.NoError(t, tr.Disconnected(ctx, "carol", "never-registered"))

	info, err := tr.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, Online, info.Status, "open connection keeps the user online")
}
