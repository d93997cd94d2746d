package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gebre-tech/backend/internal/domain"
)

// MirrorFunc forwards a published event to other instances over an external
// fabric (see RedisBridge). Payload is the marshaled envelope.
type MirrorFunc func(ctx context.Context, channel string, payload []byte) error

// Hub is the in-process fan-out bus. Subscribing and publishing are safe
// under concurrent access from many connection goroutines.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[Subscriber]struct{}
	mirror MirrorFunc
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[Subscriber]struct{})}
}

// SetMirror installs the cross-instance forwarder. Must be called before the
// hub starts receiving publishes.
func (h *Hub) SetMirror(f MirrorFunc) {
	h.mirror = f
}

func (h *Hub) Subscribe(channel string, s Subscriber) func() {
	h.mu.Lock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[channel]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, channel)
				}
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(ctx context.Context, channel string, ev *domain.Event) error {
	h.DeliverLocal(channel, ev)
	if h.mirror != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return h.mirror(ctx, channel, payload)
	}
	return nil
}

// DeliverLocal fans ev out to local subscribers only. Used by Publish and by
// the bridge when an event arrives from another instance.
func (h *Hub) DeliverLocal(channel string, ev *domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[channel] {
		s.Receive(ev)
	}
}

// SubscriberCount is used by tests and the health endpoint.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
