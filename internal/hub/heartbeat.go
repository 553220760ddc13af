package hub

import (
	"context"
	"time"

	"github.com/loserbcc/openclaw-gateway/internal/protocol"
)

// RunHeartbeat sends periodic tick events to every registered session until
// ctx is cancelled. Sessions whose send fails are pruned from the hub.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Tick sends one tick event to every registered session, pruning dead ones.
func (h *Hub) Tick() {
	tick := protocol.MakeTick()
	h.ForEach(func(sess *Session) {
		if err := sess.Send(tick); err != nil {
			h.Unregister(sess.ID)
		}
	})
}
