package orch

import (
	"context"

	"github.com/dkeye/huddle/internal/core"
	"github.com/rs/zerolog/log"
)

// OnConnectionLost removes every peer still bound to conn, exactly as an
// explicit leave would, and republishes the room list once at the end.
// A connection that carries no peer is a no-op. It returns the number of
// peers removed.
func (o *Orchestrator) OnConnectionLost(ctx context.Context, conn core.ConnID) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	removed := 0
	listChanged := false
	for _, ref := range o.Registry.ConnRefs(conn) {
		room, ok := o.Registry.Get(ref.Code)
		if !ok {
			o.Registry.UnbindConn(conn, ref)
			continue
		}
		peer, ok := room.Peer(ref.ID)
		if !ok || peer.Conn != conn {
			// reattached elsewhere or already gone
			o.Registry.UnbindConn(conn, ref)
			continue
		}
		if room.Meta.Ongoing() {
			listChanged = true
		}
		o.removePeerLocked(room, peer, ReasonDisconnected)
		removed++
		log.Info().Str("module", "orch").Str("room", string(ref.Code)).Str("peer", string(ref.ID)).Str("conn", string(conn)).Msg("peer disconnected")
	}
	if listChanged {
		o.broadcastRoomListLocked()
	}
	return removed
}
