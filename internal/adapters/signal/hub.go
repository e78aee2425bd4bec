package signal

import (
	"errors"
	"sync"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Hub is the set of live signaling connections and the orchestrator's
// core.Publisher. Delivery never blocks: a full buffer drops the frame and
// counts a strike; Policy decides when a slow connection is kicked.
type Hub struct {
	Policy  app.Policy
	Metrics *metrics.Metrics

	mu    sync.RWMutex
	conns map[core.ConnID]*WsSignalConn
}

var _ core.Publisher = (*Hub)(nil)

func NewHub(policy app.Policy, m *metrics.Metrics) *Hub {
	return &Hub{
		Policy:  policy,
		Metrics: m,
		conns:   make(map[core.ConnID]*WsSignalConn),
	}
}

func (h *Hub) Register(c *WsSignalConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.Metrics.ConnOpened()
}

func (h *Hub) Unregister(c *WsSignalConn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if ok {
		h.Metrics.ConnClosed()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Publish(to []core.ConnID, ev core.Event) {
	frame, err := encodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Str("type", string(ev.Type)).Msg("encode event")
		return
	}
	h.mu.RLock()
	targets := make([]*WsSignalConn, 0, len(to))
	for _, id := range to {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}
}

func (h *Hub) PublishAll(ev core.Event) {
	frame, err := encodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Str("type", string(ev.Type)).Msg("encode event")
		return
	}
	h.mu.RLock()
	targets := make([]*WsSignalConn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, frame)
	}
}

func (h *Hub) deliver(c *WsSignalConn, frame core.Frame) {
	err := c.TrySend(frame)
	if err == nil {
		c.strikes.Store(0)
		return
	}
	if !errors.Is(err, ErrBackpressure) {
		return
	}

	h.Metrics.FrameDropped()
	strikes := int(c.strikes.Add(1))
	action := app.DropFrame
	if h.Policy != nil {
		action = h.Policy.OnBackPressure(c.id, strikes)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "signal.hub").Str("conn", string(c.id)).Int("strikes", strikes).Msg("slow connection kicked")
		// Closing the socket ends its read pump, which reconciles memberships.
		c.Close()
	case app.DropFrame:
		log.Debug().Str("module", "signal.hub").Str("conn", string(c.id)).Int("strikes", strikes).Msg("frame dropped")
	}
}
