package sfu

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Router is the routing context of one room: it owns the transports of
// every member and indexes their producers for consumption.
type Router struct {
	id     string
	engine *Engine
	logger zerolog.Logger

	mu         sync.RWMutex
	closed     bool
	transports map[string]*Transport
	producers  map[string]*Producer
}

var _ core.Router = (*Router)(nil)

func newRouter(id string, e *Engine) *Router {
	return &Router{
		id:         id,
		engine:     e,
		logger:     log.With().Str("module", "sfu").Str("router", id).Logger(),
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() core.RTPCapabilities { return routerCapabilities() }

func (r *Router) CreateTransport(ctx context.Context, dir core.Direction) (core.Transport, error) {
	if !dir.Valid() {
		return nil, core.Errorf(core.KindBadRequest, "invalid direction %q", dir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, core.Errorf(core.KindInvalidState, "router %s closed", r.id)
	}

	t, err := newTransport(uuid.NewString(), dir, r)
	if err != nil {
		return nil, core.Wrap(core.KindUpstream, err, "create peer connection")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t.Close()
		return nil, core.Errorf(core.KindInvalidState, "router %s closed", r.id)
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	r.logger.Debug().Str("transport", t.id).Str("direction", string(dir)).Msg("transport created")
	return t, nil
}

// CanConsume reports whether caps can decode the producer's codec.
func (r *Router) CanConsume(caps core.RTPCapabilities, producerID string) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	return caps.Supports(p.Codec().MimeType)
}

func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := slices.Collect(maps.Values(r.transports))
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.engine.removeRouter(r.id)
	r.logger.Debug().Int("transports", len(transports)).Msg("router closed")
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
