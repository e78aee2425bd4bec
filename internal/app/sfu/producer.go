package sfu

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Producer is one inbound media track. Until the client's track arrives
// it only holds consumers; afterwards a Relay forwards packets to them.
type Producer struct {
	id        string
	kind      core.MediaKind
	tag       string
	trackID   string
	transport *Transport
	logger    zerolog.Logger
	notify    closeNotifier

	mu        sync.Mutex
	closed    bool
	relay     *Relay
	codec     core.RTPCodec
	consumers map[string]*Consumer
}

var _ core.Producer = (*Producer)(nil)

func newProducer(id string, p core.ProduceParams, t *Transport) *Producer {
	return &Producer{
		id:        id,
		kind:      p.Kind,
		tag:       p.Tag,
		trackID:   p.TrackID,
		transport: t,
		logger:    t.logger.With().Str("producer", id).Logger(),
		codec:     defaultCodec(p.Kind),
		consumers: make(map[string]*Consumer),
	}
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() core.MediaKind { return p.kind }

func (p *Producer) Tag() string { return p.tag }

func (p *Producer) OnClose(fn func()) { p.notify.OnClose(fn) }

func (p *Producer) Codec() core.RTPCodec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec
}

// matches reports whether track belongs to this producer: by track id when
// one was announced, otherwise by kind.
func (p *Producer) matches(track *webrtc.TrackRemote) bool {
	if p.trackID != "" {
		return p.trackID == track.ID()
	}
	return p.kind == kindOf(track.Kind())
}

func (p *Producer) start(track *webrtc.TrackRemote) {
	ctx, cancel := context.WithCancel(p.transport.ctx)
	var keyframe func()
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		keyframe = p.transport.keyframeRequester(track)
	}
	relay := NewRelay(track, cancel, keyframe)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return
	}
	p.relay = relay
	p.codec = fromCapability(track.Codec().RTPCodecCapability)
	for id, c := range p.consumers {
		relay.AddOutTrack(id, c.out)
	}
	p.mu.Unlock()

	go func() {
		relay.loop(ctx, &p.logger)
		p.Close()
	}()
}

// addConsumer reports false once the producer is closed.
func (p *Producer) addConsumer(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.id] = c
	if p.relay != nil {
		p.relay.AddOutTrack(c.id, c.out)
	}
	return true
}

func (p *Producer) removeConsumer(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close stops forwarding and closes every consumer fed by this producer.
func (p *Producer) Close() {
	fns, ok := p.notify.markClosed()
	if !ok {
		return
	}
	p.mu.Lock()
	p.closed = true
	relay := p.relay
	consumers := slices.Collect(maps.Values(p.consumers))
	p.mu.Unlock()

	if relay != nil {
		relay.Stop()
	}
	p.transport.router.removeProducer(p.id)
	p.transport.removeProducer(p)
	for _, c := range consumers {
		c.Close()
	}
	p.logger.Info().Int("consumers", len(consumers)).Msg("producer closed")
	fire(fns)
}
