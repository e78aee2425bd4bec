package sfu

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Transport wraps one PeerConnection. A send transport receives the client's
// tracks and turns them into producers; a recv transport carries consumers.
type Transport struct {
	id     string
	dir    core.Direction
	router *Router
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	notify closeNotifier

	mu        sync.Mutex
	closed    bool
	producers map[string]*Producer
	consumers map[string]*Consumer
	// waiting producers have no track yet; pending tracks have no producer yet.
	waiting []*Producer
	pending []*webrtc.TrackRemote
}

var _ core.Transport = (*Transport)(nil)

func newTransport(id string, dir core.Direction, r *Router) (*Transport, error) {
	pc, err := r.engine.api.NewPeerConnection(webrtc.Configuration{ICEServers: r.engine.iceServers()})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:        id,
		dir:       dir,
		router:    r,
		pc:        pc,
		logger:    r.logger.With().Str("transport", id).Str("direction", string(dir)).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
	t.start()
	return t, nil
}

func (t *Transport) start() {
	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			go t.Close()
		}
	})

	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		t.attachTrack(track)
	})
}

// keyframeRequester sends a PLI for track back to the client.
func (t *Transport) keyframeRequester(track *webrtc.TrackRemote) func() {
	return func() {
		pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}
		if err := t.pc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
			t.logger.Debug().Err(err).Msg("keyframe request failed")
		}
	}
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Direction() core.Direction { return t.dir }

func (t *Transport) Params() core.TransportParams {
	return core.TransportParams{ID: t.id, Direction: t.dir, ICEServers: t.router.engine.cfg.ICEServers}
}

// Connect applies the client's session description and candidates.
// A client offer is answered; an answer completes a server offer.
func (t *Transport) Connect(ctx context.Context, p core.ConnectParams) (core.ConnectResult, error) {
	if t.notify.isClosed() {
		return core.ConnectResult{}, core.Errorf(core.KindInvalidState, "transport %s closed", t.id)
	}

	var res core.ConnectResult
	switch p.Type {
	case "offer":
		sdp, err := t.answer(ctx, p.SDP)
		if err != nil {
			return core.ConnectResult{}, err
		}
		res = core.ConnectResult{Type: "answer", SDP: sdp}
	case "answer":
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
		if err := t.pc.SetRemoteDescription(desc); err != nil {
			return core.ConnectResult{}, core.Wrap(core.KindBadRequest, err, "apply answer")
		}
	case "":
		if p.SDP != "" {
			return core.ConnectResult{}, core.Errorf(core.KindBadRequest, "sdp without type")
		}
	default:
		return core.ConnectResult{}, core.Errorf(core.KindBadRequest, "unknown sdp type %q", p.Type)
	}

	for _, c := range p.Candidates {
		ci := webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}
		if err := t.pc.AddICECandidate(ci); err != nil {
			return core.ConnectResult{}, core.Wrap(core.KindBadRequest, err, "add ice candidate")
		}
	}
	return res, nil
}

func (t *Transport) answer(ctx context.Context, sdp string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return "", core.Wrap(core.KindBadRequest, err, "apply offer")
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", core.Wrap(core.KindUpstream, err, "create answer")
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", core.Wrap(core.KindUpstream, err, "set local answer")
	}
	return t.localSDP(ctx, gatherComplete)
}

func (t *Transport) offer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", core.Wrap(core.KindUpstream, err, "create offer")
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", core.Wrap(core.KindUpstream, err, "set local offer")
	}
	return t.localSDP(ctx, gatherComplete)
}

func (t *Transport) localSDP(ctx context.Context, gatherComplete <-chan struct{}) (string, error) {
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", core.Wrap(core.KindUpstream, ctx.Err(), "ice gathering")
	case <-t.ctx.Done():
		return "", core.Errorf(core.KindInvalidState, "transport %s closed", t.id)
	}
	return t.pc.LocalDescription().SDP, nil
}

func (t *Transport) Produce(ctx context.Context, p core.ProduceParams) (core.Producer, error) {
	if t.dir != core.DirectionSend {
		return nil, core.Errorf(core.KindInvalidState, "transport %s is not a send transport", t.id)
	}
	if !p.Kind.Valid() {
		return nil, core.Errorf(core.KindBadRequest, "invalid media kind %q", p.Kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prod := newProducer(uuid.NewString(), p, t)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, core.Errorf(core.KindInvalidState, "transport %s closed", t.id)
	}
	t.producers[prod.id] = prod
	var track *webrtc.TrackRemote
	if i := slices.IndexFunc(t.pending, prod.matches); i >= 0 {
		track = t.pending[i]
		t.pending = slices.Delete(t.pending, i, i+1)
	} else {
		t.waiting = append(t.waiting, prod)
	}
	t.mu.Unlock()

	t.router.addProducer(prod)
	if track != nil {
		prod.start(track)
	}
	t.logger.Info().Str("producer", prod.id).Str("kind", string(p.Kind)).Bool("track_ready", track != nil).Msg("producer created")
	return prod, nil
}

// attachTrack hands an incoming track to the first waiting producer that
// claims it, or parks it until one does.
func (t *Transport) attachTrack(track *webrtc.TrackRemote) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	i := slices.IndexFunc(t.waiting, func(p *Producer) bool { return p.matches(track) })
	if i < 0 {
		t.pending = append(t.pending, track)
		t.mu.Unlock()
		return
	}
	prod := t.waiting[i]
	t.waiting = slices.Delete(t.waiting, i, i+1)
	t.mu.Unlock()

	prod.start(track)
}

func (t *Transport) Consume(ctx context.Context, producerID string) (core.Consumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, core.Errorf(core.KindInvalidState, "transport %s is not a recv transport", t.id)
	}
	prod, ok := t.router.producer(producerID)
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "producer %s not found", producerID)
	}

	id := uuid.NewString()
	codec := prod.Codec()
	local, err := webrtc.NewTrackLocalStaticRTP(toCapability(codec), "track-"+id, "stream-"+producerID)
	if err != nil {
		return nil, core.Wrap(core.KindUpstream, err, "create local track")
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, core.Wrap(core.KindUpstream, err, "add track")
	}
	go drainRTCP(sender)

	cons := newConsumer(id, prod, NewOutTrack(local, true), sender, t)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cons.Close()
		return nil, core.Errorf(core.KindInvalidState, "transport %s closed", t.id)
	}
	t.consumers[id] = cons
	t.mu.Unlock()

	if !prod.addConsumer(cons) {
		cons.Close()
		return nil, core.Errorf(core.KindNotFound, "producer %s closed", producerID)
	}

	sdp, err := t.offer(ctx)
	if err != nil {
		cons.Close()
		return nil, err
	}
	cons.params = core.ConsumerParams{
		ProducerID: producerID,
		Kind:       prod.kind,
		Codec:      codec,
		Type:       "offer",
		SDP:        sdp,
	}
	t.logger.Info().Str("consumer", id).Str("producer", producerID).Msg("consumer created")
	return cons, nil
}

func (t *Transport) OnClose(fn func()) { t.notify.OnClose(fn) }

// Close tears down every producer and consumer on this transport, then the
// PeerConnection itself.
func (t *Transport) Close() {
	fns, ok := t.notify.markClosed()
	if !ok {
		return
	}
	t.mu.Lock()
	t.closed = true
	producers := slices.Collect(maps.Values(t.producers))
	consumers := slices.Collect(maps.Values(t.consumers))
	t.waiting = nil
	t.pending = nil
	t.mu.Unlock()

	t.cancel()
	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
	if err := t.pc.Close(); err != nil {
		t.logger.Error().Err(err).Msg("close error")
	} else {
		t.logger.Info().Msg("closed")
	}
	t.router.removeTransport(t.id)
	fire(fns)
}

func (t *Transport) removeProducer(p *Producer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, p.id)
	t.waiting = slices.DeleteFunc(t.waiting, func(w *Producer) bool { return w == p })
}

func (t *Transport) removeConsumer(c *Consumer) {
	t.mu.Lock()
	delete(t.consumers, c.id)
	closing := t.closed
	t.mu.Unlock()

	if closing || c.sender == nil {
		return
	}
	if err := t.pc.RemoveTrack(c.sender); err != nil {
		t.logger.Debug().Err(err).Str("consumer", c.id).Msg("remove track")
	}
}

// drainRTCP keeps the sender's RTCP reader moving so interceptors work.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
