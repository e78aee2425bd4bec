package orch

import (
	"context"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type ConsumerInfo struct {
	ID         string              `json:"consumerId"`
	ProducerID string              `json:"producerId"`
	Kind       core.MediaKind      `json:"kind"`
	Parameters core.ConsumerParams `json:"parameters"`
}

// SetCapabilities records the peer's capability descriptor. It is set once;
// later calls keep the first descriptor and succeed.
func (o *Orchestrator) SetCapabilities(ctx context.Context, code domain.RoomCode, id domain.UserID, caps core.RTPCapabilities) error {
	if len(caps.Codecs) == 0 {
		return core.Errorf(core.KindBadRequest, "capabilities carry no codecs")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_, peer, err := o.lookupLocked(code, id)
	if err != nil {
		return err
	}
	if peer.Caps != nil {
		return nil
	}
	c := core.RTPCapabilities{Codecs: append([]core.RTPCodec(nil), caps.Codecs...)}
	peer.Caps = &c
	return nil
}

func (o *Orchestrator) CreateTransport(ctx context.Context, code domain.RoomCode, id domain.UserID, dir core.Direction) (core.TransportParams, error) {
	if !dir.Valid() {
		return core.TransportParams{}, core.Errorf(core.KindBadRequest, "unknown direction %q", dir)
	}

	o.mu.Lock()
	room, _, err := o.lookupLocked(code, id)
	if err != nil {
		o.mu.Unlock()
		return core.TransportParams{}, err
	}
	router, gen := room.Router, room.Generation()
	o.mu.Unlock()

	t, err := router.CreateTransport(ctx, dir)
	if err != nil {
		return core.TransportParams{}, engineErr(err, "create transport")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	_, peer, err := o.revalidateLocked(code, gen, id)
	if err != nil {
		go t.Close()
		return core.TransportParams{}, err
	}
	peer.Transports[t.ID()] = t
	tid := t.ID()
	t.OnClose(func() { go o.handleTransportClosed(code, gen, id, tid) })

	log.Debug().Str("module", "orch.media").Str("room", string(code)).Str("peer", string(id)).Str("transport", tid).Str("dir", string(dir)).Msg("transport created")
	return t.Params(), nil
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, code domain.RoomCode, id domain.UserID, transportID string, p core.ConnectParams) (core.ConnectResult, error) {
	o.mu.Lock()
	_, peer, err := o.lookupLocked(code, id)
	if err != nil {
		o.mu.Unlock()
		return core.ConnectResult{}, err
	}
	t, ok := peer.Transports[transportID]
	o.mu.Unlock()
	if !ok {
		return core.ConnectResult{}, core.Errorf(core.KindNotFound, "transport %s not found", transportID)
	}

	res, err := t.Connect(ctx, p)
	if err != nil {
		return core.ConnectResult{}, engineErr(err, "connect transport")
	}
	return res, nil
}

// Produce opens a producer on a send transport and tells every other
// member of the room that new media is available.
func (o *Orchestrator) Produce(ctx context.Context, code domain.RoomCode, id domain.UserID, transportID string, p core.ProduceParams) (string, error) {
	if !p.Kind.Valid() {
		return "", core.Errorf(core.KindBadRequest, "unknown media kind %q", p.Kind)
	}

	o.mu.Lock()
	room, peer, err := o.lookupLocked(code, id)
	if err != nil {
		o.mu.Unlock()
		return "", err
	}
	t, ok := peer.Transports[transportID]
	if !ok {
		o.mu.Unlock()
		return "", core.Errorf(core.KindNotFound, "transport %s not found", transportID)
	}
	if t.Direction() != core.DirectionSend {
		o.mu.Unlock()
		return "", core.Errorf(core.KindInvalidState, "transport %s cannot produce", transportID)
	}
	gen := room.Generation()
	o.mu.Unlock()

	prod, err := t.Produce(ctx, p)
	if err != nil {
		return "", engineErr(err, "produce")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	room, peer, err = o.revalidateLocked(code, gen, id)
	if err == nil {
		if _, ok := peer.Transports[transportID]; !ok {
			err = core.Errorf(core.KindNotFound, "transport %s not found", transportID)
		}
	}
	if err != nil {
		go prod.Close()
		return "", err
	}
	pid := prod.ID()
	peer.Producers[pid] = prod
	prod.OnClose(func() { go o.handleProducerClosed(code, gen, id, pid) })

	info := core.ProducerInfo{ProducerID: pid, Kind: prod.Kind(), Identity: id, Tag: prod.Tag()}
	o.publish(room.Conns(id), core.Event{
		Type: core.EventNewProducerAvailable,
		Data: ProducerEventData{Code: code, ProducerInfo: info},
	})
	o.observeLocked()

	log.Info().Str("module", "orch.media").Str("room", string(code)).Str("peer", string(id)).Str("producer", pid).Str("kind", string(prod.Kind())).Msg("producer created")
	return pid, nil
}

// CreateConsumer forwards producerID to id over a receive transport.
// The consumer starts paused; see ResumeConsumer.
func (o *Orchestrator) CreateConsumer(ctx context.Context, code domain.RoomCode, id domain.UserID, producerID, transportID string) (ConsumerInfo, error) {
	o.mu.Lock()
	room, peer, err := o.lookupLocked(code, id)
	if err != nil {
		o.mu.Unlock()
		return ConsumerInfo{}, err
	}
	if peer.Caps == nil {
		o.mu.Unlock()
		return ConsumerInfo{}, core.Errorf(core.KindInvalidState, "capabilities not set")
	}
	t, ok := peer.Transports[transportID]
	if !ok {
		o.mu.Unlock()
		return ConsumerInfo{}, core.Errorf(core.KindNotFound, "transport %s not found", transportID)
	}
	if t.Direction() != core.DirectionRecv {
		o.mu.Unlock()
		return ConsumerInfo{}, core.Errorf(core.KindInvalidState, "transport %s cannot consume", transportID)
	}
	if _, _, ok := room.FindProducer(producerID); !ok {
		o.mu.Unlock()
		return ConsumerInfo{}, core.Errorf(core.KindNotFound, "producer %s not found", producerID)
	}
	if !room.Router.CanConsume(*peer.Caps, producerID) {
		o.mu.Unlock()
		return ConsumerInfo{}, core.Errorf(core.KindUnsupported, "cannot consume producer %s with the declared capabilities", producerID)
	}
	gen := room.Generation()
	o.mu.Unlock()

	cons, err := t.Consume(ctx, producerID)
	if err != nil {
		return ConsumerInfo{}, engineErr(err, "consume")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	room, peer, err = o.revalidateLocked(code, gen, id)
	if err == nil {
		if _, _, ok := room.FindProducer(producerID); !ok {
			err = core.Errorf(core.KindNotFound, "producer %s not found", producerID)
		}
	}
	if err != nil {
		go cons.Close()
		return ConsumerInfo{}, err
	}
	cid := cons.ID()
	peer.Consumers[cid] = cons
	cons.OnClose(func() { go o.handleConsumerClosed(code, gen, id, cid) })
	o.observeLocked()

	log.Debug().Str("module", "orch.media").Str("room", string(code)).Str("peer", string(id)).Str("consumer", cid).Str("producer", producerID).Msg("consumer created")
	return ConsumerInfo{
		ID:         cid,
		ProducerID: producerID,
		Kind:       cons.Kind(),
		Parameters: cons.Parameters(),
	}, nil
}

func (o *Orchestrator) ResumeConsumer(ctx context.Context, code domain.RoomCode, id domain.UserID, consumerID string) error {
	o.mu.Lock()
	_, peer, err := o.lookupLocked(code, id)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	cons, ok := peer.Consumers[consumerID]
	o.mu.Unlock()
	if !ok {
		return core.Errorf(core.KindNotFound, "consumer %s not found", consumerID)
	}
	if err := cons.Resume(); err != nil {
		return engineErr(err, "resume consumer")
	}
	return nil
}

// CloseProducer lets the owner stop one of its streams.
func (o *Orchestrator) CloseProducer(ctx context.Context, code domain.RoomCode, id domain.UserID, producerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, peer, err := o.lookupLocked(code, id)
	if err != nil {
		return err
	}
	prod, ok := peer.Producers[producerID]
	if !ok {
		return core.Errorf(core.KindNotFound, "producer %s not found", producerID)
	}
	o.dropProducerLocked(room, peer, prod)
	go prod.Close()
	return nil
}

func (o *Orchestrator) dropProducerLocked(room *core.RoomState, peer *core.PeerState, prod core.Producer) {
	delete(peer.Producers, prod.ID())
	o.publish(room.Conns(), core.Event{
		Type: core.EventProducerClosed,
		Data: ProducerEventData{
			Code:         room.Meta.Code,
			ProducerInfo: core.ProducerInfo{ProducerID: prod.ID(), Kind: prod.Kind(), Identity: peer.Meta.ID, Tag: prod.Tag()},
		},
	})
	o.observeLocked()
}

// engineRefLocked resolves the owner of an engine handle for a close event.
// Events for rooms that ended, were replaced or lost the peer are stale.
func (o *Orchestrator) engineRefLocked(code domain.RoomCode, gen uint64, id domain.UserID) (*core.RoomState, *core.PeerState, bool) {
	room, peer, err := o.revalidateLocked(code, gen, id)
	return room, peer, err == nil
}

func (o *Orchestrator) handleProducerClosed(code domain.RoomCode, gen uint64, id domain.UserID, producerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	room, peer, ok := o.engineRefLocked(code, gen, id)
	if !ok {
		return
	}
	prod, ok := peer.Producers[producerID]
	if !ok {
		return
	}
	o.dropProducerLocked(room, peer, prod)
	log.Info().Str("module", "orch.media").Str("room", string(code)).Str("producer", producerID).Msg("producer closed by engine")
}

func (o *Orchestrator) handleConsumerClosed(code domain.RoomCode, gen uint64, id domain.UserID, consumerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, peer, ok := o.engineRefLocked(code, gen, id)
	if !ok {
		return
	}
	cons, ok := peer.Consumers[consumerID]
	if !ok {
		return
	}
	delete(peer.Consumers, consumerID)
	o.publish([]core.ConnID{peer.Conn}, core.Event{
		Type: core.EventConsumerClosed,
		Data: ConsumerClosedData{Code: code, ConsumerID: consumerID, ProducerID: cons.ProducerID()},
	})
	o.observeLocked()
}

func (o *Orchestrator) handleTransportClosed(code domain.RoomCode, gen uint64, id domain.UserID, transportID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, peer, ok := o.engineRefLocked(code, gen, id)
	if !ok {
		return
	}
	if _, ok := peer.Transports[transportID]; !ok {
		return
	}
	delete(peer.Transports, transportID)
	log.Debug().Str("module", "orch.media").Str("room", string(code)).Str("peer", string(id)).Str("transport", transportID).Msg("transport closed")
}
