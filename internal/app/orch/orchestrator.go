// Package orch coordinates rooms, peers, host authority and the media
// producer/consumer graph. One Orchestrator is built per process and handed
// to every handler.
package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

const persistQueueSize = 256

type Options struct {
	CleanupDelay           time.Duration
	DefaultMaxParticipants int
	MaxParticipants        int
	StoreTimeout           time.Duration
	// Clock is used for CreatedAt and JoinedAt; time.Now when nil.
	Clock func() time.Time
}

func (o *Options) withDefaults() {
	if o.CleanupDelay <= 0 {
		o.CleanupDelay = 5 * time.Second
	}
	if o.MaxParticipants <= 0 {
		o.MaxParticipants = 100
	}
	if o.DefaultMaxParticipants <= 0 || o.DefaultMaxParticipants > o.MaxParticipants {
		o.DefaultMaxParticipants = o.MaxParticipants
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Orchestrator is the session coordinator. All mutations run under mu;
// calls into the media engine are made with mu released.
type Orchestrator struct {
	Registry  *app.Registry
	Engine    core.Engine
	Store     core.RoomStore
	Publisher core.Publisher
	Metrics   *metrics.Metrics

	opts Options

	mu     sync.Mutex
	timers map[uint64]*time.Timer
	closed bool

	persistQ    chan core.RoomRecord
	persistDone chan struct{}
}

// New wires an orchestrator. store and m may be nil.
func New(reg *app.Registry, engine core.Engine, store core.RoomStore, pub core.Publisher, m *metrics.Metrics, opts Options) *Orchestrator {
	opts.withDefaults()
	o := &Orchestrator{
		Registry:    reg,
		Engine:      engine,
		Store:       store,
		Publisher:   pub,
		Metrics:     m,
		opts:        opts,
		timers:      make(map[uint64]*time.Timer),
		persistQ:    make(chan core.RoomRecord, persistQueueSize),
		persistDone: make(chan struct{}),
	}
	go o.persistLoop()
	return o
}

// Close stops pending cleanups, archives rooms that are still ongoing as
// cancelled, tears their routers down and flushes the archive queue.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	for gen, t := range o.timers {
		t.Stop()
		delete(o.timers, gen)
	}
	for _, room := range o.Registry.List() {
		if !room.Meta.Ongoing() {
			continue
		}
		rec := core.RecordOf(room.Meta)
		rec.Status = domain.RoomCancelled
		now := o.opts.Clock()
		rec.EndedAt = &now
		o.enqueue(rec)
		if room.Router != nil {
			go room.Router.Close()
		}
	}
	o.closed = true
	close(o.persistQ)
	o.mu.Unlock()

	<-o.persistDone
	log.Info().Str("module", "orch").Msg("orchestrator closed")
}

func (o *Orchestrator) now() time.Time { return o.opts.Clock() }

// lookupLocked resolves an ongoing room and one of its peers.
func (o *Orchestrator) lookupLocked(code domain.RoomCode, id domain.UserID) (*core.RoomState, *core.PeerState, error) {
	room, ok := o.Registry.Get(code)
	if !ok {
		return nil, nil, core.Errorf(core.KindNotFound, "room %s not found", code)
	}
	if !room.Meta.Ongoing() {
		return nil, nil, core.Errorf(core.KindInvalidState, "room %s is %s", code, room.Meta.Status)
	}
	peer, ok := room.Peer(id)
	if !ok {
		return nil, nil, core.Errorf(core.KindNotFound, "peer %s not in room %s", id, code)
	}
	return room, peer, nil
}

// revalidateLocked re-checks a room and peer after an engine call: the room
// must be the same value (generation) and still ongoing.
func (o *Orchestrator) revalidateLocked(code domain.RoomCode, gen uint64, id domain.UserID) (*core.RoomState, *core.PeerState, error) {
	room, peer, err := o.lookupLocked(code, id)
	if err != nil {
		return nil, nil, err
	}
	if room.Generation() != gen {
		return nil, nil, core.Errorf(core.KindNotFound, "room %s not found", code)
	}
	return room, peer, nil
}

// persist archives the room meta without blocking the caller.
// Must be called with mu held.
func (o *Orchestrator) persist(meta *domain.Room, endedAt *time.Time) {
	rec := core.RecordOf(meta)
	rec.EndedAt = endedAt
	o.enqueue(rec)
}

func (o *Orchestrator) enqueue(rec core.RoomRecord) {
	if o.Store == nil || o.closed {
		return
	}
	select {
	case o.persistQ <- rec:
	default:
		log.Warn().Str("module", "orch").Str("room", string(rec.Code)).Msg("archive queue full, record dropped")
	}
}

func (o *Orchestrator) persistLoop() {
	defer close(o.persistDone)
	for rec := range o.persistQ {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.StoreTimeout)
		err := o.Store.Upsert(ctx, rec)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(rec.Code)).Str("status", string(rec.Status)).Msg("archive room failed")
		}
	}
}

// engineErr keeps structured engine errors and tags the rest as upstream.
func engineErr(err error, msg string) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return core.Wrap(core.KindUpstream, err, msg)
}

// observeLocked refreshes the state gauges.
func (o *Orchestrator) observeLocked() {
	if o.Metrics == nil {
		return
	}
	var rooms, peers, producers, consumers int
	for _, room := range o.Registry.List() {
		if !room.Meta.Ongoing() {
			continue
		}
		rooms++
		for _, p := range room.PeersByJoin() {
			peers++
			producers += len(p.Producers)
			consumers += len(p.Consumers)
		}
	}
	o.Metrics.ObserveState(rooms, peers, producers, consumers)
}

// closeTransports asks the engine to tear down what a departed peer owned.
func closeTransports(peer *core.PeerState) {
	if len(peer.Transports) == 0 {
		return
	}
	ts := make([]core.Transport, 0, len(peer.Transports))
	for _, t := range peer.Transports {
		ts = append(ts, t)
	}
	go func() {
		for _, t := range ts {
			t.Close()
		}
	}()
}
