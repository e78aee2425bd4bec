package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type CreateRoomRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	MaxParticipants int    `json:"maxParticipants,omitempty"`
}

// Requester is the authenticated caller creating a room; it becomes host.
type Requester struct {
	ID      domain.UserID
	Profile domain.Profile
	Conn    core.ConnID
}

func (o *Orchestrator) clampMax(n int) int {
	switch {
	case n <= 0:
		return o.opts.DefaultMaxParticipants
	case n < 2:
		return 2
	case n > o.opts.MaxParticipants:
		return o.opts.MaxParticipants
	}
	return n
}

// CreateRoom provisions a routing context, registers the room and admits
// the requester as its host. The room is not created if the engine fails.
func (o *Orchestrator) CreateRoom(ctx context.Context, req CreateRoomRequest, who Requester) (core.RoomView, error) {
	if err := who.ID.Validate(); err != nil {
		return core.RoomView{}, core.Wrap(core.KindBadRequest, err, "invalid identity")
	}
	profile := who.Profile
	if err := profile.Normalize(who.ID); err != nil {
		return core.RoomView{}, core.Wrap(core.KindBadRequest, err, "invalid profile")
	}
	meta, err := domain.NewRoom("", req.Title, req.Description, who.ID, o.clampMax(req.MaxParticipants), o.now())
	if err != nil {
		return core.RoomView{}, core.Wrap(core.KindBadRequest, err, "invalid room")
	}

	router, err := o.Engine.CreateRouter(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("by", string(who.ID)).Msg("create router")
		return core.RoomView{}, engineErr(err, "media engine unavailable")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		go router.Close()
		return core.RoomView{}, core.Errorf(core.KindInvalidState, "shutting down")
	}
	code, err := app.NewRoomCode(o.Registry)
	if err != nil {
		go router.Close()
		return core.RoomView{}, core.Wrap(core.KindInternal, err, "allocate room code")
	}
	meta.Code = code

	room := core.NewRoomState(meta, router, o.Registry.NextGeneration())
	host := core.NewPeerState(domain.NewMember(who.ID, profile, meta.CreatedAt), who.Conn)
	host.Meta.IsHost = true
	room.AddPeer(host)
	o.Registry.Put(room)
	o.Registry.BindConn(who.Conn, app.PeerRef{Code: code, ID: who.ID})
	o.persist(meta, nil)

	view := roomView(room, true)
	o.publish([]core.ConnID{who.Conn}, core.Event{Type: core.EventRoomCreated, Data: RoomCreatedData{Room: view}})
	o.broadcastRoomListLocked()

	log.Info().Str("module", "orch").Str("room", string(code)).Str("host", string(who.ID)).Str("title", meta.Title).Msg("room created")
	return view, nil
}

// EndRoom is the host-only termination of a room.
func (o *Orchestrator) EndRoom(ctx context.Context, code domain.RoomCode, id domain.UserID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	room, ok := o.Registry.Get(code)
	if !ok {
		return core.Errorf(core.KindNotFound, "room %s not found", code)
	}
	if !room.Meta.Ongoing() {
		return core.Errorf(core.KindInvalidState, "room %s is %s", code, room.Meta.Status)
	}
	host, ok := room.Host()
	if !ok || host.Meta.ID != id {
		log.Warn().Str("module", "orch").Str("room", string(code)).Str("by", string(id)).Msg("end room refused: not host")
		return core.Errorf(core.KindForbidden, "only the host can end the room")
	}
	o.endLocked(room, ReasonHostEnded)
	o.broadcastRoomListLocked()
	return nil
}

// endLocked moves room to ended, tells its members, drops their connection
// bindings, releases the routing context and schedules removal.
func (o *Orchestrator) endLocked(room *core.RoomState, reason string) {
	room.Meta.Status = domain.RoomEnded
	now := o.now()

	o.publish(room.Conns(), core.Event{
		Type: core.EventRoomEnded,
		Data: RoomEndedData{Code: room.Meta.Code, Reason: reason},
	})
	for _, p := range room.PeersByJoin() {
		o.Registry.UnbindConn(p.Conn, app.PeerRef{Code: room.Meta.Code, ID: p.Meta.ID})
	}
	if room.Router != nil {
		go room.Router.Close()
	}
	o.persist(room.Meta, &now)
	o.scheduleCleanup(room)

	log.Info().Str("module", "orch").Str("room", string(room.Meta.Code)).Str("reason", reason).Msg("room ended")
}

func (o *Orchestrator) scheduleCleanup(room *core.RoomState) {
	if o.closed {
		return
	}
	code, gen := room.Meta.Code, room.Generation()
	o.timers[gen] = time.AfterFunc(o.opts.CleanupDelay, func() { o.cleanup(code, gen) })
}

// cleanup removes an ended room, unless the code now names another room.
func (o *Orchestrator) cleanup(code domain.RoomCode, gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.timers, gen)

	room, ok := o.Registry.Get(code)
	if !ok || room.Generation() != gen || room.Meta.Status != domain.RoomEnded {
		return
	}
	o.Registry.Delete(code, gen)
	o.observeLocked()
}

// transferHostLocked hands host authority to the earliest joined remaining
// peer, or ends the room when nobody is left.
func (o *Orchestrator) transferHostLocked(room *core.RoomState, previous domain.UserID) error {
	if room.PeerCount() == 0 {
		o.endLocked(room, ReasonEmpty)
		return nil
	}
	if current, ok := room.Host(); ok {
		log.Warn().Str("module", "orch").Str("room", string(room.Meta.Code)).Str("host", string(current.Meta.ID)).Msg("host transfer skipped: room already has a host")
		return core.Errorf(core.KindConflict, "room %s already has host %s", room.Meta.Code, current.Meta.ID)
	}

	next := room.PeersByJoin()[0]
	next.Meta.IsHost = true
	room.Meta.CreatedBy = next.Meta.ID
	o.persist(room.Meta, nil)

	o.publish(room.Conns(), core.Event{
		Type: core.EventHostTransferred,
		Data: HostTransferredData{
			Code:         room.Meta.Code,
			Host:         participantView(next),
			PreviousHost: previous,
		},
	})
	log.Info().Str("module", "orch").Str("room", string(room.Meta.Code)).Str("from", string(previous)).Str("to", string(next.Meta.ID)).Msg("host transferred")
	return nil
}

// ListRooms answers room.list.
func (o *Orchestrator) ListRooms() []core.RoomView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.roomListLocked()
}

// RoomDetails answers room.details. Ended rooms stay visible from memory
// until cleanup and from the archive after it.
func (o *Orchestrator) RoomDetails(ctx context.Context, code domain.RoomCode) (core.RoomView, error) {
	o.mu.Lock()
	room, ok := o.Registry.Get(code)
	if ok {
		view := roomView(room, true)
		o.mu.Unlock()
		return view, nil
	}
	o.mu.Unlock()
	return o.archivedView(ctx, code)
}

func (o *Orchestrator) archivedView(ctx context.Context, code domain.RoomCode) (core.RoomView, error) {
	notFound := core.Errorf(core.KindNotFound, "room %s not found", code)
	if o.Store == nil {
		return core.RoomView{}, notFound
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	defer cancel()
	rec, err := o.Store.Find(ctx, code)
	if errors.Is(err, core.ErrRecordNotFound) {
		return core.RoomView{}, notFound
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(code)).Msg("archive lookup failed")
		return core.RoomView{}, core.Wrap(core.KindUpstream, err, "room archive unavailable")
	}
	// a live room is always in the registry; an ongoing record is a leftover
	// of a process that died before archiving the end
	if rec.Status == domain.RoomOngoing {
		return core.RoomView{}, notFound
	}
	return core.RoomView{
		Code:            rec.Code,
		Title:           rec.Title,
		Description:     rec.Description,
		CreatedBy:       rec.CreatedBy,
		CreatedAt:       rec.CreatedAt,
		Status:          rec.Status,
		MaxParticipants: rec.MaxParticipants,
		HostName:        core.UnknownHost,
	}, nil
}
