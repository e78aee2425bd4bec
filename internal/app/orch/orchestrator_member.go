package orch

import (
	"context"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type JoinResult struct {
	Room            core.RoomView        `json:"room"`
	RTPCapabilities core.RTPCapabilities `json:"routingCapabilities"`
	CurrentMedia    []core.ProducerInfo  `json:"currentMedia"`
	Reconnected     bool                 `json:"reconnected"`
}

// StatusUpdate is a partial update; nil fields are left unchanged.
type StatusUpdate struct {
	IsMuted        *bool `json:"isMuted,omitempty"`
	IsVideoEnabled *bool `json:"isVideoEnabled,omitempty"`
}

// JoinRoom admits id into the room, or reattaches it in place when the
// identity is already a member (reconnect): no duplicate entry is created
// and owned media handles are kept.
func (o *Orchestrator) JoinRoom(ctx context.Context, code domain.RoomCode, id domain.UserID, profile domain.Profile, conn core.ConnID) (JoinResult, error) {
	if err := id.Validate(); err != nil {
		return JoinResult{}, core.Wrap(core.KindBadRequest, err, "invalid identity")
	}
	if err := profile.Normalize(id); err != nil {
		return JoinResult{}, core.Wrap(core.KindBadRequest, err, "invalid profile")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	room, ok := o.Registry.Get(code)
	if !ok {
		return JoinResult{}, core.Errorf(core.KindNotFound, "room %s not found", code)
	}
	if !room.Meta.Ongoing() {
		return JoinResult{}, core.Errorf(core.KindInvalidState, "room %s is %s", code, room.Meta.Status)
	}

	ref := app.PeerRef{Code: code, ID: id}
	peer, reconnected := room.Peer(id)
	if reconnected {
		if peer.Conn != conn {
			o.Registry.UnbindConn(peer.Conn, ref)
			o.Registry.BindConn(conn, ref)
			peer.Conn = conn
		}
		peer.Meta.DisplayName = profile.DisplayName
		peer.Meta.Email = profile.Email
		peer.Meta.Apply(profile)
	} else {
		if limit := room.Meta.MaxParticipants; limit > 0 && room.PeerCount() >= limit {
			return JoinResult{}, core.Errorf(core.KindInvalidState, "room %s is full", code)
		}
		peer = core.NewPeerState(domain.NewMember(id, profile, o.now()), conn)
		room.AddPeer(peer)
		o.Registry.BindConn(conn, ref)
	}

	res := JoinResult{
		Room:         roomView(room, true),
		CurrentMedia: make([]core.ProducerInfo, 0),
		Reconnected:  reconnected,
	}
	if room.Router != nil {
		res.RTPCapabilities = room.Router.Capabilities()
	}
	for _, info := range room.Producers() {
		if info.Identity != id {
			res.CurrentMedia = append(res.CurrentMedia, info)
		}
	}

	o.publish(room.Conns(), core.Event{
		Type: core.EventParticipantJoined,
		Data: ParticipantJoinedData{
			Code:         code,
			Participant:  participantView(peer),
			Participants: res.Room.Participants,
			CurrentMedia: res.CurrentMedia,
			Reconnected:  reconnected,
		},
	})
	o.broadcastRoomListLocked()

	log.Info().Str("module", "orch").Str("room", string(code)).Str("peer", string(id)).Str("conn", string(conn)).Bool("reconnected", reconnected).Msg("joined")
	return res, nil
}

// LeaveRoom is the voluntary departure of id.
func (o *Orchestrator) LeaveRoom(ctx context.Context, code domain.RoomCode, id domain.UserID, conn core.ConnID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	room, ok := o.Registry.Get(code)
	if !ok {
		return core.Errorf(core.KindNotFound, "room %s not found", code)
	}
	peer, ok := room.Peer(id)
	if !ok {
		return core.Errorf(core.KindNotFound, "peer %s not in room %s", id, code)
	}
	wasOngoing := room.Meta.Ongoing()
	o.removePeerLocked(room, peer, ReasonLeft)
	if wasOngoing {
		o.broadcastRoomListLocked()
	}
	log.Info().Str("module", "orch").Str("room", string(code)).Str("peer", string(id)).Str("conn", string(conn)).Msg("left")
	return nil
}

// removePeerLocked is the single removal path shared by leave and
// disconnect: drop the peer, release its media, hand host authority on or
// end the room, then tell whoever remains.
func (o *Orchestrator) removePeerLocked(room *core.RoomState, peer *core.PeerState, reason string) {
	id := peer.Meta.ID
	room.RemovePeer(id)
	o.Registry.UnbindConn(peer.Conn, app.PeerRef{Code: room.Meta.Code, ID: id})
	closeTransports(peer)

	if !room.Meta.Ongoing() {
		return
	}

	for _, info := range peer.ProducerInfos() {
		o.publish(room.Conns(), core.Event{
			Type: core.EventProducerClosed,
			Data: ProducerEventData{Code: room.Meta.Code, ProducerInfo: info},
		})
	}

	if room.PeerCount() == 0 {
		o.endLocked(room, ReasonEmpty)
		return
	}
	if peer.Meta.IsHost {
		_ = o.transferHostLocked(room, id)
	}
	o.publish(room.Conns(), core.Event{
		Type: core.EventParticipantLeft,
		Data: ParticipantLeftData{
			Code:         room.Meta.Code,
			Identity:     id,
			DisplayName:  peer.Meta.DisplayName,
			Reason:       reason,
			Participants: rosterView(room),
		},
	})
}

// UpdateParticipantStatus applies only the fields present in upd.
func (o *Orchestrator) UpdateParticipantStatus(ctx context.Context, code domain.RoomCode, id domain.UserID, upd StatusUpdate) (core.ParticipantView, error) {
	if upd.IsMuted == nil && upd.IsVideoEnabled == nil {
		return core.ParticipantView{}, core.Errorf(core.KindBadRequest, "no status fields to update")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	room, peer, err := o.lookupLocked(code, id)
	if err != nil {
		return core.ParticipantView{}, err
	}
	peer.Meta.Apply(domain.Profile{IsMuted: upd.IsMuted, IsVideoEnabled: upd.IsVideoEnabled})
	view := participantView(peer)

	o.publish(room.Conns(), core.Event{
		Type: core.EventParticipantStatusUpdated,
		Data: ParticipantStatusData{Code: code, Participant: view},
	})
	return view, nil
}
