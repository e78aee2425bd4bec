package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

type roomRef struct {
	Code     domain.RoomCode `json:"code"`
	Identity domain.UserID   `json:"identity,omitempty"`
}

type roomResp struct {
	Room core.RoomView `json:"room"`
}

func (ctl *SignalWSController) handleCreate(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		orch.CreateRoomRequest
		Profile *domain.Profile `json:"profile,omitempty"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if !c.identity.Verified && !ctl.opts.AllowGuests {
		return nil, core.Errorf(core.KindUnauthenticated, "room creation requires a verified identity")
	}
	if !ctl.limiter.Allow(c.identity.ID) {
		log.Warn().Str("module", "signal").Str("identity", string(c.identity.ID)).Msg("room create rate limited")
		return nil, core.Errorf(core.KindRateLimited, "too many rooms created, try again later")
	}

	view, err := ctl.Orch.CreateRoom(ctx, p.CreateRoomRequest, orch.Requester{
		ID:      c.identity.ID,
		Profile: profileFor(c, p.Profile),
		Conn:    c.id,
	})
	if err != nil {
		return nil, err
	}
	return roomResp{Room: view}, nil
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		roomRef
		Profile *domain.Profile `json:"profile,omitempty"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.JoinRoom(ctx, p.Code, id, profileFor(c, p.Profile), c.id)
}

func (ctl *SignalWSController) handleLeave(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return struct{}{}, ctl.Orch.LeaveRoom(ctx, p.Code, id, c.id)
}

func (ctl *SignalWSController) handleEnd(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return struct{}{}, ctl.Orch.EndRoom(ctx, p.Code, id)
}

func (ctl *SignalWSController) handleList(_ context.Context, _ *WsSignalConn, _ json.RawMessage) (any, error) {
	return orch.RoomListData{Rooms: ctl.Orch.ListRooms()}, nil
}

func (ctl *SignalWSController) handleDetails(ctx context.Context, _ *WsSignalConn, data json.RawMessage) (any, error) {
	var p roomRef
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	view, err := ctl.Orch.RoomDetails(ctx, p.Code)
	if err != nil {
		return nil, err
	}
	return roomResp{Room: view}, nil
}

func (ctl *SignalWSController) handleStatus(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		roomRef
		Updates orch.StatusUpdate `json:"updates"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	view, err := ctl.Orch.UpdateParticipantStatus(ctx, p.Code, id, p.Updates)
	if err != nil {
		return nil, err
	}
	return struct {
		Participant core.ParticipantView `json:"participant"`
	}{view}, nil
}
