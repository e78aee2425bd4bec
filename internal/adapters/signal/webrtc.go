package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type mediaRef struct {
	Code     domain.RoomCode `json:"code"`
	Identity domain.UserID   `json:"identity,omitempty"`
}

func (ctl *SignalWSController) handleCapabilities(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		mediaRef
		Capabilities core.RTPCapabilities `json:"capabilities"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return struct{}{}, ctl.Orch.SetCapabilities(ctx, p.Code, id, p.Capabilities)
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		mediaRef
		Direction core.Direction `json:"direction"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if !p.Direction.Valid() {
		return nil, core.Errorf(core.KindBadRequest, "invalid direction %q", p.Direction)
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.CreateTransport(ctx, p.Code, id, p.Direction)
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		mediaRef
		TransportID string             `json:"transportId"`
		Params      core.ConnectParams `json:"connectionParameters"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.ConnectTransport(ctx, p.Code, id, p.TransportID, p.Params)
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		mediaRef
		TransportID string         `json:"transportId"`
		Kind        core.MediaKind `json:"kind"`
		Parameters  struct {
			TrackID string `json:"trackId,omitempty"`
			Tag     string `json:"tag,omitempty"`
		} `json:"parameters"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if !p.Kind.Valid() {
		return nil, core.Errorf(core.KindBadRequest, "invalid media kind %q", p.Kind)
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	producerID, err := ctl.Orch.Produce(ctx, p.Code, id, p.TransportID, core.ProduceParams{
		Kind:    p.Kind,
		TrackID: p.Parameters.TrackID,
		Tag:     p.Parameters.Tag,
	})
	if err != nil {
		return nil, err
	}
	return struct {
		ProducerID string `json:"producerId"`
	}{producerID}, nil
}

func (ctl *SignalWSController) handleCreateConsumer(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		mediaRef
		ProducerID  string `json:"producerId"`
		TransportID string `json:"transportId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return ctl.Orch.CreateConsumer(ctx, p.Code, id, p.ProducerID, p.TransportID)
}

func (ctl *SignalWSController) handleResumeConsumer(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		mediaRef
		ConsumerID string `json:"consumerId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return struct{}{}, ctl.Orch.ResumeConsumer(ctx, p.Code, id, p.ConsumerID)
}

func (ctl *SignalWSController) handleCloseProducer(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error) {
	var p struct {
		mediaRef
		ProducerID string `json:"producerId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	id, err := actor(c, p.Identity)
	if err != nil {
		return nil, err
	}
	return struct{}{}, ctl.Orch.CloseProducer(ctx, p.Code, id, p.ProducerID)
}
