package signal

import (
	"context"
	"encoding/json"
	"time"
)

type handlerFunc func(ctx context.Context, c *WsSignalConn, data json.RawMessage) (any, error)

func (ctl *SignalWSController) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"room.create":                  ctl.handleCreate,
		"room.join":                    ctl.handleJoin,
		"room.leave":                   ctl.handleLeave,
		"room.end":                     ctl.handleEnd,
		"room.list":                    ctl.handleList,
		"room.details":                 ctl.handleDetails,
		"room.updateParticipantStatus": ctl.handleStatus,
		"media.setCapabilities":        ctl.handleCapabilities,
		"media.createTransport":        ctl.handleCreateTransport,
		"media.connectTransport":       ctl.handleConnectTransport,
		"media.produce":                ctl.handleProduce,
		"media.createConsumer":         ctl.handleCreateConsumer,
		"media.resumeConsumer":         ctl.handleResumeConsumer,
		"media.closeProducer":          ctl.handleCloseProducer,
		"ping":                         ctl.handlePing,
		"whoami":                       ctl.handleWhoAmI,
	}
}

func (ctl *SignalWSController) handlePing(_ context.Context, _ *WsSignalConn, _ json.RawMessage) (any, error) {
	resp := struct {
		Pong bool  `json:"pong"`
		Time int64 `json:"time"`
	}{
		Pong: true,
		Time: time.Now().UnixMilli(),
	}
	return resp, nil
}
