package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns the connection: when it exits the connection is gone and
// every membership bound to it is reconciled.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		cancel()
		ctl.Hub.Unregister(c)
		c.Close()
		removed := ctl.Orch.OnConnectionLost(context.Background(), c.id)
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Int("removed", removed).Msg("readPump closing")
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, c, data)
		}
	}
}

// handleSignal decodes one request, runs its handler and acknowledges it.
func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		ctl.sendJSON(c, ackErr("", core.Wrap(core.KindBadRequest, err, "malformed request")))
		return
	}

	h, ok := ctl.handlers[req.Type]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", req.Type).Msg("unknown signal")
		ctl.sendJSON(c, ackErr(req.ID, core.Errorf(core.KindBadRequest, "unknown request type %q", req.Type)))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, ctl.opts.RequestTimeout)
	defer cancel()
	res, err := h(reqCtx, c, req.Data)
	if err != nil {
		ev := log.Debug()
		if core.KindOf(err) == core.KindInternal || core.KindOf(err) == core.KindUpstream {
			ev = log.Error()
		}
		ev.Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("type", req.Type).Msg("request failed")
		ctl.sendJSON(c, ackErr(req.ID, err))
		return
	}
	ctl.sendJSON(c, ackOK(req.ID, res))
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	ctl.Hub.deliver(c, b)
}
