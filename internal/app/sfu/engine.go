// Package sfu is the pion based selective forwarding engine. Each room gets
// a Router; each peer direction a Transport backed by one PeerConnection.
package sfu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers []string
	// UDPPort multiplexes all ICE traffic on one socket; 0 uses ephemeral ports.
	UDPPort int
}

func DefaultConfig() Config {
	return Config{ICEServers: []string{"stun:stun.l.google.com:19302"}}
}

type Engine struct {
	cfg Config
	api *webrtc.API
	udp net.PacketConn

	fatal   chan error
	closing atomic.Bool

	mu      sync.Mutex
	routers map[string]*Router
}

var _ core.Engine = (*Engine)(nil)

func NewEngine(cfg Config) (*Engine, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		fatal:   make(chan error, 1),
		routers: make(map[string]*Router),
	}

	se := webrtc.SettingEngine{}
	if cfg.UDPPort > 0 {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.UDPPort})
		if err != nil {
			return nil, fmt.Errorf("listen rtc udp %d: %w", cfg.UDPPort, err)
		}
		e.udp = &watchedConn{PacketConn: conn, onErr: e.workerDied}
		se.SetICEUDPMux(webrtc.NewICEUDPMux(logging.NewDefaultLoggerFactory().NewLogger("ice"), e.udp))
		log.Info().Str("module", "sfu").Int("udp_port", cfg.UDPPort).Msg("ICE UDP mux listening")
	}

	e.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return e, nil
}

func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.closing.Load() {
		return nil, core.Errorf(core.KindUpstream, "media engine closed")
	}
	r := newRouter(uuid.NewString(), e)

	e.mu.Lock()
	e.routers[r.id] = r
	e.mu.Unlock()

	log.Debug().Str("module", "sfu").Str("router", r.id).Msg("router created")
	return r, nil
}

func (e *Engine) Fatal() <-chan error { return e.fatal }

func (e *Engine) Close() error {
	if !e.closing.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	routers := make([]*Router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
	if e.udp != nil {
		return e.udp.Close()
	}
	return nil
}

func (e *Engine) removeRouter(id string) {
	e.mu.Lock()
	delete(e.routers, id)
	e.mu.Unlock()
}

func (e *Engine) iceServers() []webrtc.ICEServer {
	if len(e.cfg.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: e.cfg.ICEServers}}
}

// workerDied reports the loss of the shared media socket once.
func (e *Engine) workerDied(err error) {
	if e.closing.Load() {
		return
	}
	log.Error().Err(err).Str("module", "sfu").Msg("media socket failed")
	select {
	case e.fatal <- fmt.Errorf("media worker died: %w", err):
	default:
	}
}

// watchedConn reports read failures of the multiplexed ICE socket.
type watchedConn struct {
	net.PacketConn
	onErr func(error)
}

func (c *watchedConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err != nil {
		var ne net.Error
		if !(errors.As(err, &ne) && ne.Timeout()) {
			c.onErr(err)
		}
	}
	return n, addr, err
}
