package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	SendBuffer     int
	ReadLimit      int64
	PingPeriod     time.Duration
	RequestTimeout time.Duration
	AllowGuests    bool
	CreateRate     rate.Limit
	CreateBurst    int
}

func (o *Options) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.CreateRate <= 0 {
		o.CreateRate = rate.Every(10 * time.Second)
	}
	if o.CreateBurst <= 0 {
		o.CreateBurst = 3
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Hub      *Hub
	Verifier core.IdentityVerifier

	opts     Options
	limiter  *RoomRateLimiter
	handlers map[string]handlerFunc
}

// NewSignalWSController serves the signaling websocket. verifier may be nil,
// in which case only guests can connect.
func NewSignalWSController(o *orch.Orchestrator, hub *Hub, verifier core.IdentityVerifier, opts Options) *SignalWSController {
	opts.withDefaults()
	ctl := &SignalWSController{
		Orch:     o,
		Hub:      hub,
		Verifier: verifier,
		opts:     opts,
		limiter:  NewRoomRateLimiter(opts.CreateRate, opts.CreateBurst),
	}
	ctl.handlers = ctl.routes()
	return ctl
}

// WsSignalConn is one client websocket. It implements core.SignalConnection.
type WsSignalConn struct {
	id       core.ConnID
	identity core.Identity
	conn     *websocket.Conn
	send     chan core.Frame
	strikes  atomic.Int32

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func newWsSignalConn(ws *websocket.Conn, who core.Identity, buffer int) *WsSignalConn {
	return &WsSignalConn{
		id:       core.ConnID(uuid.NewString()),
		identity: who,
		conn:     ws,
		send:     make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) Identity() core.Identity { return c.identity }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	who, err := ctl.identify(c)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("signal auth refused")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": core.Message(err)})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, who, ctl.opts.SendBuffer)
	ctl.Hub.Register(conn)
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("identity", string(who.ID)).Bool("verified", who.Verified).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
