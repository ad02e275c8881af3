// Package signal is the WebSocket transport for the meeting coordination
// core: it upgrades connections, pumps frames, and dispatches envelopes to
// the coordinator.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/hallwaylabs/huddle/internal/app"
	"github.com/hallwaylabs/huddle/internal/config"
	"github.com/hallwaylabs/huddle/internal/core"
	"github.com/hallwaylabs/huddle/internal/domain"
)

type Controller struct {
	Coord *app.Coordinator

	readLimit   int64
	pingPeriod  time.Duration
	pongTimeout time.Duration
}

func NewController(coord *app.Coordinator, cfg *config.Config) *Controller {
	return &Controller{
		Coord:       coord,
		readLimit:   cfg.ReadLimit,
		pingPeriod:  cfg.PingPeriod,
		pongTimeout: cfg.PongTimeout,
	}
}

// WsSignalConn is the adapter-owned endpoint: a buffered ordered outbound
// queue over one websocket. TrySend never blocks; a full buffer reports
// backpressure instead.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, 32)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrBackpressure
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering runs in middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates and upgrades one connection, then runs its
// pumps. A request with no established identity never reaches a session.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	identVal, ok := c.Get("identity")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": core.ErrAuthenticationRequired.Message})
		return
	}
	ident := identVal.(domain.Identity)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := newWsSignalConn(ws)
	ctx, cancel := context.WithCancel(ctx)

	sess, err := ctl.Coord.Connect(sid, ident, conn, cancel)
	if err != nil {
		cancel()
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(ident.ID)).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sess, conn)
}
