// Package signal is the WebSocket boundary for presentation clients.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceGuide/internal/app/hub"
	"github.com/dkeye/VoiceGuide/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration

	// Intents per client: one token every IntentEvery, bursting to IntentBurst.
	IntentEvery time.Duration
	IntentBurst int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:   32768,
		PingPeriod:  54 * time.Second,
		IntentEvery: time.Second,
		IntentBurst: 3,
	}
}

type SignalWSController struct {
	Session core.SessionControl
	Hub     *hub.Hub

	ctx     context.Context
	opts    Options
	limiter *IntentLimiter
}

// NewSignalWSController serves session intents over WS. ctx is the server
// lifetime; session starts requested by clients run under it.
func NewSignalWSController(ctx context.Context, session core.SessionControl, h *hub.Hub, opts Options) *SignalWSController {
	return &SignalWSController{
		Session: session,
		Hub:     h,
		ctx:     ctx,
		opts:    opts,
		limiter: NewIntentLimiter(opts.IntentEvery, opts.IntentBurst),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
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
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the client until it leaves.
// ctx bounds the pumps.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := core.ClientID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("client", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Bind(id, conn)
	ctl.sendJSON(conn, hub.StatusEnvelope(ctl.Session.Status()))

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		defer ctl.limiter.Forget(id)
		defer ctl.Hub.Unbind(id, conn)
		ctl.readPump(ctx, id, conn)
	}()
}
