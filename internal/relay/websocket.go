package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/quickoh/relay/internal/identity"
	"github.com/quickoh/relay/internal/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 10 * time.Second
	eventTimeout = 5 * time.Second
)

type TransportOptions struct {
	Heartbeat      time.Duration
	AllowedOrigins []string
	SendBuffer     int
	MaxFrameSize   int64
	FrameRPS       int
	FrameBurst     int
}

// Handler upgrades HTTP requests to websocket connections served by a Hub.
type Handler struct {
	hub      *Hub
	auth     identity.Authenticator
	opts     TransportOptions
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, auth identity.Authenticator, opts TransportOptions) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	h := &Handler{hub: hub, auth: auth, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return utils.OriginAllowed(r.Header.Get("Origin"), opts.AllowedOrigins)
		},
	}
	return h
}

// Serve blocks until the client goes away.
func (h *Handler) Serve(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		log.WithField("prefix", "Handler.Serve").Debugf("upgrade failed: %v", err)
		return nil
	}

	var frames *rate.Limiter
	if h.opts.FrameRPS > 0 {
		frames = rate.NewLimiter(rate.Limit(h.opts.FrameRPS), h.opts.FrameBurst)
	}
	conn := NewConn(h.auth.Authenticate(c.Request()), h.opts.SendBuffer, frames)
	h.hub.Register(conn)

	connLog := log.WithFields(log.Fields{
		"prefix":  "Handler.Serve",
		"conn_id": conn.ID(),
		"user_id": conn.Identity().UserID,
	})
	connLog.Debug("connection opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ws, conn)
	}()

	h.readPump(ws, conn)

	h.hub.Unregister(conn)
	<-done
	_ = ws.Close()
	connLog.Debug("connection closed")
	return nil
}

func (h *Handler) readPump(ws *websocket.Conn, conn *Conn) {
	log := log.WithField("prefix", "Handler.readPump")

	if h.opts.MaxFrameSize > 0 {
		ws.SetReadLimit(h.opts.MaxFrameSize)
	}
	readWait := 2 * h.opts.Heartbeat
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithField("conn_id", conn.ID()).Debugf("read failed: %v", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		if !conn.allowFrame() {
			droppedEventsMetric.WithLabelValues("frame_flood").Inc()
			continue
		}
		var env Envelope
		if err := sonic.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.hub.reject(conn, env.Event, ReasonInvalidPayload)
			continue
		}
		utils.RunWithRecovery("relay."+env.Event, func() {
			ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
			defer cancel()
			h.hub.HandleEvent(ctx, conn, env)
		})
	}
}

func (h *Handler) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(h.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				// unblock the reader so the connection gets unregistered
				_ = ws.Close()
				drain(conn)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				drain(conn)
				return
			}
		}
	}
}

// drain consumes the outbound queue until the hub closes it.
func drain(conn *Conn) {
	for range conn.Outbound() {
	}
}
