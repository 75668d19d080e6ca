// Package realtime implements the authenticated websocket channel: rooms,
// presence, typing indicators and streamed generation.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/ai-pipeline/internal/auth"
	"github.com/capitalize-ai/ai-pipeline/internal/model"
	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
	"github.com/capitalize-ai/ai-pipeline/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	inboundBuffer  = 16
)

// Options configures a Gateway.
type Options struct {
	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string
}

// Gateway authenticates websocket handshakes and serves admitted
// connections.
type Gateway struct {
	hub      *Hub
	verifier auth.TokenVerifier
	streamer *Streamer
	upgrader websocket.Upgrader
	baseCtx  context.Context
	stop     context.CancelFunc
	logger   *logger.Logger
}

// NewGateway creates a gateway.
func NewGateway(hub *Hub, verifier auth.TokenVerifier, streamer *Streamer, opts Options, log *logger.Logger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		hub:      hub,
		verifier: verifier,
		streamer: streamer,
		baseCtx:  ctx,
		stop:     cancel,
		logger:   log.Component("gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return g
}

// Hub returns the gateway's hub.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Shutdown closes every connection and refuses new ones.
func (g *Gateway) Shutdown() {
	g.stop()
	g.hub.CloseAll()
}

// ServeHTTP handles GET /ws. The token is verified before the upgrade.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identityID, err := g.authenticate(r)
	if err != nil {
		g.logger.Debug("websocket handshake rejected", zap.Error(err), zap.String("remote", r.RemoteAddr))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		return
	}

	if g.baseCtx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := NewConn(g.baseCtx, identityID)
	g.serve(ws, c)
}

func (g *Gateway) authenticate(r *http.Request) (string, error) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", auth.ErrMissingToken
	}
	return g.verifier.Verify(token)
}

// serve runs the connection until the transport fails or c is closed.
func (g *Gateway) serve(ws *websocket.Conn, c *Conn) {
	log := g.logger.With(zap.String("socket", c.ID), zap.String("identity_id", c.IdentityID))

	g.hub.Admit(c)
	metrics.IncrementWSConnections()
	log.Info("websocket connected")

	inbound := make(chan model.Envelope, inboundBuffer)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		g.writePump(ws, c)
	}()
	go g.dispatchLoop(c, inbound)

	g.readPump(ws, c, inbound, log)

	c.Close()
	g.hub.Remove(c)
	<-writerDone
	_ = ws.Close()
	metrics.DecrementWSConnections()
	log.Info("websocket disconnected")
}

func (g *Gateway) readPump(ws *websocket.Conn, c *Conn, inbound chan<- model.Envelope, log *logger.Logger) {
	defer close(inbound)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.TrySend(mustEnvelope(model.EventError, model.ErrorEvent{Code: "invalid_frame", Message: "frames must be {event, data} JSON"}))
			continue
		}

		select {
		case inbound <- env:
		case <-c.Done():
			return
		}
	}
}

func (g *Gateway) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(env); err != nil {
				c.Close()
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				_ = ws.Close()
				return
			}
		case <-c.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = ws.Close()
			return
		}
	}
}

func (g *Gateway) dispatchLoop(c *Conn, inbound <-chan model.Envelope) {
	for env := range inbound {
		g.dispatch(c, env)
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
