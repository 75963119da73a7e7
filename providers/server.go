// Package providers exposes the relay hub over HTTP: a Fiber app for
// the JSON routes and a raw fasthttp handler for WebSocket upgrades,
// since Fiber v3 does not expose *fasthttp.RequestCtx.
package providers

import (
	"context"
	"net"
	"strings"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/waseem2959/flextasker-realtime/src/relay"
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server serves the realtime relay: REST info routes via Fiber and the
// /ws WebSocket endpoint via fasthttp.
type Server struct {
	hub    *relay.Hub
	auth   *relay.Authenticator
	app    *fiber.App
	srv    *fasthttp.Server
	logger zerolog.Logger
}

// NewServer wires the hub and authenticator into an HTTP server.
func NewServer(hub *relay.Hub, auth *relay.Authenticator, logger zerolog.Logger) *Server {
	s := &Server{
		hub:    hub,
		auth:   auth,
		app:    fiber.New(),
		logger: logger.With().Str("component", "server").Logger(),
	}
	s.registerRoutes()
	// The upgrade handler keeps writing from a goroutine after the
	// hijack handler returns, so fasthttp must not pool the hijacked
	// conn wrapper out from under it.
	s.srv = &fasthttp.Server{Handler: s.Handler(), KeepHijackedConns: true}
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Get("/ws/info", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"websocket": true,
			"endpoint":  "/ws",
			"sessions":  s.hub.SessionCount(),
			"rooms":     len(s.hub.Rooms()),
		})
	})
}

// Handler returns the root fasthttp handler: /ws goes to the upgrader,
// everything else to the Fiber app.
func (s *Server) Handler() fasthttp.RequestHandler {
	fiberHandler := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			s.handleUpgrade(ctx)
			return
		}
		fiberHandler(ctx)
	}
}

func (s *Server) handleUpgrade(ctx *fasthttp.RequestCtx) {
	upgrade := string(ctx.Request.Header.Peek("Upgrade"))
	if !strings.EqualFold(upgrade, "websocket") {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
		return
	}

	principal, err := s.auth.Authenticate(bearerToken(ctx))
	if err != nil {
		s.logger.Warn().Err(err).Msg("rejected websocket auth")
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(`{"error":"unauthorized","message":"invalid or missing token"}`)
		return
	}

	sessionID := uuid.New().String()
	platform := string(ctx.QueryArgs().Peek("platform"))
	if platform == "" {
		platform = "web"
	}

	err = upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		session := relay.NewSession(sessionID, principal, platform, &fasthttpConn{conn}, s.hub)
		s.hub.Register(session)
		go session.WritePump()
		session.ReadPump()
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// bearerToken extracts the session token from the Authorization header
// or, for browser clients that cannot set headers on WebSocket dials,
// the token query parameter.
func bearerToken(ctx *fasthttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return string(ctx.QueryArgs().Peek("token"))
}

// Serve accepts connections on the listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	return s.srv.ListenAndServe(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

// fasthttpConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type fasthttpConn struct {
	conn *websocket.Conn
}

func (f *fasthttpConn) WriteJSON(v any) error { return f.conn.WriteJSON(v) }
func (f *fasthttpConn) ReadJSON(v any) error  { return f.conn.ReadJSON(v) }
func (f *fasthttpConn) Close() error          { return f.conn.Close() }
