package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Dependencies holds everything the HTTP surface talks to
type Dependencies struct {
	Ingest  Ingester
	Hub     Broadcaster
	History HistoryStore // Optional
	Version string
}

// Server is the HTTP control surface
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer builds the echo instance with every route registered
func NewServer(addr string, deps Dependencies) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))

	RegisterRoutes(e, NewHandler(deps.Ingest, deps.Hub, deps.History, deps.Version), NewWebSocketHandler(deps.Hub))
	return &Server{echo: e, addr: addr}
}

// RegisterRoutes registers all routes with the echo instance
func RegisterRoutes(e *echo.Echo, h *Handler, ws *WebSocketHandler) {
	e.GET("/health", h.HandleHealth)
	e.GET("/ws", ws.HandleWebSocket)

	g := e.Group("/api")
	g.POST("/tail/start", h.HandleStartTail)
	g.POST("/scan", h.HandleScan)
	g.GET("/state", h.HandleState)
	g.GET("/checkpoints", h.HandleCheckpoints)
	g.GET("/history", h.HandleHistory)
	g.POST("/history/backfill", h.HandleBackfill)
}

// Handler exposes the router for in-process tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}
