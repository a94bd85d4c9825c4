package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"calsync/internal/models"
	"calsync/internal/store"
	"calsync/internal/syncer"
	"calsync/internal/worker"
)

// Server receives Google push notifications and exposes a small operational
// API over the engine: manual sync triggers and conflict inspection and
// resolution. It never parses webhook payloads beyond the channel headers;
// a push means "please sync calendar X now".
type Server struct {
	logger    *slog.Logger
	engine    *syncer.Engine
	pool      *worker.Pool
	calendars *store.CalendarStore
	echo      *echo.Echo
}

// New wires the routes.
func New(logger *slog.Logger, engine *syncer.Engine, pool *worker.Pool, calendars *store.CalendarStore) *Server {
	s := &Server{
		logger:    logger,
		engine:    engine,
		pool:      pool,
		calendars: calendars,
		echo:      echo.New(),
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())

	s.echo.GET("/healthz", s.health)
	s.echo.POST("/webhooks/google", s.googleWebhook)
	s.echo.POST("/calendars/:id/sync", s.triggerSync)
	s.echo.GET("/conflicts", s.listConflicts)
	s.echo.GET("/conflicts/:canonicalID", s.getConflict)
	s.echo.POST("/conflicts/:canonicalID/resolve", s.resolveConflict)
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// googleWebhook handles a provider push notification. The watch channel is
// registered with its calendar id as the channel token, so the token header
// is all that is needed to know what to sync.
func (s *Server) googleWebhook(c echo.Context) error {
	// The initial handshake message carries state "sync" and no change.
	if c.Request().Header.Get("X-Goog-Resource-State") == "sync" {
		return c.NoContent(http.StatusOK)
	}

	calendarID := c.Request().Header.Get("X-Goog-Channel-Token")
	if calendarID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing channel token")
	}
	if _, err := s.calendars.FindByID(calendarID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown calendar")
		}
		return err
	}

	s.logger.Debug("Webhook received", "calendar", calendarID)
	s.pool.Enqueue(calendarID)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) triggerSync(c echo.Context) error {
	calendarID := c.Param("id")
	if _, err := s.calendars.FindByID(calendarID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown calendar")
		}
		return err
	}
	s.pool.Enqueue(calendarID)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued", "calendar_id": calendarID})
}

func (s *Server) listConflicts(c echo.Context) error {
	conflicts, err := s.engine.DetectConflicts(c.Request().Context())
	if err != nil {
		return err
	}
	if conflicts == nil {
		conflicts = []*syncer.Conflict{}
	}
	return c.JSON(http.StatusOK, conflicts)
}

func (s *Server) getConflict(c echo.Context) error {
	conflict, err := s.engine.GetConflict(c.Request().Context(), c.Param("canonicalID"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown canonical event")
		}
		return err
	}
	if conflict == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, conflict)
}

func (s *Server) resolveConflict(c echo.Context) error {
	var res syncer.Resolution
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed resolution")
	}

	err := s.engine.ResolveConflict(c.Request().Context(), c.Param("canonicalID"), res)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
	case errors.Is(err, models.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}
