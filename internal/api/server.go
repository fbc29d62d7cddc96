// Package api serves the stored events over HTTP.
//
// All routes are read-only. Listing routes return JSON, /calendar.ics an iCalendar feed
// and /metrics the Prometheus registry. When a Cache is configured, successful GET
// responses of the data routes are cached for the configured TTL.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vmoraes/event-harvester/internal/calendar"
	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/metrics"
	"github.com/vmoraes/event-harvester/internal/store"
)

const (
	DefaultUpcomingLimit = 2
	DefaultCacheTTL      = time.Minute
)

// Options configures a Server. Cache and Metrics are optional.
type Options struct {
	Reader   store.Reader
	Metrics  *metrics.Metrics
	Cache    Cache
	CacheTTL time.Duration
	// CalendarName is written as X-WR-CALNAME.
	CalendarName string
}

// Server is the HTTP read API.
type Server struct {
	echo   *echo.Echo
	reader store.Reader
	opts   Options
	log    *logger.Logger
	now    func() time.Time
}

// New builds the server and registers its routes.
func New(opts Options, log *logger.Logger) *Server {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		reader: opts.Reader,
		opts:   opts,
		log:    log.With(logger.Fields{"component": "api"}),
		now:    time.Now,
	}
	e.HTTPErrorHandler = s.errorHandler
	e.Use(s.requestLog)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if s.opts.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.opts.Metrics.Handler()))
	}

	cached := cacheMiddleware(s.opts.Cache, s.opts.CacheTTL, s.log)
	s.echo.GET("/events", s.allEvents, cached)
	s.echo.GET("/events/upcoming", s.upcoming, cached)
	s.echo.GET("/events/search", s.byLocation, cached)
	s.echo.GET("/events/by-metadata", s.withMetadata, cached)
	s.echo.GET("/metadata", s.metadata, cached)
	s.echo.GET("/calendar.ics", s.calendar, cached)
}

// ServeHTTP lets the server be used as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", logger.Fields{"addr": addr})
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("HTTP server shutting down", nil)
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type listResponse struct {
	Events []store.Listing `json:"events"`
	Count  int             `json:"count"`
}

func list(c echo.Context, events []store.Listing) error {
	return c.JSON(http.StatusOK, listResponse{Events: events, Count: len(events)})
}

func (s *Server) allEvents(c echo.Context) error {
	return list(c, s.reader.AllEvents(c.Request().Context()))
}

func (s *Server) upcoming(c echo.Context) error {
	limit := DefaultUpcomingLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	return list(c, s.reader.Upcoming(c.Request().Context(), limit))
}

func (s *Server) byLocation(c echo.Context) error {
	location := c.QueryParam("location")
	if location == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "location is required")
	}
	return list(c, s.reader.ByLocation(c.Request().Context(), location))
}

func (s *Server) withMetadata(c echo.Context) error {
	key, value := c.QueryParam("key"), c.QueryParam("value")
	if !event.IsMetadataKey(key) {
		return echo.NewHTTPError(http.StatusBadRequest, "key must be one of price, priceCurrency, availability, image, url")
	}
	return list(c, s.reader.WithMetadata(c.Request().Context(), key, value))
}

func (s *Server) metadata(c echo.Context) error {
	return c.JSON(http.StatusOK, s.reader.MetadataByEvent(c.Request().Context()))
}

func (s *Server) calendar(c echo.Context) error {
	ics := calendar.GenerateICS(s.reader.AllEvents(c.Request().Context()), s.opts.CalendarName, s.now())
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics))
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := interface{}(http.StatusText(code))
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = he.Message
	} else {
		s.log.Error("Request failed", logger.Fields{"path": c.Request().URL.Path}, err)
	}

	if werr := c.JSON(code, map[string]interface{}{"error": msg}); werr != nil {
		s.log.Warn("Writing error response failed", logger.Fields{"error": werr.Error()})
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.Debug("Request served", logger.Fields{
			"method":     c.Request().Method,
			"path":       c.Request().URL.Path,
			"status":     c.Response().Status,
			"elapsed_ms": time.Since(start).Milliseconds(),
			"cache":      c.Response().Header().Get("X-Cache"),
		})
		return nil
	}
}
