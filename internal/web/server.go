// Package web serves the Telegram Mini App report form, Login Widget sign-in
// and the report API.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hihikaAAa/team-reports/internal/metrics"
	"github.com/hihikaAAa/team-reports/internal/storage/sqlite"
	"github.com/hihikaAAa/team-reports/internal/summary"
	"github.com/hihikaAAa/team-reports/internal/tgauth"
)

type Options struct {
	Listen string
	// RateLimit is write requests per second per client IP; 0 disables it.
	RateLimit    float64
	SecureCookie bool
	Gatherer     prometheus.Gatherer
}

type Server struct {
	echo     *echo.Echo
	db       *sqlite.DB
	verifier *tgauth.Verifier
	sessions *Sessions
	summary  *summary.Generator
	metrics  *metrics.Metrics
	opts     Options
}

func New(opts Options, db *sqlite.DB, verifier *tgauth.Verifier, sessions *Sessions, m *metrics.Metrics) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		echo:     echo.New(),
		db:       db,
		verifier: verifier,
		sessions: sessions,
		summary:  summary.NewGenerator(db),
		metrics:  m,
		opts:     opts,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("http request")
			return nil
		},
	}))

	limit := s.rateLimit()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	e.GET("/report", s.reportForm)
	e.POST("/submit_report", s.submitReport, limit)

	e.POST("/auth", s.auth)
	e.POST("/register", s.register)
	e.POST("/logout", s.logout)

	api := e.Group("/api", s.requireSession)
	api.GET("/reports", s.listReports)
	api.POST("/reports", s.createReport, limit)
	api.GET("/reports/weekly", s.weeklyReports)
}

func (s *Server) rateLimit() echo.MiddlewareFunc {
	if s.opts.RateLimit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(s.opts.RateLimit)),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
		},
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.opts.Listen).Msg("web server started")
		errc <- s.echo.Start(s.opts.Listen)
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
