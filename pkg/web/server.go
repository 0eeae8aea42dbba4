// Package web serves the stockweb pages over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/telemetry"
	"github.com/stocktracker/stockweb/pkg/views"
)

// TracerName is the instrumentation scope of server spans.
const TracerName = "stockweb/web"

const defaultShutdownTimeout = 5 * time.Second

// Config configures a Server. Deps.API is required.
type Config struct {
	Addr            string
	Debug           bool
	TemplateDir     string
	ShutdownTimeout time.Duration

	Deps       *views.Deps
	Flusher    views.Flusher
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator
	Logger     *telemetry.Logger
	Metrics    *telemetry.Metrics
}

// Server renders the pages and runs the page actions.
type Server struct {
	cfg        Config
	deps       *views.Deps
	views      *views.Set
	templates  *Templates
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	validate   *validator.Validate
	httpServer *http.Server
}

// NewServer parses the templates and builds the server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Deps == nil || cfg.Deps.API == nil {
		return nil, fmt.Errorf("web: backend api client is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		cfg:        cfg,
		deps:       cfg.Deps,
		views:      views.NewSet(cfg.Deps),
		tracer:     cfg.Tracer,
		propagator: cfg.Propagator,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(TracerName)
	}
	if s.propagator == nil {
		s.propagator = otel.GetTextMapPropagator()
	}
	if s.logger == nil {
		s.logger = telemetry.NopLogger()
	}

	tmpl, err := LoadTemplates(cfg.TemplateDir, s.logger.NewComponentLogger("templates"))
	if err != nil {
		return nil, err
	}
	s.templates = tmpl

	return s, nil
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.Routes()
}

// Start serves until ctx is done, then drains in-flight requests for at
// most ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	if err := s.templates.Watch(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Zerolog().Info().Str("addr", s.cfg.Addr).Msg("Web server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Web server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
