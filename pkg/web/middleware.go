package web

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/stocktracker/stockweb/pkg/telemetry"
)

// SessionCookie names the cookie holding the anonymous session id.
const SessionCookie = "stockweb_session"

const (
	sessionMaxAge  = 365 * 24 * 60 * 60
	unmatchedRoute = "unmatched"
)

type sessionContextKey struct{}

// SessionFromContext returns the session id set by the session middleware.
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionContextKey{}).(string)
	return id
}

// statusWriter captures the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}

// wrap returns w as a *statusWriter, reusing an outer wrapper.
func wrap(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

// routeTemplate returns the matched mux path template.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return unmatchedRoute
}

// recoverer turns a handler panic into a 500 page.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrap(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			s.logger.Ctx(r.Context()).Zerolog().Error().
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Str("path", r.URL.Path).
				Msg("Handler panicked")

			if !sw.wroteHeader {
				s.renderStatus(sw, r, http.StatusInternalServerError, "server_error", page{Title: "Error"})
			}
		}()
		next.ServeHTTP(sw, r)
	})
}

// tracing starts a server span named after the route template, continuing
// any trace context sent by the caller.
func (s *Server) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := s.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		route := routeTemplate(r)

		ctx, span := s.tracer.Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				telemetry.AttrHTTPMethod.String(r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.RequestURI()),
			),
		)
		defer span.End()

		sw := wrap(w)
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(telemetry.AttrHTTPStatusCode.Int(sw.status))
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

// logging logs one line per request with trace ids and stores a request
// scoped logger in the context.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.Ctx(r.Context())

		sw := wrap(w)
		next.ServeHTTP(sw, r.WithContext(logger.WithContext(r.Context())))

		logger.Zerolog().Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", routeTemplate(r)).
			Int("status", sw.status).
			Int64("bytes", sw.size).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

// metered records Prometheus HTTP metrics labelled by route template.
func (s *Server) metered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrap(w)
		next.ServeHTTP(sw, r)
		s.metrics.RecordHTTPRequest(r.Method, routeTemplate(r), sw.status, time.Since(start), r.ContentLength, sw.size)
	})
}

// session ensures every request carries a session cookie.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(SessionCookie); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   sessionMaxAge,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		if s.deps.Store != nil {
			if err := s.deps.Store.TouchSession(r.Context(), id); err != nil {
				s.logger.Ctx(r.Context()).WithError(err).Warn("Failed to record session")
			}
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// middleware returns the chain, outermost first.
func (s *Server) middleware() []mux.MiddlewareFunc {
	return []mux.MiddlewareFunc{
		s.recoverer,
		s.tracing,
		s.logging,
		s.metered,
		s.session,
	}
}

// chain applies mws to h so that mws[0] runs first.
func chain(h http.Handler, mws ...mux.MiddlewareFunc) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
