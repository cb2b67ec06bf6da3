// Package httpmiddleware contains the HTTP middleware chain shared by the
// service's servers.
package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Middleware wraps an http.Handler.
type Middleware func(next http.Handler) http.Handler

// Wrap applies middlewares so that the first one is outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder returns the route pattern serving r, or "" if none matches.
type RouteFinder func(r *http.Request) string

// MakeRouteFinder resolves route patterns against a chi router. Middleware
// outside the router cannot read chi's route context, so the lookup is done
// with a fresh one.
func MakeRouteFinder(mux *chi.Mux) RouteFinder {
	return func(r *http.Request) string {
		return mux.Find(chi.NewRouteContext(), r.Method, r.URL.Path)
	}
}

func routeOrPath(find RouteFinder, r *http.Request) string {
	if route := find(r); route != "" {
		return route
	}
	return "unknown"
}

// InjectLogger stores lg, annotated with the request id, in the request
// context for zctx.From.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := zctx.Base(r.Context(), lg)
			if id := RequestIDFromContext(ctx); id != "" {
				ctx = zctx.With(ctx, zap.String("request_id", id))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusWriter records the response status and size.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LogRequests logs one line per request.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			lg := zctx.From(r.Context())
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", routeOrPath(find, r)),
				zap.Int("status", sw.status),
				zap.Int("bytes", sw.bytes),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case sw.status >= http.StatusInternalServerError:
				lg.Warn("Request failed", fields...)
			default:
				lg.Info("Request", fields...)
			}
		})
	}
}

// Telemetry provides tracer and meter providers.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument traces and meters requests with otelhttp. Span names use the
// route pattern to keep cardinality bounded.
func Instrument(serviceName string, find RouteFinder, t Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(t.TracerProvider()),
			otelhttp.WithMeterProvider(t.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + routeOrPath(find, r)
			}),
			otelhttp.WithFilter(func(r *http.Request) bool {
				switch r.URL.Path {
				case "/livez", "/readyz":
					return false
				default:
					return true
				}
			}),
		)
	}
}

// Labeler adds the route pattern to otelhttp metrics. It must run inside
// Instrument.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
				labeler.Add(attribute.String("http.route", routeOrPath(find, r)))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes the service's JSON error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
