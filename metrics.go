package autoprobe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MetricsPath is where the probe publishes its prometheus metrics.
const MetricsPath = "/internal/metrics"

// MetricsRoute registers the handler for gatherer on router at MetricsPath.
func MetricsRoute(router *mux.Router, gatherer prometheus.Gatherer) *mux.Route {
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	return router.Handle(MetricsPath, otelhttp.NewHandler(handler, "metrics")).Methods(http.MethodGet)
}

// NewMetricsServer returns a server for the metrics route on addr. Requests are logged at debug
// level by the Observer in ctxWithObserver.
func NewMetricsServer(ctxWithObserver context.Context, addr string, gatherer prometheus.Gatherer) (server *http.Server, fault error) {
	_, o, err := Get(ctxWithObserver)
	if err != nil {
		return nil, fmt.Errorf("could not get autoprobe observer from context: %w", err)
	}

	router := mux.NewRouter()
	router.Use(requestLoggerMiddleware(o))
	MetricsRoute(router, gatherer)

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

func requestLoggerMiddleware(o *Observer) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t0 := time.Now()
			mrw := newMiddlewareResponseWriter(w)

			next.ServeHTTP(mrw, r)

			o.Debug("request processed",
				FieldRequestMethod, r.Method,
				FieldRequestPath, r.URL.Path,
				FieldStatusCode, mrw.statusCode,
				FieldCallDuration, time.Since(t0),
			)
		})
	}
}

// MiddlewareResponseWriter captures the status code of the response.
type MiddlewareResponseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

// WriteHeader sends an HTTP response header with the provided status code.
func (mrw *MiddlewareResponseWriter) WriteHeader(code int) {
	if !mrw.headerWritten {
		mrw.statusCode = code
		mrw.ResponseWriter.WriteHeader(code)
		mrw.headerWritten = true
	}
}

// Write implements http.ResponseWriter.
func (mrw *MiddlewareResponseWriter) Write(b []byte) (int, error) {
	if !mrw.headerWritten {
		mrw.WriteHeader(http.StatusOK)
	}

	return mrw.ResponseWriter.Write(b)
}

func newMiddlewareResponseWriter(w http.ResponseWriter) *MiddlewareResponseWriter {
	return &MiddlewareResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}
