// Package myhttp is the instrumented router shared by the HTTP services:
// every route gets a span, a duration sample, profiling labels and a
// request-scoped logger.
package myhttp

import (
	"context"
	"log/slog"
	"net/http"

	"gpu-conformance/internal/logging"

	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

func NewRouter(logger *slog.Logger, httpRequestsDurationMicroSeconds metric.Int64Histogram) *Router {
	return &Router{
		ServeMux:                         http.NewServeMux(),
		logger:                           logging.OrDiscard(logger),
		httpRequestsDurationMicroSeconds: httpRequestsDurationMicroSeconds,
	}
}

type loggerKey struct{}

// Logger returns the request-scoped logger installed by the middleware,
// tagged with the trace and span ids and any Label pairs of the request.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Label runs fn with key/value pairs such as the backend or test name of a
// request attached to the current span, the request logger and the profiler
// labels. A trailing key without value is dropped.
func Label(ctx context.Context, fn func(ctx context.Context), kv ...string) {
	kv = kv[:len(kv)&^1]

	spanAttrs := make([]attribute.KeyValue, 0, len(kv)/2)
	logAttrs := make([]any, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		spanAttrs = append(spanAttrs, attribute.String(kv[i], kv[i+1]))
		logAttrs = append(logAttrs, slog.String(kv[i], kv[i+1]))
	}
	trace.SpanFromContext(ctx).SetAttributes(spanAttrs...)
	ctx = withLogger(ctx, Logger(ctx).With(logAttrs...))

	pyroscope.TagWrapper(ctx, pyroscope.Labels(kv...), fn)
}
