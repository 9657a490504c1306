package api

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// withTracing opens the server span that convert.image spans nest under.
func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int64("http.request.body.size", r.ContentLength),
			),
		)
		defer span.End()

		if caller := strings.TrimSpace(r.Header.Get(s.rateLimitSubjectHeader)); caller != "" {
			span.SetAttributes(attribute.String("pixelconvert.caller", caller))
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", recorder.status))
		switch {
		case recorder.status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
		case recorder.status == http.StatusTooManyRequests:
			span.AddEvent("rate limited")
		}
	})
}
