package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxTraceIDLength = 128

// TraceMiddleware propagates X-Trace-ID (or X-Request-ID) through the request
// context and echoes it on the response. Missing or oversized ids are replaced.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get("X-Trace-ID"))
		if traceID == "" {
			traceID = strings.TrimSpace(r.Header.Get("X-Request-ID"))
		}
		if traceID == "" || len(traceID) > maxTraceIDLength {
			traceID = uuid.NewString()
		}
		r.Header.Set("X-Trace-ID", traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
