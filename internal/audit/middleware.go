package audit

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Track records the outcome of a business action once its handler returns.
// Status below 400 is a success. If the request was cancelled or timed out,
// an action_cancelled failure is recorded instead, on a context detached
// from the cancellation so the record is never lost with the request.
func Track(recorder Recorder, eventType EventType, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			ctx := r.Context()
			entry := Entry{
				EventType: eventType,
				Outcome:   OutcomeSuccess,
				Payload: map[string]any{
					"method": r.Method,
					"route":  routePattern(r),
					"status": ww.Status(),
				},
			}
			if ww.Status() >= http.StatusBadRequest {
				entry.Outcome = OutcomeFailure
			}
			if err := ctx.Err(); err != nil {
				entry.EventType = EventActionCancelled
				entry.Outcome = OutcomeFailure
				entry.Payload["reason"] = "cancelled"
				entry.Payload["action"] = string(eventType)
			}

			detached := context.WithoutCancel(ctx)
			if _, err := recorder.Record(detached, entry); !IsDurable(err) {
				logger.ErrorContext(detached, "failed to record action outcome",
					"event_type", entry.EventType,
					"error", err,
				)
			}
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
