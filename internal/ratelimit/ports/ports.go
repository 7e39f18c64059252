// Package ports defines shared interfaces for the ratelimit module.
package ports

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"time"

	"trustcore/internal/audit"
	"trustcore/internal/ratelimit/models"
	"trustcore/pkg/requestcontext"
)

// WindowStore manages fixed-window rate limit counters.
type WindowStore interface {
	// Hit reads the window for key, resets it when now-start >= window and
	// increments the count only when it is below limit. The read-modify-write
	// is atomic per key.
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*models.HitResult, error)

	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error
}

// AuditRecorder is the slice of the audit trail the governor writes to.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (*audit.Event, error)
}

// LogAudit logs an audit line and records the durable audit event when a
// recorder is configured. attrs are key/value pairs copied into the payload.
func LogAudit(ctx context.Context, logger *slog.Logger, recorder AuditRecorder, event audit.EventType, outcome audit.Outcome, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if recorder == nil {
		return
	}
	payload := make(map[string]any, len(attrs)/2)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok || key == "request_id" {
			continue
		}
		payload[key] = attrs[i+1]
	}
	_, err := recorder.Record(ctx, audit.Entry{
		EventType: event,
		Outcome:   outcome,
		Payload:   payload,
	})
	if !audit.IsDurable(err) && logger != nil {
		logger.WarnContext(ctx, "failed to record audit event", "event", string(event), "error", err)
	}
}
