package ports

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"trustcore/internal/audit"
	"trustcore/internal/auth/models"
	"trustcore/internal/risk"
)

// RevocationList records revoked token ids until the tokens would have
// expired anyway.
type RevocationList interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	RevokeTokens(ctx context.Context, jtis []string, ttl time.Duration) error
}

// LockoutStore counts failed logins per subject and holds lockouts. Both
// expire on their own.
type LockoutStore interface {
	// RecordFailure increments the failure counter, starting a window on the
	// first failure, and returns the new count.
	RecordFailure(ctx context.Context, subjectID string, window time.Duration) (int, error)
	// Lock locks the subject for cooldown and resets the counter.
	Lock(ctx context.Context, subjectID string, cooldown time.Duration) error
	// LockedFor returns the remaining lock time, zero when not locked.
	LockedFor(ctx context.Context, subjectID string) (time.Duration, error)
	// Clear resets the failure counter.
	Clear(ctx context.Context, subjectID string) error
}

// ActivityStore remembers which tokens have been presented at least once,
// moving them from issued to active.
type ActivityStore interface {
	MarkActive(ctx context.Context, jti string, ttl time.Duration) error
	IsActive(ctx context.Context, jti string) (bool, error)
}

// UserStore returns sentinel.ErrNotFound for unknown subjects.
type UserStore interface {
	FindBySubject(ctx context.Context, subjectID string) (*models.User, error)
}

type RiskEvaluator interface {
	Evaluate(ctx context.Context, c risk.Context) (*risk.Assessment, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (*audit.Event, error)
	RecordSync(ctx context.Context, entry audit.Entry) (*audit.Event, error)
}
