package risk

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"trustcore/internal/audit"
)

// Observation is one accepted login folded into a subject's baseline.
type Observation struct {
	IP                string
	DeviceFingerprint string
	Hour              int
}

// BaselineStore holds login history. Get returns nil without error when
// the subject has none.
type BaselineStore interface {
	Get(ctx context.Context, subjectID string) (*Baseline, error)
	Observe(ctx context.Context, subjectID string, obs Observation) error
}

// AuditRecorder is the slice of the audit trail the engine writes to.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (*audit.Event, error)
	RecordSync(ctx context.Context, entry audit.Entry) (*audit.Event, error)
}

// Fingerprinter derives a device fingerprint from a User-Agent.
type Fingerprinter interface {
	ComputeFingerprint(userAgent string) string
}
