package audit

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

import "context"

// Store persists sealed events. Implementations never update or delete.
//
// Last returns sentinel.ErrNotFound on an empty log. Range returns events
// with from <= sequence_number < to in ascending order; to == 0 means no
// upper bound.
type Store interface {
	Append(ctx context.Context, event Event) error
	Last(ctx context.Context) (*Event, error)
	Range(ctx context.Context, from, to uint64) ([]Event, error)
	ByCorrelation(ctx context.Context, correlationID string) ([]Event, error)
}

// Recorder is the producer-facing side of the trail used by other modules.
type Recorder interface {
	Record(ctx context.Context, entry Entry) (*Event, error)
	RecordSync(ctx context.Context, entry Entry) (*Event, error)
}

// Alerter delivers operator alerts.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}
