// Package audit implements the hash-chained, append-only audit trail.
//
// Producers call Record (or RecordSync) from request paths. Entries are
// queued on a bounded channel and a single consumer (Run) assigns sequence
// numbers, computes hashes and persists each event before taking the next,
// so the chain has exactly one writer. When the queue stays full longer than
// the enqueue timeout, entries are fsynced to a local spool and re-ingested
// once the queue drains.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/requestcontext"
)

// ErrDegraded accompanies an event that was spooled locally instead of being
// queued. The event is durable; callers may proceed.
var ErrDegraded = errors.New("audit trail degraded: entry spooled locally")

// IsDurable reports whether a Record result means the entry will reach the
// chain. Actions must not proceed otherwise.
func IsDurable(err error) bool {
	return err == nil || errors.Is(err, ErrDegraded)
}

const (
	defaultQueueSize      = 1024
	defaultEnqueueTimeout = 50 * time.Millisecond
	defaultSpoolInterval  = time.Second
)

type result struct {
	event Event
	err   error
}

type pending struct {
	event Event
	// done is nil for fire-and-forget entries.
	done chan result
}

// Trail is the audit trail service.
type Trail struct {
	store   Store
	spool   *Spool
	alerter Alerter
	logger  *slog.Logger

	queue          chan pending
	enqueueTimeout time.Duration
	spoolInterval  time.Duration

	mu     sync.RWMutex
	closed bool

	overflowing atomic.Bool
	stopped     chan struct{}

	// consumer state; touched only by Run
	nextSeq   uint64
	prevChain string
}

type Option func(*Trail)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithAlerter(alerter Alerter) Option {
	return func(t *Trail) {
		if alerter != nil {
			t.alerter = alerter
		}
	}
}

func WithQueueSize(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.queue = make(chan pending, n)
		}
	}
}

func WithEnqueueTimeout(d time.Duration) Option {
	return func(t *Trail) {
		if d >= 0 {
			t.enqueueTimeout = d
		}
	}
}

// WithSpoolInterval sets how often an idle consumer checks the spool.
func WithSpoolInterval(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.spoolInterval = d
		}
	}
}

func New(store Store, spool *Spool, opts ...Option) *Trail {
	t := &Trail{
		store:          store,
		spool:          spool,
		logger:         slog.Default(),
		queue:          make(chan pending, defaultQueueSize),
		enqueueTimeout: defaultEnqueueTimeout,
		spoolInterval:  defaultSpoolInterval,
		stopped:        make(chan struct{}),
		prevChain:      GenesisHash,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record queues an entry for chaining. The returned event carries every
// field except sequence number and hashes, which the consumer assigns.
func (t *Trail) Record(ctx context.Context, entry Entry) (*Event, error) {
	event, err := t.newEvent(ctx, entry)
	if err != nil {
		return nil, err
	}
	if err := t.enqueue(ctx, pending{event: event}); err != nil {
		return &event, err
	}
	return &event, nil
}

// RecordSync records an entry and waits until it is chained and persisted.
// Used before irreversible decisions.
func (t *Trail) RecordSync(ctx context.Context, entry Entry) (*Event, error) {
	event, err := t.newEvent(ctx, entry)
	if err != nil {
		return nil, err
	}
	p := pending{event: event, done: make(chan result, 1)}
	if err := t.enqueue(ctx, p); err != nil {
		return &event, err
	}
	select {
	case res := <-p.done:
		return &res.event, res.err
	case <-ctx.Done():
		return &event, dErrors.Wrap(ctx.Err(), dErrors.CodeCapacityExceeded, "audit persistence not confirmed")
	}
}

func (t *Trail) newEvent(ctx context.Context, entry Entry) (Event, error) {
	if entry.EventType == "" {
		return Event{}, dErrors.New(dErrors.CodeValidation, "event_type is required")
	}
	if !entry.Outcome.IsValid() {
		return Event{}, dErrors.New(dErrors.CodeValidation, "outcome must be success or failure")
	}
	payload, err := CanonicalPayload(entry.Payload)
	if err != nil {
		return Event{}, dErrors.Wrap(err, dErrors.CodeValidation, "payload must be a JSON object")
	}

	correlationID := entry.CorrelationID
	if correlationID == "" {
		correlationID = requestcontext.RequestID(ctx)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	actor := entry.ActorID
	if actor == "" {
		actor = requestcontext.SubjectID(ctx)
	}
	var actorID *string
	if actor != "" {
		actorID = &actor
	}

	return Event{
		// Postgres keeps microseconds; truncating keeps hashes stable across stores.
		Timestamp:     requestcontext.Now(ctx).UTC().Truncate(time.Microsecond),
		EventType:     entry.EventType,
		ActorID:       actorID,
		CorrelationID: correlationID,
		Outcome:       entry.Outcome,
		Payload:       payload,
	}, nil
}

func (t *Trail) enqueue(ctx context.Context, p pending) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.closed {
		select {
		case t.queue <- p:
			t.enqueued()
			return nil
		default:
		}

		timer := time.NewTimer(t.enqueueTimeout)
		defer timer.Stop()
		select {
		case t.queue <- p:
			t.enqueued()
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return t.spoolOverflow(ctx, p)
}

func (t *Trail) enqueued() {
	queueDepth.Set(float64(len(t.queue)))
	t.overflowing.Store(false)
}

// spoolOverflow writes the entry to the spool. The first overflow of an
// episode is preceded by a self-audit overflow record.
func (t *Trail) spoolOverflow(ctx context.Context, p pending) error {
	if t.spool == nil {
		return dErrors.New(dErrors.CodeCapacityExceeded, "audit queue full")
	}
	events := make([]Event, 0, 2)
	firstOverflow := t.overflowing.CompareAndSwap(false, true)
	if firstOverflow {
		payload, _ := CanonicalPayload(map[string]any{
			"queue_capacity": cap(t.queue),
			"severity":       "high",
		})
		events = append(events, Event{
			Timestamp:     p.event.Timestamp,
			EventType:     EventAuditQueueOverflow,
			CorrelationID: p.event.CorrelationID,
			Outcome:       OutcomeFailure,
			Payload:       payload,
		})
	}
	events = append(events, p.event)

	if err := t.spool.Append(events...); err != nil {
		if firstOverflow {
			t.overflowing.Store(false)
		}
		t.logger.ErrorContext(ctx, "audit spool write failed",
			"error", err,
			"event_type", p.event.EventType,
			"correlation_id", p.event.CorrelationID,
		)
		return dErrors.Wrap(err, dErrors.CodeCapacityExceeded, "audit trail unavailable")
	}
	eventsSpooled.Add(float64(len(events)))

	if firstOverflow {
		t.logger.WarnContext(ctx, "audit queue overflow, spooling locally",
			"queue_capacity", cap(t.queue),
			"correlation_id", p.event.CorrelationID,
		)
		t.alert(ctx, Alert{
			Kind:    AlertDegraded,
			Message: "audit queue full; entries are being spooled locally",
			At:      p.event.Timestamp,
		})
	}
	return ErrDegraded
}

// Close stops accepting queued entries and waits until the consumer has
// drained the queue. Later Record calls go straight to the spool.
func (t *Trail) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ByCorrelation returns every persisted event sharing a correlation id.
func (t *Trail) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	if correlationID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "correlation_id is required")
	}
	events, err := t.store.ByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query audit events")
	}
	return events, nil
}

// alert delivers on a context detached from the caller's cancellation.
func (t *Trail) alert(ctx context.Context, alert Alert) {
	if t.alerter == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := t.alerter.Alert(alertCtx, alert); err != nil {
		t.logger.WarnContext(ctx, "failed to deliver operator alert",
			"kind", alert.Kind,
			"error", err,
		)
	}
}
