package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trustcore/internal/platform/tracing"
	"trustcore/pkg/platform/sentinel"
)

// Run is the single consumer. It loads the chain head, then persists queued
// entries strictly in arrival order. Spooled entries, including any left by
// a previous process, are chained whenever the queue is empty. It returns
// nil once Close has been called and the queue is drained. If ctx ends
// first, whatever is still queued is spooled.
func (t *Trail) Run(ctx context.Context) error {
	defer close(t.stopped)

	if err := t.loadHead(ctx); err != nil {
		t.spoolRemaining(ctx)
		return err
	}
	if len(t.queue) == 0 {
		t.ingestSpool(ctx)
	}

	ticker := time.NewTicker(t.spoolInterval)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-t.queue:
			if !ok {
				t.ingestSpool(ctx)
				return nil
			}
			queueDepth.Set(float64(len(t.queue)))
			event, err := t.persist(ctx, p.event)
			if err != nil {
				t.spoolAfterFailure(ctx, p, err)
				continue
			}
			if p.done != nil {
				p.done <- result{event: event}
			}
		case <-ticker.C:
			if len(t.queue) == 0 {
				t.ingestSpool(ctx)
			}
		case <-ctx.Done():
			t.spoolRemaining(ctx)
			return ctx.Err()
		}
	}
}

func (t *Trail) loadHead(ctx context.Context) error {
	var last *Event
	op := func() error {
		var err error
		last, err = t.store.Last(ctx)
		if errors.Is(err, sentinel.ErrNotFound) {
			last = nil
			return nil
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(newBackOff(), ctx)); err != nil {
		return fmt.Errorf("load audit chain head: %w", err)
	}
	if last != nil {
		t.nextSeq = last.SequenceNumber + 1
		t.prevChain = last.ChainHash
	}
	return nil
}

// persist seals the event at the head of the chain and appends it, retrying
// with exponential backoff until the store accepts it or ctx ends.
func (t *Trail) persist(ctx context.Context, event Event) (Event, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.persist",
		attribute.String("audit.event_type", string(event.EventType)),
		attribute.Int64("audit.sequence_number", int64(t.nextSeq)),
	)
	defer span.End()

	sealed, err := seal(event, t.nextSeq, t.prevChain)
	if err != nil {
		span.SetStatus(codes.Error, "seal failed")
		return Event{}, err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := t.store.Append(ctx, sealed)
		if errors.Is(err, sentinel.ErrConflict) {
			// another writer owns this sequence number; retrying cannot help
			return backoff.Permanent(err)
		}
		if err != nil {
			persistFailures.Inc()
			t.logger.WarnContext(ctx, "audit append failed, retrying",
				"error", err,
				"sequence_number", sealed.SequenceNumber,
				"attempt", attempt,
			)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(newBackOff(), ctx)); err != nil {
		span.SetStatus(codes.Error, "append failed")
		return Event{}, err
	}
	span.SetAttributes(attribute.Int("audit.attempts", attempt))

	t.nextSeq++
	t.prevChain = sealed.ChainHash
	eventsPersisted.Inc()
	return sealed, nil
}

// ingestSpool chains spooled entries in spool order, removing each from the
// spool only once persisted.
func (t *Trail) ingestSpool(ctx context.Context) {
	if t.spool == nil {
		return
	}
	ingested := 0
	err := t.spool.Drain(func(events []Event) (int, error) {
		for _, e := range events {
			if _, err := t.persist(ctx, e); err != nil {
				return ingested, err
			}
			ingested++
		}
		return ingested, nil
	})
	if err != nil {
		t.logger.ErrorContext(ctx, "audit spool re-ingestion incomplete",
			"error", err,
			"ingested", ingested,
		)
		return
	}
	if ingested > 0 {
		t.logger.InfoContext(ctx, "audit spool re-ingested", "entries", ingested)
	}
}

func (t *Trail) spoolAfterFailure(ctx context.Context, p pending, cause error) {
	err := cause
	if t.spool != nil {
		err = t.spool.Append(p.event)
	}
	if err != nil {
		t.logger.ErrorContext(ctx, "audit event lost: persist and spool both failed",
			"persist_error", cause,
			"spool_error", err,
			"event_type", p.event.EventType,
			"correlation_id", p.event.CorrelationID,
		)
	}
	if p.done != nil {
		if err != nil {
			p.done <- result{event: p.event, err: fmt.Errorf("%w: %w", cause, err)}
		} else {
			p.done <- result{event: p.event, err: ErrDegraded}
		}
	}
}

// spoolRemaining moves queued entries to the spool on hard shutdown.
func (t *Trail) spoolRemaining(ctx context.Context) {
	for {
		select {
		case p, ok := <-t.queue:
			if !ok {
				return
			}
			t.spoolAfterFailure(ctx, p, ctx.Err())
		default:
			return
		}
	}
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}
