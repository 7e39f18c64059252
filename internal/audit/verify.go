package audit

import (
	"context"
	"errors"
	"fmt"

	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

// Verify recomputes the chain over [from, to) from the stored chain hash of
// from-1. to == 0 verifies through the last stored event. Any mismatch
// returns the full report together with an integrity violation error,
// raises an operator alert and records the violation in the trail itself.
// Nothing is repaired.
func (t *Trail) Verify(ctx context.Context, from, to uint64) (*VerifyReport, error) {
	if to != 0 && to <= from {
		return nil, dErrors.New(dErrors.CodeValidation, "to must be greater than from")
	}

	last, err := t.store.Last(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		report := VerifyReport{From: from, To: from, Valid: true}
		return &report, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit chain head")
	}
	end := last.SequenceNumber + 1
	if to != 0 && to < end {
		end = to
	}
	if from >= end {
		report := VerifyReport{From: from, To: from, Valid: true}
		return &report, nil
	}

	prev := GenesisHash
	missingPrev := false
	if from > 0 {
		before, err := t.store.Range(ctx, from-1, from)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit events")
		}
		if len(before) == 1 {
			prev = before[0].ChainHash
		} else {
			missingPrev = true
		}
	}

	events, err := t.store.Range(ctx, from, end)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit events")
	}

	verifier := NewChainVerifier(from, prev)
	for _, e := range events {
		verifier.Check(e)
	}
	report := verifier.Finish(end)
	if missingPrev {
		report = missingPredecessor(report, from-1)
	}

	if report.Valid {
		t.logger.InfoContext(ctx, "audit chain verified",
			"from", report.From,
			"to", report.To,
			"checked", report.Checked,
		)
		return &report, nil
	}

	verifyMismatches.Add(float64(len(report.Mismatches)))
	t.logger.ErrorContext(ctx, "audit chain integrity violation",
		"from", report.From,
		"to", report.To,
		"first_mismatch", *report.FirstMismatch,
		"mismatches", len(report.Mismatches),
		"request_id", requestcontext.RequestID(ctx),
	)
	t.alert(ctx, Alert{
		Kind:          AlertIntegrityViolation,
		Message:       fmt.Sprintf("audit chain mismatch in [%d,%d)", report.From, report.To),
		FirstMismatch: report.FirstMismatch,
		Mismatches:    report.Mismatches,
		At:            requestcontext.Now(ctx).UTC(),
	})
	if _, err := t.Record(ctx, Entry{
		EventType: EventAuditIntegrityViolation,
		Outcome:   OutcomeFailure,
		Payload: map[string]any{
			"from":           report.From,
			"to":             report.To,
			"first_mismatch": *report.FirstMismatch,
			"mismatch_count": len(report.Mismatches),
			"severity":       "critical",
		},
	}); !IsDurable(err) {
		t.logger.ErrorContext(ctx, "failed to record integrity violation", "error", err)
	}
	return &report, dErrors.New(dErrors.CodeIntegrityViolation, "audit chain verification failed")
}

func missingPredecessor(report VerifyReport, seq uint64) VerifyReport {
	first := seq
	report.FirstMismatch = &first
	report.Mismatches = append([]uint64{seq}, report.Mismatches...)
	report.Valid = false
	return report
}
