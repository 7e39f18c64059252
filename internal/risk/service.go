package risk

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trustcore/internal/audit"
	"trustcore/internal/platform/tracing"
	dErrors "trustcore/pkg/domain-errors"
)

const defaultBudget = 50 * time.Millisecond

// Service wraps the engine with baseline lookup, a time budget, tracing
// and the audit record every verdict needs.
type Service struct {
	engine        *Engine
	ref           *ReferenceHolder
	baselines     BaselineStore
	recorder      AuditRecorder
	fingerprinter Fingerprinter
	budget        time.Duration
	logger        *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithBaselineStore(store BaselineStore) Option {
	return func(s *Service) {
		s.baselines = store
	}
}

func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func WithFingerprinter(f Fingerprinter) Option {
	return func(s *Service) {
		s.fingerprinter = f
	}
}

func WithBudget(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.budget = d
		}
	}
}

func NewService(ref *ReferenceHolder, opts ...Option) *Service {
	s := &Service{
		engine: NewEngine(ref),
		ref:    ref,
		budget: defaultBudget,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if data := ref.Load(); data != nil {
		referenceEntries.Set(float64(data.EntryCount()))
	}
	return s
}

// Reload replaces the reference data. Evaluations in flight keep the
// snapshot they started with.
func (s *Service) Reload(data *ReferenceData) {
	s.ref.Store(data)
	referenceEntries.Set(float64(data.EntryCount()))
	s.logger.Info("risk reference data reloaded", "screening_entries", data.EntryCount())
}

// Evaluate scores c and records the verdict. Review and block verdicts are
// persisted to the audit trail before they are returned; when that fails
// the caller gets an error and must not act on the action.
func (s *Service) Evaluate(ctx context.Context, c Context) (*Assessment, error) {
	if c == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "context is required")
	}
	ctx, span := tracing.StartSpan(ctx, "risk.evaluate",
		attribute.String("risk.context_type", string(c.Type())),
	)
	defer span.End()

	if err := c.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid context")
		return nil, err
	}

	start := time.Now()
	budgetCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	if login, ok := c.(*LoginContext); ok {
		s.prepareLogin(budgetCtx, login)
	}
	assessment, err := s.engine.Evaluate(c)
	if err != nil {
		span.SetStatus(codes.Error, "evaluation failed")
		return nil, err
	}

	elapsed := time.Since(start)
	evaluationDuration.WithLabelValues(string(c.Type())).Observe(elapsed.Seconds())
	evaluations.WithLabelValues(string(c.Type()), string(assessment.Decision)).Inc()
	if elapsed > s.budget {
		budgetOverruns.WithLabelValues(string(c.Type())).Inc()
		s.logger.WarnContext(ctx, "risk evaluation exceeded budget",
			"context_type", c.Type(),
			"elapsed", elapsed,
			"budget", s.budget,
		)
	}
	span.SetAttributes(
		attribute.Int("risk.score", assessment.Score),
		attribute.String("risk.decision", string(assessment.Decision)),
	)

	if err := s.record(ctx, assessment); err != nil {
		span.SetStatus(codes.Error, "audit not durable")
		return nil, err
	}

	if login, ok := c.(*LoginContext); ok && assessment.Decision == DecisionAllow {
		s.observe(ctx, login)
	}
	return &assessment, nil
}

func (s *Service) prepareLogin(ctx context.Context, login *LoginContext) {
	if login.DeviceFingerprint == "" && login.UserAgent != "" && s.fingerprinter != nil {
		login.DeviceFingerprint = s.fingerprinter.ComputeFingerprint(login.UserAgent)
	}
	if s.baselines == nil {
		return
	}
	b, err := s.baselines.Get(ctx, login.SubjectID)
	if err != nil {
		s.logger.WarnContext(ctx, "baseline lookup failed",
			"error", err,
			"subject_id", login.SubjectID,
		)
		login.BaselineUnavailable = true
		return
	}
	login.Baseline = b
}

func (s *Service) observe(ctx context.Context, login *LoginContext) {
	if s.baselines == nil {
		return
	}
	err := s.baselines.Observe(ctx, login.SubjectID, Observation{
		IP:                login.IP,
		DeviceFingerprint: login.DeviceFingerprint,
		Hour:              login.At.UTC().Hour(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record login baseline",
			"error", err,
			"subject_id", login.SubjectID,
		)
	}
}

func (s *Service) record(ctx context.Context, a Assessment) error {
	if s.recorder == nil {
		return nil
	}
	entry := audit.Entry{
		EventType: audit.EventRiskAssessed,
		ActorID:   a.SubjectID,
		Outcome:   audit.OutcomeSuccess,
		Payload: map[string]any{
			"context_type": string(a.ContextType),
			"score":        a.Score,
			"level":        string(a.Level),
			"decision":     string(a.Decision),
			"flags":        a.Flags,
		},
	}

	var err error
	if a.Decision == DecisionReview || a.Decision == DecisionBlock {
		_, err = s.recorder.RecordSync(ctx, entry)
	} else {
		_, err = s.recorder.Record(ctx, entry)
	}
	if audit.IsDurable(err) {
		return nil
	}
	s.logger.ErrorContext(ctx, "risk verdict not recorded",
		"error", err,
		"subject_id", a.SubjectID,
		"decision", a.Decision,
	)
	return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "risk verdict could not be recorded")
}
