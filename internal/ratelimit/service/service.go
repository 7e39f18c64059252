// Package service implements the rate governor: fixed-window admission per
// (class, identity) with fail-open behaviour when the window store is down.
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"trustcore/internal/audit"
	"trustcore/internal/platform/config"
	"trustcore/internal/ratelimit/metrics"
	"trustcore/internal/ratelimit/models"
	"trustcore/internal/ratelimit/ports"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/circuit"
	"trustcore/pkg/platform/privacy"
	"trustcore/pkg/requestcontext"
)

type Service struct {
	windows  ports.WindowStore
	limits   map[models.EndpointClass]models.Limit
	breaker  *circuit.Breaker
	recorder ports.AuditRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// failOpens counts admissions granted without a window since the
	// current degraded episode began; zero outside an episode.
	mu        sync.Mutex
	failOpens int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditRecorder(recorder ports.AuditRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// LimitsFromConfig maps configured class budgets to endpoint classes.
func LimitsFromConfig(cfg config.RateLimitConfig) map[models.EndpointClass]models.Limit {
	return map[models.EndpointClass]models.Limit{
		models.ClassAuth:      {RequestsPerWindow: cfg.Auth.Limit, Window: cfg.Auth.Window},
		models.ClassFinancial: {RequestsPerWindow: cfg.Financial.Limit, Window: cfg.Financial.Window},
		models.ClassRead:      {RequestsPerWindow: cfg.Read.Limit, Window: cfg.Read.Window},
	}
}

func New(windows ports.WindowStore, limits map[models.EndpointClass]models.Limit, opts ...Option) (*Service, error) {
	if windows == nil {
		return nil, errors.New("window store is required")
	}
	for class, l := range limits {
		if !class.IsValid() || l.RequestsPerWindow <= 0 || l.Window <= 0 {
			return nil, errors.New("invalid limit for class " + string(class))
		}
	}
	svc := &Service{
		windows: windows,
		limits:  limits,
		breaker: circuit.New("ratelimit"),
		logger:  slog.Default(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Admit decides whether one request by identity in class may proceed.
// A store failure admits the request with Degraded set; it is never
// surfaced as an error.
func (s *Service) Admit(ctx context.Context, identity string, class models.EndpointClass) (*models.RateLimitResult, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "identity is required")
	}
	limit, ok := s.limits[class]
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown endpoint class")
	}

	now := requestcontext.Now(ctx)
	hit, err := s.windows.Hit(ctx, models.Key(class, identity), limit.RequestsPerWindow, limit.Window, now)
	if err != nil {
		return s.failOpen(ctx, identity, class, limit, now, err), nil
	}
	s.storeRecovered(ctx)

	resetAt := hit.Start.Add(limit.Window)
	result := &models.RateLimitResult{
		Allowed:   hit.Allowed,
		Limit:     limit.RequestsPerWindow,
		Remaining: max(limit.RequestsPerWindow-hit.Count, 0),
		ResetAt:   resetAt,
	}
	if hit.Allowed {
		s.metrics.RecordAllowed(string(class))
		return result, nil
	}

	result.RetryAfter = retryAfterSeconds(resetAt.Sub(now), limit.Window)
	s.metrics.RecordDenied(string(class))
	ports.LogAudit(ctx, s.logger, s.recorder, audit.EventRateLimitExceeded, audit.OutcomeFailure,
		"identity", privacy.AnonymizeIP(identity),
		"endpoint_class", string(class),
		"limit", limit.RequestsPerWindow,
		"window_seconds", int(limit.Window.Seconds()),
		"retry_after", result.RetryAfter,
	)
	return result, nil
}

func (s *Service) failOpen(ctx context.Context, identity string, class models.EndpointClass, limit models.Limit, now time.Time, cause error) *models.RateLimitResult {
	s.metrics.RecordFailOpen(string(class))
	s.logger.WarnContext(ctx, "rate window store unavailable, admitting request",
		"error", cause,
		"endpoint_class", class,
		"identity", privacy.AnonymizeIP(identity),
	)

	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.metrics.SetDegraded(true)
	}
	if s.beginFailOpen() {
		ports.LogAudit(ctx, s.logger, s.recorder, audit.EventRateLimitDegraded, audit.OutcomeFailure,
			"severity", "high",
			"breaker", s.breaker.Name(),
			"endpoint_class", string(class),
			"reason", cause.Error(),
		)
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit.RequestsPerWindow,
		Remaining: limit.RequestsPerWindow,
		ResetAt:   now.Add(limit.Window),
		Degraded:  true,
	}
}

func (s *Service) storeRecovered(ctx context.Context) {
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetDegraded(false)
	}
	if s.breaker.IsOpen() {
		return
	}
	if n := s.endFailOpen(); n > 0 {
		ports.LogAudit(ctx, s.logger, s.recorder, audit.EventRateLimitRestored, audit.OutcomeSuccess,
			"breaker", s.breaker.Name(),
			"fail_open_admissions", n,
		)
	}
}

// beginFailOpen counts one ungoverned admission and reports whether it
// starts a new degraded episode.
func (s *Service) beginFailOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpens++
	return s.failOpens == 1
}

func (s *Service) endFailOpen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.failOpens
	s.failOpens = 0
	return n
}

// Degraded reports whether the window store circuit is open.
func (s *Service) Degraded() bool {
	return s.breaker.IsOpen()
}

// Reset clears the window for identity in class.
func (s *Service) Reset(ctx context.Context, identity string, class models.EndpointClass) error {
	identity = strings.TrimSpace(identity)
	if identity == "" || !class.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "identity and a known class are required")
	}
	if err := s.windows.Reset(ctx, models.Key(class, identity)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependencyUnavailable, "failed to reset rate window")
	}
	return nil
}

// retryAfterSeconds rounds the remaining window up to whole seconds, never
// below one and never beyond the window itself.
func retryAfterSeconds(remaining, window time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	secs = min(secs, int(math.Ceil(window.Seconds())))
	return max(secs, 1)
}
