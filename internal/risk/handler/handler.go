package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustcore/internal/risk"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/requestcontext"
)

// Evaluator scores a context and records the verdict.
type Evaluator interface {
	Evaluate(ctx context.Context, c risk.Context) (*risk.Assessment, error)
}

type Handler struct {
	evaluator Evaluator
	logger    *slog.Logger
}

func New(evaluator Evaluator, logger *slog.Logger) *Handler {
	return &Handler{evaluator: evaluator, logger: logger}
}

// Register mounts the scoring endpoints. Callers wrap r with bearer auth
// and the financial rate-limit class.
func (h *Handler) Register(r chi.Router) {
	r.Post("/risk/transactions", h.HandleTransaction)
	r.Post("/risk/screenings", h.HandleScreening)
	r.Post("/risk/logins", h.HandleLogin)
}

func (h *Handler) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[TransactionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.evaluate(w, r, &risk.TransactionContext{
		SubjectID:               subjectOrCaller(ctx, req.SubjectID),
		Amount:                  req.Amount,
		Currency:                req.Currency,
		CounterpartJurisdiction: req.CounterpartJurisdiction,
		CounterpartName:         req.CounterpartName,
		RecentCount:             req.RecentCount,
		At:                      atOrNow(ctx, req.At),
	})
}

func (h *Handler) HandleScreening(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ScreeningRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.evaluate(w, r, &risk.ScreeningContext{
		SubjectID: subjectOrCaller(ctx, req.SubjectID),
		Name:      req.Name,
		Country:   req.Country,
		At:        atOrNow(ctx, req.At),
	})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[LoginRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	login := &risk.LoginContext{
		SubjectID:         subjectOrCaller(ctx, req.SubjectID),
		IP:                req.IP,
		DeviceFingerprint: req.DeviceFingerprint,
		UserAgent:         req.UserAgent,
		At:                atOrNow(ctx, req.At),
	}
	if login.IP == "" {
		login.IP = requestcontext.ClientIP(ctx)
	}
	if login.UserAgent == "" {
		login.UserAgent = requestcontext.UserAgent(ctx)
	}
	h.evaluate(w, r, login)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request, c risk.Context) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	a, err := h.evaluator.Evaluate(ctx, c)
	if err != nil {
		h.logger.WarnContext(ctx, "risk evaluation failed",
			"error", err,
			"context_type", c.Type(),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "risk assessed",
		"context_type", a.ContextType,
		"subject_id", a.SubjectID,
		"score", a.Score,
		"decision", a.Decision,
		"request_id", requestID,
	)
	httputil.WriteJSON(w, statusFor(a.Decision), toResponse(a))
}

func statusFor(d risk.Decision) int {
	switch d {
	case risk.DecisionBlock:
		return http.StatusForbidden
	case risk.DecisionReview:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func subjectOrCaller(ctx context.Context, subject string) string {
	if subject != "" {
		return subject
	}
	return requestcontext.SubjectID(ctx)
}

func atOrNow(ctx context.Context, at *time.Time) time.Time {
	if at != nil {
		return *at
	}
	return requestcontext.Now(ctx)
}
