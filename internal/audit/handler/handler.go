package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustcore/internal/audit"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/requestcontext"
)

// Service is the operator-facing side of the trail.
type Service interface {
	ByCorrelation(ctx context.Context, correlationID string) ([]audit.Event, error)
	Verify(ctx context.Context, from, to uint64) (*audit.VerifyReport, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the operator endpoints. Callers wrap r with admin auth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/events", h.HandleListEvents)
	r.Post("/audit/verify", h.HandleVerify)
}

type eventsResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Events        []audit.Event `json:"events"`
}

// HandleListEvents handles GET /audit/events?correlation_id=.
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := r.URL.Query().Get("correlation_id")

	events, err := h.service.ByCorrelation(ctx, correlationID)
	if err != nil {
		h.logger.WarnContext(ctx, "audit query failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, eventsResponse{CorrelationID: correlationID, Events: events})
}

type verifyRequest struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

func (v *verifyRequest) Validate() error {
	if v.To != 0 && v.To <= v.From {
		return dErrors.New(dErrors.CodeValidation, "to must be greater than from")
	}
	return nil
}

// HandleVerify handles POST /audit/verify. An integrity violation still
// returns the report, with status 409, so operators see where it broke.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[verifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	report, err := h.service.Verify(ctx, req.From, req.To)
	if err != nil && report != nil && dErrors.HasCode(err, dErrors.CodeIntegrityViolation) {
		httputil.WriteJSON(w, http.StatusConflict, report)
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "audit verification failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
