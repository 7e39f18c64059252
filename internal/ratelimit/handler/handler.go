package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustcore/internal/ratelimit/models"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/requestcontext"
)

// Service is the operator-facing side of the governor.
type Service interface {
	Reset(ctx context.Context, identity string, class models.EndpointClass) error
	Degraded() bool
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterAdmin mounts operator endpoints. Callers wrap r with admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/rate-limit/reset", h.HandleResetRateLimit)
	r.Get("/admin/rate-limit/status", h.HandleStatus)
}

// HandleResetRateLimit handles POST /admin/rate-limit/reset.
func (h *Handler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.ResetRateLimitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	for _, class := range req.Classes() {
		if err := h.service.Reset(ctx, req.Identifier, class); err != nil {
			h.logger.ErrorContext(ctx, "failed to reset rate limit",
				"error", err,
				"class", class,
				"request_id", requestID,
			)
			httputil.WriteError(w, err)
			return
		}
	}
	h.logger.InfoContext(ctx, "rate limit reset",
		"classes", len(req.Classes()),
		"request_id", requestID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus handles GET /admin/rate-limit/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, models.StatusResponse{Degraded: h.service.Degraded()})
}
