package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trustcore/internal/auth/models"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/requestcontext"
)

// Service is the credential lifecycle the handler exposes.
type Service interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	RevokeToken(ctx context.Context, token string) error
	Introspect(ctx context.Context, token string) (*models.Credential, models.SessionState, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublic mounts endpoints that authenticate by their body, and
// introspection, which must answer for expired and revoked tokens too.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/refresh", h.HandleRefresh)
	r.Get("/auth/introspect", h.HandleIntrospect)
}

// RegisterProtected mounts endpoints that need a bearer token. Callers wrap
// r with RequireAuth.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
	r.Post("/auth/revoke", h.HandleRevoke)
}

// HandleLogin handles POST /auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.LoginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.DeviceFingerprint == "" {
		req.DeviceFingerprint = requestcontext.DeviceFingerprint(ctx)
	}

	pair, err := h.service.Login(ctx, *req)
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"error", err,
			"subject_id", req.SubjectID,
			"request_id", requestID,
		)
		if d := dErrors.RetryAfterOf(err); d > 0 {
			httputil.SetRetryAfter(w, d)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// HandleRefresh handles POST /auth/refresh.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RefreshRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	pair, err := h.service.Refresh(ctx, req.RefreshToken)
	if err != nil {
		h.logger.WarnContext(ctx, "token refresh failed",
			"error", err,
			"request_id", requestID,
		)
		if d := dErrors.RetryAfterOf(err); d > 0 {
			httputil.SetRetryAfter(w, d)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// HandleLogout handles POST /auth/logout. The body is optional.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	var req models.LogoutRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if err := h.service.Logout(ctx, bearer(r), strings.TrimSpace(req.RefreshToken)); err != nil {
		h.logger.WarnContext(ctx, "logout failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevoke handles POST /auth/revoke. Unusable tokens succeed silently.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RevokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.RevokeToken(ctx, req.Token); err != nil {
		h.logger.WarnContext(ctx, "revocation failed",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleIntrospect handles GET /auth/introspect for the token in the
// Authorization header.
func (h *Handler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := bearer(r)
	if raw == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "bearer token required"))
		return
	}
	cred, state, err := h.service.Introspect(ctx, raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewIntrospectResponse(cred, state))
}

func bearer(r *http.Request) string {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return strings.TrimSpace(token)
}
