package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/requestcontext"
)

// Identity is what a successful bearer validation yields.
type Identity struct {
	SubjectID  string
	TokenID    string
	Restricted bool
}

// TokenValidator validates a raw bearer credential, including revocation.
type TokenValidator interface {
	ValidateBearer(ctx context.Context, token string) (Identity, error)
}

const bearerChallenge = `Bearer error="invalid_token"`

// RequireAuth rejects requests without a valid access token. Rejections carry
// a WWW-Authenticate challenge so clients discard the credential. Dependency
// failures answer 503 and never let the request through.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			// A missing token still goes to the validator so the rejection
			// is recorded there.
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				token = ""
			}
			token = strings.TrimSpace(token)

			identity, err := validator.ValidateBearer(ctx, token)
			if err == nil && token == "" {
				err = dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
			}
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeDependencyUnavailable) {
					logger.ErrorContext(ctx, "token validation dependency unavailable",
						"error", err,
						"request_id", requestcontext.RequestID(ctx),
					)
					httputil.WriteError(w, err)
					return
				}
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w)
				return
			}

			ctx = requestcontext.WithSubjectID(ctx, identity.SubjectID)
			ctx = requestcontext.WithTokenID(ctx, identity.TokenID)
			ctx = requestcontext.WithRestricted(ctx, identity.Restricted)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireFullSession refuses sessions that are held for review. It runs
// after RequireAuth.
func RequireFullSession(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.Restricted(ctx) {
				logger.WarnContext(ctx, "restricted session refused",
					"subject_id", requestcontext.SubjectID(ctx),
					"jti", requestcontext.TokenID(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "session is held for review"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", bearerChallenge)
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
}
