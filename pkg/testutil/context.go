package testutil

import (
	"net/http"
	"time"

	"trustcore/pkg/requestcontext"
)

// WithSubject adds an authenticated subject and token id to the request
// context, simulating what RequireAuth does for authenticated requests.
func WithSubject(req *http.Request, subjectID, tokenID string) *http.Request {
	ctx := requestcontext.WithSubjectID(req.Context(), subjectID)
	ctx = requestcontext.WithTokenID(ctx, tokenID)
	return req.WithContext(ctx)
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithRequestID sets the correlation id seen by handlers.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
