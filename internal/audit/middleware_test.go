package audit_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"trustcore/internal/audit"
	"trustcore/internal/audit/mocks"
)

func TestTrack(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("records success with route pattern", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		recorder := mocks.NewMockRecorder(ctrl)
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) (*audit.Event, error) {
			assert.Equal(t, audit.EventActionCompleted, e.EventType)
			assert.Equal(t, audit.OutcomeSuccess, e.Outcome)
			assert.Equal(t, "/payments/{id}", e.Payload["route"])
			assert.Equal(t, http.StatusCreated, e.Payload["status"])
			return &audit.Event{}, nil
		})

		r := chi.NewRouter()
		r.With(audit.Track(recorder, audit.EventActionCompleted, logger)).
			Post("/payments/{id}", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
			})
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/42", nil))
		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("records failure for error status", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		recorder := mocks.NewMockRecorder(ctrl)
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) (*audit.Event, error) {
			assert.Equal(t, audit.OutcomeFailure, e.Outcome)
			return &audit.Event{}, nil
		})

		h := audit.Track(recorder, audit.EventActionCompleted, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))
	})

	t.Run("cancelled request is recorded on a live context", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		recorder := mocks.NewMockRecorder(ctrl)
		recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, e audit.Entry) (*audit.Event, error) {
			assert.NoError(t, ctx.Err())
			assert.Equal(t, audit.EventActionCancelled, e.EventType)
			assert.Equal(t, audit.OutcomeFailure, e.Outcome)
			assert.Equal(t, "cancelled", e.Payload["reason"])
			assert.Equal(t, string(audit.EventActionCompleted), e.Payload["action"])
			return &audit.Event{}, nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		h := audit.Track(recorder, audit.EventActionCompleted, logger)(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			cancel()
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil).WithContext(ctx))
	})
}
