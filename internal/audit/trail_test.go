package audit_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustcore/internal/audit"
	"trustcore/internal/audit/mocks"
	"trustcore/internal/audit/store/memory"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/sentinel"
	"trustcore/pkg/requestcontext"
)

type TrailSuite struct {
	suite.Suite
	store  *memory.InMemoryStore
	spool  *audit.Spool
	logger *slog.Logger
}

func TestTrailSuite(t *testing.T) {
	suite.Run(t, new(TrailSuite))
}

func (s *TrailSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	spool, err := audit.NewSpool(filepath.Join(s.T().TempDir(), "spool.jsonl"))
	s.Require().NoError(err)
	s.spool = spool
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start runs the consumer until the test ends.
func (s *TrailSuite) start(trail *audit.Trail) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- trail.Run(ctx) }()
	s.T().Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = trail.Close(closeCtx)
		cancel()
		<-done
	})
}

func (s *TrailSuite) closeTrail(trail *audit.Trail) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Require().NoError(trail.Close(ctx))
}

func (s *TrailSuite) TestRecordValidation() {
	trail := audit.New(s.store, s.spool, audit.WithLogger(s.logger))
	ctx := context.Background()

	s.Run("event type required", func() {
		_, err := trail.Record(ctx, audit.Entry{Outcome: audit.OutcomeSuccess})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("outcome must be known", func() {
		_, err := trail.Record(ctx, audit.Entry{EventType: audit.EventActionCompleted, Outcome: "maybe"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("payload must be encodable", func() {
		_, err := trail.Record(ctx, audit.Entry{
			EventType: audit.EventActionCompleted,
			Outcome:   audit.OutcomeSuccess,
			Payload:   map[string]any{"ch": make(chan int)},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *TrailSuite) TestRecordSyncSealsFromRequestContext() {
	trail := audit.New(s.store, s.spool, audit.WithLogger(s.logger))
	s.start(trail)

	now := time.Date(2026, 5, 1, 9, 30, 0, 123456789, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-42")
	ctx = requestcontext.WithSubjectID(ctx, "user-7")

	event, err := trail.RecordSync(ctx, audit.Entry{
		EventType: audit.EventTokenIssued,
		Outcome:   audit.OutcomeSuccess,
		Payload:   map[string]any{"kind": "access"},
	})
	s.Require().NoError(err)

	s.Equal(uint64(0), event.SequenceNumber)
	s.Equal("req-42", event.CorrelationID)
	s.Equal("user-7", event.Actor())
	s.Equal(now.Truncate(time.Microsecond), event.Timestamp)
	s.Len(event.EventHash, 64)
	s.Equal(audit.ChainHash(event.EventHash, audit.GenesisHash), event.ChainHash)
	s.JSONEq(`{"kind":"access"}`, string(event.Payload))
}

func (s *TrailSuite) TestConcurrentProducersYieldGapFreeVerifiableChain() {
	trail := audit.New(s.store, s.spool, audit.WithLogger(s.logger), audit.WithSpoolInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- trail.Run(ctx) }()

	const producers, perProducer = 20, 50
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				_, err := trail.Record(context.Background(), audit.Entry{
					EventType:     audit.EventActionCompleted,
					CorrelationID: fmt.Sprintf("p%d", p),
					Outcome:       audit.OutcomeSuccess,
					Payload:       map[string]any{"i": i},
				})
				s.True(audit.IsDurable(err))
			}
		}()
	}
	wg.Wait()
	s.closeTrail(trail)
	s.Require().NoError(<-done)

	all := s.store.All()
	s.Require().Len(all, producers*perProducer)
	for i, e := range all {
		s.Equal(uint64(i), e.SequenceNumber)
	}

	verifier := audit.New(s.store, s.spool, audit.WithLogger(s.logger))
	report, err := verifier.Verify(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Equal(producers*perProducer, report.Checked)

	byProducer, err := trail.ByCorrelation(context.Background(), "p3")
	s.Require().NoError(err)
	s.Len(byProducer, perProducer)
}

func (s *TrailSuite) TestOverflowSpoolsAndReingests() {
	trail := audit.New(s.store, s.spool,
		audit.WithLogger(s.logger),
		audit.WithQueueSize(1),
		audit.WithEnqueueTimeout(0),
		audit.WithSpoolInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	_, err := trail.Record(ctx, audit.Entry{EventType: audit.EventActionCompleted, Outcome: audit.OutcomeSuccess})
	s.Require().NoError(err)

	event, err := trail.Record(ctx, audit.Entry{EventType: audit.EventLoginFailed, Outcome: audit.OutcomeFailure})
	s.Require().ErrorIs(err, audit.ErrDegraded)
	s.NotNil(event)
	_, err = trail.Record(ctx, audit.Entry{EventType: audit.EventLoginFailed, Outcome: audit.OutcomeFailure})
	s.Require().ErrorIs(err, audit.ErrDegraded)

	spooled, err := s.spool.Len()
	s.Require().NoError(err)
	s.Equal(3, spooled, "one overflow marker plus two entries")

	s.start(trail)
	s.Eventually(func() bool { return len(s.store.All()) == 4 }, 2*time.Second, 10*time.Millisecond)

	all := s.store.All()
	s.Equal(audit.EventActionCompleted, all[0].EventType)
	s.Equal(audit.EventAuditQueueOverflow, all[1].EventType)
	s.Equal(audit.EventLoginFailed, all[2].EventType)
	s.Equal(audit.EventLoginFailed, all[3].EventType)

	remaining, err := s.spool.Len()
	s.Require().NoError(err)
	s.Zero(remaining)
}

func (s *TrailSuite) TestCancelledContextSpools() {
	trail := audit.New(s.store, s.spool,
		audit.WithLogger(s.logger),
		audit.WithQueueSize(1),
		audit.WithEnqueueTimeout(time.Hour),
	)
	_, err := trail.Record(context.Background(), audit.Entry{EventType: audit.EventActionCompleted, Outcome: audit.OutcomeSuccess})
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = trail.Record(ctx, audit.Entry{EventType: audit.EventActionCompleted, Outcome: audit.OutcomeSuccess})
	s.ErrorIs(err, audit.ErrDegraded)
}

func (s *TrailSuite) TestSpoolFailureIsCapacityExceeded() {
	path := filepath.Join(s.T().TempDir(), "spool-as-dir")
	spool, err := audit.NewSpool(path)
	s.Require().NoError(err)
	s.Require().NoError(os.Mkdir(path, 0o750))

	trail := audit.New(s.store, spool,
		audit.WithLogger(s.logger),
		audit.WithQueueSize(1),
		audit.WithEnqueueTimeout(0),
	)
	_, err = trail.Record(context.Background(), audit.Entry{EventType: audit.EventActionCompleted, Outcome: audit.OutcomeSuccess})
	s.Require().NoError(err)

	_, err = trail.Record(context.Background(), audit.Entry{EventType: audit.EventActionCompleted, Outcome: audit.OutcomeSuccess})
	s.True(dErrors.HasCode(err, dErrors.CodeCapacityExceeded))
	s.False(audit.IsDurable(err))
}

func (s *TrailSuite) TestPersistRetriesUntilStoreAccepts() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Last(gomock.Any()).Return(nil, sentinel.ErrNotFound)
	gomock.InOrder(
		store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("connection reset")).Times(2),
		store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil),
	)

	trail := audit.New(store, s.spool, audit.WithLogger(s.logger))
	s.start(trail)

	event, err := trail.RecordSync(context.Background(), audit.Entry{EventType: audit.EventTokenRevoked, Outcome: audit.OutcomeSuccess})
	s.Require().NoError(err)
	s.Equal(uint64(0), event.SequenceNumber)
}

func (s *TrailSuite) TestResumesChainFromStoredHead() {
	first := audit.New(s.store, s.spool, audit.WithLogger(s.logger))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- first.Run(ctx) }()
	_, err := first.RecordSync(context.Background(), audit.Entry{EventType: audit.EventLoginSucceeded, Outcome: audit.OutcomeSuccess})
	s.Require().NoError(err)
	s.closeTrail(first)
	cancel()
	<-done

	second := audit.New(s.store, s.spool, audit.WithLogger(s.logger))
	s.start(second)
	event, err := second.RecordSync(context.Background(), audit.Entry{EventType: audit.EventLoginSucceeded, Outcome: audit.OutcomeSuccess})
	s.Require().NoError(err)
	s.Equal(uint64(1), event.SequenceNumber)

	report, err := second.Verify(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.True(report.Valid)
}

func (s *TrailSuite) TestVerifyRejectsEmptyRange() {
	trail := audit.New(s.store, s.spool, audit.WithLogger(s.logger))
	_, err := trail.Verify(context.Background(), 5, 5)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *TrailSuite) TestVerifyEmptyLogIsValid() {
	trail := audit.New(s.store, s.spool, audit.WithLogger(s.logger))
	report, err := trail.Verify(context.Background(), 0, 0)
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Zero(report.Checked)
}

func TestIsDurable(t *testing.T) {
	require.True(t, audit.IsDurable(nil))
	require.True(t, audit.IsDurable(fmt.Errorf("wrapped: %w", audit.ErrDegraded)))
	require.False(t, audit.IsDurable(errors.New("boom")))
}
