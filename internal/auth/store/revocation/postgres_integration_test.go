//go:build integration

package revocation_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"trustcore/internal/auth/store/revocation"
	platformpg "trustcore/internal/platform/postgres"
	"trustcore/pkg/testutil/containers"
)

type PostgresTRLSuite struct {
	suite.Suite
	db  *sql.DB
	now time.Time
	trl *revocation.PostgresTRL
}

func TestPostgresTRLSuite(t *testing.T) {
	suite.Run(t, new(PostgresTRLSuite))
}

func (s *PostgresTRLSuite) SetupSuite() {
	pg := containers.NewPostgresContainer(s.T())
	db, err := sql.Open("pgx", pg.DSN)
	s.Require().NoError(err)
	s.db = db
	s.Require().NoError(platformpg.Migrate(context.Background(), db, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func (s *PostgresTRLSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE token_revocations`)
	s.Require().NoError(err)
	s.now = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	s.trl = revocation.NewPostgresTRL(s.db, revocation.WithPostgresClock(func() time.Time { return s.now }))
}

func (s *PostgresTRLSuite) TearDownSuite() {
	_ = s.db.Close()
}

func (s *PostgresTRLSuite) TestRevokeAndExpire() {
	ctx := context.Background()
	s.Require().NoError(s.trl.RevokeToken(ctx, "jti-1", time.Minute))

	revoked, err := s.trl.IsRevoked(ctx, "jti-1")
	s.Require().NoError(err)
	s.True(revoked)

	s.now = s.now.Add(time.Minute)
	revoked, err = s.trl.IsRevoked(ctx, "jti-1")
	s.Require().NoError(err)
	s.False(revoked)

	n, err := s.trl.PurgeExpired(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)
}

func (s *PostgresTRLSuite) TestBatchRevocation() {
	ctx := context.Background()
	jtis := make([]string, 0, 50)
	for i := range 50 {
		jtis = append(jtis, fmt.Sprintf("batch-%02d", i))
	}
	s.Require().NoError(s.trl.RevokeTokens(ctx, jtis, time.Hour))
	// re-revoking with a shorter ttl keeps the longer expiry
	s.Require().NoError(s.trl.RevokeTokens(ctx, jtis[:10], time.Minute))

	var count int
	s.Require().NoError(s.db.QueryRow(`SELECT count(*) FROM token_revocations`).Scan(&count))
	s.Equal(50, count)

	s.now = s.now.Add(30 * time.Minute)
	revoked, err := s.trl.IsRevoked(ctx, "batch-03")
	s.Require().NoError(err)
	s.True(revoked)
}
