package user

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"trustcore/internal/auth/models"
	"trustcore/pkg/platform/sentinel"
)

type InMemoryUserStoreSuite struct {
	suite.Suite
	store *InMemoryUserStore
	hash  string
}

func TestInMemoryUserStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryUserStoreSuite))
}

func (s *InMemoryUserStoreSuite) SetupSuite() {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	s.Require().NoError(err)
	s.hash = string(hash)
}

func (s *InMemoryUserStoreSuite) SetupTest() {
	s.store = New()
}

func (s *InMemoryUserStoreSuite) TestLookup() {
	s.Require().NoError(s.store.Save(context.Background(), &models.User{SubjectID: "alice", PasswordHash: s.hash}))

	found, err := s.store.FindBySubject(context.Background(), "alice")
	s.Require().NoError(err)
	s.Equal("alice", found.SubjectID)

	found.PasswordHash = "mutated"
	again, err := s.store.FindBySubject(context.Background(), "alice")
	s.Require().NoError(err)
	s.Equal(s.hash, again.PasswordHash)

	_, err = s.store.FindBySubject(context.Background(), "nobody")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryUserStoreSuite) TestSaveRejectsPlaintext() {
	err := s.store.Save(context.Background(), &models.User{SubjectID: "bob", PasswordHash: "hunter2"})
	s.Error(err)
	s.Zero(s.store.Count())

	err = s.store.Save(context.Background(), &models.User{SubjectID: " ", PasswordHash: s.hash})
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *InMemoryUserStoreSuite) TestLoadFile() {
	path := filepath.Join(s.T().TempDir(), "users.yaml")
	content := "users:\n  - subject_id: alice\n    password_hash: \"" + s.hash + "\"\n  - subject_id: bob\n    password_hash: \"" + s.hash + "\"\n"
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))

	s.Require().NoError(s.store.LoadFile(context.Background(), path))
	s.Equal(2, s.store.Count())

	s.Error(s.store.LoadFile(context.Background(), filepath.Join(s.T().TempDir(), "missing.yaml")))
}
