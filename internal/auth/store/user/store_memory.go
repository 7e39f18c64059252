package user

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"trustcore/internal/auth/models"
	"trustcore/pkg/platform/sentinel"
)

// InMemoryUserStore holds password credentials loaded at startup.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func New() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[string]*models.User)}
}

// Save stores u, replacing any user with the same subject. The hash must be
// a bcrypt hash.
func (s *InMemoryUserStore) Save(_ context.Context, u *models.User) error {
	if u == nil || strings.TrimSpace(u.SubjectID) == "" {
		return fmt.Errorf("subject_id is required: %w", sentinel.ErrInvalidState)
	}
	if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
		return fmt.Errorf("user %s: password_hash is not a bcrypt hash: %w", u.SubjectID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *u
	s.users[u.SubjectID] = &stored
	return nil
}

func (s *InMemoryUserStore) FindBySubject(_ context.Context, subjectID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	found := *u
	return &found, nil
}

func (s *InMemoryUserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

type usersFile struct {
	Users []models.User `yaml:"users"`
}

// LoadFile reads a YAML file of the form
//
//	users:
//	  - subject_id: alice
//	    password_hash: $2a$10$...
func (s *InMemoryUserStore) LoadFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse users file: %w", err)
	}
	for i := range f.Users {
		if err := s.Save(ctx, &f.Users[i]); err != nil {
			return err
		}
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for Save.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
