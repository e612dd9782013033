package auth

import (
	"context"
	"sync"
	"time"

	"github.com/mrmushfiq/ridegate/internal/shared/database"
	"github.com/mrmushfiq/ridegate/internal/shared/models"
)

// CredentialStore persists API key credentials. Implementations return
// database.ErrNotFound for unknown ids.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *models.Credential) error
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	TouchCredential(ctx context.Context, id string) error
	DeactivateCredential(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// MemoryStore is a CredentialStore for development and tests. Its contents
// do not survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]models.Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]models.Credential)}
}

func (s *MemoryStore) CreateCredential(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.ID] = clone(*c)
	return nil
}

func (s *MemoryStore) GetCredential(_ context.Context, id string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	out := clone(c)
	return &out, nil
}

func (s *MemoryStore) TouchCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return database.ErrNotFound
	}
	now := time.Now().UTC()
	c.LastUsedAt = &now
	s.creds[id] = c
	return nil
}

func (s *MemoryStore) DeactivateCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return database.ErrNotFound
	}
	c.IsActive = false
	c.UpdatedAt = time.Now().UTC()
	s.creds[id] = c
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func clone(c models.Credential) models.Credential {
	c.Permissions = append([]string(nil), c.Permissions...)
	return c
}
