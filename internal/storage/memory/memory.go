package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/IlyasAtabaev731/onlyfrens/internal/storage"
)

type record struct {
	mu  sync.Mutex
	acc *models.Account
}

// Storage keeps accounts for the lifetime of the process.
type Storage struct {
	mu          sync.RWMutex
	accounts    map[string]*record
	usernames   map[string]string
	credentials map[string]string
	logger      *slog.Logger
}

var _ storage.Storage = (*Storage)(nil)

func New(logger *slog.Logger) *Storage {
	return &Storage{
		accounts:    make(map[string]*record),
		usernames:   make(map[string]string),
		credentials: make(map[string]string),
		logger:      logger,
	}
}

func (s *Storage) Stop() error {
	return nil
}

func (s *Storage) CreateAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.memory.CreateAccount"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountExists)
	}
	credKey := storage.NormalizeCredentialID(acc.PasskeyCredentialID)
	if _, ok := s.credentials[credKey]; ok && acc.PasskeyCredentialID != "" {
		return fmt.Errorf("%s: %w", op, storage.ErrAccountExists)
	}
	if _, ok := s.usernames[acc.Username]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUsernameTaken)
	}

	s.accounts[acc.ID] = &record{acc: acc.Clone()}
	s.usernames[acc.Username] = acc.ID
	if acc.PasskeyCredentialID != "" {
		s.credentials[credKey] = acc.ID
	}

	s.logger.Debug("account stored", slog.String("account", acc.ID), slog.Int("accounts", len(s.accounts)))
	return nil
}

func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.memory.GetAccount"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.acc.Clone(), nil
}

func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	s.mu.RLock()
	id, ok := s.usernames[username]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage.memory.GetAccountByUsername: %w", storage.ErrAccountNotFound)
	}
	return s.GetAccount(ctx, id)
}

func (s *Storage) GetAccountByCredential(ctx context.Context, credentialID string) (*models.Account, error) {
	s.mu.RLock()
	id, ok := s.credentials[storage.NormalizeCredentialID(credentialID)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage.memory.GetAccountByCredential: %w", storage.ErrAccountNotFound)
	}
	return s.GetAccount(ctx, id)
}

// Update runs fn on a copy of the account while holding the account's lock.
// Concurrent updates to one account are serialized; different accounts proceed in parallel.
func (s *Storage) Update(ctx context.Context, id string, fn storage.UpdateFunc) (*models.Account, error) {
	const op = "storage.memory.Update"

	rec, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAccountNotFound)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	draft := rec.acc.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	rec.acc = draft

	return draft.Clone(), nil
}

func (s *Storage) lookup(id string) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.accounts[id]
	return rec, ok
}
