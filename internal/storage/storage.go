package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrUsernameTaken   = errors.New("username already taken")
)

// UpdateFunc mutates a private copy of an account. Returning an error discards the copy.
type UpdateFunc func(acc *models.Account) error

// Storage is the user record store. Implementations return copies, never live records,
// and run Update under mutual exclusion per account so read-check-append is atomic.
type Storage interface {
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	GetAccountByCredential(ctx context.Context, credentialID string) (*models.Account, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.Account, error)
	Stop() error
}

// NormalizeCredentialID folds base64 and base64url spellings of a passkey credential id together.
func NormalizeCredentialID(id string) string {
	id = strings.ReplaceAll(id, "+", "-")
	id = strings.ReplaceAll(id, "/", "_")
	return strings.TrimRight(id, "=")
}
