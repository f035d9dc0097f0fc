package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
)

// Register creates the account for a verified passkey. The credential id doubles as the account id.
func (l *Ledger) Register(ctx context.Context, username, credentialID, publicKey string) (*models.Account, error) {
	const op = "ledger.Register"

	username = strings.TrimSpace(username)
	if err := requireID("username", username); err != nil {
		return nil, err
	}
	if err := requireID("credentialId", credentialID); err != nil {
		return nil, err
	}

	acc := models.NewAccount(credentialID, username, credentialID, publicKey, l.startingGrant, l.now())
	if err := l.storage.CreateAccount(ctx, acc); err != nil {
		l.logger.Warn("Registration refused", slog.String("username", username), "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	l.recorder.AccountRegistered()
	l.logger.Info("Register new account",
		slog.String("account", acc.ID),
		slog.String("username", username),
		slog.String("wallet", acc.WalletAddress),
		slog.String("grant", models.FormatAmount(acc.InitialBalance)),
	)
	return acc, nil
}

// Login resolves the account for a passkey assertion the identity collaborator already verified.
func (l *Ledger) Login(ctx context.Context, credentialID string) (*models.Account, error) {
	if err := requireID("credentialId", credentialID); err != nil {
		return nil, err
	}
	return l.storage.GetAccountByCredential(ctx, credentialID)
}

func (l *Ledger) DemoLogin(ctx context.Context, username string) (*models.Account, error) {
	if err := requireID("username", username); err != nil {
		return nil, err
	}
	return l.storage.GetAccountByUsername(ctx, strings.TrimSpace(username))
}

func (l *Ledger) Account(ctx context.Context, accountID string) (*models.Account, error) {
	return l.storage.GetAccount(ctx, accountID)
}

// History returns the account's actions oldest first, optionally restricted to one kind
// and to the most recent limit entries. limit <= 0 means no limit.
func (l *Ledger) History(ctx context.Context, accountID string, kind models.ActionKind, limit int) ([]models.Action, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown action kind %q", ErrInvalidInput, kind)
	}

	acc, err := l.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	actions := make([]models.Action, 0, len(acc.ActionHistory))
	for _, a := range acc.ActionHistory {
		if kind == "" || a.Kind == kind {
			actions = append(actions, a)
		}
	}
	if limit > 0 && len(actions) > limit {
		actions = actions[len(actions)-limit:]
	}
	return actions, nil
}

type Access struct {
	HasAccess   bool
	AccessToken string
	Collectible *models.Collectible
}

// VerifyAccess checks whether the account owns collectibleID and, if so, issues an access token
// for the premium content behind it.
func (l *Ledger) VerifyAccess(ctx context.Context, accountID, collectibleID string) (*Access, error) {
	if err := requireID("nftId", collectibleID); err != nil {
		return nil, err
	}

	acc, err := l.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	owned, ok := acc.Collectible(collectibleID)
	if !ok {
		return &Access{}, nil
	}
	return &Access{
		HasAccess:   true,
		AccessToken: fmt.Sprintf("access_%d_%s", l.now().UnixMilli(), collectibleID),
		Collectible: &owned,
	}, nil
}
