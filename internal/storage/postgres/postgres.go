package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/IlyasAtabaev731/onlyfrens/internal/storage"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Storage = (*Storage)(nil)

func New(dbUrl string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return &Storage{db: db, logger: logger}, nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

func (s *Storage) CreateAccount(ctx context.Context, acc *models.Account) error {
	const op = "storage.postgres.CreateAccount"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, credential_id, credential_key, public_key, wallet_address, initial_balance, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		acc.ID, acc.Username, acc.PasskeyCredentialID, storage.NormalizeCredentialID(acc.PasskeyCredentialID), acc.PasskeyPublicKey,
		acc.WalletAddress, acc.InitialBalance, acc.Balance, acc.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == "accounts_username_key" {
				return fmt.Errorf("%s: %w", op, storage.ErrUsernameTaken)
			}
			return fmt.Errorf("%s: %w", op, storage.ErrAccountExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.postgres.GetAccount"

	acc, err := s.load(ctx, s.db, "id = $1", id, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	const op = "storage.postgres.GetAccountByUsername"

	acc, err := s.load(ctx, s.db, "username = $1", username, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

func (s *Storage) GetAccountByCredential(ctx context.Context, credentialID string) (*models.Account, error) {
	const op = "storage.postgres.GetAccountByCredential"

	acc, err := s.load(ctx, s.db, "credential_key = $1", storage.NormalizeCredentialID(credentialID), false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}

// Update locks the account row for the duration of fn and writes back what fn changed.
func (s *Storage) Update(ctx context.Context, id string, fn storage.UpdateFunc) (*models.Account, error) {
	const op = "storage.postgres.Update"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("Failed to rollback account update", "error", err)
		}
	}()

	current, err := s.load(ctx, tx, "id = $1", id, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	draft := current.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}

	if changed(current, draft) {
		if err := s.persist(ctx, tx, current, draft); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return draft, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Storage) load(ctx context.Context, q querier, where string, arg any, forUpdate bool) (*models.Account, error) {
	query := `SELECT id, username, credential_id, public_key, wallet_address, initial_balance, balance, created_at
		FROM accounts WHERE ` + where
	if forUpdate {
		query += " FOR UPDATE"
	}

	var acc models.Account
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&acc.ID, &acc.Username, &acc.PasskeyCredentialID, &acc.PasskeyPublicKey,
		&acc.WalletAddress, &acc.InitialBalance, &acc.Balance, &acc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if acc.ActionHistory, err = s.loadActions(ctx, q, acc.ID); err != nil {
		return nil, err
	}
	if acc.Subscriptions, err = s.loadSubscriptions(ctx, q, acc.ID); err != nil {
		return nil, err
	}
	if acc.OwnedCollectibles, err = s.loadCollectibles(ctx, q, acc.ID); err != nil {
		return nil, err
	}

	return &acc, nil
}

func (s *Storage) loadActions(ctx context.Context, q querier, accountID string) ([]models.Action, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, kind, description, amount, target_id, created_at FROM actions WHERE account_id = $1 ORDER BY seq`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows, "actions")

	actions := []models.Action{}
	for rows.Next() {
		var a models.Action
		var target sql.NullString
		if err := rows.Scan(&a.ID, &a.Kind, &a.Description, &a.SignedAmount, &target, &a.Timestamp); err != nil {
			return nil, err
		}
		a.TargetID = target.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *Storage) loadSubscriptions(ctx context.Context, q querier, accountID string) ([]models.Subscription, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT creator_id, subscribed_since, expires_at FROM subscriptions WHERE account_id = $1 ORDER BY subscribed_since`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows, "subscriptions")

	subs := []models.Subscription{}
	for rows.Next() {
		var sub models.Subscription
		var expires sql.NullTime
		if err := rows.Scan(&sub.CreatorID, &sub.SubscribedSince, &expires); err != nil {
			return nil, err
		}
		if expires.Valid {
			exp := expires.Time
			sub.ExpiresAt = &exp
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Storage) loadCollectibles(ctx context.Context, q querier, accountID string) ([]models.Collectible, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, description, image_url, premium_content_url, premium_content_type,
			creator_id, price, contract_address, token_id, purchase_date
		 FROM collectibles WHERE account_id = $1 ORDER BY purchase_date, id`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows, "collectibles")

	owned := []models.Collectible{}
	for rows.Next() {
		var c models.Collectible
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.ImageURL, &c.PremiumContentURL, &c.PremiumContentType,
			&c.CreatorID, &c.Price, &c.ContractAddress, &c.TokenID, &c.PurchaseDate); err != nil {
			return nil, err
		}
		owned = append(owned, c)
	}
	return owned, rows.Err()
}

// changed reports whether after differs from before in anything persist writes.
func changed(before, after *models.Account) bool {
	if !before.Balance.Equal(after.Balance) ||
		len(before.ActionHistory) != len(after.ActionHistory) ||
		len(before.OwnedCollectibles) != len(after.OwnedCollectibles) ||
		len(before.Subscriptions) != len(after.Subscriptions) {
		return true
	}
	for i, sub := range after.Subscriptions {
		prev := before.Subscriptions[i]
		if sub.CreatorID != prev.CreatorID || !sub.SubscribedSince.Equal(prev.SubscribedSince) {
			return true
		}
		if (sub.ExpiresAt == nil) != (prev.ExpiresAt == nil) ||
			(sub.ExpiresAt != nil && !sub.ExpiresAt.Equal(*prev.ExpiresAt)) {
			return true
		}
	}
	return false
}

// persist writes the difference between before and after. History and collectibles only grow,
// so only their tails are inserted; subscriptions are rewritten whole.
func (s *Storage) persist(ctx context.Context, tx *sql.Tx, before, after *models.Account) error {
	if _, err := tx.ExecContext(ctx, "UPDATE accounts SET balance = $1 WHERE id = $2", after.Balance, after.ID); err != nil {
		return err
	}

	if len(after.ActionHistory) > len(before.ActionHistory) {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO actions (id, account_id, kind, description, amount, target_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range after.ActionHistory[len(before.ActionHistory):] {
			if _, err := stmt.ExecContext(ctx, a.ID, after.ID, a.Kind, a.Description, a.SignedAmount, a.TargetID, a.Timestamp); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM subscriptions WHERE account_id = $1", after.ID); err != nil {
		return err
	}
	for _, sub := range after.Subscriptions {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO subscriptions (account_id, creator_id, subscribed_since, expires_at) VALUES ($1, $2, $3, $4)",
			after.ID, sub.CreatorID, sub.SubscribedSince, sub.ExpiresAt,
		); err != nil {
			return err
		}
	}

	for _, c := range after.OwnedCollectibles[len(before.OwnedCollectibles):] {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO collectibles (account_id, id, name, description, image_url, premium_content_url, premium_content_type,
				creator_id, price, contract_address, token_id, purchase_date)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			after.ID, c.ID, c.Name, c.Description, c.ImageURL, c.PremiumContentURL, c.PremiumContentType,
			c.CreatorID, c.Price, c.ContractAddress, c.TokenID, c.PurchaseDate,
		); err != nil {
			return err
		}
	}

	return nil
}

func (s *Storage) closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		s.logger.Error("Failed to close rows", slog.String("table", what), "error", err)
	}
}
