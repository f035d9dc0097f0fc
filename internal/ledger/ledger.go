// Package ledger applies balance-affecting actions to platform accounts.
//
// Every balance change goes through ApplyAction or one of the operations built on it
// (deposit, withdrawal, tip, subscription, collectible purchase). Each runs inside the
// store's per-account update, so the balance check and the history append are atomic.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/domain/models"
	"github.com/IlyasAtabaev731/onlyfrens/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound     = storage.ErrAccountNotFound
	ErrUsernameTaken       = storage.ErrUsernameTaken
	ErrAccountExists       = storage.ErrAccountExists
	ErrInsufficientBalance = models.ErrInsufficientBalance
	ErrInvalidAmount       = models.ErrInvalidAmount
	ErrInvalidInput        = fmt.Errorf("%w: malformed input", models.ErrInvalidAmount)
)

// Recorder receives ledger events. *metrics.Metrics satisfies it.
type Recorder interface {
	ActionApplied(kind string)
	ActionRejected(kind, reason string)
	NoOp(kind string)
	AccountRegistered()
}

type nopRecorder struct{}

func (nopRecorder) ActionApplied(string)          {}
func (nopRecorder) ActionRejected(string, string) {}
func (nopRecorder) NoOp(string)                   {}
func (nopRecorder) AccountRegistered()            {}

type Ledger struct {
	storage       storage.Storage
	logger        *slog.Logger
	recorder      Recorder
	startingGrant decimal.Decimal
	now           func() time.Time
	newID         func() string
}

type Option func(*Ledger)

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(l *Ledger) {
		if r != nil {
			l.recorder = r
		}
	}
}

func WithStartingGrant(grant decimal.Decimal) Option {
	return func(l *Ledger) { l.startingGrant = grant }
}

func New(store storage.Storage, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage:       store,
		logger:        logger,
		recorder:      nopRecorder{},
		startingGrant: decimal.Zero,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Receipt is the outcome of a balance operation. Action is nil when nothing was charged.
type Receipt struct {
	Account *models.Account
	Action  *models.Action
}

// ApplyAction appends one action to the account and moves its balance by signedAmount.
func (l *Ledger) ApplyAction(ctx context.Context, accountID string, kind models.ActionKind, signedAmount decimal.Decimal, targetID, description string) (*Receipt, error) {
	var applied models.Action
	acc, err := l.storage.Update(ctx, accountID, func(acc *models.Account) error {
		applied = l.newAction(kind, signedAmount, targetID, description)
		return acc.Apply(applied)
	})
	if err != nil {
		return nil, l.rejected(accountID, kind, err)
	}

	l.applied(acc, applied)
	return &Receipt{Account: acc, Action: &applied}, nil
}

func (l *Ledger) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*Receipt, error) {
	if err := requirePositive(amount); err != nil {
		return nil, l.rejected(accountID, models.ActionDeposit, err)
	}
	return l.ApplyAction(ctx, accountID, models.ActionDeposit, amount, "",
		fmt.Sprintf("Deposited %s to platform.", models.FormatAmount(amount)))
}

func (l *Ledger) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (*Receipt, error) {
	if err := requirePositive(amount); err != nil {
		return nil, l.rejected(accountID, models.ActionWithdrawal, err)
	}
	return l.ApplyAction(ctx, accountID, models.ActionWithdrawal, amount.Neg(), "",
		fmt.Sprintf("Withdrew %s from platform.", models.FormatAmount(amount)))
}

// Tip debits the sender only. Creators have no platform balance to credit.
func (l *Ledger) Tip(ctx context.Context, accountID, creatorID string, amount decimal.Decimal) (*Receipt, error) {
	if err := requireID("creatorId", creatorID); err != nil {
		return nil, l.rejected(accountID, models.ActionTip, err)
	}
	if err := requirePositive(amount); err != nil {
		return nil, l.rejected(accountID, models.ActionTip, err)
	}
	return l.ApplyAction(ctx, accountID, models.ActionTip, amount.Neg(), creatorID,
		fmt.Sprintf("Tipped %s to %s.", models.FormatAmount(amount), creatorID))
}

type SubscribeResult struct {
	Receipt
	Subscription      models.Subscription
	AlreadySubscribed bool
}

// Subscribe charges price and grants one calendar month of access to creatorID.
// An unexpired subscription is returned as is without charging again.
func (l *Ledger) Subscribe(ctx context.Context, accountID, creatorID string, price decimal.Decimal) (*SubscribeResult, error) {
	kind := models.ActionSubscription
	if err := requireID("creatorId", creatorID); err != nil {
		return nil, l.rejected(accountID, kind, err)
	}
	if err := requireNonNegative(price); err != nil {
		return nil, l.rejected(accountID, kind, err)
	}

	var res SubscribeResult
	acc, err := l.storage.Update(ctx, accountID, func(acc *models.Account) error {
		res = SubscribeResult{}
		now := l.now()
		if sub, ok := acc.Subscription(creatorID); ok && sub.Active(now) {
			res.Subscription = sub
			res.AlreadySubscribed = true
			return nil
		}

		act := l.newAction(kind, price.Neg(), creatorID,
			fmt.Sprintf("Subscribed to %s for %s.", creatorID, models.FormatAmount(price)))
		if err := acc.Apply(act); err != nil {
			return err
		}

		expires := now.AddDate(0, 1, 0)
		res.Subscription = models.Subscription{CreatorID: creatorID, SubscribedSince: now, ExpiresAt: &expires}
		acc.SetSubscription(res.Subscription)
		res.Action = &act
		return nil
	})
	if err != nil {
		return nil, l.rejected(accountID, kind, err)
	}

	res.Account = acc
	if res.AlreadySubscribed {
		l.noop(accountID, kind, creatorID)
	} else {
		l.applied(acc, *res.Action)
	}
	return &res, nil
}

type PurchaseRequest struct {
	CollectibleID string
	CreatorID     string
	Price         decimal.Decimal
	Metadata      models.CollectibleMetadata
}

type PurchaseResult struct {
	Receipt
	Collectible  models.Collectible
	AlreadyOwned bool
}

// BuyCollectible charges the price once and records ownership. Buying an owned
// collectible returns the stored record without charging.
func (l *Ledger) BuyCollectible(ctx context.Context, accountID string, req PurchaseRequest) (*PurchaseResult, error) {
	kind := models.ActionPurchase
	if err := requireID("premiumContentId", req.CollectibleID); err != nil {
		return nil, l.rejected(accountID, kind, err)
	}
	if err := requireID("creatorId", req.CreatorID); err != nil {
		return nil, l.rejected(accountID, kind, err)
	}
	if err := requireNonNegative(req.Price); err != nil {
		return nil, l.rejected(accountID, kind, err)
	}

	var res PurchaseResult
	acc, err := l.storage.Update(ctx, accountID, func(acc *models.Account) error {
		res = PurchaseResult{}
		if owned, ok := acc.Collectible(req.CollectibleID); ok {
			res.Collectible = owned
			res.AlreadyOwned = true
			return nil
		}

		act := l.newAction(kind, req.Price.Neg(), req.CollectibleID,
			fmt.Sprintf("Purchased NFT '%s' for %s.", req.Metadata.Name, models.FormatAmount(req.Price)))
		if err := acc.Apply(act); err != nil {
			return err
		}

		res.Collectible = mint(req, act.Timestamp)
		acc.OwnedCollectibles = append(acc.OwnedCollectibles, res.Collectible)
		res.Action = &act
		return nil
	})
	if err != nil {
		return nil, l.rejected(accountID, kind, err)
	}

	res.Account = acc
	if res.AlreadyOwned {
		l.noop(accountID, kind, req.CollectibleID)
	} else {
		l.applied(acc, *res.Action)
	}
	return &res, nil
}

func mint(req PurchaseRequest, at time.Time) models.Collectible {
	prefix := req.CollectibleID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	millis := fmt.Sprintf("%06d", at.UnixMilli())

	return models.Collectible{
		ID:                  req.CollectibleID,
		CollectibleMetadata: req.Metadata,
		CreatorID:           req.CreatorID,
		Price:               req.Price,
		ContractAddress:     "mock-nft-contract-addr-" + prefix,
		TokenID:             "mock-token-" + millis[len(millis)-6:],
		PurchaseDate:        at,
	}
}

func (l *Ledger) newAction(kind models.ActionKind, amount decimal.Decimal, targetID, description string) models.Action {
	return models.Action{
		ID:           l.newID(),
		Kind:         kind,
		Timestamp:    l.now(),
		Description:  description,
		SignedAmount: amount,
		TargetID:     targetID,
	}
}

func (l *Ledger) applied(acc *models.Account, act models.Action) {
	l.recorder.ActionApplied(string(act.Kind))
	l.logger.Info("Action applied",
		slog.String("account", acc.ID),
		slog.String("kind", string(act.Kind)),
		slog.String("amount", models.FormatAmount(act.SignedAmount)),
		slog.String("balance", models.FormatAmount(acc.Balance)),
	)
}

func (l *Ledger) noop(accountID string, kind models.ActionKind, targetID string) {
	l.recorder.NoOp(string(kind))
	l.logger.Info("Operation already satisfied",
		slog.String("account", accountID),
		slog.String("kind", string(kind)),
		slog.String("target", targetID),
	)
}

func (l *Ledger) rejected(accountID string, kind models.ActionKind, err error) error {
	reason := ErrorKind(err)
	l.recorder.ActionRejected(string(kind), reason)
	if reason == KindInternal {
		l.logger.Error("Action failed", slog.String("account", accountID), slog.String("kind", string(kind)), "error", err)
	} else {
		l.logger.Warn("Action rejected", slog.String("account", accountID), slog.String("kind", string(kind)), slog.String("reason", reason))
	}
	return err
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return requirePrecision(amount)
}

func requireNonNegative(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidAmount)
	}
	return requirePrecision(amount)
}

func requirePrecision(amount decimal.Decimal) error {
	if !amount.Equal(amount.Truncate(models.AmountPlaces)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, models.AmountPlaces)
	}
	return nil
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return nil
}

const (
	KindAccountNotFound     = "AccountNotFound"
	KindInsufficientBalance = "InsufficientBalance"
	KindInvalidAmount       = "InvalidAmount"
	KindUsernameTaken       = "UsernameTaken"
	KindInternal            = "Internal"
)

// ErrorKind classifies err into the error kinds reported to API callers.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return KindAccountNotFound
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrAccountExists):
		return KindUsernameTaken
	default:
		return KindInternal
	}
}
