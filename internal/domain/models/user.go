package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits the platform balance is kept and rendered with.
const AmountPlaces = 7

type Subscription struct {
	CreatorID       string     `json:"creatorId"`
	SubscribedSince time.Time  `json:"subscribedSince"`
	ExpiresAt       *time.Time `json:"expires,omitempty"`
}

// Active reports whether the subscription still grants access at now.
// A subscription without expiry never lapses.
func (s Subscription) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

type CollectibleMetadata struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	ImageURL           string `json:"imageUrl"`
	PremiumContentURL  string `json:"premiumContentUrl,omitempty"`
	PremiumContentType string `json:"premiumContentType,omitempty"`
}

type Collectible struct {
	ID string `json:"id"`
	CollectibleMetadata
	CreatorID       string          `json:"creatorId"`
	Price           decimal.Decimal `json:"price"`
	ContractAddress string          `json:"contractAddress"`
	TokenID         string          `json:"tokenId"`
	PurchaseDate    time.Time       `json:"purchaseDate"`
}

type Account struct {
	ID                  string          `json:"id"`
	Username            string          `json:"username"`
	PasskeyCredentialID string          `json:"-"`
	PasskeyPublicKey    string          `json:"-"`
	WalletAddress       string          `json:"smartWalletAddress"`
	InitialBalance      decimal.Decimal `json:"initialBalance"`
	Balance             decimal.Decimal `json:"platformBalance"`
	Subscriptions       []Subscription  `json:"subscriptions"`
	OwnedCollectibles   []Collectible   `json:"ownedNfts"`
	ActionHistory       []Action        `json:"actionHistory"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// NewAccount builds a fresh account holding only its starting grant.
func NewAccount(id, username, credentialID, publicKey string, grant decimal.Decimal, now time.Time) *Account {
	return &Account{
		ID:                  id,
		Username:            username,
		PasskeyCredentialID: credentialID,
		PasskeyPublicKey:    publicKey,
		WalletAddress:       WalletAddress(id),
		InitialBalance:      grant,
		Balance:             grant,
		Subscriptions:       []Subscription{},
		OwnedCollectibles:   []Collectible{},
		ActionHistory:       []Action{},
		CreatedAt:           now,
	}
}

// WalletAddress derives the synthetic smart wallet address shown for an account.
func WalletAddress(id string) string {
	addr := "G" + strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(addr) > 56 {
		addr = addr[:56]
	}
	return addr
}

// Apply appends act to the history and moves the balance by its signed amount.
// It is the only place the balance changes after creation.
func (a *Account) Apply(act Action) error {
	if !act.Kind.Valid() {
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidAmount, act.Kind)
	}
	if !act.SignedAmount.Equal(act.SignedAmount.Truncate(AmountPlaces)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountPlaces)
	}
	if act.Kind.Inflow() {
		if !act.SignedAmount.IsPositive() {
			return fmt.Errorf("%w: %s requires a positive amount", ErrInvalidAmount, act.Kind)
		}
	} else {
		if act.SignedAmount.IsPositive() {
			return fmt.Errorf("%w: %s requires a non-positive amount", ErrInvalidAmount, act.Kind)
		}
		if a.Balance.Add(act.SignedAmount).IsNegative() {
			return ErrInsufficientBalance
		}
	}

	a.ActionHistory = append(a.ActionHistory, act)
	a.Balance = a.Balance.Add(act.SignedAmount)
	return nil
}

// LedgerBalance recomputes the balance from the starting grant and the full history.
func (a *Account) LedgerBalance() decimal.Decimal {
	sum := a.InitialBalance
	for _, act := range a.ActionHistory {
		sum = sum.Add(act.SignedAmount)
	}
	return sum
}

func (a *Account) Subscription(creatorID string) (Subscription, bool) {
	for _, s := range a.Subscriptions {
		if s.CreatorID == creatorID {
			return s, true
		}
	}
	return Subscription{}, false
}

// SetSubscription replaces any entry for the same creator.
func (a *Account) SetSubscription(sub Subscription) {
	kept := a.Subscriptions[:0]
	for _, s := range a.Subscriptions {
		if s.CreatorID != sub.CreatorID {
			kept = append(kept, s)
		}
	}
	a.Subscriptions = append(kept, sub)
}

func (a *Account) Collectible(id string) (Collectible, bool) {
	for _, c := range a.OwnedCollectibles {
		if c.ID == id {
			return c, true
		}
	}
	return Collectible{}, false
}

func (a *Account) LastAction() (Action, bool) {
	if len(a.ActionHistory) == 0 {
		return Action{}, false
	}
	return a.ActionHistory[len(a.ActionHistory)-1], true
}

// Clone returns a deep copy so callers never share slices with the store.
func (a *Account) Clone() *Account {
	c := *a
	c.ActionHistory = append([]Action(nil), a.ActionHistory...)
	c.OwnedCollectibles = append([]Collectible(nil), a.OwnedCollectibles...)
	c.Subscriptions = make([]Subscription, len(a.Subscriptions))
	for i, s := range a.Subscriptions {
		if s.ExpiresAt != nil {
			exp := *s.ExpiresAt
			s.ExpiresAt = &exp
		}
		c.Subscriptions[i] = s
	}
	if c.ActionHistory == nil {
		c.ActionHistory = []Action{}
	}
	if c.OwnedCollectibles == nil {
		c.OwnedCollectibles = []Collectible{}
	}
	return &c
}

// FormatAmount renders an amount with the platform's fixed precision.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountPlaces)
}
