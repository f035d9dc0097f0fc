package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ActionKind string

const (
	ActionDeposit      ActionKind = "DEPOSIT"
	ActionWithdrawal   ActionKind = "WITHDRAWAL"
	ActionTip          ActionKind = "TIP"
	ActionSubscription ActionKind = "SUBSCRIPTION"
	ActionPurchase     ActionKind = "NFT_PURCHASE"
)

// Valid reports whether k is one of the known balance-affecting kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionDeposit, ActionWithdrawal, ActionTip, ActionSubscription, ActionPurchase:
		return true
	}
	return false
}

// Inflow reports whether actions of this kind credit the balance.
func (k ActionKind) Inflow() bool {
	return k == ActionDeposit
}

type Action struct {
	ID           string          `json:"id"`
	Kind         ActionKind      `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
	Description  string          `json:"description"`
	SignedAmount decimal.Decimal `json:"amount"`
	TargetID     string          `json:"targetId,omitempty"`
}
