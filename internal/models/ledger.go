package models

import (
	"time"
)

// WalletKind selects between per-user wallets and the platform wallet.
type WalletKind string

const (
	UserWallet  WalletKind = "user"
	AdminWallet WalletKind = "admin"
)

// WalletRef identifies a wallet. UserID is empty for the admin wallet.
type WalletRef struct {
	Kind   WalletKind `json:"kind"`
	UserID string     `json:"user_id,omitempty"`
}

var PlatformWallet = WalletRef{Kind: AdminWallet}

func UserWalletRef(userID string) WalletRef {
	return WalletRef{Kind: UserWallet, UserID: userID}
}

func (w WalletRef) IsAdmin() bool { return w.Kind == AdminWallet }

func (w WalletRef) String() string {
	if w.IsAdmin() {
		return "admin"
	}
	return "user:" + w.UserID
}

// Wallet holds cached totals that must equal the sum of the wallet's transactions.
type Wallet struct {
	UserID         string    `json:"user_id,omitempty" db:"user_id"`
	Balance        int64     `json:"balance" db:"balance"` // in kobo
	TotalEarned    int64     `json:"total_earned" db:"total_earned"`
	TotalWithdrawn int64     `json:"total_withdrawn" db:"total_withdrawn"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
