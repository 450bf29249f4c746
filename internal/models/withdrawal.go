package models

import "time"

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalFailed    WithdrawalStatus = "failed"
)

// Withdrawal debits Amount+Fee from its wallet when created. A failed
// withdrawal has that debit credited back.
type Withdrawal struct {
	ID                string           `json:"id" db:"id"`
	UserID            *string          `json:"user_id,omitempty" db:"user_id"`
	Wallet            WalletKind       `json:"wallet" db:"wallet"`
	Amount            int64            `json:"amount" db:"amount"`
	Fee               int64            `json:"fee" db:"fee"`
	BankName          string           `json:"bank_name" db:"bank_name"`
	BankCode          string           `json:"bank_code" db:"bank_code"`
	AccountNumber     string           `json:"account_number" db:"account_number"`
	AccountName       string           `json:"account_name" db:"account_name"`
	Status            WithdrawalStatus `json:"status" db:"status"`
	ExternalReference *string          `json:"external_reference,omitempty" db:"external_reference"`
	FailureReason     *string          `json:"failure_reason,omitempty" db:"failure_reason"`
	DispatchedAt      *time.Time       `json:"dispatched_at,omitempty" db:"dispatched_at"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

func (w *Withdrawal) Total() int64 { return w.Amount + w.Fee }

// Dispatched reports whether a transfer request reached the payout provider.
func (w *Withdrawal) Dispatched() bool { return w.DispatchedAt != nil }

func (w *Withdrawal) Ref() WalletRef {
	if w.Wallet == AdminWallet || w.UserID == nil {
		return PlatformWallet
	}
	return UserWalletRef(*w.UserID)
}
