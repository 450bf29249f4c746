package models

import (
	"time"
)

type TransactionType string

const (
	SalesCommission    TransactionType = "sales_commission"
	ReferralCommission TransactionType = "referral_commission"
	AdminShare         TransactionType = "admin_share"
	WithdrawalDebit    TransactionType = "withdrawal"
	WithdrawalReversal TransactionType = "withdrawal_reversal"
)

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// Transaction is an append-only ledger row. Amount is signed; only Status
// changes after insert, and only for withdrawals.
type Transaction struct {
	ID          int64             `json:"id" db:"id"`
	UserID      *string           `json:"user_id,omitempty" db:"user_id"`
	Type        TransactionType   `json:"type" db:"type"`
	Amount      int64             `json:"amount" db:"amount"`
	Description string            `json:"description" db:"description"`
	Reference   string            `json:"reference" db:"reference"`
	Status      TransactionStatus `json:"status" db:"status"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}
