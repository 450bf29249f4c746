package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderKind string

const (
	OrderKindProduct      OrderKind = "product"
	OrderKindSubscription OrderKind = "subscription"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Order is created pending when a payment is initiated and moves to
// completed or failed exactly once. Amounts are in kobo and
// SellerCommission+ReferrerCommission+AdminShare always equals Amount.
type Order struct {
	ID                 string          `json:"id" db:"id"`
	Kind               OrderKind       `json:"kind" db:"kind"`
	BuyerID            *string         `json:"buyer_id,omitempty" db:"buyer_id"`
	GuestEmail         *string         `json:"guest_email,omitempty" db:"guest_email"`
	ProductID          *string         `json:"product_id,omitempty" db:"product_id"`
	PlanName           *string         `json:"plan_name,omitempty" db:"plan_name"`
	Amount             int64           `json:"amount" db:"amount"`
	ReferrerID         *string         `json:"referrer_id,omitempty" db:"referrer_id"`
	CommissionRate     decimal.Decimal `json:"commission_rate" db:"commission_rate"`
	SellerCommission   int64           `json:"seller_commission" db:"seller_commission"`
	ReferrerCommission int64           `json:"referrer_commission" db:"referrer_commission"`
	AdminShare         int64           `json:"admin_share" db:"admin_share"`
	PaymentStatus      PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentReference   string          `json:"payment_reference" db:"payment_reference"`
	DownloadExpiresAt  *time.Time      `json:"download_expires_at,omitempty" db:"download_expires_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`

	// Joined from products; empty for subscription orders.
	SellerID     string `json:"-"`
	ProductTitle string `json:"-"`
}

// SplitBalanced reports whether the stored commission columns add up to Amount.
func (o *Order) SplitBalanced() bool {
	return o.SellerCommission+o.ReferrerCommission+o.AdminShare == o.Amount
}

// Purchaser is the buyer id, or the guest email for guest checkouts.
func (o *Order) Purchaser() string {
	if o.BuyerID != nil {
		return *o.BuyerID
	}
	if o.GuestEmail != nil {
		return *o.GuestEmail
	}
	return ""
}

type Product struct {
	ID            string    `json:"id" db:"id"`
	SellerID      string    `json:"seller_id" db:"seller_id"`
	Title         string    `json:"title" db:"title"`
	Price         int64     `json:"price" db:"price"`
	FilePath      string    `json:"-" db:"file_path"`
	DownloadCount int       `json:"download_count" db:"download_count"`
	IsActive      bool      `json:"is_active" db:"is_active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// SubscriptionPlan determines a seller's commission rate at the time of sale.
type SubscriptionPlan struct {
	ID             string          `json:"id" db:"id"`
	Name           string          `json:"name" db:"name"`
	Price          int64           `json:"price" db:"price"`
	CommissionRate decimal.Decimal `json:"commission_rate" db:"commission_rate"`
	DurationMonths int             `json:"duration_months" db:"duration_months"`
	IsActive       bool            `json:"is_active" db:"is_active"`
}

// PaymentState is one row of the append-only payment status history.
type PaymentState struct {
	ID               int64     `json:"id" db:"id"`
	PaymentReference string    `json:"payment_reference" db:"payment_reference"`
	State            string    `json:"state" db:"state"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
