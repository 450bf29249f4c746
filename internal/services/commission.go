package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rate is a commission rate in basis points (1 bp = 0.0001).
type Rate int64

const (
	RateScale Rate = 10000

	// DefaultCommissionRate applies when a seller's plan cannot be determined.
	DefaultCommissionRate Rate = 2000
	// ReferrerRate is taken from the seller's gross share when a sale was referred.
	ReferrerRate Rate = 1500
)

// ParseRate converts a stored numeric rate in [0, 1] to basis points.
func ParseRate(d decimal.Decimal) (Rate, error) {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, &ValidationError{Field: "commission_rate", Message: fmt.Sprintf("rate %s outside [0, 1]", d.String())}
	}
	bp := d.Shift(4)
	if !bp.Equal(bp.Truncate(0)) {
		return 0, &ValidationError{Field: "commission_rate", Message: fmt.Sprintf("rate %s finer than one basis point", d.String())}
	}
	return Rate(bp.IntPart()), nil
}

func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -4)
}

func (r Rate) String() string {
	return r.Decimal().StringFixed(4)
}

// Split is how one sale amount is divided. The three parts always sum to the amount.
type Split struct {
	Seller   int64 `json:"seller_commission"`
	Referrer int64 `json:"referrer_commission"`
	Admin    int64 `json:"admin_share"`
}

func (s Split) Total() int64 { return s.Seller + s.Referrer + s.Admin }

// ComputeSplit divides amount (minor units) between seller, referrer and
// platform. Integer division floors each share; the platform keeps the
// remainder so the parts add up exactly.
func ComputeSplit(amount int64, rate Rate, hasReferrer bool) (Split, error) {
	if amount < 0 {
		return Split{}, &ValidationError{Field: "amount", Message: "amount cannot be negative"}
	}
	if rate < 0 || rate > RateScale {
		return Split{}, &ValidationError{Field: "commission_rate", Message: fmt.Sprintf("rate %d bp outside [0, %d]", rate, RateScale)}
	}

	gross := mulDiv(amount, rate)

	var referrer int64
	if hasReferrer {
		referrer = mulDiv(amount, ReferrerRate)
		// Plans below the referrer rate: the referrer takes the whole seller pool.
		if referrer > gross {
			referrer = gross
		}
	}

	seller := gross - referrer
	return Split{
		Seller:   seller,
		Referrer: referrer,
		Admin:    amount - seller - referrer,
	}, nil
}

// mulDiv returns floor(amount*rate/10000) without overflowing for large amounts.
func mulDiv(amount int64, rate Rate) int64 {
	q, r := amount/int64(RateScale), amount%int64(RateScale)
	return q*int64(rate) + r*int64(rate)/int64(RateScale)
}
