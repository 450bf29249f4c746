package models

import "time"

// Profile mirrors the hosted auth provider's user with marketplace fields.
type Profile struct {
	UserID                string     `json:"user_id" db:"user_id"`
	Email                 string     `json:"email" db:"email"`
	FullName              string     `json:"full_name" db:"full_name"`
	ReferralCode          string     `json:"referral_code" db:"referral_code"`
	IsAdmin               bool       `json:"is_admin" db:"is_admin"`
	SubscriptionPlan      string     `json:"subscription_plan" db:"subscription_plan"`
	ActiveSubscription    bool       `json:"active_subscription" db:"active_subscription"`
	SubscriptionStartDate *time.Time `json:"subscription_start_date,omitempty" db:"subscription_start_date"`
	SubscriptionEndDate   *time.Time `json:"subscription_end_date,omitempty" db:"subscription_end_date"`
}

// SubscriptionActive reports whether the paid plan is still in effect at now.
func (p *Profile) SubscriptionActive(now time.Time) bool {
	if !p.ActiveSubscription {
		return false
	}
	return p.SubscriptionEndDate == nil || p.SubscriptionEndDate.After(now)
}

// DownloadGrant is a time-boxed, single-use entitlement to a product file.
type DownloadGrant struct {
	ID         string     `json:"id" db:"id"`
	OrderID    string     `json:"order_id" db:"order_id"`
	ProductID  string     `json:"product_id" db:"product_id"`
	UserID     *string    `json:"user_id,omitempty" db:"user_id"`
	GuestEmail *string    `json:"guest_email,omitempty" db:"guest_email"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

func (g *DownloadGrant) Subject() string {
	if g.UserID != nil {
		return *g.UserID
	}
	if g.GuestEmail != nil {
		return *g.GuestEmail
	}
	return ""
}
