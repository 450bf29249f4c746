package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digimart/backend/internal/models"
)

const FreePlan = "free"

type SubscriptionRequest struct {
	PlanName string `json:"plan_name" validate:"required,max=64"`
	UserID   string `json:"-"`
	Email    string `json:"-"`
}

type SubscriptionInit struct {
	Plan             string `json:"plan"`
	Reference        string `json:"reference,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	AccessCode       string `json:"access_code,omitempty"`
	Activated        bool   `json:"activated"`
}

// SubscriptionService sells seller plans. A paid plan is an order whose
// whole amount is the platform's share; it is activated when the payment
// is verified through SaleService.
type SubscriptionService struct {
	db    *sql.DB
	sales *SaleService
	clock func() time.Time
}

func NewSubscriptionService(db *sql.DB, sales *SaleService) *SubscriptionService {
	return &SubscriptionService{db: db, sales: sales, clock: time.Now}
}

func (s *SubscriptionService) InitiateSubscription(ctx context.Context, req SubscriptionRequest) (*SubscriptionInit, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "user is required"}
	}
	plan, err := s.loadPlan(ctx, req.PlanName)
	if err != nil {
		return nil, err
	}

	if plan.Name == FreePlan || plan.Price == 0 {
		if err := s.resetToFree(ctx, req.UserID); err != nil {
			return nil, err
		}
		return &SubscriptionInit{Plan: FreePlan, Activated: true}, nil
	}

	if req.Email == "" {
		return nil, &ValidationError{Field: "email", Message: "email is required for paid plans"}
	}

	now := s.clock()
	order := &models.Order{
		ID:               uuid.NewString(),
		Kind:             models.OrderKindSubscription,
		BuyerID:          &req.UserID,
		PlanName:         &plan.Name,
		Amount:           plan.Price,
		CommissionRate:   Rate(0).Decimal(),
		AdminShare:       plan.Price,
		PaymentStatus:    models.PaymentPending,
		PaymentReference: newReference(plan.Price),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.sales.insertOrder(ctx, order); err != nil {
		return nil, err
	}

	checkout, err := s.sales.openCheckout(ctx, order, req.Email, map[string]string{
		"order_id": order.ID,
		"plan":     plan.Name,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Subscription checkout opened",
		zap.String("user_id", req.UserID),
		zap.String("plan", plan.Name),
		zap.String("reference", order.PaymentReference))
	return &SubscriptionInit{
		Plan:             plan.Name,
		Reference:        order.PaymentReference,
		AuthorizationURL: checkout.AuthorizationURL,
		AccessCode:       checkout.AccessCode,
	}, nil
}

func (s *SubscriptionService) loadPlan(ctx context.Context, name string) (*models.SubscriptionPlan, error) {
	var p models.SubscriptionPlan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, commission_rate, duration_months, is_active
		FROM subscription_plans WHERE name = $1 AND is_active`, name).
		Scan(&p.ID, &p.Name, &p.Price, &p.CommissionRate, &p.DurationMonths, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("plan", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", name, err)
	}
	return &p, nil
}

func (s *SubscriptionService) resetToFree(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET subscription_plan = 'free', active_subscription = FALSE,
			subscription_start_date = NULL, subscription_end_date = NULL
		WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("reset plan for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("profile", userID)
	}
	return nil
}

// activateSubscription runs inside ApplyCompletedSale for subscription orders.
func activateSubscription(ctx context.Context, tx *sql.Tx, order *models.Order, now time.Time) error {
	if order.BuyerID == nil || order.PlanName == nil {
		return &ValidationError{Field: "plan_name", Message: "subscription order has no buyer or plan"}
	}

	var months int
	err := tx.QueryRowContext(ctx, `SELECT duration_months FROM subscription_plans WHERE name = $1`, *order.PlanName).Scan(&months)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("plan", *order.PlanName)
	}
	if err != nil {
		return fmt.Errorf("load plan %s: %w", *order.PlanName, err)
	}

	end := now.AddDate(0, months, 0)
	if _, err := tx.ExecContext(ctx, `
		UPDATE profiles
		SET subscription_plan = $2, active_subscription = TRUE,
			subscription_start_date = $3, subscription_end_date = $4
		WHERE user_id = $1`,
		*order.BuyerID, *order.PlanName, now, end); err != nil {
		return fmt.Errorf("activate plan for %s: %w", *order.BuyerID, err)
	}

	zap.L().Info("Subscription activated",
		zap.String("user_id", *order.BuyerID),
		zap.String("plan", *order.PlanName),
		zap.Time("ends_at", end))
	return nil
}
