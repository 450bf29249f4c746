package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/digimart/backend/internal/paystack"
)

func expectPlan(m sqlmock.Sqlmock, name string, price int64, rate string) {
	m.ExpectQuery("FROM subscription_plans WHERE name = \\$1 AND is_active").
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "commission_rate", "duration_months", "is_active"}).
			AddRow("plan_"+name, name, price, rate, 1, true))
}

func TestSubscriptionService_InitiateSubscription(t *testing.T) {
	t.Run("paid plan opens a checkout for the full price", func(t *testing.T) {
		fx := newSaleFixture(t, nil)
		subs := NewSubscriptionService(fx.svc.db, fx.svc)
		subs.clock = fx.svc.clock

		expectPlan(fx.mock, "pro", 500000, "0.5000")
		fx.mock.ExpectExec("INSERT INTO orders").
			WithArgs(sqlmock.AnyArg(), "subscription", "seller-1", nil, nil, "pro", int64(500000), nil,
				"0", int64(0), int64(0), int64(500000), "pending", sqlmock.AnyArg(), fixedNow, fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		fx.gateway.On("InitializeTransaction", mock.Anything, mock.MatchedBy(func(r paystack.InitializeRequest) bool {
			return r.Amount == 500000 && r.Metadata["plan"] == "pro"
		})).Return(&paystack.InitializeResult{AuthorizationURL: "https://checkout.paystack.com/pro"}, nil)

		out, err := subs.InitiateSubscription(context.Background(), SubscriptionRequest{
			PlanName: "pro", UserID: "seller-1", Email: "seller@example.com",
		})
		require.NoError(t, err)
		assert.False(t, out.Activated)
		assert.Equal(t, "https://checkout.paystack.com/pro", out.AuthorizationURL)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("free plan resets the profile at once", func(t *testing.T) {
		fx := newSaleFixture(t, nil)
		subs := NewSubscriptionService(fx.svc.db, fx.svc)

		expectPlan(fx.mock, "free", 0, "0.2000")
		fx.mock.ExpectExec("UPDATE profiles SET subscription_plan = 'free', active_subscription = FALSE").
			WithArgs("seller-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		out, err := subs.InitiateSubscription(context.Background(), SubscriptionRequest{PlanName: "free", UserID: "seller-1"})
		require.NoError(t, err)
		assert.True(t, out.Activated)
		fx.gateway.AssertNotCalled(t, "InitializeTransaction", mock.Anything, mock.Anything)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("unknown plan", func(t *testing.T) {
		fx := newSaleFixture(t, nil)
		subs := NewSubscriptionService(fx.svc.db, fx.svc)

		fx.mock.ExpectQuery("FROM subscription_plans").WithArgs("platinum").WillReturnError(sql.ErrNoRows)

		_, err := subs.InitiateSubscription(context.Background(), SubscriptionRequest{PlanName: "platinum", UserID: "seller-1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
