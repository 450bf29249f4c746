package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/digimart/backend/internal/models"
	"github.com/digimart/backend/internal/services"
)

type mockPayments struct{ mock.Mock }

func (m *mockPayments) InitiatePayment(ctx context.Context, req services.PaymentRequest) (*services.PaymentInit, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentInit), args.Error(1)
}

func (m *mockPayments) VerifyPayment(ctx context.Context, reference string) (*services.SaleResult, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SaleResult), args.Error(1)
}

type mockSubscriptions struct{ mock.Mock }

func (m *mockSubscriptions) InitiateSubscription(ctx context.Context, req services.SubscriptionRequest) (*services.SubscriptionInit, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SubscriptionInit), args.Error(1)
}

type mockWallets struct{ mock.Mock }

func (m *mockWallets) GetWallet(ctx context.Context, ref models.WalletRef) (*models.Wallet, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *mockWallets) ListTransactions(ctx context.Context, ref models.WalletRef, limit, offset int) ([]models.Transaction, error) {
	args := m.Called(ctx, ref, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

type mockWithdrawals struct{ mock.Mock }

func (m *mockWithdrawals) RequestWithdrawal(ctx context.Context, req services.WithdrawalRequest) (*models.Withdrawal, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawals) CompleteWithdrawal(ctx context.Context, id, externalRef string) (*models.Withdrawal, error) {
	args := m.Called(ctx, id, externalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawals) FailWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawals) CancelWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Withdrawal), args.Error(1)
}

func (m *mockWithdrawals) PublishPayoutEvent(ctx context.Context, ev services.PayoutEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type mockBanks struct{ mock.Mock }

func (m *mockBanks) Banks() []services.Bank {
	return m.Called().Get(0).([]services.Bank)
}

func (m *mockBanks) VerifyAccount(ctx context.Context, accountNumber, bankCode string) (*services.AccountVerification, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AccountVerification), args.Error(1)
}

type mockDownloads struct{ mock.Mock }

func (m *mockDownloads) Redeem(ctx context.Context, token string) (*services.Download, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Download), args.Error(1)
}

type stubVerifier struct{ valid bool }

func (s stubVerifier) VerifySignature([]byte, string) bool { return s.valid }
