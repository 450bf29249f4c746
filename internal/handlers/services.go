package handlers

import (
	"context"

	"github.com/digimart/backend/internal/models"
	"github.com/digimart/backend/internal/services"
)

// The handlers depend on these narrow views of the services package.

type PaymentService interface {
	InitiatePayment(ctx context.Context, req services.PaymentRequest) (*services.PaymentInit, error)
	VerifyPayment(ctx context.Context, reference string) (*services.SaleResult, error)
}

type SubscriptionService interface {
	InitiateSubscription(ctx context.Context, req services.SubscriptionRequest) (*services.SubscriptionInit, error)
}

type WalletService interface {
	GetWallet(ctx context.Context, ref models.WalletRef) (*models.Wallet, error)
	ListTransactions(ctx context.Context, ref models.WalletRef, limit, offset int) ([]models.Transaction, error)
}

type WithdrawalService interface {
	RequestWithdrawal(ctx context.Context, req services.WithdrawalRequest) (*models.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, id, externalRef string) (*models.Withdrawal, error)
	FailWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error)
	CancelWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error)
	PublishPayoutEvent(ctx context.Context, ev services.PayoutEvent) error
}

type BankService interface {
	Banks() []services.Bank
	VerifyAccount(ctx context.Context, accountNumber, bankCode string) (*services.AccountVerification, error)
}

type DownloadService interface {
	Redeem(ctx context.Context, token string) (*services.Download, error)
}

type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}
