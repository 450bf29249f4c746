package services

import (
	"context"

	"github.com/digimart/backend/internal/paystack"
)

// PaymentGateway collects buyer payments. *paystack.Client satisfies it.
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error)
}

// PayoutProvider sends withdrawals to bank accounts.
type PayoutProvider interface {
	CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, req paystack.TransferRequest) (*paystack.Transfer, error)
}

// AccountResolver looks up the registered name on a bank account.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystack.AccountDetails, error)
}

const gatewayName = "paystack"
