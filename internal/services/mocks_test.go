package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/digimart/backend/internal/paystack"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paystack.InitializeResult), args.Error(1)
}

func (m *MockGateway) VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paystack.Transaction), args.Error(1)
}

type MockPayouts struct {
	mock.Mock
}

func (m *MockPayouts) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	args := m.Called(ctx, name, accountNumber, bankCode)
	return args.String(0), args.Error(1)
}

func (m *MockPayouts) InitiateTransfer(ctx context.Context, req paystack.TransferRequest) (*paystack.Transfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paystack.Transfer), args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystack.AccountDetails, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paystack.AccountDetails), args.Error(1)
}
