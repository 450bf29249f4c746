package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/digimart/backend/internal/audit"
	"github.com/digimart/backend/internal/models"
	"github.com/digimart/backend/internal/paystack"
)

const (
	lockWithdrawalSQL = "FROM withdrawals WHERE id = \\$1 FOR UPDATE"
	userDebitSQL      = "UPDATE wallets SET balance = balance - \\$2"
	userRefundSQL     = "UPDATE wallets SET balance = balance \\+ \\$2, total_withdrawn = total_withdrawn - \\$2"
)

type withdrawalFixture struct {
	svc     *WithdrawalService
	mock    sqlmock.Sqlmock
	payouts *MockPayouts
}

func newWithdrawalFixture(t *testing.T, rdb *redis.Client, withPayouts bool) *withdrawalFixture {
	t.Helper()
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := func() time.Time { return fixedNow }
	ledger := NewLedgerService(db)
	ledger.clock = clock

	payouts := &MockPayouts{}
	var provider PayoutProvider
	if withPayouts {
		provider = payouts
	}
	svc := NewWithdrawalService(db, rdb, ledger, provider, audit.NewLogger(zap.NewNop()), testLedgerConfig)
	svc.clock = clock
	return &withdrawalFixture{svc: svc, mock: sqlMock, payouts: payouts}
}

func withdrawalRows(id string, userID any, wallet, status string, amount, fee int64) *sqlmock.Rows {
	return withdrawalRowsAt(id, userID, wallet, status, amount, fee, nil)
}

// withdrawalRowsAt also sets dispatched_at, the time the transfer reached the provider.
func withdrawalRowsAt(id string, userID any, wallet, status string, amount, fee int64, dispatchedAt any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "wallet", "amount", "fee", "bank_name", "bank_code", "account_number", "account_name",
		"status", "external_reference", "failure_reason", "dispatched_at", "created_at", "updated_at",
	}).AddRow(id, userID, wallet, amount, fee, "Guaranty Trust Bank", "058", "0123456789", "ADA OBI",
		status, nil, nil, dispatchedAt, fixedNow, fixedNow)
}

const markDispatchedSQL = "UPDATE withdrawals SET dispatched_at = \\$2"

// expectPendingWithdrawal expects the debit transaction of RequestWithdrawal.
func expectPendingWithdrawal(m sqlmock.Sqlmock) {
	m.ExpectBegin()
	m.ExpectExec(userDebitSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec("INSERT INTO withdrawals").WillReturnResult(sqlmock.NewResult(1, 1))
	m.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
	m.ExpectCommit()
}

func userRequest() WithdrawalRequest {
	return WithdrawalRequest{
		Amount:        100000,
		BankName:      "Guaranty Trust Bank",
		AccountNumber: "0123456789",
		AccountName:   "ADA OBI",
		UserID:        "user-1",
	}
}

func expectUserReversal(m sqlmock.Sqlmock, id any, total int64) {
	m.ExpectExec("UPDATE withdrawals SET status = \\$2, failure_reason = \\$3").
		WithArgs(id, "failed", sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec("UPDATE transactions SET status = \\$1").
		WithArgs("failed", "user-1", "withdrawal", id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec(userRefundSQL).
		WithArgs("user-1", total, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectExec("INSERT INTO transactions").
		WithArgs("user-1", "withdrawal_reversal", total, sqlmock.AnyArg(), id, "completed", fixedNow).
		WillReturnResult(sqlmock.NewResult(2, 1))
}

func TestWithdrawalService_RequestWithdrawal(t *testing.T) {
	t.Run("debits amount plus fee and dispatches the transfer", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, true)

		fx.mock.ExpectBegin()
		fx.mock.ExpectExec(userDebitSQL).
			WithArgs("user-1", int64(105000), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("INSERT INTO withdrawals").
			WithArgs(sqlmock.AnyArg(), "user-1", "user", int64(100000), int64(5000), "Guaranty Trust Bank", "058",
				"0123456789", "ADA OBI", "pending", fixedNow, fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		fx.mock.ExpectExec("INSERT INTO transactions").
			WithArgs("user-1", "withdrawal", int64(-105000), "Withdrawal to Guaranty Trust Bank", sqlmock.AnyArg(), "pending", fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		fx.mock.ExpectCommit()

		fx.payouts.On("CreateTransferRecipient", mock.Anything, "ADA OBI", "0123456789", "058").Return("RCP_1", nil)
		fx.payouts.On("InitiateTransfer", mock.Anything, mock.MatchedBy(func(r paystack.TransferRequest) bool {
			return r.Amount == 100000 && r.Recipient == "RCP_1" && r.Reference != ""
		})).Return(&paystack.Transfer{TransferCode: "TRF_1", Status: "pending"}, nil)
		fx.mock.ExpectExec(markDispatchedSQL).
			WithArgs(sqlmock.AnyArg(), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("UPDATE withdrawals SET external_reference = \\$2").
			WithArgs(sqlmock.AnyArg(), "TRF_1", fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w, err := fx.svc.RequestWithdrawal(context.Background(), userRequest())
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalPending, w.Status)
		assert.Equal(t, int64(105000), w.Total())
		require.NotNil(t, w.ExternalReference)
		assert.Equal(t, "TRF_1", *w.ExternalReference)
		assert.True(t, w.Dispatched())
		assert.NoError(t, fx.mock.ExpectationsWereMet())
		fx.payouts.AssertExpectations(t)
	})

	t.Run("admin withdrawal uses the platform wallet and admin policy", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectExec("UPDATE admin_wallet SET balance = balance - \\$2").
			WithArgs(1, int64(110000), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("INSERT INTO withdrawals").
			WithArgs(sqlmock.AnyArg(), nil, "admin", int64(100000), int64(10000), "Zenith Bank", "057",
				"0123456789", "DIGIMART LTD", "pending", fixedNow, fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		fx.mock.ExpectExec("INSERT INTO transactions").
			WithArgs(nil, "withdrawal", int64(-110000), sqlmock.AnyArg(), sqlmock.AnyArg(), "pending", fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		fx.mock.ExpectCommit()

		w, err := fx.svc.RequestWithdrawal(context.Background(), WithdrawalRequest{
			Amount:        100000,
			BankName:      "zenith bank",
			AccountNumber: "0123456789",
			AccountName:   "DIGIMART LTD",
			Admin:         true,
		})
		require.NoError(t, err)
		assert.Nil(t, w.UserID)
		assert.True(t, w.Ref().IsAdmin())
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance leaves no withdrawal", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, true)

		fx.mock.ExpectBegin()
		fx.mock.ExpectExec(userDebitSQL).WillReturnResult(sqlmock.NewResult(0, 0))
		fx.mock.ExpectRollback()

		_, err := fx.svc.RequestWithdrawal(context.Background(), userRequest())
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		fx.payouts.AssertNotCalled(t, "CreateTransferRecipient", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("recipient failure reverses the debit", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, true)
		expectPendingWithdrawal(fx.mock)

		fx.payouts.On("CreateTransferRecipient", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.New("recipient rejected"))

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(withdrawalRows("wd-x", "user-1", "user", "pending", 100000, 5000))
		expectUserReversal(fx.mock, sqlmock.AnyArg(), 105000)
		fx.mock.ExpectCommit()

		_, err := fx.svc.RequestWithdrawal(context.Background(), userRequest())
		var extErr *ExternalServiceError
		require.True(t, errors.As(err, &extErr))
		assert.ErrorContains(t, err, "recipient rejected")
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("transfer refused with 4xx reverses the debit", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, true)
		expectPendingWithdrawal(fx.mock)

		fx.payouts.On("CreateTransferRecipient", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("RCP_1", nil)
		fx.mock.ExpectExec(markDispatchedSQL).WillReturnResult(sqlmock.NewResult(0, 1))
		fx.payouts.On("InitiateTransfer", mock.Anything, mock.Anything).
			Return(nil, &paystack.APIError{StatusCode: 400, Message: "Your balance is not enough to fulfil this request"})

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(withdrawalRowsAt("wd-x", "user-1", "user", "pending", 100000, 5000, fixedNow))
		expectUserReversal(fx.mock, sqlmock.AnyArg(), 105000)
		fx.mock.ExpectCommit()

		_, err := fx.svc.RequestWithdrawal(context.Background(), userRequest())
		var extErr *ExternalServiceError
		require.True(t, errors.As(err, &extErr))
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("transfer returned failed reverses the debit", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, true)
		expectPendingWithdrawal(fx.mock)

		fx.payouts.On("CreateTransferRecipient", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("RCP_1", nil)
		fx.mock.ExpectExec(markDispatchedSQL).WillReturnResult(sqlmock.NewResult(0, 1))
		fx.payouts.On("InitiateTransfer", mock.Anything, mock.Anything).
			Return(&paystack.Transfer{TransferCode: "TRF_9", Status: paystack.StatusFailed}, nil)
		fx.mock.ExpectExec("UPDATE withdrawals SET external_reference = \\$2").WillReturnResult(sqlmock.NewResult(0, 1))

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(withdrawalRowsAt("wd-x", "user-1", "user", "pending", 100000, 5000, fixedNow))
		expectUserReversal(fx.mock, sqlmock.AnyArg(), 105000)
		fx.mock.ExpectCommit()

		_, err := fx.svc.RequestWithdrawal(context.Background(), userRequest())
		assert.ErrorContains(t, err, "returned status failed")
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	unknownOutcomes := map[string]error{
		"timeout":   context.DeadlineExceeded,
		"transport": errors.New("connection reset by peer"),
		"5xx":       &paystack.APIError{StatusCode: 502, Message: "Bad Gateway"},
	}
	for name, transferErr := range unknownOutcomes {
		t.Run("transfer "+name+" keeps the withdrawal pending", func(t *testing.T) {
			fx := newWithdrawalFixture(t, nil, true)
			expectPendingWithdrawal(fx.mock)

			fx.payouts.On("CreateTransferRecipient", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("RCP_1", nil)
			fx.mock.ExpectExec(markDispatchedSQL).WillReturnResult(sqlmock.NewResult(0, 1))
			fx.payouts.On("InitiateTransfer", mock.Anything, mock.Anything).Return(nil, transferErr)

			w, err := fx.svc.RequestWithdrawal(context.Background(), userRequest())
			require.NoError(t, err)
			assert.Equal(t, models.WithdrawalPending, w.Status)
			assert.True(t, w.Dispatched())
			// No refund: any unexpected SQL would fail here.
			assert.NoError(t, fx.mock.ExpectationsWereMet())
		})
	}

	t.Run("validation", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, true)

		cases := map[string]func(r *WithdrawalRequest){
			"amount":         func(r *WithdrawalRequest) { r.Amount = 49999 },
			"account_number": func(r *WithdrawalRequest) { r.AccountNumber = "12345" },
			"account_name":   func(r *WithdrawalRequest) { r.AccountName = "  " },
			"bank_name":      func(r *WithdrawalRequest) { r.BankName = "Bank of Atlantis" },
			"user_id":        func(r *WithdrawalRequest) { r.UserID = "" },
		}
		for field, mutate := range cases {
			req := userRequest()
			mutate(&req)

			_, err := fx.svc.RequestWithdrawal(context.Background(), req)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), field)
			assert.Equal(t, field, vErr.Field)
		}

		// admin minimum is higher than the user minimum
		req := userRequest()
		req.Admin, req.Amount = true, 99999
		_, err := fx.svc.RequestWithdrawal(context.Background(), req)
		var vErr *ValidationError
		assert.True(t, errors.As(err, &vErr))

		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_CompleteWithdrawal(t *testing.T) {
	t.Run("pending to completed", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "pending", 100000, 5000))
		fx.mock.ExpectExec("UPDATE withdrawals SET status = \\$2, external_reference = COALESCE").
			WithArgs("wd-1", "completed", "TRF_1", fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("UPDATE transactions SET status = \\$1").
			WithArgs("completed", "user-1", "withdrawal", "wd-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectCommit()

		w, err := fx.svc.CompleteWithdrawal(context.Background(), "wd-1", "TRF_1")
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalCompleted, w.Status)
		assert.Equal(t, "TRF_1", *w.ExternalReference)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("completed again is a no-op", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "completed", 100000, 5000))
		fx.mock.ExpectCommit()

		w, err := fx.svc.CompleteWithdrawal(context.Background(), "wd-1", "TRF_1")
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalCompleted, w.Status)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("payout after reversal is reported", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRowsAt("wd-1", "user-1", "user", "failed", 100000, 5000, fixedNow))
		fx.mock.ExpectRollback()

		_, err := fx.svc.CompleteWithdrawal(context.Background(), "wd-1", "TRF_1")
		assert.ErrorIs(t, err, ErrPayoutAfterReversal)
		assert.NotErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("unknown withdrawal", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-404").WillReturnError(sql.ErrNoRows)
		fx.mock.ExpectRollback()

		_, err := fx.svc.CompleteWithdrawal(context.Background(), "wd-404", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestWithdrawalService_FailWithdrawal(t *testing.T) {
	t.Run("pending to failed with compensating credit", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "pending", 100000, 5000))
		expectUserReversal(fx.mock, "wd-1", 105000)
		fx.mock.ExpectCommit()

		w, err := fx.svc.FailWithdrawal(context.Background(), "wd-1", "Account closed")
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalFailed, w.Status)
		assert.Equal(t, "Account closed", *w.FailureReason)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("admin reversal credits the platform wallet", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-2").
			WillReturnRows(withdrawalRows("wd-2", nil, "admin", "pending", 100000, 10000))
		fx.mock.ExpectExec("UPDATE withdrawals SET status = \\$2, failure_reason = \\$3").WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("UPDATE transactions SET status = \\$1").
			WithArgs("failed", nil, "withdrawal", "wd-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("UPDATE admin_wallet SET balance = balance \\+ \\$2").
			WithArgs(1, int64(110000), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		fx.mock.ExpectExec("INSERT INTO transactions").
			WithArgs(nil, "withdrawal_reversal", int64(110000), sqlmock.AnyArg(), "wd-2", "completed", fixedNow).
			WillReturnResult(sqlmock.NewResult(2, 1))
		fx.mock.ExpectCommit()

		_, err := fx.svc.FailWithdrawal(context.Background(), "wd-2", "")
		require.NoError(t, err)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("failed again is a no-op", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "failed", 100000, 5000))
		fx.mock.ExpectCommit()

		_, err := fx.svc.FailWithdrawal(context.Background(), "wd-1", "again")
		require.NoError(t, err)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("completed cannot fail", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "completed", 100000, 5000))
		fx.mock.ExpectRollback()

		_, err := fx.svc.FailWithdrawal(context.Background(), "wd-1", "late failure")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_CancelWithdrawal(t *testing.T) {
	t.Run("undispatched withdrawal is refunded", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "pending", 100000, 5000))
		expectUserReversal(fx.mock, "wd-1", 105000)
		fx.mock.ExpectCommit()

		w, err := fx.svc.CancelWithdrawal(context.Background(), "wd-1", "Wrong account")
		require.NoError(t, err)
		assert.Equal(t, models.WithdrawalFailed, w.Status)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("dispatched withdrawal is refused", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRowsAt("wd-1", "user-1", "user", "pending", 100000, 5000, fixedNow))
		fx.mock.ExpectRollback()

		_, err := fx.svc.CancelWithdrawal(context.Background(), "wd-1", "Wrong account")
		assert.ErrorIs(t, err, ErrPayoutInFlight)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("provider failure still settles a dispatched withdrawal", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRowsAt("wd-1", "user-1", "user", "pending", 100000, 5000, fixedNow))
		expectUserReversal(fx.mock, "wd-1", 105000)
		fx.mock.ExpectCommit()

		_, err := fx.svc.FailWithdrawal(context.Background(), "wd-1", "Account closed")
		require.NoError(t, err)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_PayoutEvents(t *testing.T) {
	completed := PayoutEvent{Type: PayoutCompleted, WithdrawalID: "wd-1", ExternalReference: "TRF_1"}
	payload, err := json.Marshal(completed)
	require.NoError(t, err)

	expectComplete := func(m sqlmock.Sqlmock) {
		m.ExpectBegin()
		m.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "pending", 100000, 5000))
		m.ExpectExec("UPDATE withdrawals SET status = \\$2, external_reference = COALESCE").WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectExec("UPDATE transactions SET status = \\$1").WillReturnResult(sqlmock.NewResult(0, 1))
		m.ExpectCommit()
	}

	t.Run("publish pushes to the queue", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		fx := newWithdrawalFixture(t, rdb, false)

		redisMock.ExpectRPush(PayoutQueue, string(payload)).SetVal(1)

		require.NoError(t, fx.svc.PublishPayoutEvent(context.Background(), completed))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("publish without redis handles inline", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)
		expectComplete(fx.mock)

		require.NoError(t, fx.svc.PublishPayoutEvent(context.Background(), completed))
		assert.NoError(t, fx.mock.ExpectationsWereMet())
	})

	t.Run("invalid event rejected", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)

		err := fx.svc.PublishPayoutEvent(context.Background(), PayoutEvent{Type: "withdrawal.lost", WithdrawalID: "wd-1"})
		var vErr *ValidationError
		assert.True(t, errors.As(err, &vErr))
	})

	t.Run("consumer applies a queued event", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		fx := newWithdrawalFixture(t, rdb, false)

		redisMock.ExpectBLPop(payoutPollTimeout, PayoutQueue).SetVal([]string{PayoutQueue, string(payload)})
		expectComplete(fx.mock)

		handled, err := fx.svc.processNext(context.Background())
		require.NoError(t, err)
		assert.True(t, handled)
		assert.NoError(t, fx.mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("consumer idles on an empty queue", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		fx := newWithdrawalFixture(t, rdb, false)

		redisMock.ExpectBLPop(payoutPollTimeout, PayoutQueue).RedisNil()

		handled, err := fx.svc.processNext(context.Background())
		require.NoError(t, err)
		assert.False(t, handled)
	})

	t.Run("transient failure requeues the event", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		fx := newWithdrawalFixture(t, rdb, false)

		redisMock.ExpectBLPop(payoutPollTimeout, PayoutQueue).SetVal([]string{PayoutQueue, string(payload)})
		fx.mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
		redisMock.ExpectRPush(PayoutQueue, string(payload)).SetVal(1)

		handled, err := fx.svc.processNext(context.Background())
		assert.True(t, handled)
		assert.ErrorContains(t, err, "too many connections")
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("permanent failure drops the event", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		fx := newWithdrawalFixture(t, rdb, false)

		redisMock.ExpectBLPop(payoutPollTimeout, PayoutQueue).SetVal([]string{PayoutQueue, string(payload)})
		fx.mock.ExpectBegin()
		fx.mock.ExpectQuery(lockWithdrawalSQL).WithArgs("wd-1").
			WillReturnRows(withdrawalRows("wd-1", "user-1", "user", "failed", 100000, 5000))
		fx.mock.ExpectRollback()

		handled, err := fx.svc.processNext(context.Background())
		require.NoError(t, err)
		assert.True(t, handled)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("consumer without redis waits for shutdown", func(t *testing.T) {
		fx := newWithdrawalFixture(t, nil, false)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, fx.svc.ConsumePayoutEvents(ctx))
	})
}
