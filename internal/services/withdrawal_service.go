package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digimart/backend/internal/audit"
	"github.com/digimart/backend/internal/config"
	"github.com/digimart/backend/internal/models"
	"github.com/digimart/backend/internal/paystack"
)

const (
	PayoutQueue = "ledger:payout_events"

	payoutPollTimeout = 5 * time.Second
	payoutRetryDelay  = time.Second
)

type PayoutEventType string

const (
	PayoutCompleted PayoutEventType = "withdrawal.completed"
	PayoutFailed    PayoutEventType = "withdrawal.failed"
)

// PayoutEvent reports the outcome of a dispatched withdrawal.
type PayoutEvent struct {
	Type              PayoutEventType `json:"type"`
	WithdrawalID      string          `json:"withdrawal_id"`
	ExternalReference string          `json:"external_reference,omitempty"`
	Reason            string          `json:"reason,omitempty"`
}

type WithdrawalRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	BankName      string `json:"bank_name" validate:"required,max=100"`
	BankCode      string `json:"bank_code,omitempty" validate:"omitempty,min=3,max=6"`
	AccountNumber string `json:"account_number" validate:"required"`
	AccountName   string `json:"account_name" validate:"required,max=100"`
	UserID        string `json:"-"`
	Admin         bool   `json:"-"`
}

type WithdrawalService struct {
	db      *sql.DB
	redis   *redis.Client
	ledger  *LedgerService
	payouts PayoutProvider
	audit   *audit.Logger
	cfg     config.LedgerConfig
	clock   func() time.Time
}

// NewWithdrawalService accepts a nil payouts provider; withdrawals then stay
// pending until an admin completes or fails them.
func NewWithdrawalService(db *sql.DB, rdb *redis.Client, ledger *LedgerService, payouts PayoutProvider, auditLog *audit.Logger, cfg config.LedgerConfig) *WithdrawalService {
	return &WithdrawalService{
		db:      db,
		redis:   rdb,
		ledger:  ledger,
		payouts: payouts,
		audit:   auditLog,
		cfg:     cfg,
		clock:   time.Now,
	}
}

// RequestWithdrawal debits amount+fee and records a pending withdrawal in one
// transaction, then hands it to the payout provider.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Withdrawal, error) {
	w, err := s.newWithdrawal(req)
	if err != nil {
		return nil, err
	}
	ref := w.Ref()

	err = s.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.ledger.Debit(ctx, tx, ref, w.Total()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO withdrawals (id, user_id, wallet, amount, fee, bank_name, bank_code,
				account_number, account_name, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			w.ID, w.UserID, string(w.Wallet), w.Amount, w.Fee, w.BankName, w.BankCode,
			w.AccountNumber, w.AccountName, string(w.Status), w.CreatedAt, w.UpdatedAt); err != nil {
			return fmt.Errorf("insert withdrawal %s: %w", w.ID, err)
		}
		return s.ledger.AppendTransaction(ctx, tx, ref, models.WithdrawalDebit, -w.Total(), w.ID,
			"Withdrawal to "+w.BankName, models.TransactionPending)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			zap.L().Info("Withdrawal refused", zap.String("wallet", ref.String()), zap.Int64("total", w.Total()))
		} else {
			s.audit.LogError(w.ID, ref.String(), err)
		}
		return nil, err
	}

	withdrawalsTotal.WithLabelValues(string(models.WithdrawalPending)).Inc()
	s.audit.LogWithdrawal(w.ID, ref.String(), -w.Total(), string(models.WithdrawalPending), map[string]string{
		"bank_code": w.BankCode,
		"fee":       fmt.Sprint(w.Fee),
	})

	if err := s.dispatchPayout(ctx, w); err != nil {
		var rejected *payoutRejectedError
		if !errors.As(err, &rejected) {
			// The provider may have sent the money. Keep the debit and let its
			// webhook or an admin settle the withdrawal.
			zap.L().Error("Payout outcome unknown, withdrawal left pending", zap.String("withdrawal_id", w.ID), zap.Error(err))
			s.audit.LogError(w.ID, ref.String(), err)
			return w, nil
		}
		zap.L().Error("Payout rejected, reversing withdrawal", zap.String("withdrawal_id", w.ID), zap.Error(err))
		if _, failErr := s.FailWithdrawal(ctx, w.ID, "payout rejected: "+err.Error()); failErr != nil {
			zap.L().Error("Failed to reverse withdrawal", zap.String("withdrawal_id", w.ID), zap.Error(failErr))
			return nil, failErr
		}
		return nil, &ExternalServiceError{Service: gatewayName, Err: err}
	}
	return w, nil
}

func (s *WithdrawalService) newWithdrawal(req WithdrawalRequest) (*models.Withdrawal, error) {
	policy := s.cfg.UserWithdrawal
	kind := models.UserWallet
	if req.Admin {
		policy = s.cfg.AdminWithdrawal
		kind = models.AdminWallet
	} else if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "user is required"}
	}

	if req.Amount < policy.Minimum {
		return nil, &ValidationError{Field: "amount", Message: fmt.Sprintf("minimum withdrawal is %d kobo", policy.Minimum)}
	}
	bankName := strings.TrimSpace(req.BankName)
	accountName := strings.TrimSpace(req.AccountName)
	if bankName == "" {
		return nil, &ValidationError{Field: "bank_name", Message: "bank name is required"}
	}
	if accountName == "" {
		return nil, &ValidationError{Field: "account_name", Message: "account name is required"}
	}
	if err := ValidateAccountNumber(req.AccountNumber); err != nil {
		return nil, err
	}

	bankCode := strings.TrimSpace(req.BankCode)
	if bankCode != "" {
		if err := ValidateBankCode(bankCode); err != nil {
			return nil, err
		}
	} else {
		bank, ok := LookupBankCode(bankName)
		if !ok {
			return nil, &ValidationError{Field: "bank_name", Message: "unknown bank"}
		}
		bankCode, bankName = bank.Code, bank.Name
	}

	now := s.clock()
	w := &models.Withdrawal{
		ID:            uuid.NewString(),
		Wallet:        kind,
		Amount:        req.Amount,
		Fee:           policy.Fee,
		BankName:      bankName,
		BankCode:      bankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   accountName,
		Status:        models.WithdrawalPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !req.Admin {
		w.UserID = &req.UserID
	}
	return w, nil
}

// payoutRejectedError means the provider refused the transfer, so no money
// left the account and the debit can be reversed.
type payoutRejectedError struct {
	err error
}

func (e *payoutRejectedError) Error() string { return e.err.Error() }

func (e *payoutRejectedError) Unwrap() error { return e.err }

func rejectPayout(format string, args ...any) error {
	return &payoutRejectedError{err: fmt.Errorf(format, args...)}
}

// isTransferRejection reports whether a transfer error is a definite refusal.
// Timeouts, transport errors and 5xx responses leave the outcome unknown.
func isTransferRejection(err error) bool {
	var apiErr *paystack.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// dispatchPayout starts the bank transfer. The withdrawal id is the transfer
// reference so webhook events can be matched back. Only errors of type
// *payoutRejectedError guarantee that nothing was sent.
func (s *WithdrawalService) dispatchPayout(ctx context.Context, w *models.Withdrawal) error {
	if s.payouts == nil {
		zap.L().Info("No payout provider configured, withdrawal awaits manual processing", zap.String("withdrawal_id", w.ID))
		return nil
	}

	start := time.Now()
	defer func() { gatewayDuration.WithLabelValues("transfer").Observe(time.Since(start).Seconds()) }()

	recipient, err := s.payouts.CreateTransferRecipient(ctx, w.AccountName, w.AccountNumber, w.BankCode)
	if err != nil {
		return rejectPayout("create recipient: %w", err)
	}

	now := s.clock()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE withdrawals SET dispatched_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'`,
		w.ID, now); err != nil {
		return rejectPayout("mark withdrawal dispatched: %w", err)
	}
	w.DispatchedAt = &now

	transfer, err := s.payouts.InitiateTransfer(ctx, paystack.TransferRequest{
		Amount:    w.Amount,
		Recipient: recipient,
		Reference: w.ID,
		Reason:    "Marketplace withdrawal",
	})
	if err != nil {
		if isTransferRejection(err) {
			return rejectPayout("initiate transfer: %w", err)
		}
		return fmt.Errorf("initiate transfer: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE withdrawals SET external_reference = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`,
		w.ID, transfer.TransferCode, s.clock()); err != nil {
		zap.L().Warn("Failed to store transfer code", zap.String("withdrawal_id", w.ID), zap.Error(err))
	} else {
		w.ExternalReference = &transfer.TransferCode
	}

	switch transfer.Status {
	case paystack.StatusSuccess:
		// The money has left; a failure here must not trigger a reversal.
		ev := PayoutEvent{Type: PayoutCompleted, WithdrawalID: w.ID, ExternalReference: transfer.TransferCode}
		if err := s.PublishPayoutEvent(ctx, ev); err != nil {
			zap.L().Error("Failed to record completed transfer", zap.String("withdrawal_id", w.ID), zap.Error(err))
		}
	case paystack.StatusFailed, paystack.StatusReversed:
		return rejectPayout("transfer %s returned status %s", transfer.TransferCode, transfer.Status)
	}
	return nil
}

// CompleteWithdrawal marks a pending withdrawal paid out. Repeating it is a no-op.
func (s *WithdrawalService) CompleteWithdrawal(ctx context.Context, id, externalRef string) (*models.Withdrawal, error) {
	var (
		w       *models.Withdrawal
		changed bool
	)
	err := s.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if w, err = s.lockWithdrawal(ctx, tx, id); err != nil {
			return err
		}
		switch w.Status {
		case models.WithdrawalCompleted:
			return nil
		case models.WithdrawalFailed:
			return fmt.Errorf("withdrawal %q: %w", id, ErrPayoutAfterReversal)
		}

		now := s.clock()
		if _, err := tx.ExecContext(ctx, `
			UPDATE withdrawals
			SET status = $2, external_reference = COALESCE(NULLIF($3, ''), external_reference), updated_at = $4
			WHERE id = $1`,
			id, string(models.WithdrawalCompleted), externalRef, now); err != nil {
			return fmt.Errorf("complete withdrawal %s: %w", id, err)
		}
		if err := s.ledger.SetTransactionStatus(ctx, tx, w.Ref(), models.WithdrawalDebit, id, models.TransactionCompleted); err != nil {
			return err
		}

		w.Status = models.WithdrawalCompleted
		if externalRef != "" {
			w.ExternalReference = &externalRef
		}
		w.UpdatedAt = now
		changed = true
		return nil
	})
	if errors.Is(err, ErrPayoutAfterReversal) {
		payoutConflicts.Inc()
		zap.L().Error("Withdrawal paid out after its debit was refunded, manual recovery required",
			zap.String("withdrawal_id", id),
			zap.String("external_reference", externalRef))
		s.audit.LogError(id, "", err)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if changed {
		withdrawalsTotal.WithLabelValues(string(models.WithdrawalCompleted)).Inc()
		s.audit.LogWithdrawal(id, w.Ref().String(), -w.Total(), string(models.WithdrawalCompleted), map[string]string{
			"external_reference": externalRef,
		})
	}
	return w, nil
}

// FailWithdrawal marks a pending withdrawal failed and credits amount+fee
// back to its wallet. Callers must know the provider did not pay out.
// Repeating it is a no-op.
func (s *WithdrawalService) FailWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	return s.failWithdrawal(ctx, id, reason, true)
}

// CancelWithdrawal fails a withdrawal that never reached the payout provider.
// Dispatched withdrawals are refused with ErrPayoutInFlight.
func (s *WithdrawalService) CancelWithdrawal(ctx context.Context, id, reason string) (*models.Withdrawal, error) {
	return s.failWithdrawal(ctx, id, reason, false)
}

func (s *WithdrawalService) failWithdrawal(ctx context.Context, id, reason string, allowDispatched bool) (*models.Withdrawal, error) {
	var (
		w       *models.Withdrawal
		changed bool
	)
	if reason == "" {
		reason = "payout failed"
	}
	err := s.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if w, err = s.lockWithdrawal(ctx, tx, id); err != nil {
			return err
		}
		switch w.Status {
		case models.WithdrawalFailed:
			return nil
		case models.WithdrawalCompleted:
			return invalidTransition("withdrawal", id, string(w.Status), string(models.WithdrawalFailed))
		}
		if w.Dispatched() && !allowDispatched {
			return fmt.Errorf("withdrawal %q: %w", id, ErrPayoutInFlight)
		}

		now := s.clock()
		if _, err := tx.ExecContext(ctx, `
			UPDATE withdrawals SET status = $2, failure_reason = $3, updated_at = $4
			WHERE id = $1`,
			id, string(models.WithdrawalFailed), reason, now); err != nil {
			return fmt.Errorf("fail withdrawal %s: %w", id, err)
		}

		ref := w.Ref()
		if err := s.ledger.SetTransactionStatus(ctx, tx, ref, models.WithdrawalDebit, id, models.TransactionFailed); err != nil {
			return err
		}
		if err := s.ledger.Refund(ctx, tx, ref, w.Total()); err != nil {
			return err
		}
		if err := s.ledger.AppendTransaction(ctx, tx, ref, models.WithdrawalReversal, w.Total(), id,
			"Withdrawal reversal: "+reason, models.TransactionCompleted); err != nil {
			return err
		}

		w.Status = models.WithdrawalFailed
		w.FailureReason = &reason
		w.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		withdrawalsTotal.WithLabelValues(string(models.WithdrawalFailed)).Inc()
		s.audit.LogWithdrawal(id, w.Ref().String(), w.Total(), string(models.WithdrawalFailed), map[string]string{
			"reason": reason,
		})
	}
	return w, nil
}

// PublishPayoutEvent queues an event for the consumer. Without Redis the
// event is handled inline.
func (s *WithdrawalService) PublishPayoutEvent(ctx context.Context, ev PayoutEvent) error {
	if err := ev.validate(); err != nil {
		return err
	}
	if s.redis == nil {
		return s.HandlePayoutEvent(ctx, ev)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.redis.RPush(ctx, PayoutQueue, string(data)).Err(); err != nil {
		zap.L().Warn("Payout queue unavailable, handling event inline", zap.String("withdrawal_id", ev.WithdrawalID), zap.Error(err))
		return s.HandlePayoutEvent(ctx, ev)
	}
	zap.L().Info("Payout event queued", zap.String("type", string(ev.Type)), zap.String("withdrawal_id", ev.WithdrawalID))
	return nil
}

func (s *WithdrawalService) HandlePayoutEvent(ctx context.Context, ev PayoutEvent) error {
	if err := ev.validate(); err != nil {
		return err
	}
	var err error
	switch ev.Type {
	case PayoutCompleted:
		_, err = s.CompleteWithdrawal(ctx, ev.WithdrawalID, ev.ExternalReference)
	case PayoutFailed:
		_, err = s.FailWithdrawal(ctx, ev.WithdrawalID, ev.Reason)
	}
	if err != nil {
		return err
	}
	payoutEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// ConsumePayoutEvents blocks, applying queued payout events until ctx ends.
func (s *WithdrawalService) ConsumePayoutEvents(ctx context.Context) error {
	if s.redis == nil {
		zap.L().Info("Payout consumer disabled, events are handled inline")
		<-ctx.Done()
		return nil
	}

	zap.L().Info("Payout consumer started", zap.String("queue", PayoutQueue))
	for {
		if ctx.Err() != nil {
			zap.L().Info("Payout consumer stopped")
			return nil
		}
		if _, err := s.processNext(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("Payout consumer error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(payoutRetryDelay):
			}
		}
	}
}

// processNext pops and applies at most one event. Events that can never
// succeed are dropped; others go back on the queue.
func (s *WithdrawalService) processNext(ctx context.Context) (bool, error) {
	res, err := s.redis.BLPop(ctx, payoutPollTimeout, PayoutQueue).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(res) != 2 {
		return false, fmt.Errorf("unexpected BLPOP reply %v", res)
	}

	var ev PayoutEvent
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		zap.L().Error("Dropping malformed payout event", zap.String("payload", res[1]), zap.Error(err))
		return true, nil
	}

	err = s.HandlePayoutEvent(ctx, ev)
	switch {
	case err == nil:
		return true, nil
	case isPermanent(err):
		zap.L().Error("Dropping payout event",
			zap.String("type", string(ev.Type)),
			zap.String("withdrawal_id", ev.WithdrawalID),
			zap.Error(err))
		return true, nil
	default:
		if pushErr := s.redis.RPush(ctx, PayoutQueue, res[1]).Err(); pushErr != nil {
			zap.L().Error("Failed to requeue payout event", zap.String("withdrawal_id", ev.WithdrawalID), zap.Error(pushErr))
		}
		return true, err
	}
}

func isPermanent(err error) bool {
	var vErr *ValidationError
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPayoutAfterReversal) || errors.As(err, &vErr)
}

func (ev PayoutEvent) validate() error {
	if ev.WithdrawalID == "" {
		return &ValidationError{Field: "withdrawal_id", Message: "withdrawal id is required"}
	}
	if ev.Type != PayoutCompleted && ev.Type != PayoutFailed {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown payout event %q", ev.Type)}
	}
	return nil
}

func (s *WithdrawalService) lockWithdrawal(ctx context.Context, tx *sql.Tx, id string) (*models.Withdrawal, error) {
	var (
		w                          models.Withdrawal
		wallet, status             string
		userID, extRef, failReason sql.NullString
		dispatchedAt               sql.NullTime
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, wallet, amount, fee, bank_name, bank_code, account_number, account_name,
			status, external_reference, failure_reason, dispatched_at, created_at, updated_at
		FROM withdrawals WHERE id = $1
		FOR UPDATE`, id).
		Scan(&w.ID, &userID, &wallet, &w.Amount, &w.Fee, &w.BankName, &w.BankCode, &w.AccountNumber, &w.AccountName,
			&status, &extRef, &failReason, &dispatchedAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("withdrawal", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load withdrawal %s: %w", id, err)
	}

	w.Wallet = models.WalletKind(wallet)
	w.Status = models.WithdrawalStatus(status)
	w.UserID = nullString(userID)
	w.ExternalReference = nullString(extRef)
	w.FailureReason = nullString(failReason)
	if dispatchedAt.Valid {
		w.DispatchedAt = &dispatchedAt.Time
	}
	return &w, nil
}
