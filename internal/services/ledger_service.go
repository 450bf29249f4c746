package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/digimart/backend/internal/models"
)

// LedgerService owns every wallet and transaction row write. Balances only
// move through single conditional statements, never read-modify-write.
type LedgerService struct {
	db    *sql.DB
	clock func() time.Time
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db, clock: time.Now}
}

// WithTx runs fn in one database transaction. fn's error rolls everything back.
func (s *LedgerService) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// walletTable maps a wallet to its table, key column and key value.
func walletTable(ref models.WalletRef) (table, keyCol string, key any) {
	if ref.IsAdmin() {
		return "admin_wallet", "id", 1
	}
	return "wallets", "user_id", ref.UserID
}

// Credit adds earnings to a wallet, creating the row on first use.
func (s *LedgerService) Credit(ctx context.Context, tx *sql.Tx, ref models.WalletRef, amount int64) error {
	if amount < 0 {
		return &ValidationError{Field: "amount", Message: "credit cannot be negative"}
	}
	table, keyCol, key := walletTable(ref)
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, balance, total_earned, updated_at)
		VALUES ($1, $2, $2, $3)
		ON CONFLICT (%[2]s) DO UPDATE
		SET balance = %[1]s.balance + EXCLUDED.balance,
			total_earned = %[1]s.total_earned + EXCLUDED.total_earned,
			updated_at = EXCLUDED.updated_at`, table, keyCol)

	if _, err := tx.ExecContext(ctx, query, key, amount, s.clock()); err != nil {
		return fmt.Errorf("credit %s: %w", ref, err)
	}
	return nil
}

// Debit withdraws from a wallet. It fails with ErrInsufficientBalance instead
// of letting the balance go negative.
func (s *LedgerService) Debit(ctx context.Context, tx *sql.Tx, ref models.WalletRef, amount int64) error {
	if amount <= 0 {
		return &ValidationError{Field: "amount", Message: "debit must be positive"}
	}
	table, keyCol, key := walletTable(ref)
	query := fmt.Sprintf(`
		UPDATE %s
		SET balance = balance - $2, total_withdrawn = total_withdrawn + $2, updated_at = $3
		WHERE %s = $1 AND balance - $2 >= 0`, table, keyCol)

	res, err := tx.ExecContext(ctx, query, key, amount, s.clock())
	if err != nil {
		return fmt.Errorf("debit %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("debit %s of %d: %w", ref, amount, ErrInsufficientBalance)
	}
	return nil
}

// Refund reverses an earlier Debit.
func (s *LedgerService) Refund(ctx context.Context, tx *sql.Tx, ref models.WalletRef, amount int64) error {
	table, keyCol, key := walletTable(ref)
	query := fmt.Sprintf(`
		UPDATE %s
		SET balance = balance + $2, total_withdrawn = total_withdrawn - $2, updated_at = $3
		WHERE %s = $1`, table, keyCol)

	res, err := tx.ExecContext(ctx, query, key, amount, s.clock())
	if err != nil {
		return fmt.Errorf("refund %s: %w", ref, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return notFound("wallet", ref.String())
	}
	return nil
}

// AppendTransaction inserts one ledger row. Admin rows carry a NULL user id.
func (s *LedgerService) AppendTransaction(ctx context.Context, tx *sql.Tx, ref models.WalletRef, txType models.TransactionType, amount int64, reference, description string, status models.TransactionStatus) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (user_id, type, amount, description, reference, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		walletUserID(ref), string(txType), amount, description, reference, string(status), s.clock())
	if err != nil {
		return fmt.Errorf("append %s transaction for %s: %w", txType, ref, err)
	}
	return nil
}

// SetTransactionStatus moves the status of a pending row. Only withdrawal rows change after insert.
func (s *LedgerService) SetTransactionStatus(ctx context.Context, tx *sql.Tx, ref models.WalletRef, txType models.TransactionType, reference string, status models.TransactionStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions SET status = $1
		WHERE user_id IS NOT DISTINCT FROM $2 AND type = $3 AND reference = $4 AND status = 'pending'`,
		string(status), walletUserID(ref), string(txType), reference)
	if err != nil {
		return fmt.Errorf("update %s transaction %s: %w", txType, reference, err)
	}
	return nil
}

func (s *LedgerService) AppendPaymentState(ctx context.Context, tx *sql.Tx, reference string, state models.PaymentStatus) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_states (payment_reference, state, created_at)
		VALUES ($1, $2, $3)`,
		reference, string(state), s.clock())
	return err
}

// GetWallet returns a zero wallet when nothing has been posted yet.
func (s *LedgerService) GetWallet(ctx context.Context, ref models.WalletRef) (*models.Wallet, error) {
	var row *sql.Row
	if ref.IsAdmin() {
		row = s.db.QueryRowContext(ctx, `
			SELECT balance, total_earned, total_withdrawn, updated_at
			FROM admin_wallet WHERE id = 1`)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT balance, total_earned, total_withdrawn, updated_at
			FROM wallets WHERE user_id = $1`, ref.UserID)
	}

	w := models.Wallet{UserID: ref.UserID}
	err := row.Scan(&w.Balance, &w.TotalEarned, &w.TotalWithdrawn, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", ref, err)
	}
	return &w, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, ref models.WalletRef, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, description, reference, status, created_at
		FROM transactions
		WHERE user_id IS NOT DISTINCT FROM $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, walletUserID(ref), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", ref, err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var userID sql.NullString
		var txType, status string
		if err := rows.Scan(&t.ID, &userID, &txType, &t.Amount, &t.Description, &t.Reference, &status, &t.CreatedAt); err != nil {
			return nil, err
		}
		if userID.Valid {
			t.UserID = &userID.String
		}
		t.Type = models.TransactionType(txType)
		t.Status = models.TransactionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Mismatch is a wallet whose cached balance differs from its ledger rows.
type Mismatch struct {
	Wallet    string `json:"wallet"`
	Balance   int64  `json:"balance"`
	LedgerSum int64  `json:"ledger_sum"`
}

// Reconcile compares every wallet balance with the sum of its transactions.
// Failed withdrawal rows are counted because their reversal rows offset them.
func (s *LedgerService) Reconcile(ctx context.Context) ([]Mismatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.user_id, w.balance, COALESCE(t.total, 0)
		FROM wallets w
		LEFT JOIN (
			SELECT user_id, SUM(amount) AS total
			FROM transactions WHERE user_id IS NOT NULL
			GROUP BY user_id
		) t ON t.user_id = w.user_id
		WHERE w.balance <> COALESCE(t.total, 0)`)
	if err != nil {
		return nil, fmt.Errorf("reconcile wallets: %w", err)
	}
	defer rows.Close()

	var out []Mismatch
	for rows.Next() {
		var userID string
		var m Mismatch
		if err := rows.Scan(&userID, &m.Balance, &m.LedgerSum); err != nil {
			return nil, err
		}
		m.Wallet = models.UserWalletRef(userID).String()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var admin Mismatch
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT balance FROM admin_wallet WHERE id = 1), 0),
			COALESCE((SELECT SUM(amount) FROM transactions WHERE user_id IS NULL), 0)`).
		Scan(&admin.Balance, &admin.LedgerSum)
	if err != nil {
		return nil, fmt.Errorf("reconcile admin wallet: %w", err)
	}
	if admin.Balance != admin.LedgerSum {
		admin.Wallet = models.PlatformWallet.String()
		out = append(out, admin)
	}

	if len(out) > 0 {
		zap.L().Warn("Wallet reconciliation found mismatches", zap.Int("count", len(out)))
	}
	return out, nil
}

func walletUserID(ref models.WalletRef) any {
	if ref.IsAdmin() {
		return nil
	}
	return ref.UserID
}
