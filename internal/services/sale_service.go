package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/digimart/backend/internal/audit"
	"github.com/digimart/backend/internal/config"
	"github.com/digimart/backend/internal/models"
	"github.com/digimart/backend/internal/paystack"
)

const (
	OrderReferencePrefix = "ord_"
	FreeReferencePrefix  = "free_"

	verifyLockPrefix = "ledger:verify:"
)

// releaseVerifyLockSrc deletes the lock only while it still holds the
// caller's token, so an expired holder cannot drop a lock taken over by another.
const releaseVerifyLockSrc = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

var releaseVerifyLock = redis.NewScript(releaseVerifyLockSrc)

// PaymentRequest starts a product purchase. Either BuyerID or GuestEmail is set.
type PaymentRequest struct {
	ProductID    string `json:"product_id" validate:"required"`
	Amount       int64  `json:"amount" validate:"gte=0"`
	ReferrerCode string `json:"referrer_code,omitempty" validate:"omitempty,max=64"`
	GuestEmail   string `json:"guest_email,omitempty" validate:"omitempty,email"`
	BuyerID      string `json:"-"`
	BuyerEmail   string `json:"-"`
}

type PaymentInit struct {
	OrderID          string `json:"order_id"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	AccessCode       string `json:"access_code,omitempty"`
	IsFree           bool   `json:"is_free"`
	Split            Split  `json:"split"`
	DownloadToken    string `json:"download_token,omitempty"`
}

// SaleResult is the state of an order after verification. Applied is true
// only for the call that posted the sale to the ledger.
type SaleResult struct {
	Order         *models.Order `json:"order"`
	Split         Split         `json:"split"`
	DownloadToken string        `json:"download_token,omitempty"`
	Applied       bool          `json:"applied"`
}

type SaleService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	downloads *DownloadService
	gateway   PaymentGateway
	audit     *audit.Logger
	cfg       config.LedgerConfig
	clock     func() time.Time
	lockToken func() string
}

func NewSaleService(db *sql.DB, rdb *redis.Client, ledger *LedgerService, downloads *DownloadService, gateway PaymentGateway, auditLog *audit.Logger, cfg config.LedgerConfig) *SaleService {
	return &SaleService{
		db:        db,
		redis:     rdb,
		ledger:    ledger,
		downloads: downloads,
		gateway:   gateway,
		audit:     auditLog,
		cfg:       cfg,
		clock:     time.Now,
		lockToken: uuid.NewString,
	}
}

// InitiatePayment records a pending order with its split and opens a
// checkout. Free products are applied immediately without the gateway.
func (s *SaleService) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentInit, error) {
	email := req.BuyerEmail
	if req.BuyerID == "" {
		email = req.GuestEmail
	}
	if req.ProductID == "" {
		return nil, &ValidationError{Field: "product_id", Message: "product is required"}
	}
	if email == "" {
		return nil, &ValidationError{Field: "guest_email", Message: "buyer or guest email is required"}
	}
	if req.Amount < 0 {
		return nil, &ValidationError{Field: "amount", Message: "amount cannot be negative"}
	}

	product, err := s.loadProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if req.Amount != product.Price {
		return nil, &ValidationError{Field: "amount", Message: fmt.Sprintf("amount %d does not match price %d", req.Amount, product.Price)}
	}

	referrerID := s.resolveReferrer(ctx, req.ReferrerCode, req.BuyerID)
	rate := s.commissionRate(ctx, product.SellerID)
	split, err := ComputeSplit(req.Amount, rate, referrerID != "")
	if err != nil {
		return nil, err
	}

	now := s.clock()
	order := &models.Order{
		ID:                 uuid.NewString(),
		Kind:               models.OrderKindProduct,
		ProductID:          &product.ID,
		Amount:             req.Amount,
		CommissionRate:     rate.Decimal(),
		SellerCommission:   split.Seller,
		ReferrerCommission: split.Referrer,
		AdminShare:         split.Admin,
		PaymentStatus:      models.PaymentPending,
		PaymentReference:   newReference(req.Amount),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.BuyerID != "" {
		order.BuyerID = &req.BuyerID
	} else {
		order.GuestEmail = &req.GuestEmail
	}
	if referrerID != "" {
		order.ReferrerID = &referrerID
	}

	if err := s.insertOrder(ctx, order); err != nil {
		return nil, err
	}
	zap.L().Info("Order created",
		zap.String("reference", order.PaymentReference),
		zap.String("product_id", product.ID),
		zap.Int64("amount", order.Amount),
		zap.String("rate", rate.String()))

	out := &PaymentInit{OrderID: order.ID, Reference: order.PaymentReference, Split: split}
	if order.Amount == 0 {
		result, err := s.ApplyCompletedSale(ctx, order.PaymentReference)
		if err != nil {
			return nil, err
		}
		out.IsFree = true
		out.DownloadToken = result.DownloadToken
		return out, nil
	}

	checkout, err := s.openCheckout(ctx, order, email, map[string]string{
		"order_id":   order.ID,
		"product_id": product.ID,
	})
	if err != nil {
		return nil, err
	}
	out.AuthorizationURL = checkout.AuthorizationURL
	out.AccessCode = checkout.AccessCode
	return out, nil
}

// openCheckout initializes the gateway transaction; a failure fails the order.
func (s *SaleService) openCheckout(ctx context.Context, order *models.Order, email string, metadata map[string]string) (*paystack.InitializeResult, error) {
	start := time.Now()
	checkout, err := s.gateway.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:     email,
		Amount:    order.Amount,
		Reference: order.PaymentReference,
		Currency:  s.cfg.Currency,
		Metadata:  metadata,
	})
	gatewayDuration.WithLabelValues("initialize").Observe(time.Since(start).Seconds())
	if err != nil {
		zap.L().Error("Checkout initialization failed", zap.String("reference", order.PaymentReference), zap.Error(err))
		if markErr := s.markFailed(ctx, order.PaymentReference); markErr != nil {
			zap.L().Error("Failed to mark order failed", zap.String("reference", order.PaymentReference), zap.Error(markErr))
		}
		return nil, &ExternalServiceError{Service: gatewayName, Err: err}
	}
	return checkout, nil
}

// VerifyPayment asks the gateway for the outcome of a pending order and
// applies it. Orders that already left pending are returned unchanged.
func (s *SaleService) VerifyPayment(ctx context.Context, reference string) (*SaleResult, error) {
	if reference == "" {
		return nil, &ValidationError{Field: "reference", Message: "reference is required"}
	}

	unlock, err := s.acquireVerifyLock(ctx, reference)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := s.loadOrder(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != models.PaymentPending {
		return s.resultFor(ctx, order)
	}
	if strings.HasPrefix(reference, FreeReferencePrefix) {
		return s.ApplyCompletedSale(ctx, reference)
	}

	start := time.Now()
	txn, err := s.gateway.VerifyTransaction(ctx, reference)
	gatewayDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	if err != nil {
		zap.L().Error("Payment verification failed", zap.String("reference", reference), zap.Error(err))
		return nil, &ExternalServiceError{Service: gatewayName, Err: err}
	}

	switch txn.Status {
	case paystack.StatusSuccess:
		if txn.Amount != order.Amount {
			zap.L().Warn("Paid amount does not match order",
				zap.String("reference", reference),
				zap.Int64("expected", order.Amount),
				zap.Int64("paid", txn.Amount))
			return s.failOrder(ctx, order)
		}
		return s.ApplyCompletedSale(ctx, reference)
	case paystack.StatusFailed, paystack.StatusAbandoned, paystack.StatusReversed:
		return s.failOrder(ctx, order)
	default:
		zap.L().Info("Payment still pending", zap.String("reference", reference), zap.String("gateway_status", txn.Status))
		return s.resultFor(ctx, order)
	}
}

// ApplyCompletedSale posts a pending order to the ledger in one database
// transaction. It is a no-op for completed orders.
func (s *SaleService) ApplyCompletedSale(ctx context.Context, reference string) (*SaleResult, error) {
	var (
		order   *models.Order
		grant   *models.DownloadGrant
		applied bool
	)

	err := s.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = s.lockOrder(ctx, tx, reference)
		if err != nil {
			return err
		}
		switch order.PaymentStatus {
		case models.PaymentCompleted:
			return nil
		case models.PaymentFailed:
			return invalidTransition("order", reference, string(order.PaymentStatus), string(models.PaymentCompleted))
		}
		if !order.SplitBalanced() {
			return fmt.Errorf("order %s: split %d+%d+%d does not equal amount %d",
				reference, order.SellerCommission, order.ReferrerCommission, order.AdminShare, order.Amount)
		}

		if err := s.postSplit(ctx, tx, order); err != nil {
			return err
		}

		now := s.clock()
		expires := now.Add(s.cfg.DownloadWindow)
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET payment_status = $2, download_expires_at = $3, updated_at = $4
			WHERE id = $1`,
			order.ID, string(models.PaymentCompleted), expires, now); err != nil {
			return fmt.Errorf("complete order %s: %w", reference, err)
		}
		order.PaymentStatus = models.PaymentCompleted
		order.DownloadExpiresAt = &expires
		order.UpdatedAt = now

		if err := s.ledger.AppendPaymentState(ctx, tx, reference, models.PaymentCompleted); err != nil {
			return err
		}

		switch order.Kind {
		case models.OrderKindProduct:
			if _, err := tx.ExecContext(ctx, `
				UPDATE products SET download_count = download_count + 1 WHERE id = $1`, *order.ProductID); err != nil {
				return fmt.Errorf("count download for %s: %w", *order.ProductID, err)
			}
			grant, err = s.downloads.CreateGrant(ctx, tx, order, expires)
			if err != nil {
				return err
			}
		case models.OrderKindSubscription:
			if err := activateSubscription(ctx, tx, order, now); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		s.audit.LogError(reference, "", err)
		return nil, err
	}
	if !applied {
		return s.resultFor(ctx, order)
	}

	result := &SaleResult{Order: order, Split: splitOf(order), Applied: true}
	if grant != nil {
		if result.DownloadToken, err = s.downloads.SignToken(grant); err != nil {
			// The sale is committed; the token can be re-issued on the next verify.
			zap.L().Error("Failed to sign download token", zap.String("reference", reference), zap.Error(err))
		}
	}

	s.recordSale(order)
	return result, nil
}

// postSplit credits each party and appends its ledger row.
func (s *SaleService) postSplit(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	ref := order.PaymentReference

	if order.SellerID != "" {
		seller := models.UserWalletRef(order.SellerID)
		if err := s.ledger.Credit(ctx, tx, seller, order.SellerCommission); err != nil {
			return err
		}
		if err := s.ledger.AppendTransaction(ctx, tx, seller, models.SalesCommission, order.SellerCommission, ref,
			"Sale of "+order.ProductTitle, models.TransactionCompleted); err != nil {
			return err
		}
	}

	if order.ReferrerID != nil && order.ReferrerCommission > 0 {
		referrer := models.UserWalletRef(*order.ReferrerID)
		if err := s.ledger.Credit(ctx, tx, referrer, order.ReferrerCommission); err != nil {
			return err
		}
		if err := s.ledger.AppendTransaction(ctx, tx, referrer, models.ReferralCommission, order.ReferrerCommission, ref,
			"Referral commission for "+order.ProductTitle, models.TransactionCompleted); err != nil {
			return err
		}
	}

	if err := s.ledger.Credit(ctx, tx, models.PlatformWallet, order.AdminShare); err != nil {
		return err
	}
	return s.ledger.AppendTransaction(ctx, tx, models.PlatformWallet, models.AdminShare, order.AdminShare, ref,
		adminShareDescription(order), models.TransactionCompleted)
}

func adminShareDescription(order *models.Order) string {
	if order.Kind == models.OrderKindSubscription && order.PlanName != nil {
		return "Subscription: " + *order.PlanName
	}
	return "Admin share: " + order.ProductTitle
}

func (s *SaleService) recordSale(order *models.Order) {
	salesApplied.WithLabelValues(string(order.Kind)).Inc()
	commissionPosted.WithLabelValues("seller").Add(float64(order.SellerCommission))
	commissionPosted.WithLabelValues("referrer").Add(float64(order.ReferrerCommission))
	commissionPosted.WithLabelValues("admin").Add(float64(order.AdminShare))

	details := map[string]string{
		"kind":      string(order.Kind),
		"purchaser": order.Purchaser(),
	}
	if order.SellerID != "" {
		details["seller"] = order.SellerID
		s.audit.LogPosting(order.PaymentReference, models.UserWalletRef(order.SellerID).String(), string(models.SalesCommission), order.SellerCommission)
	}
	if order.ReferrerID != nil && order.ReferrerCommission > 0 {
		details["referrer"] = *order.ReferrerID
		s.audit.LogPosting(order.PaymentReference, models.UserWalletRef(*order.ReferrerID).String(), string(models.ReferralCommission), order.ReferrerCommission)
	}
	s.audit.LogPosting(order.PaymentReference, models.PlatformWallet.String(), string(models.AdminShare), order.AdminShare)
	s.audit.LogSale(order.PaymentReference, order.Amount, string(models.PaymentCompleted), details)

	zap.L().Info("Sale applied",
		zap.String("reference", order.PaymentReference),
		zap.Int64("amount", order.Amount),
		zap.Int64("seller_commission", order.SellerCommission),
		zap.Int64("referrer_commission", order.ReferrerCommission),
		zap.Int64("admin_share", order.AdminShare))
}

func (s *SaleService) failOrder(ctx context.Context, order *models.Order) (*SaleResult, error) {
	if err := s.markFailed(ctx, order.PaymentReference); err != nil {
		return nil, err
	}
	order.PaymentStatus = models.PaymentFailed
	s.audit.LogSale(order.PaymentReference, order.Amount, string(models.PaymentFailed), nil)
	return &SaleResult{Order: order, Split: splitOf(order)}, nil
}

// markFailed moves a pending order to failed. Other states are left alone.
func (s *SaleService) markFailed(ctx context.Context, reference string) error {
	return s.ledger.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET payment_status = $2, updated_at = $3
			WHERE payment_reference = $1 AND payment_status = 'pending'`,
			reference, string(models.PaymentFailed), s.clock())
		if err != nil {
			return fmt.Errorf("fail order %s: %w", reference, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return s.ledger.AppendPaymentState(ctx, tx, reference, models.PaymentFailed)
	})
}

func (s *SaleService) resultFor(ctx context.Context, order *models.Order) (*SaleResult, error) {
	result := &SaleResult{Order: order, Split: splitOf(order)}
	if order.PaymentStatus == models.PaymentCompleted && order.Kind == models.OrderKindProduct {
		token, err := s.downloads.TokenForOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		result.DownloadToken = token
	}
	return result, nil
}

// acquireVerifyLock serializes verification of one reference across
// instances. Without Redis the order row lock is the only guard.
func (s *SaleService) acquireVerifyLock(ctx context.Context, reference string) (func(), error) {
	noop := func() {}
	if s.redis == nil {
		return noop, nil
	}
	key := verifyLockPrefix + reference
	token := s.lockToken()
	ok, err := s.redis.SetNX(ctx, key, token, s.cfg.VerifyLockTTL).Result()
	if err != nil {
		zap.L().Warn("Verify lock unavailable, continuing without it", zap.String("reference", reference), zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, ErrVerificationInProgress
	}
	return func() {
		released, err := releaseVerifyLock.Run(context.Background(), s.redis, []string{key}, token).Int64()
		if err != nil {
			zap.L().Warn("Failed to release verify lock", zap.String("reference", reference), zap.Error(err))
			return
		}
		if released == 0 {
			zap.L().Warn("Verify lock expired before release", zap.String("reference", reference))
		}
	}, nil
}

func (s *SaleService) loadProduct(ctx context.Context, productID string) (*models.Product, error) {
	var p models.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, price, is_active
		FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.SellerID, &p.Title, &p.Price, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !p.IsActive) {
		return nil, notFound("product", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", productID, err)
	}
	return &p, nil
}

// resolveReferrer maps a referral code to a user. Unknown codes and
// self-referrals yield no referrer.
func (s *SaleService) resolveReferrer(ctx context.Context, code, buyerID string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	var referrerID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM profiles WHERE referral_code = $1`, code).Scan(&referrerID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			zap.L().Warn("Referrer lookup failed", zap.String("code", code), zap.Error(err))
		}
		return ""
	}
	if referrerID == buyerID {
		return ""
	}
	return referrerID
}

// commissionRate is the seller's plan rate at the time of sale. It never
// fails: any lookup problem yields DefaultCommissionRate.
func (s *SaleService) commissionRate(ctx context.Context, sellerID string) Rate {
	var stored decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT sp.commission_rate
		FROM profiles p
		JOIN subscription_plans sp ON sp.name = CASE
			WHEN p.active_subscription AND (p.subscription_end_date IS NULL OR p.subscription_end_date > $2)
			THEN p.subscription_plan ELSE 'free' END
		WHERE p.user_id = $1`, sellerID, s.clock()).Scan(&stored)
	if err != nil {
		zap.L().Warn("Commission rate lookup failed, using default", zap.String("seller_id", sellerID), zap.Error(err))
		return DefaultCommissionRate
	}
	rate, err := ParseRate(stored)
	if err != nil {
		zap.L().Warn("Stored commission rate invalid, using default", zap.String("seller_id", sellerID), zap.Error(err))
		return DefaultCommissionRate
	}
	return rate
}

func (s *SaleService) insertOrder(ctx context.Context, o *models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, kind, buyer_id, guest_email, product_id, plan_name, amount, referrer_id,
			commission_rate, seller_commission, referrer_commission, admin_share,
			payment_status, payment_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, string(o.Kind), o.BuyerID, o.GuestEmail, o.ProductID, o.PlanName, o.Amount, o.ReferrerID,
		o.CommissionRate, o.SellerCommission, o.ReferrerCommission, o.AdminShare,
		string(o.PaymentStatus), o.PaymentReference, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.PaymentReference, err)
	}
	return nil
}

const orderColumns = `
	o.id, o.kind, o.buyer_id, o.guest_email, o.product_id, o.plan_name, o.amount, o.referrer_id,
	o.commission_rate, o.seller_commission, o.referrer_commission, o.admin_share,
	o.payment_status, o.payment_reference, o.download_expires_at, o.created_at, o.updated_at,
	COALESCE(p.seller_id, ''), COALESCE(p.title, '')
	FROM orders o LEFT JOIN products p ON p.id = o.product_id
	WHERE o.payment_reference = $1`

func (s *SaleService) loadOrder(ctx context.Context, reference string) (*models.Order, error) {
	return scanOrder(s.db.QueryRowContext(ctx, "SELECT"+orderColumns, reference), reference)
}

func (s *SaleService) lockOrder(ctx context.Context, tx *sql.Tx, reference string) (*models.Order, error) {
	return scanOrder(tx.QueryRowContext(ctx, "SELECT"+orderColumns+" FOR UPDATE OF o", reference), reference)
}

func scanOrder(row *sql.Row, reference string) (*models.Order, error) {
	var (
		o                                        models.Order
		kind, status                             string
		buyerID, guestEmail, productID, planName sql.NullString
		referrerID                               sql.NullString
		expiresAt                                sql.NullTime
	)
	err := row.Scan(&o.ID, &kind, &buyerID, &guestEmail, &productID, &planName, &o.Amount, &referrerID,
		&o.CommissionRate, &o.SellerCommission, &o.ReferrerCommission, &o.AdminShare,
		&status, &o.PaymentReference, &expiresAt, &o.CreatedAt, &o.UpdatedAt,
		&o.SellerID, &o.ProductTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", reference, err)
	}

	o.Kind = models.OrderKind(kind)
	o.PaymentStatus = models.PaymentStatus(status)
	o.BuyerID = nullString(buyerID)
	o.GuestEmail = nullString(guestEmail)
	o.ProductID = nullString(productID)
	o.PlanName = nullString(planName)
	o.ReferrerID = nullString(referrerID)
	if expiresAt.Valid {
		o.DownloadExpiresAt = &expiresAt.Time
	}
	return &o, nil
}

func splitOf(o *models.Order) Split {
	return Split{Seller: o.SellerCommission, Referrer: o.ReferrerCommission, Admin: o.AdminShare}
}

func newReference(amount int64) string {
	if amount == 0 {
		return FreeReferencePrefix + uuid.NewString()
	}
	return OrderReferencePrefix + uuid.NewString()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
