package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digimart/backend/internal/models"
)

// GrantClaims is the payload of a download token. ID is the grant id.
type GrantClaims struct {
	ProductID string `json:"pid"`
	jwt.RegisteredClaims
}

// Download is what a redeemed grant unlocks.
type Download struct {
	GrantID   string `json:"grant_id"`
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	FilePath  string `json:"file_path"`
}

type DownloadService struct {
	db         *sql.DB
	signingKey []byte
	clock      func() time.Time
}

func NewDownloadService(db *sql.DB, signingKey string) *DownloadService {
	return &DownloadService{db: db, signingKey: []byte(signingKey), clock: time.Now}
}

// CreateGrant inserts the single grant for a completed product order.
func (s *DownloadService) CreateGrant(ctx context.Context, tx *sql.Tx, order *models.Order, expiresAt time.Time) (*models.DownloadGrant, error) {
	if order.ProductID == nil {
		return nil, &ValidationError{Field: "product_id", Message: "order has no product"}
	}
	grant := &models.DownloadGrant{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		ProductID:  *order.ProductID,
		UserID:     order.BuyerID,
		GuestEmail: order.GuestEmail,
		ExpiresAt:  expiresAt,
		CreatedAt:  s.clock(),
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO download_grants (id, order_id, product_id, user_id, guest_email, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		grant.ID, grant.OrderID, grant.ProductID, grant.UserID, grant.GuestEmail, grant.ExpiresAt, grant.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert download grant for order %s: %w", order.ID, err)
	}
	return grant, nil
}

func (s *DownloadService) SignToken(grant *models.DownloadGrant) (string, error) {
	claims := GrantClaims{
		ProductID: grant.ProductID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        grant.ID,
			Subject:   grant.Subject(),
			IssuedAt:  jwt.NewNumericDate(s.clock()),
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// TokenForOrder re-issues the token of an unused, unexpired grant. It returns
// an empty token when the grant is gone so repeated verification stays a no-op.
func (s *DownloadService) TokenForOrder(ctx context.Context, orderID string) (string, error) {
	var grant models.DownloadGrant
	var userID, guestEmail sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, user_id, guest_email, expires_at
		FROM download_grants
		WHERE order_id = $1 AND used_at IS NULL AND expires_at > $2`,
		orderID, s.clock()).Scan(&grant.ID, &grant.ProductID, &userID, &guestEmail, &grant.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load grant for order %s: %w", orderID, err)
	}
	if userID.Valid {
		grant.UserID = &userID.String
	}
	if guestEmail.Valid {
		grant.GuestEmail = &guestEmail.String
	}
	return s.SignToken(&grant)
}

// Redeem consumes a grant. A second redemption, or one after expiry, fails
// with ErrGrantUnavailable.
func (s *DownloadService) Redeem(ctx context.Context, token string) (*Download, error) {
	claims := &GrantClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrGrantUnavailable
	}
	if err != nil || claims.ID == "" {
		return nil, &ValidationError{Field: "token", Message: "invalid download token"}
	}

	now := s.clock()
	d := Download{GrantID: claims.ID}
	err = s.db.QueryRowContext(ctx, `
		UPDATE download_grants g
		SET used_at = $1
		FROM products p
		WHERE g.id = $2 AND g.used_at IS NULL AND g.expires_at > $1 AND p.id = g.product_id
		RETURNING p.id, p.title, p.file_path`,
		now, claims.ID).Scan(&d.ProductID, &d.Title, &d.FilePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGrantUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("redeem grant %s: %w", claims.ID, err)
	}

	zap.L().Info("Download grant redeemed",
		zap.String("grant_id", d.GrantID),
		zap.String("product_id", d.ProductID),
		zap.String("subject", claims.Subject))
	return &d, nil
}
