package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// Schema is idempotent; Migrate can run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS subscription_plans (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	price           BIGINT NOT NULL DEFAULT 0 CHECK (price >= 0),
	commission_rate NUMERIC(5,4) NOT NULL CHECK (commission_rate >= 0 AND commission_rate <= 1),
	duration_months INTEGER NOT NULL DEFAULT 1,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profiles (
	user_id                 TEXT PRIMARY KEY,
	email                   TEXT NOT NULL,
	full_name               TEXT,
	referral_code           TEXT UNIQUE,
	is_admin                BOOLEAN NOT NULL DEFAULT FALSE,
	subscription_plan       TEXT NOT NULL DEFAULT 'free',
	active_subscription     BOOLEAN NOT NULL DEFAULT FALSE,
	subscription_start_date TIMESTAMPTZ,
	subscription_end_date   TIMESTAMPTZ,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS products (
	id             TEXT PRIMARY KEY,
	seller_id      TEXT NOT NULL REFERENCES profiles(user_id),
	title          TEXT NOT NULL,
	price          BIGINT NOT NULL CHECK (price >= 0),
	file_path      TEXT NOT NULL DEFAULT '',
	download_count INTEGER NOT NULL DEFAULT 0,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
	id                  TEXT PRIMARY KEY,
	kind                TEXT NOT NULL DEFAULT 'product' CHECK (kind IN ('product', 'subscription')),
	buyer_id            TEXT,
	guest_email         TEXT,
	product_id          TEXT REFERENCES products(id),
	plan_name           TEXT,
	amount              BIGINT NOT NULL CHECK (amount >= 0),
	referrer_id         TEXT,
	commission_rate     NUMERIC(5,4) NOT NULL DEFAULT 0,
	seller_commission   BIGINT NOT NULL DEFAULT 0,
	referrer_commission BIGINT NOT NULL DEFAULT 0,
	admin_share         BIGINT NOT NULL DEFAULT 0,
	payment_status      TEXT NOT NULL DEFAULT 'pending' CHECK (payment_status IN ('pending', 'completed', 'failed')),
	payment_reference   TEXT NOT NULL UNIQUE,
	download_expires_at TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CHECK (seller_commission + referrer_commission + admin_share = amount),
	CHECK (buyer_id IS NOT NULL OR guest_email IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS payment_states (
	id                BIGSERIAL PRIMARY KEY,
	payment_reference TEXT NOT NULL,
	state             TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS wallets (
	user_id         TEXT PRIMARY KEY,
	balance         BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	total_earned    BIGINT NOT NULL DEFAULT 0,
	total_withdrawn BIGINT NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS admin_wallet (
	id              SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	balance         BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	total_earned    BIGINT NOT NULL DEFAULT 0,
	total_withdrawn BIGINT NOT NULL DEFAULT 0,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
	id          BIGSERIAL PRIMARY KEY,
	user_id     TEXT,
	type        TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	reference   TEXT NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE NULLS NOT DISTINCT (user_id, type, reference)
);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS withdrawals (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT,
	wallet             TEXT NOT NULL CHECK (wallet IN ('user', 'admin')),
	amount             BIGINT NOT NULL CHECK (amount > 0),
	fee                BIGINT NOT NULL CHECK (fee >= 0),
	bank_name          TEXT NOT NULL,
	bank_code          TEXT NOT NULL,
	account_number     TEXT NOT NULL,
	account_name       TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'failed')),
	external_reference TEXT,
	failure_reason     TEXT,
	dispatched_at      TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE withdrawals ADD COLUMN IF NOT EXISTS dispatched_at TIMESTAMPTZ;

CREATE TABLE IF NOT EXISTS download_grants (
	id          TEXT PRIMARY KEY,
	order_id    TEXT NOT NULL UNIQUE REFERENCES orders(id),
	product_id  TEXT NOT NULL REFERENCES products(id),
	user_id     TEXT,
	guest_email TEXT,
	expires_at  TIMESTAMPTZ NOT NULL,
	used_at     TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

INSERT INTO subscription_plans (id, name, price, commission_rate, duration_months)
VALUES ('plan_free', 'free', 0, 0.2000, 0)
ON CONFLICT (name) DO NOTHING;
`

// Migrate applies Schema in a single statement batch.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	zap.L().Info("Database schema applied")
	return nil
}
