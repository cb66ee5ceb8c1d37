package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order on startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		email         TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT users_email_key UNIQUE (email)
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL UNIQUE REFERENCES users(id),
		balance    NUMERIC(20, 4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cards (
		id               BIGSERIAL PRIMARY KEY,
		user_id          BIGINT NOT NULL REFERENCES users(id),
		card_number_enc  TEXT NOT NULL,
		cvv_enc          TEXT NOT NULL,
		last_four        CHAR(4) NOT NULL,
		card_holder_name TEXT NOT NULL,
		card_type        TEXT NOT NULL CHECK (card_type IN ('Visa', 'Mastercard', 'Troy')),
		expiry_date      TEXT NOT NULL,
		balance_usd      NUMERIC(20, 4) NOT NULL DEFAULT 0 CHECK (balance_usd >= 0),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cards_user ON cards(user_id)`,
	`CREATE TABLE IF NOT EXISTS exchange_rates (
		currency_code TEXT PRIMARY KEY,
		rate_to_usd   NUMERIC(20, 8) NOT NULL CHECK (rate_to_usd > 0),
		currency_name TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id              BIGSERIAL PRIMARY KEY,
		user_id         BIGINT NOT NULL REFERENCES users(id),
		from_wallet_id  BIGINT REFERENCES wallets(id),
		to_wallet_id    BIGINT REFERENCES wallets(id),
		from_card_id    BIGINT REFERENCES cards(id),
		to_card_id      BIGINT REFERENCES cards(id),
		amount          NUMERIC(20, 4) NOT NULL CHECK (amount > 0),
		currency        TEXT NOT NULL,
		type            TEXT NOT NULL CHECK (type IN ('deposit', 'transfer', 'conversion', 'card_transfer')),
		description     TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT transactions_idempotency_key UNIQUE (user_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to_wallet ON transactions(to_wallet_id)`,
}

// Migrate creates the tables the ledger needs.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
