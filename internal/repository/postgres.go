package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/models"
)

const (
	uniqueViolation        = "23505"
	numericValueOutOfRange = "22003"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is the Store backed by database/sql and lib/pq.
type PostgresStore struct {
	queries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return models.Storage("store.Ping", s.db.PingContext(ctx))
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Storage("store.Begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Printf("[STORE] rollback failed: %v", rbErr)
			}
		}
	}()

	if err = fn(&postgresTx{queries: queries{q: sqlTx}}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return models.Storage("store.Commit", err)
	}
	return nil
}

// UpsertRates writes the rate table in one transaction.
func (s *PostgresStore) UpsertRates(ctx context.Context, rates []models.ExchangeRate) error {
	return s.WithinTx(ctx, func(tx Tx) error {
		pt := tx.(*postgresTx)
		for _, r := range rates {
			_, err := pt.q.ExecContext(ctx, `
				INSERT INTO exchange_rates (currency_code, rate_to_usd, currency_name, symbol, updated_at)
				VALUES ($1, $2, $3, $4, NOW())
				ON CONFLICT (currency_code) DO UPDATE
				SET rate_to_usd = EXCLUDED.rate_to_usd, currency_name = EXCLUDED.currency_name,
				    symbol = EXCLUDED.symbol, updated_at = NOW()`,
				r.Code, r.RateToUSD, r.Name, r.Symbol)
			if err != nil {
				return models.Storage("store.UpsertRates", fmt.Errorf("upsert %s: %w", r.Code, err))
			}
		}
		return nil
	})
}

type postgresTx struct {
	queries
}

func (t *postgresTx) LockAccounts(ctx context.Context, refs ...models.AccountRef) (map[models.AccountRef]*models.Account, error) {
	out := make(map[models.AccountRef]*models.Account, len(refs))
	for _, ref := range SortRefs(refs) {
		acc := &models.Account{Ref: ref}
		var err error
		switch ref.Kind {
		case models.KindWallet:
			err = t.q.QueryRowContext(ctx, `
				SELECT w.user_id, w.balance, u.email FROM wallets w
				JOIN users u ON u.id = w.user_id
				WHERE w.id = $1 FOR UPDATE OF w`, ref.ID).
				Scan(&acc.UserID, &acc.Balance, &acc.Label)
		case models.KindCard:
			err = t.q.QueryRowContext(ctx,
				"SELECT user_id, balance_usd, card_type FROM cards WHERE id = $1 FOR UPDATE", ref.ID).
				Scan(&acc.UserID, &acc.Balance, &acc.Label)
		default:
			return nil, models.NewError(models.KindAccountNotFound, "store.LockAccounts", "unknown account kind")
		}
		if err == sql.ErrNoRows {
			return nil, models.NotFound("store.LockAccounts", ref.String())
		}
		if err != nil {
			return nil, models.Storage("store.LockAccounts", err)
		}
		out[ref] = acc
	}
	return out, nil
}

func (t *postgresTx) AdjustBalance(ctx context.Context, ref models.AccountRef, delta decimal.Decimal) (decimal.Decimal, error) {
	table, column, err := balanceColumn(ref)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	err = t.q.QueryRowContext(ctx, fmt.Sprintf(
		"UPDATE %s SET %s = %s + $1, updated_at = NOW() WHERE id = $2 AND %s + $1 >= 0 RETURNING %s",
		table, column, column, column, column), delta, ref.ID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == numericValueOutOfRange {
		return decimal.Zero, models.NewError(models.KindInvalidAmount, "store.AdjustBalance",
			fmt.Sprintf("balance of %s would exceed the supported range", ref))
	}
	if err != sql.ErrNoRows {
		return decimal.Zero, models.Storage("store.AdjustBalance", err)
	}

	var exists bool
	if err := t.q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)", table), ref.ID).Scan(&exists); err != nil {
		return decimal.Zero, models.Storage("store.AdjustBalance", err)
	}
	if !exists {
		return decimal.Zero, models.NotFound("store.AdjustBalance", ref.String())
	}
	return decimal.Zero, models.NewError(models.KindInsufficientFunds, "store.AdjustBalance",
		fmt.Sprintf("insufficient funds on %s", ref))
}

func (t *postgresTx) InsertRecord(ctx context.Context, rec *models.TransactionRecord) error {
	fromWallet, fromCard := refColumns(rec.Source)
	toWallet, toCard := refColumns(rec.Destination)

	err := t.q.QueryRowContext(ctx, `
		INSERT INTO transactions (user_id, from_wallet_id, to_wallet_id, from_card_id, to_card_id,
			amount, currency, type, description, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		rec.UserID, fromWallet, toWallet, fromCard, toCard,
		rec.Amount, rec.Currency, string(rec.Kind), rec.Description, nullString(rec.IdempotencyKey)).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return models.Storage("store.InsertRecord", err)
	}
	return nil
}

func (t *postgresTx) FindRecordByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.TransactionRecord, error) {
	rec, err := scanRecord(t.q.QueryRowContext(ctx,
		recordSelect+" WHERE user_id = $1 AND idempotency_key = $2", userID, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, models.Storage("store.FindRecordByIdempotencyKey", err)
	}
	return rec, nil
}

func (t *postgresTx) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	email = normalizeEmail(email)
	u := &models.User{Email: email, PasswordHash: passwordHash}
	err := t.q.QueryRowContext(ctx,
		"INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, created_at",
		email, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, models.NewError(models.KindDuplicateEmail, "store.CreateUser", "email already registered")
		}
		return nil, models.Storage("store.CreateUser", err)
	}
	return u, nil
}

func (t *postgresTx) CreateWallet(ctx context.Context, userID int64, balance decimal.Decimal) (*models.Wallet, error) {
	w := &models.Wallet{UserID: userID, Balance: balance}
	err := t.q.QueryRowContext(ctx,
		"INSERT INTO wallets (user_id, balance) VALUES ($1, $2) RETURNING id, updated_at",
		userID, balance).Scan(&w.ID, &w.UpdatedAt)
	if err != nil {
		return nil, models.Storage("store.CreateWallet", err)
	}
	return w, nil
}

func (t *postgresTx) CreateCard(ctx context.Context, card *models.Card) error {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO cards (user_id, card_number_enc, cvv_enc, last_four, card_holder_name, card_type, expiry_date, balance_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		card.UserID, card.EncryptedNumber, card.EncryptedCVV, card.LastFour,
		card.HolderName, string(card.Network), card.Expiry, card.Balance).
		Scan(&card.ID, &card.CreatedAt)
	if err != nil {
		return models.Storage("store.CreateCard", err)
	}
	return nil
}

// queries implements Reader over any querier.
type queries struct {
	q querier
}

func (r queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return r.getUser(ctx, "id = $1", id)
}

func (r queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getUser(ctx, "email = $1", normalizeEmail(email))
}

func (r queries) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	u := &models.User{}
	err := r.q.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE "+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("store.GetUser", "user")
	}
	if err != nil {
		return nil, models.Storage("store.GetUser", err)
	}
	return u, nil
}

const walletSelect = `
	SELECT w.id, w.user_id, u.email, w.balance, w.updated_at
	FROM wallets w JOIN users u ON u.id = w.user_id`

func (r queries) GetWallet(ctx context.Context, id int64) (*models.Wallet, error) {
	return r.getWallet(ctx, walletSelect+" WHERE w.id = $1", id)
}

func (r queries) GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error) {
	return r.getWallet(ctx, walletSelect+" WHERE w.user_id = $1", userID)
}

func (r queries) GetWalletByEmail(ctx context.Context, email string) (*models.Wallet, error) {
	return r.getWallet(ctx, walletSelect+" WHERE u.email = $1", normalizeEmail(email))
}

func (r queries) getWallet(ctx context.Context, query string, arg any) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := r.q.QueryRowContext(ctx, query, arg).
		Scan(&w.ID, &w.UserID, &w.Email, &w.Balance, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("store.GetWallet", "wallet")
	}
	if err != nil {
		return nil, models.Storage("store.GetWallet", err)
	}
	return w, nil
}

const cardSelect = `
	SELECT id, user_id, last_four, card_number_enc, cvv_enc, card_holder_name, card_type, expiry_date, balance_usd, created_at
	FROM cards`

func scanCard(row interface{ Scan(...any) error }) (*models.Card, error) {
	c := &models.Card{}
	var network string
	err := row.Scan(&c.ID, &c.UserID, &c.LastFour, &c.EncryptedNumber, &c.EncryptedCVV,
		&c.HolderName, &network, &c.Expiry, &c.Balance, &c.CreatedAt)
	c.Network = models.CardNetwork(network)
	return c, err
}

func (r queries) GetCard(ctx context.Context, id int64) (*models.Card, error) {
	c, err := scanCard(r.q.QueryRowContext(ctx, cardSelect+" WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, models.NotFound("store.GetCard", fmt.Sprintf("card %d", id))
	}
	if err != nil {
		return nil, models.Storage("store.GetCard", err)
	}
	return c, nil
}

func (r queries) ListCards(ctx context.Context, userID int64) ([]models.Card, error) {
	rows, err := r.q.QueryContext(ctx, cardSelect+" WHERE user_id = $1 ORDER BY id", userID)
	if err != nil {
		return nil, models.Storage("store.ListCards", err)
	}
	defer rows.Close()

	cards := []models.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, models.Storage("store.ListCards", err)
		}
		cards = append(cards, *c)
	}
	return cards, models.Storage("store.ListCards", rows.Err())
}

const recordSelect = `
	SELECT id, user_id, from_wallet_id, to_wallet_id, from_card_id, to_card_id,
		amount, currency, type, description, COALESCE(idempotency_key, ''), created_at
	FROM transactions`

func scanRecord(row interface{ Scan(...any) error }) (*models.TransactionRecord, error) {
	rec := &models.TransactionRecord{}
	var fromWallet, toWallet, fromCard, toCard sql.NullInt64
	var kind string
	err := row.Scan(&rec.ID, &rec.UserID, &fromWallet, &toWallet, &fromCard, &toCard,
		&rec.Amount, &rec.Currency, &kind, &rec.Description, &rec.IdempotencyKey, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Kind = models.TxKind(kind)
	rec.Source = refFromColumns(fromWallet, fromCard)
	rec.Destination = refFromColumns(toWallet, toCard)
	return rec, nil
}

func (r queries) GetRecord(ctx context.Context, id int64) (*models.TransactionRecord, error) {
	rec, err := scanRecord(r.q.QueryRowContext(ctx, recordSelect+" WHERE id = $1", id))
	if err == sql.ErrNoRows {
		return nil, models.NotFound("store.GetRecord", fmt.Sprintf("transaction %d", id))
	}
	if err != nil {
		return nil, models.Storage("store.GetRecord", err)
	}
	return rec, nil
}

func (r queries) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.TransactionView, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.amount, t.currency, t.type, t.description, t.created_at,
			fu.email, tu.email, fc.card_type, tc.card_type
		FROM transactions t
		LEFT JOIN wallets fw ON fw.id = t.from_wallet_id
		LEFT JOIN wallets tw ON tw.id = t.to_wallet_id
		LEFT JOIN users fu ON fu.id = fw.user_id
		LEFT JOIN users tu ON tu.id = tw.user_id
		LEFT JOIN cards fc ON fc.id = t.from_card_id
		LEFT JOIN cards tc ON tc.id = t.to_card_id
		WHERE t.user_id = $1 OR tw.user_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2`, userID, clampLimit(limit))
	if err != nil {
		return nil, models.Storage("store.ListTransactions", err)
	}
	defer rows.Close()

	views := []models.TransactionView{}
	for rows.Next() {
		var (
			v                                models.TransactionView
			actor                            int64
			amount                           decimal.Decimal
			kind                             string
			fromEmail, toEmail, fromCT, toCT sql.NullString
		)
		if err := rows.Scan(&v.ID, &actor, &amount, &v.Currency, &kind, &v.Description, &v.CreatedAt,
			&fromEmail, &toEmail, &fromCT, &toCT); err != nil {
			return nil, models.Storage("store.ListTransactions", err)
		}
		v.Amount = amount.StringFixed(4)
		v.Kind = models.TxKind(kind)
		v.FromEmail = stringPtr(fromEmail)
		v.ToEmail = stringPtr(toEmail)
		v.FromCardType = stringPtr(fromCT)
		v.ToCardType = stringPtr(toCT)
		v.Incoming = isIncoming(userID, actor, v.Kind)
		views = append(views, v)
	}
	return views, models.Storage("store.ListTransactions", rows.Err())
}

func (r queries) ListRates(ctx context.Context) ([]models.ExchangeRate, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT currency_code, rate_to_usd, currency_name, symbol, updated_at FROM exchange_rates ORDER BY currency_code")
	if err != nil {
		return nil, models.Storage("store.ListRates", err)
	}
	defer rows.Close()

	var out []models.ExchangeRate
	for rows.Next() {
		var r models.ExchangeRate
		if err := rows.Scan(&r.Code, &r.RateToUSD, &r.Name, &r.Symbol, &r.UpdatedAt); err != nil {
			return nil, models.Storage("store.ListRates", err)
		}
		out = append(out, r)
	}
	return out, models.Storage("store.ListRates", rows.Err())
}

func balanceColumn(ref models.AccountRef) (table, column string, err error) {
	switch ref.Kind {
	case models.KindWallet:
		return "wallets", "balance", nil
	case models.KindCard:
		return "cards", "balance_usd", nil
	}
	return "", "", models.NewError(models.KindAccountNotFound, "store.AdjustBalance", "unknown account kind")
}

func refColumns(ref *models.AccountRef) (wallet, card sql.NullInt64) {
	if ref == nil {
		return
	}
	switch ref.Kind {
	case models.KindWallet:
		wallet = sql.NullInt64{Int64: ref.ID, Valid: true}
	case models.KindCard:
		card = sql.NullInt64{Int64: ref.ID, Valid: true}
	}
	return
}

func refFromColumns(wallet, card sql.NullInt64) *models.AccountRef {
	switch {
	case wallet.Valid:
		r := models.WalletRef(wallet.Int64)
		return &r
	case card.Valid:
		r := models.CardRef(card.Int64)
		return &r
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
