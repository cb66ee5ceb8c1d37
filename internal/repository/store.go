// Package repository holds the durable account store: users, wallets, cards,
// exchange rates and the append-only transaction log.
package repository

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/models"
)

// MaxHistory caps how many records a single ListTransactions call returns.
const MaxHistory = 50

// Reader is the read side shared by the store and an open transaction.
type Reader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetWallet(ctx context.Context, id int64) (*models.Wallet, error)
	GetWalletByUser(ctx context.Context, userID int64) (*models.Wallet, error)
	GetWalletByEmail(ctx context.Context, email string) (*models.Wallet, error)
	GetCard(ctx context.Context, id int64) (*models.Card, error)
	ListCards(ctx context.Context, userID int64) ([]models.Card, error)
	GetRecord(ctx context.Context, id int64) (*models.TransactionRecord, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]models.TransactionView, error)
	ListRates(ctx context.Context) ([]models.ExchangeRate, error)
}

// Tx is one durability transaction. Balance changes, record inserts and
// creations made through it commit together or not at all.
type Tx interface {
	Reader

	// LockAccounts takes row locks on refs in the global order (see
	// models.AccountRef.Less) and returns their current state. Call it once
	// per transaction with every account the operation will touch.
	LockAccounts(ctx context.Context, refs ...models.AccountRef) (map[models.AccountRef]*models.Account, error)

	// AdjustBalance applies delta and returns the new balance. The
	// non-negativity check and the write happen in one step.
	AdjustBalance(ctx context.Context, ref models.AccountRef, delta decimal.Decimal) (decimal.Decimal, error)

	InsertRecord(ctx context.Context, rec *models.TransactionRecord) error
	// FindRecordByIdempotencyKey returns nil, nil when the key is unused.
	FindRecordByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.TransactionRecord, error)

	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	CreateWallet(ctx context.Context, userID int64, balance decimal.Decimal) (*models.Wallet, error)
	CreateCard(ctx context.Context, card *models.Card) error
}

// Store is the account store handed to the ledger engine.
type Store interface {
	Reader

	// WithinTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back on error or panic.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	UpsertRates(ctx context.Context, rates []models.ExchangeRate) error
	Ping(ctx context.Context) error
}

// SortRefs returns refs deduplicated and in lock order.
func SortRefs(refs []models.AccountRef) []models.AccountRef {
	seen := make(map[models.AccountRef]struct{}, len(refs))
	out := make([]models.AccountRef, 0, len(refs))
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxHistory {
		return MaxHistory
	}
	return limit
}

// isIncoming marks money that arrived from someone else, plus deposits.
func isIncoming(viewer, actor int64, kind models.TxKind) bool {
	return actor != viewer || kind == models.TxDeposit
}
