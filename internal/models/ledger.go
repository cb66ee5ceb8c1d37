package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes the two balance-holding account variants.
type AccountKind string

const (
	KindWallet AccountKind = "wallet"
	KindCard   AccountKind = "card"
)

// AccountRef identifies a single balance in the store. It is comparable and is
// used as a map key and as the unit of row locking.
type AccountRef struct {
	Kind AccountKind
	ID   int64
}

// WalletRef references a wallet by id.
func WalletRef(id int64) AccountRef { return AccountRef{Kind: KindWallet, ID: id} }

// CardRef references a card by id.
func CardRef(id int64) AccountRef { return AccountRef{Kind: KindCard, ID: id} }

func (r AccountRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Less defines the global lock order: wallets before cards, then ascending id.
func (r AccountRef) Less(o AccountRef) bool {
	if r.Kind != o.Kind {
		return r.Kind == KindWallet
	}
	return r.ID < o.ID
}

// Account is the locked state of one balance inside a store transaction.
type Account struct {
	Ref     AccountRef
	UserID  int64
	Balance decimal.Decimal
	Label   string // email for wallets, network for cards
}

// TxKind is the type of a committed ledger operation.
type TxKind string

const (
	TxDeposit      TxKind = "deposit"
	TxTransfer     TxKind = "transfer"
	TxConversion   TxKind = "conversion"
	TxCardTransfer TxKind = "card_transfer"
)

// TransactionRecord is the immutable audit row written once per committed operation.
type TransactionRecord struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Source         *AccountRef     `json:"-"`
	Destination    *AccountRef     `json:"-"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Kind           TxKind          `json:"type"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Touches reports whether the record moved money in or out of ref.
func (t *TransactionRecord) Touches(ref AccountRef) bool {
	return (t.Source != nil && *t.Source == ref) || (t.Destination != nil && *t.Destination == ref)
}

// TransactionView is a record joined with its counterpart details for the history read path.
type TransactionView struct {
	ID           int64     `json:"id"`
	Amount       string    `json:"amount" example:"30.0000"`
	Currency     string    `json:"currency" example:"TRY"`
	Kind         TxKind    `json:"type" example:"transfer"`
	Description  string    `json:"description"`
	FromEmail    *string   `json:"from_email"`
	ToEmail      *string   `json:"to_email"`
	FromCardType *string   `json:"from_card_type"`
	ToCardType   *string   `json:"to_card_type"`
	CreatedAt    time.Time `json:"created_at"`
	Incoming     bool      `json:"is_incoming"`
}
