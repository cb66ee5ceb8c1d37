package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardNetwork is the payment network a card is issued on.
type CardNetwork string

const (
	NetworkVisa       CardNetwork = "Visa"
	NetworkMastercard CardNetwork = "Mastercard"
	NetworkTroy       CardNetwork = "Troy"
)

// Valid reports whether n is one of the supported networks.
func (n CardNetwork) Valid() bool {
	switch n {
	case NetworkVisa, NetworkMastercard, NetworkTroy:
		return true
	}
	return false
}

// Wallet is a user's single base-currency balance.
type Wallet struct {
	ID        int64           `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	Email     string          `json:"email" db:"email"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Ref returns the account reference of the wallet.
func (w *Wallet) Ref() AccountRef {
	return WalletRef(w.ID)
}

// Card is a USD-denominated secondary balance owned by a user.
type Card struct {
	ID              int64           `json:"id" db:"id"`
	UserID          int64           `json:"user_id" db:"user_id"`
	LastFour        string          `json:"-" db:"last_four"`
	EncryptedNumber string          `json:"-" db:"encrypted_number"`
	EncryptedCVV    string          `json:"-" db:"encrypted_cvv"`
	HolderName      string          `json:"card_holder" db:"holder_name"`
	Network         CardNetwork     `json:"card_type" db:"network"`
	Expiry          string          `json:"expiry" db:"expiry"`
	Balance         decimal.Decimal `json:"balance_usd" db:"balance"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Ref returns the account reference of the card.
func (c *Card) Ref() AccountRef {
	return CardRef(c.ID)
}

// MaskedNumber renders the card number with only the last four digits visible.
func (c *Card) MaskedNumber() string {
	return "**** **** **** " + c.LastFour
}

// CardView is the caller-facing projection of a card.
type CardView struct {
	ID         int64       `json:"id"`
	CardNumber string      `json:"card_number" example:"**** **** **** 4242"`
	HolderName string      `json:"card_holder"`
	Network    CardNetwork `json:"card_type" example:"Visa"`
	Expiry     string      `json:"expiry" example:"12/28"`
	BalanceUSD string      `json:"balance_usd" example:"200000.0000"`
}

// View projects the card for callers.
func (c *Card) View() CardView {
	return CardView{
		ID:         c.ID,
		CardNumber: c.MaskedNumber(),
		HolderName: c.HolderName,
		Network:    c.Network,
		Expiry:     c.Expiry,
		BalanceUSD: c.Balance.StringFixed(4),
	}
}
