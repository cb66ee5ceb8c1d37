package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// USD is the anchor currency of the rate table and the currency of every card.
const USD = "USD"

// ExchangeRate expresses a currency as units per 1 USD.
type ExchangeRate struct {
	Code      string          `json:"currency_code" db:"currency_code"`
	RateToUSD decimal.Decimal `json:"rate_to_usd" db:"rate_to_usd"`
	Name      string          `json:"currency_name" db:"currency_name"`
	Symbol    string          `json:"symbol" db:"symbol"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// RateView is the caller-facing projection of a rate.
type RateView struct {
	RateToUSD string `json:"rate_to_usd" example:"0.92"`
	Name      string `json:"currency_name" example:"Euro"`
	Symbol    string `json:"symbol" example:"€"`
}
