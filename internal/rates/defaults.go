package rates

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/models"
)

// DefaultRates is the seed table written on first boot.
func DefaultRates() []models.ExchangeRate {
	seed := []struct {
		code, rate, name, symbol string
	}{
		{"USD", "1.0", "US Dollar", "$"},
		{"EUR", "0.92", "Euro", "€"},
		{"GBP", "0.79", "British Pound", "£"},
		{"JPY", "149.50", "Japanese Yen", "¥"},
		{"CHF", "0.88", "Swiss Franc", "Fr"},
		{"CAD", "1.35", "Canadian Dollar", "C$"},
		{"AUD", "1.52", "Australian Dollar", "A$"},
		{"TRY", "34.50", "Turkish Lira", "₺"},
		{"CNY", "7.24", "Chinese Yuan", "¥"},
		{"RUB", "92.50", "Russian Ruble", "₽"},
		{"SAR", "3.75", "Saudi Riyal", "﷼"},
		{"AED", "3.67", "UAE Dirham", "د.إ"},
		{"INR", "83.12", "Indian Rupee", "₹"},
		{"BRL", "4.97", "Brazilian Real", "R$"},
		{"KRW", "1305.50", "South Korean Won", "₩"},
		{"MXN", "17.15", "Mexican Peso", "$"},
		{"SEK", "10.35", "Swedish Krona", "kr"},
		{"NOK", "10.52", "Norwegian Krone", "kr"},
		{"DKK", "6.87", "Danish Krone", "kr"},
		{"PLN", "4.02", "Polish Zloty", "zł"},
	}

	out := make([]models.ExchangeRate, 0, len(seed))
	for _, s := range seed {
		out = append(out, models.ExchangeRate{
			Code:      s.code,
			RateToUSD: decimal.RequireFromString(s.rate),
			Name:      s.name,
			Symbol:    s.symbol,
		})
	}
	return out
}

// Seeder is the part of the store that owns the exchange_rates table.
type Seeder interface {
	Source
	UpsertRates(ctx context.Context, rates []models.ExchangeRate) error
}

// SeedIfEmpty writes DefaultRates when the store has no rates yet. Existing
// rows are left alone. It reports whether anything was written.
func SeedIfEmpty(ctx context.Context, store Seeder) (bool, error) {
	existing, err := store.ListRates(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		return false, nil
	}
	return true, store.UpsertRates(ctx, DefaultRates())
}
