package rates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/models"
	"go.uber.org/zap"
)

// ConvertedScale is the number of decimal places kept on a converted amount.
const ConvertedScale = 4

// Source supplies the full rate table, usually from the exchange_rates table.
type Source interface {
	ListRates(ctx context.Context) ([]models.ExchangeRate, error)
}

// Snapshot is an immutable view of the table. Every rate read during one
// conversion comes from the same snapshot.
type Snapshot struct {
	rates    map[string]models.ExchangeRate
	LoadedAt time.Time
}

// Lookup returns the rate for code.
func (s *Snapshot) Lookup(code string) (models.ExchangeRate, error) {
	r, ok := s.rates[normalize(code)]
	if !ok {
		return models.ExchangeRate{}, models.NewError(models.KindUnknownCurrency, "rates.Lookup",
			fmt.Sprintf("unknown currency %q", code))
	}
	return r, nil
}

// LookupMany returns the rates found and the codes that are missing, in input order.
func (s *Snapshot) LookupMany(codes ...string) (map[string]models.ExchangeRate, []string) {
	found := make(map[string]models.ExchangeRate, len(codes))
	var missing []string
	for _, c := range codes {
		if r, ok := s.rates[normalize(c)]; ok {
			found[r.Code] = r
			continue
		}
		missing = append(missing, c)
	}
	return found, missing
}

// Len is the number of currencies in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.rates)
}

// Codes returns the currency codes sorted alphabetically.
func (s *Snapshot) Codes() []string {
	codes := make([]string, 0, len(s.rates))
	for c := range s.rates {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Views renders the snapshot for callers.
func (s *Snapshot) Views() map[string]models.RateView {
	out := make(map[string]models.RateView, len(s.rates))
	for code, r := range s.rates {
		out[code] = models.RateView{
			RateToUSD: r.RateToUSD.String(),
			Name:      r.Name,
			Symbol:    r.Symbol,
		}
	}
	return out
}

// Conversion is the result of a two-hop conversion through USD.
type Conversion struct {
	From          models.ExchangeRate
	To            models.ExchangeRate
	Amount        decimal.Decimal
	AmountUSD     decimal.Decimal
	Converted     decimal.Decimal
	EffectiveRate decimal.Decimal
}

// Description renders the conversion for the transaction record.
func (c Conversion) Description() string {
	return fmt.Sprintf("%s %s %s → %s %s %s (rate: %s)",
		c.Amount.StringFixed(2), c.From.Symbol, c.From.Code,
		c.Converted.StringFixed(2), c.To.Symbol, c.To.Code,
		c.EffectiveRate.StringFixed(4))
}

// Convert computes amount/rate[from]*rate[to] using rates from this snapshot.
func (s *Snapshot) Convert(amount decimal.Decimal, from, to string) (Conversion, error) {
	found, missing := s.LookupMany(from, to)
	if len(missing) > 0 {
		return Conversion{}, models.NewError(models.KindUnknownCurrency, "rates.Convert",
			fmt.Sprintf("unknown currency %s", strings.Join(missing, ", ")))
	}
	return Convert(amount, found[normalize(from)], found[normalize(to)]), nil
}

// Convert is the pure two-hop computation. Rates are validated positive on load.
func Convert(amount decimal.Decimal, from, to models.ExchangeRate) Conversion {
	usd := amount.Div(from.RateToUSD)
	converted := usd.Mul(to.RateToUSD).Round(ConvertedScale)
	effective := decimal.Zero
	if amount.IsPositive() {
		effective = converted.Div(amount)
	}
	return Conversion{
		From:          from,
		To:            to,
		Amount:        amount,
		AmountUSD:     usd,
		Converted:     converted,
		EffectiveRate: effective,
	}
}

// Table holds the current snapshot and swaps it atomically on reload.
type Table struct {
	current atomic.Pointer[Snapshot]
	source  Source
	logger  *zap.Logger
}

// NewTable creates an empty table backed by source.
func NewTable(source Source, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{source: source, logger: logger}
	t.current.Store(&Snapshot{rates: map[string]models.ExchangeRate{}})
	return t
}

// Snapshot returns the current immutable snapshot.
func (t *Table) Snapshot() *Snapshot {
	return t.current.Load()
}

// Lookup reads one rate from the current snapshot.
func (t *Table) Lookup(code string) (models.ExchangeRate, error) {
	return t.Snapshot().Lookup(code)
}

// LookupMany reads several rates from one snapshot.
func (t *Table) LookupMany(codes ...string) (map[string]models.ExchangeRate, []string) {
	return t.Snapshot().LookupMany(codes...)
}

// Load validates rates as a batch and installs them. On error the previous
// snapshot stays in effect.
func (t *Table) Load(rates []models.ExchangeRate) error {
	snap, err := buildSnapshot(rates)
	if err != nil {
		return err
	}
	t.current.Store(snap)
	t.logger.Info("[RATES] rate table loaded", zap.Int("currencies", snap.Len()))
	return nil
}

// Refresh reloads the table from its source.
func (t *Table) Refresh(ctx context.Context) error {
	if t.source == nil {
		return models.NewError(models.KindInvalidRates, "rates.Refresh", "no rate source configured")
	}
	rates, err := t.source.ListRates(ctx)
	if err != nil {
		return models.Storage("rates.Refresh", err)
	}
	return t.Load(rates)
}

// Run refreshes the table every interval until ctx is done. Failed refreshes
// are logged and the last good snapshot is kept.
func (t *Table) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("[RATES] stopping rate refresher")
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				t.logger.Warn("[RATES] refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

func buildSnapshot(rates []models.ExchangeRate) (*Snapshot, error) {
	if len(rates) == 0 {
		return nil, models.NewError(models.KindInvalidRates, "rates.Load", "rate table is empty")
	}

	m := make(map[string]models.ExchangeRate, len(rates))
	for _, r := range rates {
		code := normalize(r.Code)
		if code == "" {
			return nil, models.NewError(models.KindInvalidRates, "rates.Load", "currency code is empty")
		}
		if !r.RateToUSD.IsPositive() {
			return nil, models.NewError(models.KindInvalidRates, "rates.Load",
				fmt.Sprintf("rate for %s must be positive, got %s", code, r.RateToUSD))
		}
		if code == models.USD && !r.RateToUSD.Equal(decimal.NewFromInt(1)) {
			return nil, models.NewError(models.KindInvalidRates, "rates.Load",
				fmt.Sprintf("USD is the anchor and must have rate 1, got %s", r.RateToUSD))
		}
		if _, dup := m[code]; dup {
			return nil, models.NewError(models.KindInvalidRates, "rates.Load",
				fmt.Sprintf("duplicate currency %s", code))
		}
		r.Code = code
		m[code] = r
	}
	return &Snapshot{rates: m, LoadedAt: time.Now()}, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
