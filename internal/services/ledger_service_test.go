package services

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletmvp/backend/internal/models"
	"github.com/walletmvp/backend/internal/rates"
	"github.com/walletmvp/backend/internal/repository"
	"golang.org/x/sync/errgroup"
)

type ledgerFixture struct {
	store  *repository.MemoryStore
	ledger *LedgerService
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	table := rates.NewTable(nil, nil)
	require.NoError(t, table.Load(rates.DefaultRates()))
	store := repository.NewMemoryStore()
	return &ledgerFixture{
		store:  store,
		ledger: NewLedgerService(store, table, nil, nil, "TRY", repository.MaxHistory),
	}
}

func (f *ledgerFixture) user(t *testing.T, email string, balance string) *models.Wallet {
	t.Helper()
	var w *models.Wallet
	err := f.store.WithinTx(context.Background(), func(tx repository.Tx) error {
		u, err := tx.CreateUser(context.Background(), email, "hash")
		if err != nil {
			return err
		}
		w, err = tx.CreateWallet(context.Background(), u.ID, decimal.RequireFromString(balance))
		return err
	})
	require.NoError(t, err)
	w.Email = email
	return w
}

func (f *ledgerFixture) card(t *testing.T, userID int64, network models.CardNetwork, balance string) *models.Card {
	t.Helper()
	c := &models.Card{
		UserID:     userID,
		LastFour:   "4242",
		HolderName: "Test Holder",
		Network:    network,
		Expiry:     "12/28",
		Balance:    decimal.RequireFromString(balance),
	}
	err := f.store.WithinTx(context.Background(), func(tx repository.Tx) error {
		return tx.CreateCard(context.Background(), c)
	})
	require.NoError(t, err)
	return c
}

func (f *ledgerFixture) balance(ref models.AccountRef) decimal.Decimal {
	return f.store.Balances()[ref]
}

func (f *ledgerFixture) total() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range f.store.Balances() {
		sum = sum.Add(b)
	}
	return sum
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerService_Transfer(t *testing.T) {
	ctx := context.Background()

	t.Run("moves funds by email", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")
		b := f.user(t, "b@example.com", "50")

		res, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("30"), Description: "lunch"})
		require.NoError(t, err)

		assert.True(t, res.NewBalance.Equal(dec("70")))
		assert.True(t, f.balance(a.Ref()).Equal(dec("70")))
		assert.True(t, f.balance(b.Ref()).Equal(dec("80")))
		assert.Equal(t, models.TxTransfer, res.Record.Kind)
		assert.Equal(t, "TRY", res.Record.Currency)
		assert.Equal(t, "lunch", res.Record.Description)
		assert.True(t, res.Record.Touches(a.Ref()))
		assert.True(t, res.Record.Touches(b.Ref()))
		assert.Equal(t, 1, f.store.RecordCount())
	})

	t.Run("moves funds by user id", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")
		b := f.user(t, "b@example.com", "0")

		_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: strconv.FormatInt(b.UserID, 10), Amount: dec("100")})
		require.NoError(t, err)
		assert.True(t, f.balance(a.Ref()).IsZero())
		assert.True(t, f.balance(b.Ref()).Equal(dec("100")))
	})

	t.Run("rejections leave state unchanged", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")
		f.user(t, "b@example.com", "50")

		tests := []struct {
			name string
			req  TransferRequest
			want error
		}{
			{"self transfer", TransferRequest{FromUserID: a.UserID, To: "a@example.com", Amount: dec("10")}, models.ErrSelfTransfer},
			{"insufficient funds", TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("100.0001")}, models.ErrInsufficientFunds},
			{"unknown recipient", TransferRequest{FromUserID: a.UserID, To: "nobody@example.com", Amount: dec("10")}, models.ErrAccountNotFound},
			{"unknown sender", TransferRequest{FromUserID: 999, To: "b@example.com", Amount: dec("10")}, models.ErrAccountNotFound},
			{"zero amount", TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: decimal.Zero}, models.ErrInvalidAmount},
			{"negative amount", TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("-5")}, models.ErrInvalidAmount},
			{"too precise", TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("0.00001")}, models.ErrInvalidAmount},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				before := f.store.Balances()
				_, err := f.ledger.Transfer(ctx, tt.req)
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, before, f.store.Balances())
				assert.Equal(t, 0, f.store.RecordCount())
			})
		}
	})

	t.Run("storage fault rolls back both legs", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")
		b := f.user(t, "b@example.com", "50")
		f.store.SetFault(func(op string, ref models.AccountRef) error {
			if op == "adjust" && ref == b.Ref() {
				return errors.New("connection reset")
			}
			return nil
		})

		_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("30")})
		assert.ErrorIs(t, err, models.ErrStorageUnavailable)
		assert.True(t, f.balance(a.Ref()).Equal(dec("100")))
		assert.True(t, f.balance(b.Ref()).Equal(dec("50")))
		assert.Equal(t, 0, f.store.RecordCount())
	})

	t.Run("commit fault rolls back", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")
		f.user(t, "b@example.com", "50")
		f.store.SetFault(func(op string, ref models.AccountRef) error {
			if op == "commit" {
				return errors.New("fsync failed")
			}
			return nil
		})

		_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("30")})
		assert.ErrorIs(t, err, models.ErrStorageUnavailable)
		assert.True(t, f.balance(a.Ref()).Equal(dec("100")))
	})
}

func TestLedgerService_TransferIdempotency(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	a := f.user(t, "a@example.com", "100")
	b := f.user(t, "b@example.com", "50")
	req := TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("30"), IdempotencyKey: "req-1"}

	first, err := f.ledger.Transfer(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.ledger.Transfer(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.True(t, second.NewBalance.Equal(dec("70")))

	assert.True(t, f.balance(a.Ref()).Equal(dec("70")))
	assert.True(t, f.balance(b.Ref()).Equal(dec("80")))
	assert.Equal(t, 1, f.store.RecordCount())
}

func TestLedgerService_IdempotencyKeyReuse(t *testing.T) {
	ctx := context.Background()

	type fixture struct {
		*ledgerFixture
		a, b   *models.Wallet
		c1, c2 *models.Card
	}
	setup := func(t *testing.T) *fixture {
		f := &fixture{ledgerFixture: newLedgerFixture(t)}
		f.a = f.user(t, "a@example.com", "100")
		f.b = f.user(t, "b@example.com", "50")
		f.user(t, "c@example.com", "0")
		f.c1 = f.card(t, f.a.UserID, models.NetworkVisa, "1000")
		f.c2 = f.card(t, f.a.UserID, models.NetworkMastercard, "1000")
		return f
	}
	deposit := func(f *fixture, amount string) error {
		_, err := f.ledger.Deposit(ctx, DepositRequest{UserID: f.a.UserID, Amount: dec(amount), IdempotencyKey: "k1"})
		return err
	}
	transfer := func(f *fixture, to, amount string) error {
		_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: f.a.UserID, To: to, Amount: dec(amount), IdempotencyKey: "k1"})
		return err
	}
	convert := func(f *fixture, from, to string) error {
		_, err := f.ledger.ConvertCurrency(ctx, ConvertRequest{UserID: f.a.UserID, CardID: f.c1.ID, From: from, To: to, Amount: dec("10"), IdempotencyKey: "k1"})
		return err
	}
	cardTransfer := func(f *fixture, amount string) error {
		_, err := f.ledger.CardTransfer(ctx, CardTransferRequest{UserID: f.a.UserID, FromCardID: f.c1.ID, ToCardID: f.c2.ID, Amount: dec(amount), IdempotencyKey: "k1"})
		return err
	}

	tests := []struct {
		name   string
		first  func(*fixture) error
		second func(*fixture) error
	}{
		{"deposit then transfer", func(f *fixture) error { return deposit(f, "5") }, func(f *fixture) error { return transfer(f, "b@example.com", "30") }},
		{"deposit then conversion", func(f *fixture) error { return deposit(f, "5") }, func(f *fixture) error { return convert(f, "USD", "EUR") }},
		{"deposit then card transfer", func(f *fixture) error { return deposit(f, "5") }, func(f *fixture) error { return cardTransfer(f, "10") }},
		{"transfer then deposit", func(f *fixture) error { return transfer(f, "b@example.com", "30") }, func(f *fixture) error { return deposit(f, "30") }},
		{"deposit with another amount", func(f *fixture) error { return deposit(f, "5") }, func(f *fixture) error { return deposit(f, "6") }},
		{"transfer to another recipient", func(f *fixture) error { return transfer(f, "b@example.com", "30") }, func(f *fixture) error { return transfer(f, "c@example.com", "30") }},
		{"conversion in the other direction", func(f *fixture) error { return convert(f, "USD", "EUR") }, func(f *fixture) error { return convert(f, "EUR", "USD") }},
		{"card transfer with another amount", func(f *fixture) error { return cardTransfer(f, "10") }, func(f *fixture) error { return cardTransfer(f, "11") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			require.NoError(t, tt.first(f))
			before, records := f.store.Balances(), f.store.RecordCount()

			err := tt.second(f)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidRequest)
			assert.False(t, DescribeError(err).Retryable)
			for ref, bal := range before {
				assert.True(t, f.balance(ref).Equal(bal), "balance of %s changed", ref)
			}
			assert.Equal(t, records, f.store.RecordCount())
		})
	}
}

func TestLedgerService_AmountUpperBound(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	a := f.user(t, "a@example.com", "100")
	f.user(t, "b@example.com", "0")
	c := f.card(t, a.UserID, models.NetworkVisa, "200000")
	total := f.total()

	_, err := f.ledger.Deposit(ctx, DepositRequest{UserID: a.UserID, Amount: MaxAmount})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
	assert.False(t, DescribeError(err).Retryable)

	_, err = f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("100000000000000000")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	// 1e15 USD is in range but its KRW equivalent is not.
	_, err = f.ledger.ConvertCurrency(ctx, ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "USD", To: "KRW", Amount: dec("1000000000000000")})
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = f.ledger.Deposit(ctx, DepositRequest{UserID: a.UserID, Amount: dec("9999999999999999.9999")})
	require.NoError(t, err)
	assert.True(t, f.total().Equal(total.Add(dec("9999999999999999.9999"))))
	assert.Equal(t, 1, f.store.RecordCount())
}

func TestLedgerService_MixedSequenceConservesValue(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	wallets := make([]*models.Wallet, len(emails))
	cards := make([][2]*models.Card, len(emails))
	for i, email := range emails {
		wallets[i] = f.user(t, email, "500")
		cards[i] = [2]*models.Card{
			f.card(t, wallets[i].UserID, models.NetworkVisa, "300"),
			f.card(t, wallets[i].UserID, models.NetworkTroy, "300"),
		}
	}
	total := f.total()

	rng := rand.New(rand.NewSource(7))
	ops := make([]func() error, 400)
	for i := range ops {
		from := rng.Intn(len(emails))
		amount := decimal.New(int64(rng.Intn(20000)+1), -2)
		if rng.Intn(2) == 0 {
			to := emails[rng.Intn(len(emails))]
			ops[i] = func() error {
				_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: wallets[from].UserID, To: to, Amount: amount})
				return err
			}
			continue
		}
		src := rng.Intn(2)
		ops[i] = func() error {
			_, err := f.ledger.CardTransfer(ctx, CardTransferRequest{
				UserID:     wallets[from].UserID,
				FromCardID: cards[from][src].ID,
				ToCardID:   cards[from][1-src].ID,
				Amount:     amount,
			})
			return err
		}
	}

	results := make([]error, len(ops))
	var g errgroup.Group
	g.SetLimit(16)
	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			results[i] = op()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	committed := 0
	for _, err := range results {
		if err == nil {
			committed++
			continue
		}
		kind := models.KindOf(err)
		assert.Contains(t, []models.ErrorKind{models.KindInsufficientFunds, models.KindSelfTransfer}, kind, err.Error())
	}
	assert.True(t, f.total().Equal(total), "total %s, want %s", f.total(), total)
	for ref, bal := range f.store.Balances() {
		assert.False(t, bal.IsNegative(), "%s went negative", ref)
	}
	assert.Equal(t, committed, f.store.RecordCount())
}

func TestLedgerService_ConcurrentOppositeTransfers(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	a := f.user(t, "a@example.com", "1000")
	b := f.user(t, "b@example.com", "1000")
	total := f.total()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("3")})
			return err
		})
		g.Go(func() error {
			_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: b.UserID, To: "a@example.com", Amount: dec("2")})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.True(t, f.balance(a.Ref()).Equal(dec("950")))
	assert.True(t, f.balance(b.Ref()).Equal(dec("1050")))
	assert.True(t, f.total().Equal(total))
	assert.Equal(t, 100, f.store.RecordCount())
}

func TestLedgerService_ConcurrentOverdraft(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	a := f.user(t, "a@example.com", "10")
	b := f.user(t, "b@example.com", "0")

	var g errgroup.Group
	results := make([]error, 20)
	for i := range results {
		i := i
		g.Go(func() error {
			_, results[i] = f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("1")})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	failed := 0
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, models.ErrInsufficientFunds)
			failed++
		}
	}
	assert.Equal(t, 10, failed)
	assert.True(t, f.balance(a.Ref()).IsZero())
	assert.True(t, f.balance(b.Ref()).Equal(dec("10")))
}

func TestLedgerService_Deposit(t *testing.T) {
	ctx := context.Background()

	t.Run("plain deposit", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")

		res, err := f.ledger.Deposit(ctx, DepositRequest{UserID: a.UserID, Amount: dec("25.5")})
		require.NoError(t, err)
		assert.True(t, res.NewBalance.Equal(dec("125.5")))
		assert.Equal(t, models.TxDeposit, res.Record.Kind)
		assert.Equal(t, "Deposit", res.Record.Description)
		assert.Nil(t, res.Record.Source)
	})

	t.Run("card top-up describes the card", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "0")
		c := f.card(t, a.UserID, models.NetworkVisa, "200000")

		res, err := f.ledger.Deposit(ctx, DepositRequest{UserID: a.UserID, Amount: dec("40"), FundingCardID: c.ID})
		require.NoError(t, err)
		assert.Equal(t, "Card top-up of 40.00 TRY from **** **** **** 4242", res.Record.Description)
		assert.True(t, f.balance(c.Ref()).Equal(dec("200000")))
	})

	t.Run("funding card of another user", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "0")
		b := f.user(t, "b@example.com", "0")
		c := f.card(t, b.UserID, models.NetworkVisa, "10")

		_, err := f.ledger.Deposit(ctx, DepositRequest{UserID: a.UserID, Amount: dec("40"), FundingCardID: c.ID})
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
		assert.True(t, f.balance(a.Ref()).IsZero())
	})

	t.Run("invalid amount", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")

		_, err := f.ledger.Deposit(ctx, DepositRequest{UserID: a.UserID, Amount: dec("-5")})
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
		assert.True(t, f.balance(a.Ref()).Equal(dec("100")))
	})

	t.Run("replay returns the locked balance", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "0")
		req := DepositRequest{UserID: a.UserID, Amount: dec("10"), IdempotencyKey: "dep-1"}

		_, err := f.ledger.Deposit(ctx, req)
		require.NoError(t, err)
		res, err := f.ledger.Deposit(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.True(t, res.NewBalance.Equal(dec("10")))
	})
}

func TestLedgerService_ConvertCurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("card USD to wallet EUR", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")
		c := f.card(t, a.UserID, models.NetworkVisa, "200000")

		res, err := f.ledger.ConvertCurrency(ctx, ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "usd", To: "EUR", Amount: dec("100")})
		require.NoError(t, err)

		assert.Equal(t, "92.0000", res.ConvertedAmount.StringFixed(4))
		assert.Equal(t, "0.9200", res.EffectiveRate.StringFixed(4))
		assert.Equal(t, "100.00 $ USD → 92.00 € EUR (rate: 0.9200)", res.Description)
		assert.True(t, f.balance(c.Ref()).Equal(dec("199900")))
		assert.True(t, f.balance(a.Ref()).Equal(dec("192")))
		assert.Equal(t, models.TxConversion, res.Record.Kind)
		assert.Equal(t, "USD", res.Record.Currency)
	})

	t.Run("wallet TRY to card USD", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "345")
		c := f.card(t, a.UserID, models.NetworkVisa, "0")

		res, err := f.ledger.ConvertCurrency(ctx, ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "TRY", To: "USD", Amount: dec("345")})
		require.NoError(t, err)
		assert.Equal(t, "10.0000", res.ConvertedAmount.StringFixed(4))
		assert.True(t, f.balance(a.Ref()).IsZero())
		assert.True(t, f.balance(c.Ref()).Equal(dec("10")))
	})

	t.Run("rejections", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "100")
		b := f.user(t, "b@example.com", "100")
		c := f.card(t, a.UserID, models.NetworkVisa, "50")
		other := f.card(t, b.UserID, models.NetworkVisa, "50")

		tests := []struct {
			name string
			req  ConvertRequest
			want error
		}{
			{"same currency", ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "EUR", To: "eur", Amount: dec("1")}, models.ErrSameCurrency},
			{"unknown currency", ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "USD", To: "XYZ", Amount: dec("1")}, models.ErrUnknownCurrency},
			{"card not owned", ConvertRequest{UserID: a.UserID, CardID: other.ID, From: "USD", To: "EUR", Amount: dec("1")}, models.ErrAccountNotFound},
			{"missing card", ConvertRequest{UserID: a.UserID, CardID: 999, From: "USD", To: "EUR", Amount: dec("1")}, models.ErrAccountNotFound},
			{"card overdraft", ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "USD", To: "EUR", Amount: dec("50.0001")}, models.ErrInsufficientFunds},
			{"rounds to nothing", ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "JPY", To: "USD", Amount: dec("0.0001")}, models.ErrInvalidAmount},
			{"zero amount", ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "USD", To: "EUR", Amount: decimal.Zero}, models.ErrInvalidAmount},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				before := f.store.Balances()
				_, err := f.ledger.ConvertCurrency(ctx, tt.req)
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, before, f.store.Balances())
			})
		}
	})

	t.Run("replay carries only the record", func(t *testing.T) {
		f := newLedgerFixture(t)
		a := f.user(t, "a@example.com", "0")
		c := f.card(t, a.UserID, models.NetworkVisa, "100")
		req := ConvertRequest{UserID: a.UserID, CardID: c.ID, From: "USD", To: "EUR", Amount: dec("10"), IdempotencyKey: "cv-1"}

		_, err := f.ledger.ConvertCurrency(ctx, req)
		require.NoError(t, err)
		res, err := f.ledger.ConvertCurrency(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.True(t, res.ConvertedAmount.IsZero())
		assert.Equal(t, res.Record.Description, res.Description)
		assert.True(t, f.balance(c.Ref()).Equal(dec("90")))
	})
}

func TestLedgerService_CardTransfer(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	a := f.user(t, "a@example.com", "0")
	b := f.user(t, "b@example.com", "0")
	visa := f.card(t, a.UserID, models.NetworkVisa, "100")
	master := f.card(t, a.UserID, models.NetworkMastercard, "0")
	foreign := f.card(t, b.UserID, models.NetworkTroy, "0")

	res, err := f.ledger.CardTransfer(ctx, CardTransferRequest{UserID: a.UserID, FromCardID: visa.ID, ToCardID: master.ID, Amount: dec("50")})
	require.NoError(t, err)
	assert.Equal(t, "Visa → Mastercard (50.00 USD)", res.Record.Description)
	assert.True(t, res.FromBalance.Equal(dec("50")))
	assert.True(t, res.ToBalance.Equal(dec("50")))
	assert.Equal(t, models.TxCardTransfer, res.Record.Kind)

	tests := []struct {
		name string
		req  CardTransferRequest
		want error
	}{
		{"same card", CardTransferRequest{UserID: a.UserID, FromCardID: visa.ID, ToCardID: visa.ID, Amount: dec("1")}, models.ErrSelfTransfer},
		{"same foreign card", CardTransferRequest{UserID: a.UserID, FromCardID: foreign.ID, ToCardID: foreign.ID, Amount: dec("1")}, models.ErrSelfTransfer},
		{"foreign destination", CardTransferRequest{UserID: a.UserID, FromCardID: visa.ID, ToCardID: foreign.ID, Amount: dec("1")}, models.ErrForbidden},
		{"missing card", CardTransferRequest{UserID: a.UserID, FromCardID: visa.ID, ToCardID: 999, Amount: dec("1")}, models.ErrAccountNotFound},
		{"overdraft", CardTransferRequest{UserID: a.UserID, FromCardID: visa.ID, ToCardID: master.ID, Amount: dec("51")}, models.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.store.Balances()
			_, err := f.ledger.CardTransfer(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, f.store.Balances())
		})
	}
}

func TestLedgerService_ListTransactions(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	a := f.user(t, "a@example.com", "100")
	b := f.user(t, "b@example.com", "0")

	_, err := f.ledger.Transfer(ctx, TransferRequest{FromUserID: a.UserID, To: "b@example.com", Amount: dec("30")})
	require.NoError(t, err)
	_, err = f.ledger.Deposit(ctx, DepositRequest{UserID: b.UserID, Amount: dec("5")})
	require.NoError(t, err)

	views, err := f.ledger.ListTransactions(ctx, b.UserID, 0)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, models.TxDeposit, views[0].Kind)
	assert.True(t, views[0].Incoming)
	assert.True(t, views[1].Incoming)

	views, err = f.ledger.ListTransactions(ctx, a.UserID, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.False(t, views[0].Incoming)

	_, err = f.ledger.ListTransactions(ctx, 999, 0)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestLedgerService_Rates(t *testing.T) {
	f := newLedgerFixture(t)
	views := f.ledger.Rates()
	assert.Len(t, views, len(rates.DefaultRates()))
	assert.Equal(t, "€", views["EUR"].Symbol)
}
