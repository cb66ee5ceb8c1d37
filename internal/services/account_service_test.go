package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletmvp/backend/internal/hsm"
	"github.com/walletmvp/backend/internal/models"
	"github.com/walletmvp/backend/internal/repository"
)

var testHasher = PasswordHasher{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func newAccountService(t *testing.T, store repository.Store) (*AccountService, *hsm.CardVault) {
	t.Helper()
	vault, err := hsm.NewCardVault(hsm.Config{Secret: "test-secret", Salt: []byte("test-salt")})
	require.NoError(t, err)
	return NewAccountService(store, vault, nil, nil, AccountServiceConfig{
		Hasher:       testHasher,
		Tokens:       TokenIssuer{Secret: []byte("jwt-secret"), Expiry: time.Hour},
		WelcomeBonus: decimal.NewFromInt(100),
		CardSeed:     decimal.NewFromInt(200000),
		BaseCurrency: "TRY",
	}), vault
}

func TestPasswordHasher(t *testing.T) {
	hash, err := testHasher.Hash("secret123")
	require.NoError(t, err)

	assert.True(t, testHasher.Verify("secret123", hash))
	assert.False(t, testHasher.Verify("wrongpassword", hash))
	assert.False(t, testHasher.Verify("secret123", "not-a-hash"))
	assert.False(t, testHasher.Verify("secret123", "!!$!!"))

	again, err := testHasher.Hash("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again)
}

func TestTokenIssuer(t *testing.T) {
	issuer := TokenIssuer{Secret: []byte("jwt-secret"), Expiry: time.Hour}
	signed, err := issuer.Issue(42)
	require.NoError(t, err)

	token, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		return []byte("jwt-secret"), nil
	})
	require.NoError(t, err)
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, float64(42), claims["user_id"])
}

func TestAccountService_OpenAccount(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	service, _ := newAccountService(t, store)

	res, err := service.OpenAccount(ctx, OpenAccountRequest{Email: " New@Example.com ", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "new@example.com", res.User.Email)
	assert.Equal(t, "100.0000", res.User.Balance)
	assert.Equal(t, "Registration successful, 100.00 TRY welcome bonus credited", res.Message)

	views, err := store.ListTransactions(ctx, res.User.UserID, 0)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.TxDeposit, views[0].Kind)
	assert.Equal(t, "Welcome bonus", views[0].Description)
	assert.True(t, views[0].Incoming)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := service.OpenAccount(ctx, OpenAccountRequest{Email: "NEW@example.com", Password: "other"})
		assert.ErrorIs(t, err, models.ErrDuplicateEmail)
		assert.Equal(t, 1, store.RecordCount())
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := service.OpenAccount(ctx, OpenAccountRequest{Email: "x@example.com"})
		assert.ErrorIs(t, err, models.ErrMissingField)
	})
}

func TestAccountService_Authenticate(t *testing.T) {
	ctx := context.Background()
	service, _ := newAccountService(t, repository.NewMemoryStore())
	opened, err := service.OpenAccount(ctx, OpenAccountRequest{Email: "a@example.com", Password: "secret123"})
	require.NoError(t, err)

	res, err := service.Authenticate(ctx, "A@example.com", "secret123")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, opened.User, res.User)

	_, err = service.Authenticate(ctx, "a@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = service.Authenticate(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = service.Authenticate(ctx, "", "secret123")
	assert.ErrorIs(t, err, models.ErrMissingField)
}

func TestAccountService_RegisterCard(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	service, vault := newAccountService(t, store)
	opened, err := service.OpenAccount(ctx, OpenAccountRequest{Email: "a@example.com", Password: "secret123"})
	require.NoError(t, err)
	userID := opened.User.UserID

	view, err := service.RegisterCard(ctx, RegisterCardRequest{
		UserID:     userID,
		Number:     "4242 4242 4242 1234",
		HolderName: "Ada Lovelace",
		Network:    models.NetworkVisa,
		Expiry:     "12/28",
		CVV:        "123",
	})
	require.NoError(t, err)
	assert.Equal(t, "**** **** **** 1234", view.CardNumber)
	assert.Equal(t, "200000.0000", view.BalanceUSD)

	card, err := store.GetCard(ctx, view.ID)
	require.NoError(t, err)
	assert.NotContains(t, card.EncryptedNumber, "4242")
	number, err := vault.Open(card.EncryptedNumber)
	require.NoError(t, err)
	assert.Equal(t, "4242424242421234", number)

	cards, err := service.ListCards(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, *view, cards[0])

	tests := []struct {
		name string
		req  RegisterCardRequest
		want error
	}{
		{"missing cvv", RegisterCardRequest{UserID: userID, Number: "4242424242421234", HolderName: "A", Network: models.NetworkVisa, Expiry: "12/28"}, models.ErrMissingField},
		{"short number", RegisterCardRequest{UserID: userID, Number: "4242", HolderName: "A", Network: models.NetworkVisa, Expiry: "12/28", CVV: "1"}, models.ErrInvalidCard},
		{"letters", RegisterCardRequest{UserID: userID, Number: "42424242424212ab", HolderName: "A", Network: models.NetworkVisa, Expiry: "12/28", CVV: "1"}, models.ErrInvalidCard},
		{"unknown network", RegisterCardRequest{UserID: userID, Number: "4242424242421234", HolderName: "A", Network: "Amex", Expiry: "12/28", CVV: "1"}, models.ErrInvalidCard},
		{"unknown user", RegisterCardRequest{UserID: 999, Number: "4242424242421234", HolderName: "A", Network: models.NetworkTroy, Expiry: "12/28", CVV: "1"}, models.ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.RegisterCard(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAccountService_GetUser(t *testing.T) {
	service, _ := newAccountService(t, repository.NewMemoryStore())
	_, err := service.GetUser(context.Background(), 999)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}
