package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletmvp/backend/internal/models"
)

type transferFunc func(ctx context.Context, req TransferRequest) (*TransferResult, error)

func (f transferFunc) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return f(ctx, req)
}

func fixedIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func storedRequest(t *testing.T, code string, payee int64, amount string) []byte {
	t.Helper()
	payload, err := json.Marshal(PaymentRequest{
		Code:        code,
		PayeeUserID: payee,
		Amount:      dec(amount),
		Nonce:       "nonce",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return payload
}

func TestPaymentRequestService_Create(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	service := NewPaymentRequestService(db, nil, time.Minute, nil)
	service.newID = fixedIDs("code-1234-abcd", "nonce")
	service.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	payload := storedRequest(t, "code-1234-abcd", 7, "12.5")
	mock.ExpectSet("payreq:code-1234-abcd", payload, time.Minute).SetVal("OK")

	req, image, err := service.Create(ctx, 7, dec("12.5"))
	require.NoError(t, err)
	assert.Equal(t, "code-1234-abcd", req.Code)
	assert.Equal(t, int64(7), req.PayeeUserID)

	png, err := base64.StdEncoding.DecodeString(image)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))
	assert.NoError(t, mock.ExpectationsWereMet())

	t.Run("invalid amount", func(t *testing.T) {
		_, _, err := service.Create(ctx, 7, dec("0"))
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})

	t.Run("redis down", func(t *testing.T) {
		service.newID = fixedIDs("code-2", "nonce")
		mock.ExpectSet("payreq:code-2", storedRequest(t, "code-2", 7, "1"), time.Minute).SetErr(errors.New("connection refused"))
		_, _, err := service.Create(ctx, 7, dec("1"))
		assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	})

	t.Run("no redis", func(t *testing.T) {
		_, _, err := NewPaymentRequestService(nil, nil, 0, nil).Create(ctx, 7, dec("1"))
		assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	})
}

func TestPaymentRequestService_Pay(t *testing.T) {
	ctx := context.Background()
	const key = "payreq:code-1234-abcd"
	payload := storedRequest(t, "code-1234-abcd", 7, "12.5")

	t.Run("claims and transfers", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		var got TransferRequest
		ledger := transferFunc(func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
			got = req
			return &TransferResult{NewBalance: dec("87.5")}, nil
		})
		service := NewPaymentRequestService(db, ledger, time.Minute, nil)

		mock.ExpectGet(key).SetVal(string(payload))
		mock.ExpectPTTL(key).SetVal(40 * time.Second)
		mock.ExpectDel(key).SetVal(1)

		res, err := service.Pay(ctx, 3, "code-1234-abcd")
		require.NoError(t, err)
		assert.True(t, res.NewBalance.Equal(dec("87.5")))
		assert.Equal(t, int64(3), got.FromUserID)
		assert.Equal(t, "7", got.To)
		assert.True(t, got.Amount.Equal(dec("12.5")))
		assert.Equal(t, "Payment request code-123", got.Description)
		assert.Equal(t, "payreq-code-1234-abcd", got.IdempotencyKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		service := NewPaymentRequestService(db, nil, time.Minute, nil)
		mock.ExpectGet(key).RedisNil()

		_, err := service.Pay(ctx, 3, "code-1234-abcd")
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
	})

	t.Run("claimed by someone else", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		service := NewPaymentRequestService(db, nil, time.Minute, nil)
		mock.ExpectGet(key).SetVal(string(payload))
		mock.ExpectPTTL(key).SetVal(40 * time.Second)
		mock.ExpectDel(key).SetVal(0)

		_, err := service.Pay(ctx, 3, "code-1234-abcd")
		assert.ErrorIs(t, err, models.ErrInvalidRequest)
	})

	insufficient := transferFunc(func(ctx context.Context, req TransferRequest) (*TransferResult, error) {
		return nil, models.NewError(models.KindInsufficientFunds, "test", "insufficient funds")
	})

	t.Run("failed transfer restores the request with its remaining expiry", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		service := NewPaymentRequestService(db, insufficient, time.Minute, nil)
		mock.ExpectGet(key).SetVal(string(payload))
		mock.ExpectPTTL(key).SetVal(12 * time.Second)
		mock.ExpectDel(key).SetVal(1)
		mock.ExpectSetNX(key, payload, 12*time.Second).SetVal(true)

		_, err := service.Pay(ctx, 3, "code-1234-abcd")
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("request without expiry is restored without one", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		service := NewPaymentRequestService(db, insufficient, time.Minute, nil)
		mock.ExpectGet(key).SetVal(string(payload))
		mock.ExpectPTTL(key).SetVal(time.Duration(-1))
		mock.ExpectDel(key).SetVal(1)
		mock.ExpectSetNX(key, payload, 0).SetVal(true)

		_, err := service.Pay(ctx, 3, "code-1234-abcd")
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ttl lookup fails", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		service := NewPaymentRequestService(db, nil, time.Minute, nil)
		mock.ExpectGet(key).SetVal(string(payload))
		mock.ExpectPTTL(key).SetErr(errors.New("connection reset"))

		_, err := service.Pay(ctx, 3, "code-1234-abcd")
		assert.ErrorIs(t, err, models.ErrStorageUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRequestService_PayEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newLedgerFixture(t)
	payee := f.user(t, "payee@example.com", "0")
	payer := f.user(t, "payer@example.com", "20")

	db, mock := redismock.NewClientMock()
	service := NewPaymentRequestService(db, f.ledger, time.Minute, nil)
	payload := storedRequest(t, "code-e2e-0001", payee.UserID, "12.5")
	mock.ExpectGet("payreq:code-e2e-0001").SetVal(string(payload))
	mock.ExpectPTTL("payreq:code-e2e-0001").SetVal(time.Minute)
	mock.ExpectDel("payreq:code-e2e-0001").SetVal(1)

	_, err := service.Pay(ctx, payer.UserID, "code-e2e-0001")
	require.NoError(t, err)
	assert.True(t, f.balance(payee.Ref()).Equal(dec("12.5")))
	assert.True(t, f.balance(payer.Ref()).Equal(dec("7.5")))
}
