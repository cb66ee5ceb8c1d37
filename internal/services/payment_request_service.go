package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/walletmvp/backend/internal/models"
	"go.uber.org/zap"
)

// PaymentRequest is a one-shot invitation to pay a user a fixed amount.
type PaymentRequest struct {
	Code        string          `json:"code"`
	PayeeUserID int64           `json:"payee_user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Nonce       string          `json:"nonce"`
	CreatedAt   time.Time       `json:"created_at"`
}

func paymentRequestKey(code string) string {
	return fmt.Sprintf("payreq:%s", code)
}

// Transferrer is the single engine operation a payment request settles through.
type Transferrer interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// PaymentRequestService issues QR payment requests held in redis and settles
// them as wallet transfers.
type PaymentRequestService struct {
	redis  *redis.Client
	ledger Transferrer
	ttl    time.Duration
	logger *zap.Logger
	newID  func() string
	now    func() time.Time
}

func NewPaymentRequestService(client *redis.Client, ledger Transferrer, ttl time.Duration, logger *zap.Logger) *PaymentRequestService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentRequestService{
		redis:  client,
		ledger: ledger,
		ttl:    ttl,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Create stores a request for payeeUserID and returns it with a base64 PNG QR
// code encoding the request code.
func (s *PaymentRequestService) Create(ctx context.Context, payeeUserID int64, amount decimal.Decimal) (*PaymentRequest, string, error) {
	const op = "payreq.Create"
	if s.redis == nil {
		return nil, "", models.Storage(op, fmt.Errorf("redis not configured"))
	}
	if err := validateAmount(op, amount); err != nil {
		return nil, "", err
	}

	req := &PaymentRequest{
		Code:        s.newID(),
		PayeeUserID: payeeUserID,
		Amount:      amount,
		Nonce:       s.newID(),
		CreatedAt:   s.now().UTC(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}
	if err := s.redis.Set(ctx, paymentRequestKey(req.Code), payload, s.ttl).Err(); err != nil {
		return nil, "", models.Storage(op, err)
	}

	image, err := renderQR(req.Code)
	if err != nil {
		return nil, "", err
	}
	return req, image, nil
}

// Pay claims the request and transfers its amount from payerUserID to the
// payee. A request can be claimed once; if the transfer fails it is put back
// so the payer may retry.
func (s *PaymentRequestService) Pay(ctx context.Context, payerUserID int64, code string) (*TransferResult, error) {
	const op = "payreq.Pay"
	if s.redis == nil {
		return nil, models.Storage(op, fmt.Errorf("redis not configured"))
	}
	key := paymentRequestKey(code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, models.NewError(models.KindInvalidRequest, op, "invalid or expired payment request")
	}
	if err != nil {
		return nil, models.Storage(op, err)
	}
	var req PaymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, models.NewError(models.KindInvalidRequest, op, "malformed payment request")
	}

	// -1 means the key has no expiry, -2 that it is gone.
	remaining, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return nil, models.Storage(op, err)
	}

	claimed, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return nil, models.Storage(op, err)
	}
	if claimed == 0 {
		return nil, models.NewError(models.KindInvalidRequest, op, "payment request already used")
	}

	res, err := s.ledger.Transfer(ctx, TransferRequest{
		FromUserID:     payerUserID,
		To:             strconv.FormatInt(req.PayeeUserID, 10),
		Amount:         req.Amount,
		Description:    "Payment request " + shortCode(req.Code),
		IdempotencyKey: "payreq-" + req.Code,
	})
	if err != nil {
		s.restore(ctx, key, data, remaining, req.Code)
		return nil, err
	}
	s.logger.Info("[PAYREQ] request paid", zap.String("code", req.Code), zap.Int64("payer", payerUserID))
	return res, nil
}

// restore puts a claimed request back with the expiry it had when claimed.
func (s *PaymentRequestService) restore(ctx context.Context, key string, data []byte, remaining time.Duration, code string) {
	switch {
	case remaining == -1:
		remaining = 0
	case remaining <= 0:
		s.logger.Info("[PAYREQ] request expired while claimed", zap.String("code", code))
		return
	}
	if err := s.redis.SetNX(context.WithoutCancel(ctx), key, data, remaining).Err(); err != nil {
		s.logger.Warn("[PAYREQ] failed to restore request", zap.String("code", code), zap.Error(err))
	}
}

func shortCode(code string) string {
	if len(code) > 8 {
		return code[:8]
	}
	return code
}

func renderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
