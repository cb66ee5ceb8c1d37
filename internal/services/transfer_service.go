package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the caller-facing form of an operation failure.
type Outcome struct {
	Code       models.ErrorKind `json:"code"`
	Message    string           `json:"error"`
	HTTPStatus int              `json:"-"`
	Retryable  bool             `json:"retryable"`
	cause      error
}

func (o *Outcome) Error() string {
	return string(o.Code) + ": " + o.Message
}

func (o *Outcome) Unwrap() error {
	return o.cause
}

var outcomeStatus = map[models.ErrorKind]int{
	models.KindInvalidAmount:      http.StatusBadRequest,
	models.KindAccountNotFound:    http.StatusNotFound,
	models.KindInsufficientFunds:  http.StatusBadRequest,
	models.KindSelfTransfer:       http.StatusBadRequest,
	models.KindSameCurrency:       http.StatusBadRequest,
	models.KindUnknownCurrency:    http.StatusBadRequest,
	models.KindForbidden:          http.StatusForbidden,
	models.KindStorageUnavailable: http.StatusServiceUnavailable,
	models.KindInvalidRates:       http.StatusInternalServerError,
	models.KindDuplicateEmail:     http.StatusConflict,
	models.KindInvalidCredentials: http.StatusUnauthorized,
	models.KindInvalidCard:        http.StatusBadRequest,
	models.KindMissingField:       http.StatusBadRequest,
	models.KindInvalidRequest:     http.StatusBadRequest,
}

// DescribeError maps any error to an Outcome. Storage faults and untyped
// errors never expose their cause.
func DescribeError(err error) *Outcome {
	var out *Outcome
	if errors.As(err, &out) {
		return out
	}

	var le *models.LedgerError
	if !errors.As(err, &le) {
		return &Outcome{Code: "INTERNAL", Message: "an internal error occurred", HTTPStatus: http.StatusInternalServerError, cause: err}
	}
	status, ok := outcomeStatus[le.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := le.Message
	switch {
	case le.Kind == models.KindStorageUnavailable:
		msg = "service temporarily unavailable, please retry"
	case le.Kind == models.KindInvalidRates:
		msg = "exchange rates are not available"
	case msg == "":
		msg = strings.ToLower(strings.ReplaceAll(string(le.Kind), "_", " "))
	}
	return &Outcome{
		Code:       le.Kind,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  le.Kind == models.KindStorageUnavailable,
		cause:      err,
	}
}

// Ledger is the engine surface the orchestrator composes.
type Ledger interface {
	Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	ConvertCurrency(ctx context.Context, req ConvertRequest) (*ConvertResult, error)
	CardTransfer(ctx context.Context, req CardTransferRequest) (*CardTransferResult, error)
	ListTransactions(ctx context.Context, userID int64, limit int) ([]models.TransactionView, error)
	Rates() map[string]models.RateView
}

// Accounts is the account-side read surface used by the dashboard.
type Accounts interface {
	GetUser(ctx context.Context, userID int64) (*models.UserSummary, error)
	ListCards(ctx context.Context, userID int64) ([]models.CardView, error)
}

// Dashboard is everything the wallet home screen needs in one call.
type Dashboard struct {
	User         models.UserSummary       `json:"user"`
	Cards        []models.CardView        `json:"cards"`
	Transactions []models.TransactionView `json:"transactions"`
}

// TransferService checks that required fields are present, calls the ledger
// and converts every failure into an Outcome. It holds no state of its own.
type TransferService struct {
	ledger   Ledger
	accounts Accounts
	logger   *zap.Logger
}

func NewTransferService(ledger Ledger, accounts Accounts, logger *zap.Logger) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferService{ledger: ledger, accounts: accounts, logger: logger}
}

func missing(fields ...string) *Outcome {
	return DescribeError(models.NewError(models.KindMissingField, "orchestrator",
		"missing required field(s): "+strings.Join(fields, ", ")))
}

func (s *TransferService) fail(op string, err error) *Outcome {
	out := DescribeError(err)
	if out.HTTPStatus >= http.StatusInternalServerError {
		s.logger.Error("[TRANSFER] operation failed", zap.String("op", op), zap.Error(err))
	} else {
		s.logger.Info("[TRANSFER] operation rejected", zap.String("op", op), zap.String("code", string(out.Code)))
	}
	return out
}

func (s *TransferService) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if req.UserID == 0 {
		return nil, missing("user_id")
	}
	res, err := s.ledger.Deposit(ctx, req)
	if err != nil {
		return nil, s.fail("deposit", err)
	}
	return res, nil
}

func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var absent []string
	if req.FromUserID == 0 {
		absent = append(absent, "from_user_id")
	}
	if strings.TrimSpace(req.To) == "" {
		absent = append(absent, "to_email")
	}
	if len(absent) > 0 {
		return nil, missing(absent...)
	}
	res, err := s.ledger.Transfer(ctx, req)
	if err != nil {
		return nil, s.fail("transfer", err)
	}
	return res, nil
}

func (s *TransferService) ConvertCurrency(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	var absent []string
	if req.UserID == 0 {
		absent = append(absent, "user_id")
	}
	if req.CardID == 0 {
		absent = append(absent, "card_id")
	}
	if strings.TrimSpace(req.From) == "" {
		absent = append(absent, "from_currency")
	}
	if strings.TrimSpace(req.To) == "" {
		absent = append(absent, "to_currency")
	}
	if len(absent) > 0 {
		return nil, missing(absent...)
	}
	res, err := s.ledger.ConvertCurrency(ctx, req)
	if err != nil {
		return nil, s.fail("conversion", err)
	}
	return res, nil
}

func (s *TransferService) CardTransfer(ctx context.Context, req CardTransferRequest) (*CardTransferResult, error) {
	var absent []string
	if req.UserID == 0 {
		absent = append(absent, "user_id")
	}
	if req.FromCardID == 0 {
		absent = append(absent, "from_card_id")
	}
	if req.ToCardID == 0 {
		absent = append(absent, "to_card_id")
	}
	if len(absent) > 0 {
		return nil, missing(absent...)
	}
	res, err := s.ledger.CardTransfer(ctx, req)
	if err != nil {
		return nil, s.fail("card_transfer", err)
	}
	return res, nil
}

func (s *TransferService) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.TransactionView, error) {
	if userID == 0 {
		return nil, missing("user_id")
	}
	views, err := s.ledger.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, s.fail("list_transactions", err)
	}
	return views, nil
}

func (s *TransferService) Rates() map[string]models.RateView {
	return s.ledger.Rates()
}

// Dashboard loads the user summary, cards and recent history concurrently.
func (s *TransferService) Dashboard(ctx context.Context, userID int64) (*Dashboard, error) {
	if userID == 0 {
		return nil, missing("user_id")
	}

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.accounts.GetUser(gctx, userID)
		if err != nil {
			return err
		}
		d.User = *u
		return nil
	})
	g.Go(func() error {
		cards, err := s.accounts.ListCards(gctx, userID)
		d.Cards = cards
		return err
	})
	g.Go(func() error {
		views, err := s.ledger.ListTransactions(gctx, userID, 10)
		d.Transactions = views
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, s.fail("dashboard", err)
	}
	return &d, nil
}

// ParseAmount reads a decimal amount supplied by a caller.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, models.NewError(models.KindMissingField, "orchestrator", "missing required field(s): amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, models.NewError(models.KindInvalidAmount, "orchestrator", "amount is not a valid number")
	}
	return d, nil
}
