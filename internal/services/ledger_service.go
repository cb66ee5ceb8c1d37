package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/audit"
	"github.com/walletmvp/backend/internal/models"
	"github.com/walletmvp/backend/internal/rates"
	"github.com/walletmvp/backend/internal/repository"
	"go.uber.org/zap"
)

// AmountScale is the most decimal places an amount may carry.
const AmountScale = 4

// MaxAmount is the exclusive upper bound of any amount or converted amount.
// Balance columns are NUMERIC(20, 4).
var MaxAmount = decimal.New(1, 16)

type DepositRequest struct {
	UserID         int64
	Amount         decimal.Decimal
	FundingCardID  int64 // optional; must belong to the user when set
	Description    string
	IdempotencyKey string
}

type DepositResult struct {
	NewBalance decimal.Decimal
	Record     *models.TransactionRecord
	Replayed   bool
}

type TransferRequest struct {
	FromUserID     int64
	To             string // email or numeric user id
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

type TransferResult struct {
	NewBalance decimal.Decimal
	Record     *models.TransactionRecord
	Replayed   bool
}

type ConvertRequest struct {
	UserID         int64
	CardID         int64
	From           string
	To             string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// ConvertResult carries the computed conversion. On a replay only Record and
// Description are filled.
type ConvertResult struct {
	ConvertedAmount decimal.Decimal
	EffectiveRate   decimal.Decimal
	Description     string
	Record          *models.TransactionRecord
	Replayed        bool
}

type CardTransferRequest struct {
	UserID         int64
	FromCardID     int64
	ToCardID       int64
	Amount         decimal.Decimal
	IdempotencyKey string
}

type CardTransferResult struct {
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
	Record      *models.TransactionRecord
	Replayed    bool
}

// LedgerService moves money between wallets and cards. Every operation runs
// in one store transaction and appends exactly one record.
type LedgerService struct {
	store        repository.Store
	rates        *rates.Table
	audit        *audit.Logger
	logger       *zap.Logger
	baseCurrency string
	historyLimit int
}

func NewLedgerService(store repository.Store, table *rates.Table, auditLogger *audit.Logger, logger *zap.Logger, baseCurrency string, historyLimit int) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	if baseCurrency == "" {
		baseCurrency = "TRY"
	}
	return &LedgerService{
		store:        store,
		rates:        table,
		audit:        auditLogger,
		logger:       logger,
		baseCurrency: baseCurrency,
		historyLimit: historyLimit,
	}
}

// BaseCurrency is the currency label of every wallet balance.
func (s *LedgerService) BaseCurrency() string {
	return s.baseCurrency
}

func (s *LedgerService) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	const op = "ledger.Deposit"
	if err := validateAmount(op, req.Amount); err != nil {
		return nil, s.reject("deposit", req.UserID, err)
	}

	res := &DepositResult{}
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		wallet, err := tx.GetWalletByUser(ctx, req.UserID)
		if err != nil {
			return err
		}

		description := req.Description
		if req.FundingCardID != 0 {
			card, err := tx.GetCard(ctx, req.FundingCardID)
			if err != nil {
				return err
			}
			if card.UserID != req.UserID {
				return models.NotFound(op, fmt.Sprintf("card %d", req.FundingCardID))
			}
			if description == "" {
				description = fmt.Sprintf("Card top-up of %s %s from %s", req.Amount.StringFixed(2), s.baseCurrency, card.MaskedNumber())
			}
		}
		if description == "" {
			description = "Deposit"
		}

		ref := wallet.Ref()
		rec := &models.TransactionRecord{
			UserID:         req.UserID,
			Destination:    &ref,
			Amount:         req.Amount,
			Currency:       s.baseCurrency,
			Kind:           models.TxDeposit,
			Description:    description,
			IdempotencyKey: req.IdempotencyKey,
		}
		locked, err := tx.LockAccounts(ctx, ref)
		if err != nil {
			return err
		}
		if prior, err := s.replay(ctx, tx, rec); err != nil || prior != nil {
			if prior != nil {
				res.Record, res.Replayed = prior, true
				res.NewBalance = locked[ref].Balance
			}
			return err
		}

		if res.NewBalance, err = tx.AdjustBalance(ctx, ref, req.Amount); err != nil {
			return err
		}
		res.Record = rec
		return tx.InsertRecord(ctx, rec)
	})
	if err != nil {
		return nil, s.reject("deposit", req.UserID, err)
	}
	s.audit.LogCommitted(res.Record, res.Replayed)
	return res, nil
}

func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	const op = "ledger.Transfer"
	if err := validateAmount(op, req.Amount); err != nil {
		return nil, s.reject("transfer", req.FromUserID, err)
	}

	res := &TransferResult{}
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		from, err := tx.GetWalletByUser(ctx, req.FromUserID)
		if err != nil {
			return err
		}
		to, err := s.resolveWallet(ctx, tx, req.To)
		if err != nil {
			return err
		}
		if from.ID == to.ID {
			return models.NewError(models.KindSelfTransfer, op, "cannot transfer to your own wallet")
		}

		src, dst := from.Ref(), to.Ref()
		rec := &models.TransactionRecord{
			UserID:         req.FromUserID,
			Source:         &src,
			Destination:    &dst,
			Amount:         req.Amount,
			Currency:       s.baseCurrency,
			Kind:           models.TxTransfer,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
		}
		locked, err := tx.LockAccounts(ctx, src, dst)
		if err != nil {
			return err
		}
		if prior, err := s.replay(ctx, tx, rec); err != nil || prior != nil {
			if prior != nil {
				res.Record, res.Replayed = prior, true
				res.NewBalance = locked[src].Balance
			}
			return err
		}

		if res.NewBalance, err = tx.AdjustBalance(ctx, src, req.Amount.Neg()); err != nil {
			return err
		}
		if _, err = tx.AdjustBalance(ctx, dst, req.Amount); err != nil {
			return err
		}
		res.Record = rec
		return tx.InsertRecord(ctx, rec)
	})
	if err != nil {
		return nil, s.reject("transfer", req.FromUserID, err)
	}
	s.audit.LogCommitted(res.Record, res.Replayed)
	return res, nil
}

// ConvertCurrency moves value between a card (USD) and the wallet through the
// rate table. USD always lives on the card; every other currency is the
// wallet's single base balance.
func (s *LedgerService) ConvertCurrency(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	const op = "ledger.ConvertCurrency"
	if err := validateAmount(op, req.Amount); err != nil {
		return nil, s.reject("conversion", req.UserID, err)
	}
	from, to := strings.ToUpper(strings.TrimSpace(req.From)), strings.ToUpper(strings.TrimSpace(req.To))
	if from == to {
		return nil, s.reject("conversion", req.UserID,
			models.NewError(models.KindSameCurrency, op, "source and target currency are the same"))
	}

	// Both rates come from one snapshot.
	conv, err := s.rates.Snapshot().Convert(req.Amount, from, to)
	if err != nil {
		return nil, s.reject("conversion", req.UserID, err)
	}
	if !conv.Converted.IsPositive() {
		return nil, s.reject("conversion", req.UserID,
			models.NewError(models.KindInvalidAmount, op, "amount too small to convert"))
	}
	if !conv.Converted.LessThan(MaxAmount) {
		return nil, s.reject("conversion", req.UserID,
			models.NewError(models.KindInvalidAmount, op, "converted amount is too large"))
	}

	res := &ConvertResult{
		ConvertedAmount: conv.Converted,
		EffectiveRate:   conv.EffectiveRate,
		Description:     conv.Description(),
	}
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		card, err := tx.GetCard(ctx, req.CardID)
		if err != nil {
			return err
		}
		if card.UserID != req.UserID {
			return models.NotFound(op, fmt.Sprintf("card %d", req.CardID))
		}
		wallet, err := tx.GetWalletByUser(ctx, req.UserID)
		if err != nil {
			return err
		}

		src := fundingAccount(from, card, wallet)
		dst := fundingAccount(to, card, wallet)
		rec := &models.TransactionRecord{
			UserID:         req.UserID,
			Source:         &src,
			Destination:    &dst,
			Amount:         req.Amount,
			Currency:       from,
			Kind:           models.TxConversion,
			Description:    res.Description,
			IdempotencyKey: req.IdempotencyKey,
		}
		if _, err := tx.LockAccounts(ctx, src, dst); err != nil {
			return err
		}
		if prior, err := s.replay(ctx, tx, rec); err != nil || prior != nil {
			if prior != nil {
				*res = ConvertResult{Record: prior, Description: prior.Description, Replayed: true}
			}
			return err
		}

		if _, err := tx.AdjustBalance(ctx, src, req.Amount.Neg()); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, dst, conv.Converted); err != nil {
			return err
		}
		res.Record = rec
		return tx.InsertRecord(ctx, rec)
	})
	if err != nil {
		return nil, s.reject("conversion", req.UserID, err)
	}
	s.audit.LogCommitted(res.Record, res.Replayed)
	return res, nil
}

func (s *LedgerService) CardTransfer(ctx context.Context, req CardTransferRequest) (*CardTransferResult, error) {
	const op = "ledger.CardTransfer"
	if err := validateAmount(op, req.Amount); err != nil {
		return nil, s.reject("card_transfer", req.UserID, err)
	}
	if req.FromCardID == req.ToCardID {
		return nil, s.reject("card_transfer", req.UserID,
			models.NewError(models.KindSelfTransfer, op, "cannot transfer to the same card"))
	}

	res := &CardTransferResult{}
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		fromCard, err := tx.GetCard(ctx, req.FromCardID)
		if err != nil {
			return err
		}
		toCard, err := tx.GetCard(ctx, req.ToCardID)
		if err != nil {
			return err
		}
		if fromCard.UserID != req.UserID || toCard.UserID != req.UserID {
			return models.NewError(models.KindForbidden, op, "both cards must belong to the caller")
		}

		src, dst := fromCard.Ref(), toCard.Ref()
		rec := &models.TransactionRecord{
			UserID:         req.UserID,
			Source:         &src,
			Destination:    &dst,
			Amount:         req.Amount,
			Currency:       models.USD,
			Kind:           models.TxCardTransfer,
			Description:    fmt.Sprintf("%s → %s (%s USD)", fromCard.Network, toCard.Network, req.Amount.StringFixed(2)),
			IdempotencyKey: req.IdempotencyKey,
		}
		locked, err := tx.LockAccounts(ctx, src, dst)
		if err != nil {
			return err
		}
		if prior, err := s.replay(ctx, tx, rec); err != nil || prior != nil {
			if prior != nil {
				res.Record, res.Replayed = prior, true
				res.FromBalance, res.ToBalance = locked[src].Balance, locked[dst].Balance
			}
			return err
		}

		if res.FromBalance, err = tx.AdjustBalance(ctx, src, req.Amount.Neg()); err != nil {
			return err
		}
		if res.ToBalance, err = tx.AdjustBalance(ctx, dst, req.Amount); err != nil {
			return err
		}
		res.Record = rec
		return tx.InsertRecord(ctx, rec)
	})
	if err != nil {
		return nil, s.reject("card_transfer", req.UserID, err)
	}
	s.audit.LogCommitted(res.Record, res.Replayed)
	return res, nil
}

// ListTransactions returns the most recent records visible to userID.
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.TransactionView, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

// Rates renders the current rate snapshot.
func (s *LedgerService) Rates() map[string]models.RateView {
	return s.rates.Snapshot().Views()
}

func (s *LedgerService) resolveWallet(ctx context.Context, tx repository.Tx, to string) (*models.Wallet, error) {
	to = strings.TrimSpace(to)
	if id, err := strconv.ParseInt(to, 10, 64); err == nil {
		return tx.GetWalletByUser(ctx, id)
	}
	return tx.GetWalletByEmail(ctx, to)
}

// replay looks up a committed record for want's idempotency key. It runs after
// the accounts are locked so concurrent retries of one request serialize. A key
// already spent on a different operation is rejected rather than replayed.
func (s *LedgerService) replay(ctx context.Context, tx repository.Tx, want *models.TransactionRecord) (*models.TransactionRecord, error) {
	if want.IdempotencyKey == "" {
		return nil, nil
	}
	prior, err := tx.FindRecordByIdempotencyKey(ctx, want.UserID, want.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, err
	}
	if !sameOperation(prior, want) {
		return nil, models.NewError(models.KindInvalidRequest, "ledger.replay",
			"idempotency key reused for a different operation")
	}
	return prior, nil
}

// sameOperation reports whether a and b move the same amount of the same
// currency between the same accounts.
func sameOperation(a, b *models.TransactionRecord) bool {
	return a.Kind == b.Kind &&
		a.Amount.Equal(b.Amount) &&
		a.Currency == b.Currency &&
		sameRef(a.Source, b.Source) &&
		sameRef(a.Destination, b.Destination)
}

func sameRef(a, b *models.AccountRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *LedgerService) reject(op string, userID int64, err error) error {
	s.audit.LogRejected(op, userID, err)
	if models.KindOf(err) == models.KindStorageUnavailable {
		s.logger.Error("[LEDGER] storage failure", zap.String("op", op), zap.Int64("user_id", userID), zap.Error(err))
	}
	return err
}

// fundingAccount picks the balance that holds currency: the card for USD,
// the wallet for anything else.
func fundingAccount(currency string, card *models.Card, wallet *models.Wallet) models.AccountRef {
	if currency == models.USD {
		return card.Ref()
	}
	return wallet.Ref()
}

func validateAmount(op string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.NewError(models.KindInvalidAmount, op, "amount must be greater than zero")
	}
	if !amount.LessThan(MaxAmount) {
		return models.NewError(models.KindInvalidAmount, op, "amount is too large")
	}
	if !amount.Round(AmountScale).Equal(amount) {
		return models.NewError(models.KindInvalidAmount, op,
			fmt.Sprintf("amount may have at most %d decimal places", AmountScale))
	}
	return nil
}
