package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/walletmvp/backend/internal/audit"
	"github.com/walletmvp/backend/internal/hsm"
	"github.com/walletmvp/backend/internal/models"
	"github.com/walletmvp/backend/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher holds the argon2id parameters used for login passwords.
type PasswordHasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

func DefaultPasswordHasher() PasswordHasher {
	return PasswordHasher{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}
}

// Hash returns base64(salt)$base64(key).
func (p PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func (p PasswordHasher) Verify(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computed) == 1
}

// TokenIssuer signs HS256 tokens carrying the user id.
type TokenIssuer struct {
	Secret []byte
	Expiry time.Duration
}

func (t TokenIssuer) Issue(userID int64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(t.Expiry).Unix(),
	})
	return token.SignedString(t.Secret)
}

type OpenAccountRequest struct {
	Email    string
	Password string
}

type AuthResult struct {
	Token   string             `json:"token"`
	User    models.UserSummary `json:"user"`
	Message string             `json:"message,omitempty"`
}

type RegisterCardRequest struct {
	UserID     int64
	Number     string
	HolderName string
	Network    models.CardNetwork
	Expiry     string
	CVV        string
}

// AccountService opens accounts, authenticates users and registers cards.
type AccountService struct {
	store        repository.Store
	vault        hsm.Sealer
	hasher       PasswordHasher
	tokens       TokenIssuer
	audit        *audit.Logger
	logger       *zap.Logger
	welcomeBonus decimal.Decimal
	cardSeed     decimal.Decimal
	baseCurrency string
}

type AccountServiceConfig struct {
	Hasher       PasswordHasher
	Tokens       TokenIssuer
	WelcomeBonus decimal.Decimal
	CardSeed     decimal.Decimal
	BaseCurrency string
}

func NewAccountService(store repository.Store, vault hsm.Sealer, auditLogger *audit.Logger, logger *zap.Logger, cfg AccountServiceConfig) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	if cfg.Hasher.KeyLen == 0 {
		cfg.Hasher = DefaultPasswordHasher()
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "TRY"
	}
	return &AccountService{
		store:        store,
		vault:        vault,
		hasher:       cfg.Hasher,
		tokens:       cfg.Tokens,
		audit:        auditLogger,
		logger:       logger,
		welcomeBonus: cfg.WelcomeBonus,
		cardSeed:     cfg.CardSeed,
		baseCurrency: cfg.BaseCurrency,
	}
}

// OpenAccount creates the user and a wallet holding the welcome bonus, and
// records the bonus as a deposit, all in one transaction.
func (s *AccountService) OpenAccount(ctx context.Context, req OpenAccountRequest) (*AuthResult, error) {
	const op = "account.Open"
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, models.NewError(models.KindMissingField, op, "email and password are required")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: hash password: %w", op, err)
	}

	var user *models.User
	var wallet *models.Wallet
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if user, err = tx.CreateUser(ctx, email, hash); err != nil {
			return err
		}
		if wallet, err = tx.CreateWallet(ctx, user.ID, s.welcomeBonus); err != nil {
			return err
		}
		if !s.welcomeBonus.IsPositive() {
			return nil
		}
		ref := wallet.Ref()
		return tx.InsertRecord(ctx, &models.TransactionRecord{
			UserID:      user.ID,
			Destination: &ref,
			Amount:      s.welcomeBonus,
			Currency:    s.baseCurrency,
			Kind:        models.TxDeposit,
			Description: "Welcome bonus",
		})
	})
	if err != nil {
		s.logger.Info("[ACCOUNT] open failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}

	s.audit.LogOperation("ACCOUNT_OPENED", user.ID, email)
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: issue token: %w", op, err)
	}
	message := fmt.Sprintf("Registration successful, %s %s welcome bonus credited",
		s.welcomeBonus.StringFixed(2), s.baseCurrency)
	return &AuthResult{
		Token:   token,
		User:    models.UserSummary{UserID: user.ID, Email: user.Email, Balance: wallet.Balance.StringFixed(4)},
		Message: message,
	}, nil
}

// Authenticate checks the password and issues a token.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	const op = "account.Authenticate"
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, models.NewError(models.KindMissingField, op, "email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if models.KindOf(err) == models.KindAccountNotFound {
			return nil, models.NewError(models.KindInvalidCredentials, op, "invalid email or password")
		}
		return nil, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, models.NewError(models.KindInvalidCredentials, op, "invalid email or password")
	}

	summary, err := s.GetUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: issue token: %w", op, err)
	}
	return &AuthResult{Token: token, User: *summary}, nil
}

// GetUser returns the id, email and wallet balance of a user.
func (s *AccountService) GetUser(ctx context.Context, userID int64) (*models.UserSummary, error) {
	wallet, err := s.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.UserSummary{UserID: wallet.UserID, Email: wallet.Email, Balance: wallet.Balance.StringFixed(4)}, nil
}

// RegisterCard validates and stores a card seeded with the sandbox USD balance.
// The number and CVV are sealed before they reach the store.
func (s *AccountService) RegisterCard(ctx context.Context, req RegisterCardRequest) (*models.CardView, error) {
	const op = "account.RegisterCard"
	number := strings.ReplaceAll(req.Number, " ", "")
	if number == "" || strings.TrimSpace(req.HolderName) == "" || req.Expiry == "" || req.CVV == "" || req.Network == "" {
		return nil, models.NewError(models.KindMissingField, op, "card number, holder name, network, expiry and cvv are required")
	}
	if len(number) != 16 || !allDigits(number) {
		return nil, models.NewError(models.KindInvalidCard, op, "card number must be 16 digits")
	}
	if !req.Network.Valid() {
		return nil, models.NewError(models.KindInvalidCard, op, fmt.Sprintf("unsupported card network %q", req.Network))
	}

	sealedNumber, err := s.vault.Seal(number)
	if err != nil {
		return nil, fmt.Errorf("%s: seal number: %w", op, err)
	}
	sealedCVV, err := s.vault.Seal(req.CVV)
	if err != nil {
		return nil, fmt.Errorf("%s: seal cvv: %w", op, err)
	}

	card := &models.Card{
		UserID:          req.UserID,
		LastFour:        number[len(number)-4:],
		EncryptedNumber: sealedNumber,
		EncryptedCVV:    sealedCVV,
		HolderName:      strings.TrimSpace(req.HolderName),
		Network:         req.Network,
		Expiry:          req.Expiry,
		Balance:         s.cardSeed,
	}
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetUser(ctx, req.UserID); err != nil {
			return err
		}
		return tx.CreateCard(ctx, card)
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation("CARD_REGISTERED", req.UserID, card.MaskedNumber())
	view := card.View()
	return &view, nil
}

// ListCards returns the user's cards with masked numbers.
func (s *AccountService) ListCards(ctx context.Context, userID int64) ([]models.CardView, error) {
	cards, err := s.store.ListCards(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]models.CardView, 0, len(cards))
	for i := range cards {
		views = append(views, cards[i].View())
	}
	return views, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
