package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/walletmvp/backend/internal/middleware"
	"github.com/walletmvp/backend/internal/models"
	"github.com/walletmvp/backend/internal/services"
)

// CredentialsRequest is the registration and login payload
// @Description Email and password
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email" example:"user@example.com"` // User email address
	Password string `json:"password" validate:"required,min=6" example:"password123"`   // User password
}

// RegisterCardRequest is the card registration payload
// @Description Card details; number and CVV are encrypted at rest
type RegisterCardRequest struct {
	CardNumber string `json:"card_number" validate:"required" example:"4242 4242 4242 4242"`
	HolderName string `json:"card_holder" validate:"required" example:"Ada Lovelace"`
	CardType   string `json:"card_type" validate:"required,oneof=Visa Mastercard Troy" example:"Visa"`
	Expiry     string `json:"expiry" validate:"required" example:"12/28"`
	CVV        string `json:"cvv" validate:"required,numeric,min=3,max=4" example:"123"`
}

type AccountHandler struct {
	accounts    *services.AccountService
	auth        *middleware.Auth
	tokenExpiry time.Duration
	validator   *services.ValidationHelper
}

func NewAccountHandler(accounts *services.AccountService, auth *middleware.Auth, tokenExpiry time.Duration) *AccountHandler {
	return &AccountHandler{
		accounts:    accounts,
		auth:        auth,
		tokenExpiry: tokenExpiry,
		validator:   services.NewValidationHelper(),
	}
}

// Register opens an account
// @Summary Register a new user
// @Description Create a user and wallet credited with the welcome bonus
// @Tags auth
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "Registration request"
// @Success 201 {object} services.AuthResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /auth/register [post]
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)
	var req CredentialsRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	res, err := h.accounts.OpenAccount(r.Context(), services.OpenAccountRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	log.Printf("[AUTH] Registration successful for user %d", res.User.UserID)
	writeJSON(w, http.StatusCreated, res)
}

// Login authenticates a user
// @Summary Login user
// @Description Authenticate with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "Login request"
// @Success 200 {object} services.AuthResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /auth/login [post]
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	res, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Printf("[AUTH] Login failed for %s", req.Email)
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Logout revokes the caller's token
// @Summary Logout user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Revoke(r.Context(), middleware.BearerToken(r), h.tokenExpiry); err != nil {
		log.Printf("[AUTH] Failed to blacklist token: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// Me returns the caller's summary
// @Summary Current user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.UserSummary
// @Failure 404 {object} services.ErrorResponse
// @Router /user [get]
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	summary, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RegisterCard adds a card to the caller
// @Summary Register card
// @Description Register a card seeded with the sandbox USD balance
// @Tags cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterCardRequest true "Card details"
// @Success 201 {object} models.CardView
// @Failure 400 {object} services.ErrorResponse
// @Router /cards [post]
func (h *AccountHandler) RegisterCard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req RegisterCardRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	view, err := h.accounts.RegisterCard(r.Context(), services.RegisterCardRequest{
		UserID:     userID,
		Number:     req.CardNumber,
		HolderName: req.HolderName,
		Network:    models.CardNetwork(req.CardType),
		Expiry:     req.Expiry,
		CVV:        req.CVV,
	})
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// ListCards lists the caller's cards
// @Summary List cards
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.CardView
// @Router /cards [get]
func (h *AccountHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	cards, err := h.accounts.ListCards(r.Context(), userID)
	if err != nil {
		services.SendOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}
