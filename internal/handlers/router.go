package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	mW "github.com/walletmvp/backend/internal/middleware"
)

// Routes bundles every handler the API mounts.
type Routes struct {
	Auth     *mW.Auth
	Accounts *AccountHandler
	Wallet   *WalletHandler
	QR       *QRHandler
	Health   *HealthHandler
}

// NewRouter builds the chi router with the shared middleware chain.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", rt.Health.Health)
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", rt.Accounts.Register)
		r.Post("/auth/login", rt.Accounts.Login)
		r.Get("/exchange-rates", rt.Wallet.Rates)

		r.Group(func(r chi.Router) {
			r.Use(rt.Auth.Middleware)

			r.Post("/auth/logout", rt.Accounts.Logout)
			r.Get("/user", rt.Accounts.Me)
			r.Get("/dashboard", rt.Wallet.Dashboard)

			r.Post("/deposit", rt.Wallet.Deposit)
			r.Post("/transfer", rt.Wallet.Transfer)
			r.Post("/convert", rt.Wallet.Convert)

			r.Get("/transactions", rt.Wallet.Transactions)
			r.Get("/transactions/{id}/pacs008", rt.Wallet.ExportPacs008)
			r.Get("/transactions/{id}/pacs002", rt.Wallet.ExportPacs002)

			r.Get("/cards", rt.Accounts.ListCards)
			r.Post("/cards", rt.Accounts.RegisterCard)
			r.Post("/cards/transfer", rt.Wallet.CardTransfer)

			r.Post("/qr/generate", rt.QR.GenerateQR)
			r.Post("/qr/process", rt.QR.ProcessQR)
		})
	})

	return r
}
