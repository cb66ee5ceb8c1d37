package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/walletmvp/backend/docs"
	"github.com/walletmvp/backend/internal/audit"
	"github.com/walletmvp/backend/internal/config"
	"github.com/walletmvp/backend/internal/database"
	"github.com/walletmvp/backend/internal/handlers"
	"github.com/walletmvp/backend/internal/hsm"
	mW "github.com/walletmvp/backend/internal/middleware"
	"github.com/walletmvp/backend/internal/rates"
	"github.com/walletmvp/backend/internal/repository"
	"github.com/walletmvp/backend/internal/services"
	"go.uber.org/zap"
)

// @title Wallet MVP API
// @version 1.0
// @description Multi-currency wallet ledger with cards, transfers and conversions
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := config.Bootstrap(viper.GetViper()); err != nil {
		logger.Info("Config file not found, using environment and defaults", zap.Error(err))
	}
	ledgerCfg := config.LoadLedgerConfig(viper.GetViper())
	serverCfg := config.LoadServerConfig(viper.GetViper())

	docs.SwaggerInfo.Host = "localhost:" + serverCfg.Port

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, ledgerCfg.StoreDriver, logger)
	if err != nil {
		logger.Fatal("Failed to open account store", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	redisClient := database.InitRedis(ctx, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	rateCache := rates.NewRedisCache(store, redisClient, ledgerCfg.RateCacheTTL, logger)
	if seeded, err := rates.SeedIfEmpty(ctx, store); err != nil {
		logger.Fatal("Failed to seed exchange rates", zap.Error(err))
	} else if seeded {
		logger.Info("Seeded default exchange rates")
		// A cached snapshot from an earlier database must not outlive the seed.
		if err := rateCache.Invalidate(ctx); err != nil {
			logger.Warn("Failed to invalidate cached exchange rates", zap.Error(err))
		}
	}
	table := rates.NewTable(rateCache, logger)
	if err := table.Refresh(ctx); err != nil {
		logger.Fatal("Failed to load exchange rates", zap.Error(err))
	}
	go table.Run(ctx, ledgerCfg.RateRefreshInterval)

	vault, err := hsm.NewCardVault(hsm.Config{
		Secret: serverCfg.VaultSecret,
		Salt:   []byte(serverCfg.VaultSalt),
	})
	if err != nil {
		logger.Fatal("Failed to initialize card vault", zap.Error(err))
	}

	auditLogger := audit.NewLogger(logger)
	ledger := services.NewLedgerService(store, table, auditLogger, logger, ledgerCfg.BaseCurrency, ledgerCfg.HistoryLimit)
	accounts := services.NewAccountService(store, vault, auditLogger, logger, services.AccountServiceConfig{
		Hasher: services.PasswordHasher{
			Time:    serverCfg.Argon2Time,
			Memory:  serverCfg.Argon2Memory,
			Threads: serverCfg.Argon2Threads,
			KeyLen:  32,
			SaltLen: 16,
		},
		Tokens:       services.TokenIssuer{Secret: []byte(serverCfg.JWTSecret), Expiry: serverCfg.JWTExpiry},
		WelcomeBonus: ledgerCfg.WelcomeBonus,
		CardSeed:     ledgerCfg.CardSeedBalance,
		BaseCurrency: ledgerCfg.BaseCurrency,
	})
	transfers := services.NewTransferService(ledger, accounts, logger)
	settlement := services.NewSettlementService(store, ledgerCfg.SettlementBIC, logger)
	paymentRequests := services.NewPaymentRequestService(redisClient, transfers, ledgerCfg.PaymentRequestTTL, logger)

	auth := mW.NewAuth(serverCfg.JWTSecret, redisClient)
	router := handlers.NewRouter(handlers.Routes{
		Auth:     auth,
		Accounts: handlers.NewAccountHandler(accounts, auth, serverCfg.JWTExpiry),
		Wallet:   handlers.NewWalletHandler(transfers, settlement),
		QR:       handlers.NewQRHandler(paymentRequests),
		Health:   handlers.NewHealthHandler(store, redisClient, table),
	})

	server := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr), zap.String("store", ledgerCfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// openStore returns the account store for driver. The *sql.DB is nil for the
// in-memory store.
func openStore(ctx context.Context, driver string, logger *zap.Logger) (repository.Store, *sql.DB, error) {
	if driver == "memory" {
		logger.Warn("Using in-memory account store, balances are lost on restart")
		return repository.NewMemoryStore(), nil, nil
	}

	db, err := database.InitDB(ctx, database.GetConfig(), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewPostgresStore(db), db, nil
}
