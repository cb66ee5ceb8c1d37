package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LedgerConfig holds the money-related knobs of the service.
type LedgerConfig struct {
	WelcomeBonus        decimal.Decimal
	CardSeedBalance     decimal.Decimal
	HistoryLimit        int
	BaseCurrency        string
	RateRefreshInterval time.Duration
	RateCacheTTL        time.Duration
	PaymentRequestTTL   time.Duration
	StoreDriver         string
	SettlementBIC       string
}

// ServerConfig is the HTTP listener and token settings.
type ServerConfig struct {
	Port          string
	JWTSecret     string
	JWTExpiry     time.Duration
	VaultSecret   string
	VaultSalt     string
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ledger.welcome_bonus", "100")
	v.SetDefault("ledger.card_seed_balance", "200000")
	v.SetDefault("ledger.history_limit", 50)
	v.SetDefault("ledger.base_currency", "TRY")
	v.SetDefault("ledger.payment_request_ttl", 5*time.Minute)
	v.SetDefault("rates.refresh_interval", 10*time.Minute)
	v.SetDefault("rates.cache_ttl", 5*time.Minute)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("settlement.agent_bic", "WALLETMVP")
	v.SetDefault("server.port", "8080")
	v.SetDefault("jwt.secret_key", "change-me")
	v.SetDefault("jwt.expiry_hours", 24)
	v.SetDefault("vault.secret", "dev-vault-secret")
	v.SetDefault("vault.salt", "walletmvp-salt")
	v.SetDefault("argon2.time", 1)
	v.SetDefault("argon2.memory", 64*1024)
	v.SetDefault("argon2.threads", 4)
}

// Bootstrap reads .env (if present) and binds the environment variables the
// service understands onto v.
func Bootstrap(v *viper.Viper) error {
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	bindings := map[string]string{
		"database.host":              "DATABASE_HOST",
		"database.port":              "DATABASE_PORT",
		"database.user":              "DATABASE_USER",
		"database.password":          "DATABASE_PASSWORD",
		"database.name":              "DATABASE_NAME",
		"database.ssl_mode":          "DATABASE_SSL_MODE",
		"redis.host":                 "REDIS_HOST",
		"redis.port":                 "REDIS_PORT",
		"redis.password":             "REDIS_PASSWORD",
		"redis.db":                   "REDIS_DB",
		"jwt.secret_key":             "JWT_SECRET_KEY",
		"jwt.expiry_hours":           "JWT_EXPIRY_HOURS",
		"argon2.time":                "ARGON2_TIME",
		"argon2.memory":              "ARGON2_MEMORY",
		"argon2.threads":             "ARGON2_THREADS",
		"vault.secret":               "VAULT_SECRET",
		"vault.salt":                 "VAULT_SALT",
		"ledger.welcome_bonus":       "LEDGER_WELCOME_BONUS",
		"ledger.card_seed_balance":   "LEDGER_CARD_SEED_BALANCE",
		"ledger.history_limit":       "LEDGER_HISTORY_LIMIT",
		"ledger.base_currency":       "LEDGER_BASE_CURRENCY",
		"ledger.payment_request_ttl": "LEDGER_PAYMENT_REQUEST_TTL",
		"rates.refresh_interval":     "RATES_REFRESH_INTERVAL",
		"rates.cache_ttl":            "RATES_CACHE_TTL",
		"store.driver":               "STORE_DRIVER",
		"settlement.agent_bic":       "SETTLEMENT_AGENT_BIC",
		"server.port":                "PORT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	setDefaults(v)
	return v.ReadInConfig()
}

// LoadLedgerConfig reads the ledger settings, falling back to defaults for
// anything unset or unparseable.
func LoadLedgerConfig(v *viper.Viper) *LedgerConfig {
	setDefaults(v)
	return &LedgerConfig{
		WelcomeBonus:        decimalOr(v.GetString("ledger.welcome_bonus"), decimal.NewFromInt(100)),
		CardSeedBalance:     decimalOr(v.GetString("ledger.card_seed_balance"), decimal.NewFromInt(200000)),
		HistoryLimit:        v.GetInt("ledger.history_limit"),
		BaseCurrency:        v.GetString("ledger.base_currency"),
		RateRefreshInterval: v.GetDuration("rates.refresh_interval"),
		RateCacheTTL:        v.GetDuration("rates.cache_ttl"),
		PaymentRequestTTL:   v.GetDuration("ledger.payment_request_ttl"),
		StoreDriver:         v.GetString("store.driver"),
		SettlementBIC:       v.GetString("settlement.agent_bic"),
	}
}

// LoadServerConfig reads listener, token and card-vault settings.
func LoadServerConfig(v *viper.Viper) *ServerConfig {
	setDefaults(v)
	return &ServerConfig{
		Port:          v.GetString("server.port"),
		JWTSecret:     v.GetString("jwt.secret_key"),
		JWTExpiry:     time.Duration(v.GetInt("jwt.expiry_hours")) * time.Hour,
		VaultSecret:   v.GetString("vault.secret"),
		VaultSalt:     v.GetString("vault.salt"),
		Argon2Time:    v.GetUint32("argon2.time"),
		Argon2Memory:  v.GetUint32("argon2.memory"),
		Argon2Threads: uint8(v.GetUint("argon2.threads")),
	}
}

func decimalOr(s string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return fallback
	}
	return d
}
