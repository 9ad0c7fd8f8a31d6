package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	TelegramToken  string
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string

	CMCAPIKey       string
	CoinGeckoAPIKey string

	CMCPollInterval       time.Duration
	CoinGeckoPollInterval time.Duration
	CoinGeckoConcurrency  int
	CoinGeckoRequestDelay time.Duration
	HTTPTimeout           time.Duration

	LogLevel string
	LogFile  string
}

func Load() Config {
	// A missing .env is the normal case in a container.
	_ = godotenv.Load()

	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),

		CMCAPIKey:       os.Getenv("COINMARKETCAP_API_KEY"),
		CoinGeckoAPIKey: os.Getenv("COINGECKO_API_KEY"),

		CMCPollInterval:       durationOr("CMC_POLL_INTERVAL", 270*time.Second),
		CoinGeckoPollInterval: durationOr("COINGECKO_POLL_INTERVAL", 270*time.Second),
		CoinGeckoConcurrency:  intOr("COINGECKO_CONCURRENCY", 5),
		CoinGeckoRequestDelay: durationOr("COINGECKO_REQUEST_DELAY", time.Second),
		HTTPTimeout:           durationOr("HTTP_TIMEOUT", 30*time.Second),

		LogLevel: envOr("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	for key, target := range cfg.secretTargets() {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

// secretTargets maps secret names to the fields they fill.
func (c *Config) secretTargets() map[string]*string {
	return map[string]*string{
		"TELEGRAM_BOT_TOKEN":    &c.TelegramToken,
		"COINMARKETCAP_API_KEY": &c.CMCAPIKey,
		"COINGECKO_API_KEY":     &c.CoinGeckoAPIKey,
		"REDIS_PASSWORD":        &c.RedisPassword,
	}
}

// Missing returns the names of required settings that are empty.
func (c Config) Missing() []string {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.TelegramToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.CMCAPIKey == "" {
		missing = append(missing, "COINMARKETCAP_API_KEY")
	}
	return missing
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback.String())
		return fallback
	}
	return d
}

func intOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
