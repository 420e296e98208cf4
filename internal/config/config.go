package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	// Externally visible base URL, used as issuer and endpoint prefix.
	BaseURL string

	// QQ Connect app registration.
	QQAppID       string
	QQAppKey      string
	QQRedirectURI string

	// The single registered relying party.
	ClientID     string
	ClientSecret string

	// Shared secret for the HMAC token path (codes and access tokens).
	SigningSecret string

	AuthCodeTTL    time.Duration
	AccessTokenTTL time.Duration
	IDTokenTTL     time.Duration

	// Optional Redis-backed single-use code guard. Empty addr disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPPort:          getEnv("HTTP_PORT", "3000"),
		ServiceName:       getEnv("SERVICE_NAME", "oidc-convert"),
		BaseURL:           strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/"),
		QQAppID:           strings.TrimSpace(os.Getenv("QQ_APP_ID")),
		QQAppKey:          strings.TrimSpace(os.Getenv("QQ_APP_KEY")),
		QQRedirectURI:     strings.TrimSpace(os.Getenv("QQ_REDIRECT_URI")),
		ClientID:          getEnv("OAUTH_CLIENT_ID", "qq-connector"),
		ClientSecret:      strings.TrimSpace(os.Getenv("OAUTH_CLIENT_SECRET")),
		SigningSecret:     strings.TrimSpace(os.Getenv("OAUTH_SIGNING_SECRET")),
		AuthCodeTTL:       getDuration("AUTH_CODE_TTL", 10*time.Minute),
		AccessTokenTTL:    getDuration("ACCESS_TOKEN_TTL", time.Hour),
		IDTokenTTL:        getDuration("ID_TOKEN_TTL", time.Hour),
		RedisAddr:         strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	}

	if cfg.QQAppID == "" || cfg.QQAppKey == "" {
		return Config{}, fmt.Errorf("QQ_APP_ID and QQ_APP_KEY are required")
	}
	if cfg.QQRedirectURI == "" {
		cfg.QQRedirectURI = cfg.BaseURL + "/api/qq/callback"
	}
	if cfg.ClientSecret == "" {
		return Config{}, fmt.Errorf("OAUTH_CLIENT_SECRET is required")
	}
	if cfg.SigningSecret == "" {
		return Config{}, fmt.Errorf("OAUTH_SIGNING_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}
