package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the auth coordination service.
type Config struct {
	Environment    string
	HTTPPort       int
	LogLevel       string
	AllowedOrigins []string
	PublicBaseURL  string
	FrontendURL    string

	OAuthProvider     string
	OAuthIssuer       string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string

	SessionStore  string
	RedisURL      string
	SessionSkew   time.Duration
	ProfileStore  string
	DatabaseURL   string
	SyncAttempts  int
	SyncBaseDelay time.Duration
}

// Load reads configuration from environment variables with sensible defaults
// for local development.
func Load() (Config, error) {
	clientSecret, err := getEnvOrFile("OAUTH_CLIENT_SECRET", "/run/secrets/authbus_oauth_client_secret")
	if err != nil {
		return Config{}, err
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/authbus_database_url")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:    getEnv("APP_ENV", "development"),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080")),
		PublicBaseURL:  strings.TrimSuffix(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL:    strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),

		OAuthProvider:     strings.ToLower(getEnv("OAUTH_PROVIDER", "google")),
		OAuthIssuer:       getEnv("OAUTH_ISSUER", "https://accounts.google.com"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: strings.TrimSpace(clientSecret),
		OAuthRedirectURL:  os.Getenv("OAUTH_REDIRECT_URL"),

		SessionStore: strings.ToLower(getEnv("SESSION_STORE", "memory")),
		RedisURL:     os.Getenv("REDIS_URL"),
		ProfileStore: strings.ToLower(getEnv("PROFILE_STORE", "memory")),
		DatabaseURL:  databaseURL,
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "8080"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	attempts, err := strconv.Atoi(getEnv("PROFILE_SYNC_ATTEMPTS", "3"))
	if err != nil || attempts < 1 {
		return Config{}, fmt.Errorf("invalid PROFILE_SYNC_ATTEMPTS %q", getEnv("PROFILE_SYNC_ATTEMPTS", "3"))
	}
	cfg.SyncAttempts = attempts

	baseDelay, err := time.ParseDuration(getEnv("PROFILE_SYNC_BASE_DELAY", "1s"))
	if err != nil || baseDelay <= 0 {
		return Config{}, fmt.Errorf("invalid PROFILE_SYNC_BASE_DELAY %q", getEnv("PROFILE_SYNC_BASE_DELAY", "1s"))
	}
	cfg.SyncBaseDelay = baseDelay

	if raw := os.Getenv("SESSION_SKEW_TOLERANCE"); raw != "" {
		skew, err := time.ParseDuration(raw)
		if err != nil || skew < 0 {
			return Config{}, fmt.Errorf("invalid SESSION_SKEW_TOLERANCE %q", raw)
		}
		cfg.SessionSkew = skew
	}

	switch cfg.SessionStore {
	case "memory", "none":
	case "redis":
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("SESSION_STORE is redis but REDIS_URL is not set")
		}
	default:
		return Config{}, fmt.Errorf("unknown SESSION_STORE %q", cfg.SessionStore)
	}

	switch cfg.ProfileStore {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("PROFILE_STORE is postgres but DATABASE_URL is not set")
		}
	default:
		return Config{}, fmt.Errorf("unknown PROFILE_STORE %q", cfg.ProfileStore)
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// RedirectURL returns the callback URL registered with the identity
// provider, defaulting to the public base URL plus callbackPath.
func (c Config) RedirectURL(callbackPath string) string {
	if c.OAuthRedirectURL != "" {
		return c.OAuthRedirectURL
	}
	return c.PublicBaseURL + callbackPath
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
