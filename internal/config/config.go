package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Payload ceilings for a single registration.
const (
	MaxPayloadBytes  = 512 * 1024
	WarnPayloadBytes = MaxPayloadBytes * 8 / 10 // 419430
)

// ErrMissingAPIURL is returned when ZEKT_API_URL is not configured.
var ErrMissingAPIURL = errors.New("ZEKT_API_URL environment variable is not set")

// MaxAttemptsLimit bounds the configurable attempt budget.
const MaxAttemptsLimit = 10

// ClampAttempts keeps n within [1, MaxAttemptsLimit].
func ClampAttempts(n int) int {
	return max(1, min(n, MaxAttemptsLimit))
}

type Retry struct {
	MaxAttempts int           // Total delivery attempts, including the first
	BaseDelay   time.Duration // Backoff before the second attempt; doubles after
}

type FakeServer struct {
	FailFirstN       int           // Number of requests answered with 500 before succeeding
	ResponseDelayMS  int           // Simulated response delay in milliseconds
	ExpectedToken    string        // Static bearer token to accept; empty disables the check
	JWTPublicKeyFile string        // PEM public key for JWT bearer verification
	JWKSURL          string        // JWKS endpoint for JWT bearer verification
	JWTIssuer        string        // Required iss claim
	JWTAudience      string        // Required aud claim
	Port             string        // Server listen address
	ReadTimeout      time.Duration // HTTP read timeout
	WriteTimeout     time.Duration // HTTP write timeout
	IdleTimeout      time.Duration // HTTP idle timeout
}

// FakeIssuer configures the local OIDC token issuer.
type FakeIssuer struct {
	PrivateKeyPEM string // PKCS1 RSA private key; generated when empty
	KeyID         string
	Issuer        string
	Audience      string
	DefaultTTL    time.Duration
	Port          string
}

type Config struct {
	AppName          string
	APIURL           string // Base address of the Zekt API
	MaxPayloadBytes  int
	WarnPayloadBytes int
	Retry            Retry
	RequestTimeout   time.Duration // Per-attempt HTTP timeout
	PushgatewayURL   string        // Optional Prometheus Pushgateway
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare integers are milliseconds
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

// Default returns the built-in configuration with the given API base address.
func Default(apiURL string) Config {
	return Config{
		AppName:          "zekt-action",
		APIURL:           apiURL,
		MaxPayloadBytes:  MaxPayloadBytes,
		WarnPayloadBytes: WarnPayloadBytes,
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		RequestTimeout: 30 * time.Second,
	}
}

// FromEnv loads the run configuration. The API base address is injected at
// deploy time and has no default.
func FromEnv() (Config, error) {
	apiURL := os.Getenv("ZEKT_API_URL")
	if apiURL == "" {
		return Config{}, fmt.Errorf("%w. This should be configured in the action repository during deployment", ErrMissingAPIURL)
	}

	return Load(apiURL), nil
}

// Load applies the optional environment overrides to Default(apiURL).
func Load(apiURL string) Config {
	cfg := Default(apiURL)
	cfg.AppName = getenv("APP_NAME", cfg.AppName)
	cfg.Retry.MaxAttempts = ClampAttempts(getenvInt("ZEKT_MAX_ATTEMPTS", cfg.Retry.MaxAttempts))
	cfg.Retry.BaseDelay = getenvDuration("ZEKT_RETRY_DELAY", cfg.Retry.BaseDelay)
	if cfg.Retry.BaseDelay < 0 {
		cfg.Retry.BaseDelay = 0
	}
	cfg.RequestTimeout = getenvDuration("ZEKT_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.PushgatewayURL = os.Getenv("ZEKT_PUSHGATEWAY_URL")
	return cfg
}

// FakeServerFromEnv loads settings for the local fake Zekt receiver.
func FakeServerFromEnv() FakeServer {
	return FakeServer{
		FailFirstN:       getenvInt("FAIL_FIRST_N", 0),
		ResponseDelayMS:  getenvInt("RESPONSE_DELAY_MS", 0),
		ExpectedToken:    getenv("EXPECTED_TOKEN", ""),
		JWTPublicKeyFile: getenv("JWT_PUBLIC_KEY_FILE", ""),
		JWKSURL:          getenv("JWT_JWKS_URL", ""),
		JWTIssuer:        getenv("JWT_ISSUER", "https://token.actions.githubusercontent.com"),
		JWTAudience:      getenv("JWT_AUDIENCE", "zekt"),
		Port:             getenv("FAKE_ZEKT_PORT", ":8081"),
		ReadTimeout:      getenvDuration("FAKE_ZEKT_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:     getenvDuration("FAKE_ZEKT_WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:      getenvDuration("FAKE_ZEKT_IDLE_TIMEOUT", 60*time.Second),
	}
}

// FakeIssuerFromEnv loads settings for the local OIDC token issuer.
func FakeIssuerFromEnv() FakeIssuer {
	return FakeIssuer{
		PrivateKeyPEM: os.Getenv("JWT_PRIVATE_KEY"),
		KeyID:         getenv("JWT_KEY_ID", "zekt-fake-key-1"),
		Issuer:        getenv("JWT_ISSUER", "https://token.actions.githubusercontent.com"),
		Audience:      getenv("JWT_AUDIENCE", "zekt"),
		DefaultTTL:    getenvDuration("JWT_TTL", time.Hour),
		Port:          getenv("FAKE_OIDC_PORT", ":8082"),
	}
}
