package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/austindbirch/zekt_action/internal/auth"
	"github.com/austindbirch/zekt_action/internal/config"
	"github.com/austindbirch/zekt_action/internal/delivery"
	"github.com/austindbirch/zekt_action/internal/health"
	"github.com/austindbirch/zekt_action/internal/logging"
)

const maxTTL = 24 * time.Hour

// issuer mints CI-style OIDC tokens for exercising fake-zekt's JWT mode.
type issuer struct {
	cfg    config.FakeIssuer
	key    *rsa.PrivateKey
	logger *logging.Logger
	now    func() time.Time
}

type tokenRequest struct {
	Repository string `json:"repository"`
	RunID      string `json:"run_id,omitempty"`
	Ref        string `json:"ref,omitempty"`
	Audience   string `json:"audience,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	TokenType string `json:"token_type"`
}

// loadKey parses a PKCS1 private key, or generates one when pemText is empty.
func loadKey(pemText string) (*rsa.PrivateKey, bool, error) {
	if pemText == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, false, fmt.Errorf("generate RSA key: %w", err)
		}
		return key, true, nil
	}
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, false, errors.New("failed to decode PEM private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, false, fmt.Errorf("parse private key: %w", err)
	}
	return key, false, nil
}

func newIssuer(cfg config.FakeIssuer, key *rsa.PrivateKey, logger *logging.Logger) *issuer {
	return &issuer{cfg: cfg, key: key, logger: logger, now: time.Now}
}

func (is *issuer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks", is.jwksHandler)
	mux.HandleFunc("/.well-known/jwks.json", is.jwksHandler)
	mux.HandleFunc("/token", is.tokenHandler)
	mux.HandleFunc("/healthz", health.HTTPHandler(delivery.Version, nil))
	return mux
}

func (is *issuer) jwksHandler(w http.ResponseWriter, r *http.Request) {
	set := auth.JSONWebKeySet{
		Keys: []auth.JSONWebKey{auth.NewJSONWebKey(is.cfg.KeyID, &is.key.PublicKey)},
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(set)
}

func (is *issuer) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Repository == "" {
		http.Error(w, "repository is required", http.StatusBadRequest)
		return
	}
	if req.RunID != "" {
		if _, err := strconv.ParseInt(req.RunID, 10, 64); err != nil {
			http.Error(w, "run_id must be numeric", http.StatusBadRequest)
			return
		}
	}

	ttl := is.cfg.DefaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	aud := req.Audience
	if aud == "" {
		aud = is.cfg.Audience
	}
	sub := "repo:" + req.Repository
	if req.Ref != "" {
		sub += ":ref:" + req.Ref
	}

	now := is.now()
	claims := auth.Claims{
		Repository: req.Repository,
		RunID:      req.RunID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    is.cfg.Issuer,
			Subject:   sub,
			Audience:  jwt.ClaimStrings{aud},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = is.cfg.KeyID

	signed, err := token.SignedString(is.key)
	if err != nil {
		is.logger.Plain().WithError(err).Error("failed to sign token")
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	is.logger.WithFields(map[string]any{
		"repository": req.Repository,
		"run_id":     req.RunID,
		"audience":   aud,
		"ttl":        ttl.String(),
	}).Info("issued token")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		Token:     signed,
		ExpiresIn: int(ttl / time.Second),
		TokenType: "Bearer",
	})
}

func main() {
	logging.SetDefaultService("fake-oidc")
	logger := logging.Default()
	cfg := config.FakeIssuerFromEnv()

	key, generated, err := loadKey(cfg.PrivateKeyPEM)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to load signing key")
	}
	if generated {
		logger.Plain().Info("generated new RSA key pair for token signing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           newIssuer(cfg, key, logger).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithFields(map[string]any{
		"addr":   cfg.Port,
		"issuer": cfg.Issuer,
		"kid":    cfg.KeyID,
	}).Info("fake-oidc listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Plain().WithError(err).Fatal("fake-oidc stopped")
	}
}
