package auth

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// RepositoryKey holds the repository claim of a verified caller.
const RepositoryKey contextKey = "repository"

// Claims is the subset of a CI OIDC token the receiver cares about.
type Claims struct {
	Repository string `json:"repository"`
	RunID      string `json:"run_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator handles JWT token validation
type JWTValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewJWTValidator creates a validator from a PEM encoded RSA public key
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	publicKey, err := ParseRSAPublicKeyPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}
	return NewJWTValidatorFromKey(publicKey, issuer, audience), nil
}

// NewJWTValidatorFromKey creates a validator around an already parsed key
func NewJWTValidatorFromKey(key *rsa.PublicKey, issuer, audience string) *JWTValidator {
	return &JWTValidator{
		publicKey: key,
		issuer:    issuer,
		audience:  audience,
	}
}

// ParseRSAPublicKeyPEM accepts PKCS1 and PKIX encoded RSA public keys
func ParseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err == nil {
		return publicKey, nil
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}

// ValidateToken validates a JWT and returns its claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Repository == "" {
		return nil, fmt.Errorf("missing or invalid repository claim")
	}
	return claims, nil
}

// bearer extracts the token from an Authorization header
func bearer(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("Missing Authorization header")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return "", errors.New("Invalid Authorization header format")
	}
	return tokenString, nil
}

func skipAuth(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// HTTPMiddleware returns an HTTP middleware that validates JWT tokens. The
// token's repository claim must match X-GitHub-Repository when that header is
// present.
func (v *JWTValidator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := bearer(r)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}

		claims, err := v.ValidateToken(tokenString)
		if err != nil {
			writeUnauthorized(w, fmt.Sprintf("Invalid token: %v", err))
			return
		}
		if repo := r.Header.Get("X-GitHub-Repository"); repo != "" && repo != claims.Repository {
			writeUnauthorized(w, "Token repository does not match request")
			return
		}

		ctx := context.WithValue(r.Context(), RepositoryKey, claims.Repository)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// StaticTokenMiddleware accepts only requests bearing exactly expected.
func StaticTokenMiddleware(expected string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		tokenString, err := bearer(r)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		if subtle.ConstantTimeCompare([]byte(tokenString), []byte(expected)) != 1 {
			writeUnauthorized(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeUnauthorized answers in the register-run response shape
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// GetRepositoryFromContext extracts the verified repository from context
func GetRepositoryFromContext(ctx context.Context) (string, bool) {
	repo, ok := ctx.Value(RepositoryKey).(string)
	return repo, ok
}

// JSONWebKeySet represents a JWKS response
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JSONWebKey represents a single key in JWKS
type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// NewJSONWebKey encodes an RSA public key as a signing JWK
func NewJSONWebKey(kid string, key *rsa.PublicKey) JSONWebKey {
	return JSONWebKey{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// RSAPublicKey converts an RSA JWK into a public key
func (k JSONWebKey) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 2 || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

// FetchJWKS fetches the JWKS from a URL and returns the key with kid, or the
// first key when kid is empty
func FetchJWKS(ctx context.Context, jwksURL, kid string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("no keys found in JWKS")
	}

	for _, k := range jwks.Keys {
		if kid == "" || k.Kid == kid {
			return k.RSAPublicKey()
		}
	}
	return nil, fmt.Errorf("key %q not found in JWKS", kid)
}
