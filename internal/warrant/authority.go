// Package warrant implements the Dual-Key Warrant Authority: RS256-signed
// JWTs that route a tool call to the production or shadow backend without
// the agent or the backend needing to know which disposition was chosen.
package warrant

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

const (
	// RouteProduction routes to the real data store.
	RouteProduction = "production"
	// RouteShadow routes to the honeypot data store.
	RouteShadow = "shadow"
	// RouteDeny issues no warrant.
	RouteDeny = "deny"

	prodKeyID   = "prime_key_1"
	shadowKeyID = "shadow_key_1"

	issuer   = "CHIMERA_AUTHORITY"
	scope    = "full_access"
	lifetime = time.Hour
)

// ErrUnknownRoute is returned when IssueWarrant is called with a route
// other than production or shadow (deny must not call it at all).
var ErrUnknownRoute = errors.New("warrant: unknown route")

// Claims is the warrant's JWT payload.
type Claims struct {
	Issuer     string  `json:"iss"`
	Subject    string  `json:"sub"`
	IssuedAt   int64   `json:"iat"`
	Expiry     int64   `json:"exp"`
	JTI        string  `json:"jti"`
	Scope      string  `json:"scope"`
	RiskScore  float64 `json:"risk_score"`
}

// Authority holds the two long-lived RSA-4096 private keys and issues
// warrants. Key loading failure is fatal at startup — construction returns
// an error and the caller (cmd/gateway) must exit.
type Authority struct {
	productionKey *rsa.PrivateKey
	shadowKey     *rsa.PrivateKey
	logger        *slog.Logger
}

// NewAuthority loads both RSA private keys from PEM files. Either failing
// to load is a fatal configuration error.
func NewAuthority(productionKeyPath, shadowKeyPath string) (*Authority, error) {
	prodKey, err := loadPrivateKey(productionKeyPath)
	if err != nil {
		return nil, fmt.Errorf("warrant: load production key: %w", err)
	}
	shadowKey, err := loadPrivateKey(shadowKeyPath)
	if err != nil {
		return nil, fmt.Errorf("warrant: load shadow key: %w", err)
	}
	return &Authority{
		productionKey: prodKey,
		shadowKey:     shadowKey,
		logger:        slog.Default().With("component", "warrant_authority"),
	}, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key in %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not contain an RSA private key", path)
	}
	return key, nil
}

// IssueWarrant signs an RS256 JWT for the given session, accumulated risk,
// and route. route must be RouteProduction or RouteShadow; the deny route
// must never be passed here — the caller simply doesn't issue a warrant.
func (a *Authority) IssueWarrant(sessionID string, accumulatedRisk float64, route string) (string, error) {
	var key *rsa.PrivateKey
	var kid string

	switch route {
	case RouteProduction:
		key, kid = a.productionKey, prodKeyID
	case RouteShadow:
		key, kid = a.shadowKey, shadowKeyID
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownRoute, route)
	}

	now := time.Now().UTC()
	claims := Claims{
		Issuer:    issuer,
		Subject:   sessionID,
		IssuedAt:  now.Unix(),
		Expiry:    now.Add(lifetime).Unix(),
		JTI:       uuid.NewString(),
		Scope:     scope,
		RiskScore: accumulatedRisk,
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]any{"kid": kid},
	})
	if err != nil {
		return "", fmt.Errorf("warrant: build signer: %w", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("warrant: marshal claims: %w", err)
	}

	signed, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("warrant: sign: %w", err)
	}

	token, err := signed.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("warrant: serialize: %w", err)
	}

	a.logger.Info("warrant issued", "session_id", sessionID, "route", route, "kid", kid, "jti", claims.JTI)
	return token, nil
}
