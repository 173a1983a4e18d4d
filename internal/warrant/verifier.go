package warrant

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Environment identifies which data store a verified warrant selects.
type Environment int

const (
	// EnvDenied means verification failed against both public keys.
	EnvDenied Environment = iota
	// EnvProduction means the warrant was signed by the production key.
	EnvProduction
	// EnvShadow means the warrant was signed by the shadow key.
	EnvShadow
)

// ErrInvalidWarrant covers every verification failure; callers must not
// leak which key failed or why.
var ErrInvalidWarrant = errors.New("warrant: invalid or missing warrant")

// Verifier is the backend-side half of the Warrant Authority contract: it
// holds the two public keys and determines which environment a warrant
// authorizes.
type Verifier struct {
	productionKey *rsa.PublicKey
	shadowKey     *rsa.PublicKey
}

// NewVerifier loads both RSA public keys. Failure is fatal at backend
// startup, mirroring the Authority's fatal-on-load-failure contract.
func NewVerifier(productionKeyPath, shadowKeyPath string) (*Verifier, error) {
	prodKey, err := loadPublicKey(productionKeyPath)
	if err != nil {
		return nil, fmt.Errorf("warrant: load production public key: %w", err)
	}
	shadowKey, err := loadPublicKey(shadowKeyPath)
	if err != nil {
		return nil, fmt.Errorf("warrant: load shadow public key: %w", err)
	}
	return &Verifier{productionKey: prodKey, shadowKey: shadowKey}, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key in %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%s does not contain an RSA public key", path)
	}
	return key, nil
}

// Verify checks a warrant token against the production key, then the
// shadow key; the first that validates determines the environment. A
// missing, malformed, unsigned-by-either-key, or expired warrant returns
// EnvDenied and ErrInvalidWarrant without revealing which check failed.
func (v *Verifier) Verify(token string) (Environment, *Claims, error) {
	if token == "" {
		return EnvDenied, nil, ErrInvalidWarrant
	}

	if claims, ok := v.verifyWith(token, v.productionKey); ok {
		return EnvProduction, claims, nil
	}
	if claims, ok := v.verifyWith(token, v.shadowKey); ok {
		return EnvShadow, claims, nil
	}
	return EnvDenied, nil, ErrInvalidWarrant
}

func (v *Verifier) verifyWith(token string, key *rsa.PublicKey) (*Claims, bool) {
	parsed, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, false
	}

	payload, err := parsed.Verify(key)
	if err != nil {
		return nil, false
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, false
	}

	if time.Now().UTC().Unix() > claims.Expiry {
		return nil, false
	}

	return &claims, true
}
