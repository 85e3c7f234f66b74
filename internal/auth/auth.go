// Package auth verifies bearer credentials presented on connect.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/steven-mosley/idleverse/internal/config"
)

// ErrInvalidCredential is returned for any credential that does not verify.
var ErrInvalidCredential = errors.New("invalid credentials")

// Identity is a verified user.
type Identity struct {
	UserID string
	// Name is the display name claim; may be empty.
	Name string
}

// Claims are the token claims the server reads.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed JWTs.
type Verifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewVerifier builds a Verifier from cfg. With an empty secret every
// credential is rejected and all connections join as guests.
func NewVerifier(cfg config.AuthConfig) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Verifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		parser: jwt.NewParser(opts...),
	}
}

// Enabled reports whether any credential can verify.
func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Verify validates token and returns its identity.
//
// Postcondition: Any failure wraps ErrInvalidCredential.
func (v *Verifier) Verify(token string) (Identity, error) {
	if !v.Enabled() {
		return Identity{}, fmt.Errorf("%w: authentication disabled", ErrInvalidCredential)
	}
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return Identity{UserID: claims.Subject, Name: claims.Name}, nil
}

// Issue signs a token for id valid for ttl. Used by development tooling and tests.
//
// Precondition: the Verifier must be Enabled; ttl > 0.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("auth: no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		Name: id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
