package control

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Guard protects mutating routes with an admin bearer token checked
// against a bcrypt hash. A Guard without a hash lets every request through.
type Guard struct {
	hash   []byte
	logger *zap.Logger
}

// NewGuard creates a Guard for the given bcrypt hash.
//
// Precondition: hash is empty or a bcrypt hash; logger must be non-nil.
func NewGuard(hash string, logger *zap.Logger) *Guard {
	if hash == "" {
		logger.Warn("control surface mutations are unguarded; set control.admin_token_hash")
	}
	return &Guard{hash: []byte(hash), logger: logger}
}

// HashToken returns the bcrypt hash to configure for token.
func HashToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Allow reports whether r carries the admin token.
func (g *Guard) Allow(r *http.Request) bool {
	if len(g.hash) == 0 {
		return true
	}
	h := r.Header.Get("Authorization")
	if len(h) <= 7 || !strings.EqualFold(h[:7], "bearer ") {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.hash, []byte(strings.TrimSpace(h[7:]))) == nil
}

// Wrap rejects requests without the admin token with 401.
func (g *Guard) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(r) {
			g.logger.Info("rejected control request",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next(w, r)
	}
}
