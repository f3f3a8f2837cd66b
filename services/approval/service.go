// Package approval issues and verifies the one-time approval tokens that
// unlock release of a gated event.
package approval

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/upb/privacy-shield/internal/ttlstore"
	"go.uber.org/zap"
)

// tokenBytes is the entropy of a generated token
const tokenBytes = 32

// DefaultTTL is how long an approval token stays valid
const DefaultTTL = time.Hour

// Token is a freshly generated approval token. The plaintext is handed to
// the caller exactly once.
type Token struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// Service keeps approval tokens in RAM, keyed both by token and by event id
type Service struct {
	byToken *ttlstore.Store[string, string]
	byEvent *ttlstore.Store[string, string]
	logger  *zap.Logger
}

// NewService creates a Service whose tokens expire after ttl
func NewService(ttl time.Duration, logger *zap.Logger, opts ...ttlstore.Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		byToken: ttlstore.New[string, string](ttl, opts...),
		byEvent: ttlstore.New[string, string](ttl, opts...),
		logger:  logger,
	}
}

// Generate issues a new token for eventID. A token previously issued for
// the same event stops being valid.
func (s *Service) Generate(eventID string) (*Token, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate approval token: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	if previous, ok := s.byEvent.Get(eventID); ok {
		s.byToken.Delete(previous)
	}
	expiresAt := s.byToken.Set(plaintext, eventID)
	s.byEvent.Set(eventID, plaintext)

	hash := Hash(plaintext)
	s.logger.Info("approval token generated",
		zap.String("event_id", eventID),
		zap.String("token_hash", hash),
		zap.Time("expires_at", expiresAt))

	return &Token{Plaintext: plaintext, Hash: hash, ExpiresAt: expiresAt}, nil
}

// Verify reports whether token exists, is unexpired and belongs to eventID.
// Verification does not consume the token.
func (s *Service) Verify(token, eventID string) bool {
	if token == "" || eventID == "" {
		return false
	}
	owner, ok := s.byToken.Get(token)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(owner), []byte(eventID)) == 1
}

// Sweep drops expired tokens from both indexes
func (s *Service) Sweep() int {
	return s.byToken.Sweep() + s.byEvent.Sweep()
}

// Stats returns statistics of the token index
func (s *Service) Stats() ttlstore.Stats {
	return s.byToken.Stats()
}

// Hash returns the hex SHA-256 of a token, the only form kept outside this service
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
