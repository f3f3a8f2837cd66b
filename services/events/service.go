// Package events holds raw payloads submitted for scrubbing. Payloads live
// only in RAM and expire on their own.
package events

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/upb/privacy-shield/internal/ttlstore"
	"github.com/upb/privacy-shield/services"
	"go.uber.org/zap"
)

// DefaultTTL is how long a raw payload is kept
const DefaultTTL = 15 * time.Minute

// DefaultMaxChars bounds accepted payloads
const DefaultMaxChars = 50000

// Event is the metadata returned on intake. It never carries the text.
type Event struct {
	ID        string    `json:"event_id"`
	Source    string    `json:"source,omitempty"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type payload struct {
	text   string
	source string
}

// Config holds event store configuration
type Config struct {
	TTL      time.Duration
	MaxChars int
}

// Service is the RAM raw-payload store
type Service struct {
	store    *ttlstore.Store[string, payload]
	maxChars int
	logger   *zap.Logger
}

// NewService creates a Service
func NewService(config Config, logger *zap.Logger, opts ...ttlstore.Option) *Service {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.MaxChars <= 0 {
		config.MaxChars = DefaultMaxChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    ttlstore.New[string, payload](config.TTL, opts...),
		maxChars: config.MaxChars,
		logger:   logger,
	}
}

// Create stores text under a new event id
func (s *Service) Create(ctx context.Context, text, source string) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, services.ErrEmptyText
	}
	if !utf8.ValidString(text) {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "text is not valid UTF-8", nil)
	}
	length := utf8.RuneCountInString(text)
	if length > s.maxChars {
		return nil, services.NewDomainError(services.ErrorTypeValidation, services.ErrTextTooLarge.Message, nil).
			WithDetail("max_chars", s.maxChars).
			WithDetail("length", length)
	}

	id := uuid.New().String()
	now := s.store.Now()
	expiresAt := s.store.Set(id, payload{text: text, source: source})

	s.logger.Debug("event stored",
		zap.String("event_id", id),
		zap.String("source", source),
		zap.Int("length", length))

	return &Event{
		ID:        id,
		Source:    source,
		Length:    length,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

// Raw returns the raw text of eventID
func (s *Service) Raw(ctx context.Context, eventID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, ok := s.store.Get(eventID)
	if !ok {
		return "", services.ErrEventNotFound
	}
	return p.text, nil
}

// Delete drops the payload of eventID
func (s *Service) Delete(eventID string) {
	s.store.Delete(eventID)
}

// Sweep drops expired payloads
func (s *Service) Sweep() int {
	return s.store.Sweep()
}

// Stats returns store statistics
func (s *Service) Stats() ttlstore.Stats {
	return s.store.Stats()
}

// StoreStats reports the number of live payloads
func (s *Service) StoreStats() map[string]int {
	return map[string]int{"events": s.store.Stats().Size}
}
