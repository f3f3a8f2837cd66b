// Package receipt records a content-free trail of pipeline steps per event.
//
// A receipt holds step names, statuses, model ids, timings, numeric or
// categorical metrics and the SHA-256 of the final clean text. No method
// accepts text to store verbatim.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/upb/privacy-shield/internal/ttlstore"
)

// DefaultTTL is how long a receipt is kept after its last write
const DefaultTTL = 15 * time.Minute

// Step statuses
const (
	StatusOK      = "ok"
	StatusRetry   = "retry"
	StatusFailed  = "failed"
	StatusBlocked = "blocked"
	StatusSkipped = "skipped"
)

// Step is one recorded pipeline step
type Step struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	ModelID   string                 `json:"model_id,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   time.Time              `json:"ended_at"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// Receipt is the per-event record
type Receipt struct {
	EventID         string    `json:"event_id"`
	Steps           []Step    `json:"steps"`
	Flags           []string  `json:"flags"`
	CleanTextSHA256 string    `json:"clean_text_sha256,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Ledger stores receipts in RAM with a TTL refreshed on every write
type Ledger struct {
	store *ttlstore.Store[string, *Receipt]
}

// NewLedger creates a Ledger
func NewLedger(ttl time.Duration, opts ...ttlstore.Option) *Ledger {
	return &Ledger{store: ttlstore.New[string, *Receipt](ttl, opts...)}
}

// AddStep appends step to the receipt of eventID, creating the receipt on
// first use. Zero timestamps are filled with the current time.
func (l *Ledger) AddStep(eventID string, step Step) {
	now := l.store.Now()
	if step.EndedAt.IsZero() {
		step.EndedAt = now
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = step.EndedAt
	}
	step.Metrics = copyMetrics(step.Metrics)

	l.store.Update(eventID, func(r *Receipt, found bool) *Receipt {
		r = l.ensure(eventID, r, found, now)
		r.Steps = append(r.Steps, step)
		return r
	})
}

// AddFlag adds flag to the receipt's flag set
func (l *Ledger) AddFlag(eventID, flag string) {
	now := l.store.Now()
	l.store.Update(eventID, func(r *Receipt, found bool) *Receipt {
		r = l.ensure(eventID, r, found, now)
		for _, f := range r.Flags {
			if f == flag {
				return r
			}
		}
		r.Flags = append(r.Flags, flag)
		return r
	})
}

// SetCleanTextHash stores the SHA-256 of cleanText. The text itself is discarded.
func (l *Ledger) SetCleanTextHash(eventID, cleanText string) {
	hash := HashText(cleanText)
	now := l.store.Now()
	l.store.Update(eventID, func(r *Receipt, found bool) *Receipt {
		r = l.ensure(eventID, r, found, now)
		r.CleanTextSHA256 = hash
		return r
	})
}

// Reset drops the receipt of eventID so a new run starts from an empty trail
func (l *Ledger) Reset(eventID string) {
	l.store.Delete(eventID)
}

// Get returns a copy of the receipt for eventID
func (l *Ledger) Get(eventID string) (*Receipt, bool) {
	r, ok := l.store.Get(eventID)
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// Sweep drops expired receipts
func (l *Ledger) Sweep() int {
	return l.store.Sweep()
}

// Stats returns ledger statistics
func (l *Ledger) Stats() ttlstore.Stats {
	return l.store.Stats()
}

// ensure returns a private copy of r to mutate, or a fresh receipt.
// Stored receipts are never modified in place, so Get can copy them
// outside the store lock.
func (l *Ledger) ensure(eventID string, r *Receipt, found bool, now time.Time) *Receipt {
	if found && r != nil {
		return r.clone()
	}
	return &Receipt{
		EventID:   eventID,
		Steps:     []Step{},
		Flags:     []string{},
		CreatedAt: now,
	}
}

func (r *Receipt) clone() *Receipt {
	out := *r
	out.Steps = make([]Step, len(r.Steps))
	for i, s := range r.Steps {
		s.Metrics = copyMetrics(s.Metrics)
		out.Steps[i] = s
	}
	out.Flags = append([]string{}, r.Flags...)
	return &out
}

// HasFlag reports whether flag is set
func (r *Receipt) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Step returns the last step named name
func (r *Receipt) Step(name string) (Step, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Name == name {
			return r.Steps[i], true
		}
	}
	return Step{}, false
}

func copyMetrics(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HashText returns the hex SHA-256 of text
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
