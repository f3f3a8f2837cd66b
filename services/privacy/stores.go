package privacy

import (
	"time"

	"github.com/upb/privacy-shield/internal/policy"
	"github.com/upb/privacy-shield/internal/ttlstore"
)

// Default store lifetimes
const (
	DefaultMappingTTL = 15 * time.Minute
	DefaultStatusTTL  = time.Hour
)

// PrivacyStatus is the authoritative gating decision for one event.
// Downstream consumers read it instead of inspecting text.
type PrivacyStatus struct {
	EventID            string    `json:"event_id"`
	VerificationPassed bool      `json:"verification_passed"`
	SemanticRisk       bool      `json:"semantic_risk"`
	SemanticReason     string    `json:"semantic_reason,omitempty"`
	Gated              bool      `json:"gated"`
	ApprovalRequired   bool      `json:"approval_required"`
	ApprovalTokenHash  string    `json:"-"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// MappingStore keeps token to original value maps in RAM.
// Mappings are never serialized into any response.
type MappingStore struct {
	store *ttlstore.Store[string, map[string]string]
}

// NewMappingStore creates a MappingStore
func NewMappingStore(ttl time.Duration, opts ...ttlstore.Option) *MappingStore {
	return &MappingStore{store: ttlstore.New[string, map[string]string](ttl, opts...)}
}

// Set replaces the mapping of eventID with a copy of mapping
func (s *MappingStore) Set(eventID string, mapping map[string]string) time.Time {
	return s.store.Set(eventID, copyMapping(mapping))
}

// Get returns a copy of the mapping of eventID
func (s *MappingStore) Get(eventID string) (map[string]string, bool) {
	m, ok := s.store.Get(eventID)
	if !ok {
		return nil, false
	}
	return copyMapping(m), true
}

// Delete drops the mapping of eventID
func (s *MappingStore) Delete(eventID string) {
	s.store.Delete(eventID)
}

// Sweep drops expired mappings
func (s *MappingStore) Sweep() int {
	return s.store.Sweep()
}

// Stats returns store statistics
func (s *MappingStore) Stats() ttlstore.Stats {
	return s.store.Stats()
}

// StatusStore keeps the per-event PrivacyStatus in RAM
type StatusStore struct {
	store *ttlstore.Store[string, PrivacyStatus]
}

// NewStatusStore creates a StatusStore
func NewStatusStore(ttl time.Duration, opts ...ttlstore.Option) *StatusStore {
	return &StatusStore{store: ttlstore.New[string, PrivacyStatus](ttl, opts...)}
}

// Set stores status. The gate fields are recomputed from the verification
// and semantic results, so a stored status always satisfies
// gated == !verification_passed || semantic_risk.
func (s *StatusStore) Set(status PrivacyStatus) PrivacyStatus {
	gate := policy.Gate(status.VerificationPassed, status.SemanticRisk)
	status.Gated = gate.Gated
	status.ApprovalRequired = gate.ApprovalRequired
	if !status.ApprovalRequired {
		status.ApprovalTokenHash = ""
	}

	status.ExpiresAt = s.store.Set(status.EventID, status)
	return status
}

// Get returns the status of eventID with the deadline the store enforces
func (s *StatusStore) Get(eventID string) (PrivacyStatus, bool) {
	status, expiresAt, ok := s.store.GetWithExpiry(eventID)
	if !ok {
		return PrivacyStatus{}, false
	}
	status.ExpiresAt = expiresAt
	return status, true
}

// Delete drops the status of eventID
func (s *StatusStore) Delete(eventID string) {
	s.store.Delete(eventID)
}

// Sweep drops expired statuses
func (s *StatusStore) Sweep() int {
	return s.store.Sweep()
}

// Stats returns store statistics
func (s *StatusStore) Stats() ttlstore.Stats {
	return s.store.Stats()
}

func copyMapping(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
