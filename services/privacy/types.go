package privacy

import (
	"context"
	"time"

	"github.com/upb/privacy-shield/internal/anonymizer"
	"github.com/upb/privacy-shield/internal/detector"
	"github.com/upb/privacy-shield/internal/policy"
	"github.com/upb/privacy-shield/services/receipt"
	"github.com/upb/privacy-shield/services/semantic"
)

// Receipt step names and flags
const (
	StepPreflight    = "L0"
	StepAttempt      = "L1_attempt_%d"
	StepVerification = "L2"
	StepSemantic     = "L3"
	StepGate         = "gate"

	FlagVerificationFailed = "verification_failed"
	FlagSemanticRisk       = "semantic_risk"
	FlagScrubFailed        = "scrub_failed"
)

// Mask modes
const (
	ModeBalanced = "balanced"
	ModeStrict   = "strict"
)

// RawSource hands out the raw text of an event
type RawSource interface {
	Raw(ctx context.Context, eventID string) (string, error)
}

// SemanticAuditor is the L3 check. *semantic.Auditor implements it.
type SemanticAuditor interface {
	Audit(ctx context.Context, eventID, cleanText string) semantic.Outcome
	ModelID() string
}

// AnonymizationPolicy decides whether a masking result may be used.
// *policy.Engine implements it.
type AnonymizationPolicy interface {
	Anonymization(productionMode, isAnonymized bool) policy.Decision
}

// ScrubRequest is the input of Scrub
type ScrubRequest struct {
	EventID        string `json:"event_id" validate:"required,event_id"`
	ProductionMode bool   `json:"production_mode"`
	// MaxRetries is optional; nil selects the configured default
	MaxRetries *int   `json:"max_retries,omitempty"`
	Language   string `json:"language,omitempty" validate:"omitempty,max=8"`
}

// ScrubResult is the output of Scrub. ApprovalToken is set only when gated
// and is never stored in plaintext anywhere but the approval store.
type ScrubResult struct {
	EventID            string           `json:"event_id"`
	VerificationPassed bool             `json:"verification_passed"`
	SemanticRisk       bool             `json:"semantic_risk"`
	SemanticReason     string           `json:"semantic_reason,omitempty"`
	Gated              bool             `json:"gated"`
	ApprovalRequired   bool             `json:"approval_required"`
	IsAnonymized       bool             `json:"is_anonymized"`
	CleanText          string           `json:"clean_text"`
	ApprovalToken      string           `json:"approval_token,omitempty"`
	ApprovalExpiresAt  *time.Time       `json:"approval_expires_at,omitempty"`
	Attempts           int              `json:"attempts"`
	Receipt            *receipt.Receipt `json:"receipt"`
}

// MaskRequest is the input of Mask
type MaskRequest struct {
	Text     string `json:"text" validate:"required"`
	Mode     string `json:"mode,omitempty" validate:"omitempty,oneof=strict balanced"`
	Language string `json:"language,omitempty" validate:"omitempty,max=8"`
}

// MaskResult is the output of Mask. It never carries the mapping.
type MaskResult struct {
	MaskedText  string         `json:"masked_text"`
	Entities    map[string]int `json:"entities"`
	Provider    string         `json:"provider"`
	LeakMetrics map[string]int `json:"leak_metrics"`
}

// ReleaseRequest is the input of Release
type ReleaseRequest struct {
	EventID       string `json:"event_id" validate:"required,event_id"`
	ApprovalToken string `json:"approval_token,omitempty" validate:"omitempty,max=256"`
}

// ReleaseDecision answers whether a downstream consumer may use an event
type ReleaseDecision struct {
	EventID string `json:"event_id"`
	Allowed bool   `json:"allowed"`
	Gated   bool   `json:"gated"`
	Reason  string `json:"reason"`
}

// Release reasons
const (
	ReleaseNotGated      = "not_gated"
	ReleaseApproved      = "approval_token_valid"
	ReleaseTokenRequired = "approval_token_required"
	ReleaseTokenInvalid  = "approval_token_invalid"
)

// pipelineContext carries the state of one Scrub run
type pipelineContext struct {
	eventID     string
	requestID   string
	startTime   time.Time
	maxRetries  int
	preflight   map[detector.Category]int
	retry       *RetryOutcome
	final       *anonymizer.MaskingResult
	verified    bool
	audit       semantic.Outcome
	auditRan    bool
	gate        policy.GateDecision
	tokenHash   string
	tokenExpiry time.Time
}

func entityCounts(entities map[anonymizer.EntityType]int) map[string]int {
	out := make(map[string]int, len(entities))
	for k, v := range entities {
		out[string(k)] = v
	}
	return out
}

func categoryCounts(counts map[detector.Category]int) map[string]interface{} {
	out := make(map[string]interface{}, len(counts))
	for k, v := range counts {
		out[string(k)] = v
	}
	return out
}
