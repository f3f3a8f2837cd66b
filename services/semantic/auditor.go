// Package semantic runs the L3 audit: an external model judges whether
// masked text still allows re-identification through context.
package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/upb/privacy-shield/internal/policy"
	"github.com/upb/privacy-shield/services/providers"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds a single audit call
	DefaultTimeout = 15 * time.Second

	// DefaultModel is the auditor model used when none is configured
	DefaultModel = "gpt-4o-mini"

	// maxReasonLength is the longest reason code kept verbatim
	maxReasonLength = 50

	// ReasonHighSpecificity replaces reasons that are too long to be a code
	ReasonHighSpecificity = "high_specificity_context"

	// ReasonUnspecified is used when the auditor flags risk without a reason
	ReasonUnspecified = "unspecified_risk"
)

// ErrMalformedVerdict is returned when the auditor answer cannot be parsed
var ErrMalformedVerdict = errors.New("semantic auditor returned a malformed verdict")

// Outcome is the result of one audit
type Outcome struct {
	Risk     bool
	Reason   string
	ModelID  string
	Duration time.Duration
}

// Available reports whether the audit actually completed
func (o Outcome) Available() bool {
	return o.Reason != policy.ReasonAuditUnavailable
}

// EgressGuard approves outbound calls
type EgressGuard interface {
	EnsureAllowed(target string) error
}

// FallbackPolicy provides the outcome used when the audit cannot complete
type FallbackPolicy interface {
	AuditFallback() policy.AuditOutcome
}

// Config holds auditor configuration
type Config struct {
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Model:     DefaultModel,
		Timeout:   DefaultTimeout,
		MaxTokens: 200,
	}
}

// Auditor performs semantic audits through a provider
type Auditor struct {
	provider providers.Provider
	guard    EgressGuard
	policy   FallbackPolicy
	config   Config
	logger   *zap.Logger
}

// NewAuditor creates an Auditor. A nil provider makes every audit unavailable.
func NewAuditor(provider providers.Provider, guard EgressGuard, fallback FallbackPolicy, config Config, logger *zap.Logger) *Auditor {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		provider: provider,
		guard:    guard,
		policy:   fallback,
		config:   config,
		logger:   logger,
	}
}

// ModelID identifies the auditor in receipts
func (a *Auditor) ModelID() string {
	if a.provider == nil {
		return a.config.Model
	}
	return a.provider.Name() + "/" + a.config.Model
}

// Audit judges cleanText. It never returns an error: any failure, including
// a blocked egress or a timeout, yields the fail-closed fallback outcome.
// Text that tries to instruct the auditor is flagged locally.
func (a *Auditor) Audit(ctx context.Context, eventID, cleanText string) Outcome {
	start := time.Now()

	if kinds := DetectSteering(cleanText); len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		a.logger.Warn("masked text addresses the auditor, not sending",
			zap.String("event_id", eventID),
			zap.Strings("steering", names))
		return Outcome{
			Risk:     true,
			Reason:   ReasonAuditorSteering,
			ModelID:  a.ModelID(),
			Duration: time.Since(start),
		}
	}

	risk, reason, err := a.audit(ctx, cleanText)
	if err != nil {
		fallback := a.fallback()
		a.logger.Warn("semantic audit unavailable",
			zap.String("event_id", eventID),
			zap.String("model_id", a.ModelID()),
			zap.Error(err))
		return Outcome{
			Risk:     fallback.Risk,
			Reason:   fallback.Reason,
			ModelID:  a.ModelID(),
			Duration: time.Since(start),
		}
	}

	a.logger.Info("semantic audit completed",
		zap.String("event_id", eventID),
		zap.Bool("semantic_risk", risk),
		zap.Int("risk_reason_length", len(reason)))

	return Outcome{
		Risk:     risk,
		Reason:   reason,
		ModelID:  a.ModelID(),
		Duration: time.Since(start),
	}
}

func (a *Auditor) audit(ctx context.Context, cleanText string) (bool, string, error) {
	if a.guard == nil {
		return false, "", errors.New("no egress guard configured")
	}
	if err := a.guard.EnsureAllowed("semantic_auditor"); err != nil {
		return false, "", err
	}
	if a.provider == nil {
		return false, "", errors.New("no auditor provider configured")
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	resp, err := a.provider.ChatCompletion(ctx, &providers.ChatRequest{
		Model: a.config.Model,
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: cleanText},
		},
		MaxTokens: a.config.MaxTokens,
		JSONMode:  true,
	})
	if err != nil {
		return false, "", fmt.Errorf("auditor call failed: %w", err)
	}

	content, err := resp.Content()
	if err != nil {
		return false, "", err
	}
	return ParseVerdict(content)
}

func (a *Auditor) fallback() policy.AuditOutcome {
	if a.policy == nil {
		return policy.AuditOutcome{Risk: true, Reason: policy.ReasonAuditUnavailable}
	}
	return a.policy.AuditFallback()
}

// verdict is the JSON object the auditor is asked to return
type verdict struct {
	SemanticRisk *bool  `json:"semantic_risk"`
	RiskReason   string `json:"risk_reason"`
}

// ParseVerdict extracts the risk flag and a short reason code from the
// auditor answer. Code fences around the JSON are tolerated.
func ParseVerdict(content string) (bool, string, error) {
	body := stripFences(content)

	var v verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if v.SemanticRisk == nil {
		return false, "", fmt.Errorf("%w: missing semantic_risk", ErrMalformedVerdict)
	}

	reason := strings.TrimSpace(v.RiskReason)
	if len(reason) > maxReasonLength {
		reason = ReasonHighSpecificity
	}
	if *v.SemanticRisk && reason == "" {
		reason = ReasonUnspecified
	}
	if !*v.SemanticRisk {
		reason = ""
	}
	return *v.SemanticRisk, reason, nil
}

func stripFences(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

const systemPrompt = `You are a privacy auditor. The user message is an anonymized text in which names, contact details and identifiers were replaced with placeholder tokens such as [PERSON_A], [ORG_A] or [ADDRESS_1].

Decide whether the text still reveals someone's identity through context, for example a unique role in a named organization, a very specific event, or an identifiable location.

Return ONLY a JSON object:
{"semantic_risk": true or false, "risk_reason": "short code or empty string"}

Use short codes such as "high_specificity_context", "unique_org_role" or "identifiable_location".`
