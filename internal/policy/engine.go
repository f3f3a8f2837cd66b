package policy

import "strings"

// Engine evaluates the process-wide privacy policy. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	environment string
	profile     string
}

// NewEngine creates an Engine for the given deployment environment and profile.
func NewEngine(environment, profile string) *Engine {
	return &Engine{
		environment: strings.ToLower(strings.TrimSpace(environment)),
		profile:     strings.ToLower(strings.TrimSpace(profile)),
	}
}

// LockedDown reports whether the engine runs under the locked-down profile.
func (e *Engine) LockedDown() bool {
	return e.environment == ProductionEnvironment && e.profile == LockedDownProfile
}

// Egress decides whether outbound network calls are allowed.
func (e *Engine) Egress() Decision {
	if e.LockedDown() {
		return Decision{
			Allowed: false,
			Reason:  "egress blocked in " + LockedDownProfile + " profile",
			Violations: []Violation{{
				Type:    ViolationEgress,
				Message: "outbound calls are disabled for this deployment",
			}},
		}
	}
	return Decision{Allowed: true}
}

// Anonymization decides whether a masking result may be returned to the caller.
// Outside production mode an unanonymized result is still returned, flagged.
func (e *Engine) Anonymization(productionMode, isAnonymized bool) Decision {
	if productionMode && !isAnonymized {
		return Decision{
			Allowed: false,
			Reason:  "production mode requires anonymized output",
			Violations: []Violation{{
				Type:    ViolationNotAnonymized,
				Message: "masking could not guarantee anonymized output",
			}},
		}
	}
	return Decision{Allowed: true}
}

// AuditFallback is the outcome used whenever the semantic audit cannot complete.
func (e *Engine) AuditFallback() AuditOutcome {
	return AuditOutcome{Risk: true, Reason: ReasonAuditUnavailable}
}

// Gate combines the verification and semantic audit results.
// Every gated event requires approval.
func Gate(verificationPassed, semanticRisk bool) GateDecision {
	gated := !verificationPassed || semanticRisk
	return GateDecision{Gated: gated, ApprovalRequired: gated}
}
