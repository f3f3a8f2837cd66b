package policy

// Decision represents the result of a policy evaluation.
type Decision struct {
	Allowed    bool
	Reason     string
	Violations []Violation
}

// Violation represents a specific policy violation.
type Violation struct {
	Type    ViolationType
	Message string
}

// ViolationType categorizes policy violations.
type ViolationType string

const (
	ViolationEgress           ViolationType = "egress_blocked"
	ViolationNotAnonymized    ViolationType = "not_anonymized"
	ViolationAuditUnavailable ViolationType = "audit_unavailable"
)

// GateDecision is the release decision for one event.
type GateDecision struct {
	Gated            bool
	ApprovalRequired bool
}

// AuditOutcome is the policy view of a semantic audit result.
type AuditOutcome struct {
	Risk   bool
	Reason string
}

const (
	// LockedDownProfile is the deployment profile under which no traffic may leave the process
	LockedDownProfile = "prod_brutal"

	// ProductionEnvironment is the environment name the locked-down profile applies to
	ProductionEnvironment = "production"

	// ReasonAuditUnavailable marks a semantic audit that could not complete
	ReasonAuditUnavailable = "audit_unavailable"
)
