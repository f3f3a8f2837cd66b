// Package egress holds the process-wide switch every outbound call must pass.
package egress

import (
	"errors"

	"github.com/upb/privacy-shield/internal/policy"
	"go.uber.org/zap"
)

// ErrEgressBlocked is returned by EnsureAllowed under the locked-down profile
var ErrEgressBlocked = errors.New("egress blocked by deployment profile")

// Policy decides whether outbound traffic is allowed
type Policy interface {
	Egress() policy.Decision
}

// Guard consults the egress policy before any outbound call
type Guard struct {
	policy Policy
	logger *zap.Logger
}

// NewGuard creates a Guard
func NewGuard(p Policy, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{policy: p, logger: logger}
}

// EnsureAllowed returns nil when outbound calls are permitted and
// ErrEgressBlocked otherwise. A guard without a policy blocks everything.
func (g *Guard) EnsureAllowed(target string) error {
	if g == nil || g.policy == nil {
		return ErrEgressBlocked
	}
	decision := g.policy.Egress()
	if decision.Allowed {
		return nil
	}
	g.logger.Warn("outbound call blocked",
		zap.String("target", target),
		zap.String("reason", decision.Reason))
	return ErrEgressBlocked
}
