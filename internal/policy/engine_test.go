package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate_AllCombinations(t *testing.T) {
	tests := []struct {
		verified bool
		risk     bool
		gated    bool
	}{
		{verified: true, risk: false, gated: false},
		{verified: true, risk: true, gated: true},
		{verified: false, risk: false, gated: true},
		{verified: false, risk: true, gated: true},
	}

	for _, tt := range tests {
		got := Gate(tt.verified, tt.risk)
		assert.Equal(t, tt.gated, got.Gated, "verified=%v risk=%v", tt.verified, tt.risk)
		assert.Equal(t, !tt.verified || tt.risk, got.Gated)
		assert.Equal(t, got.Gated, got.ApprovalRequired)
	}
}

func TestEngine_Egress(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		profile     string
		allowed     bool
	}{
		{"development", "development", "prod_brutal", true},
		{"production default profile", "production", "default", true},
		{"locked down", "production", "prod_brutal", false},
		{"locked down mixed case", " Production ", "PROD_BRUTAL", false},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.environment, tt.profile)
			d := e.Egress()
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, !tt.allowed, e.LockedDown())
			if !tt.allowed {
				if assert.Len(t, d.Violations, 1) {
					assert.Equal(t, ViolationEgress, d.Violations[0].Type)
				}
			}
		})
	}
}

func TestEngine_Anonymization(t *testing.T) {
	e := NewEngine("development", "default")

	assert.True(t, e.Anonymization(false, false).Allowed)
	assert.True(t, e.Anonymization(false, true).Allowed)
	assert.True(t, e.Anonymization(true, true).Allowed)

	d := e.Anonymization(true, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, ViolationNotAnonymized, d.Violations[0].Type)
}

func TestEngine_AuditFallbackFailsClosed(t *testing.T) {
	out := NewEngine("development", "").AuditFallback()
	assert.True(t, out.Risk)
	assert.Equal(t, "audit_unavailable", out.Reason)
}
