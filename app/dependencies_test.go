package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/privacy-shield/config"
	"github.com/upb/privacy-shield/internal/policy"
	"github.com/upb/privacy-shield/services/privacy"
	"go.uber.org/zap"
)

const scenarioText = "Anna Berg (anna@example.com) ringde 070-1234567 om Storgatan 12."

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Profile:     config.ProfileDefault,
		Server:      config.ServerConfig{Port: 8080, MaxBodyBytes: 1 << 20},
		Privacy:     config.PrivacyConfig{MaxChars: 50000, DefaultMaxRetries: 2, DefaultLanguage: "sv"},
		Stores: config.StoreConfig{
			EventTTL:      time.Minute,
			MappingTTL:    time.Minute,
			StatusTTL:     time.Minute,
			ApprovalTTL:   time.Minute,
			ReceiptTTL:    time.Minute,
			SweepInterval: 10 * time.Millisecond,
		},
		AuditTrail:    config.AuditTrailConfig{BufferSize: 16, WorkerCount: 1},
		Observability: config.ObservabilityConfig{LogLevel: "info"},
	}
}

// auditorServer answers chat completions with a fixed verdict and counts calls
func auditorServer(t *testing.T, verdict string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": verdict},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDeps(t *testing.T, cfg *config.Config) *Dependencies {
	t.Helper()
	deps, err := NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })
	return deps
}

func scrubScenario(t *testing.T, deps *Dependencies) *privacy.ScrubResult {
	t.Helper()
	ctx := context.Background()
	event, err := deps.Events.Create(ctx, scenarioText, "test")
	require.NoError(t, err)

	result, err := deps.Privacy.Scrub(ctx, privacy.ScrubRequest{EventID: event.ID, ProductionMode: true})
	require.NoError(t, err)
	return result
}

func TestNewDependencies(t *testing.T) {
	t.Run("wires every component", func(t *testing.T) {
		deps := newDeps(t, testConfig())

		assert.NotNil(t, deps.Policy)
		assert.NotNil(t, deps.Egress)
		assert.NotNil(t, deps.Events)
		assert.NotNil(t, deps.Approvals)
		assert.NotNil(t, deps.Mappings)
		assert.NotNil(t, deps.Statuses)
		assert.NotNil(t, deps.Receipts)
		assert.NotNil(t, deps.Counters)
		assert.NotNil(t, deps.Privacy)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.False(t, deps.AuthMiddleware.Enabled())
		assert.Nil(t, deps.Auditor)
		assert.NoError(t, deps.CheckAuditTrail(context.Background()))
	})

	t.Run("nil config", func(t *testing.T) {
		_, err := NewDependencies(context.Background(), nil, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("auth enabled with a secret", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth.JWTSecret = strings.Repeat("k", 32)

		deps := newDeps(t, cfg)
		assert.True(t, deps.AuthMiddleware.Enabled())
	})
}

func TestPipelineWiring(t *testing.T) {
	t.Run("disabled auditor gates verified events", func(t *testing.T) {
		deps := newDeps(t, testConfig())

		result := scrubScenario(t, deps)

		assert.Equal(t, "[PERSON_A] ([EMAIL_1]) ringde [PHONE_1] om [ADDRESS_1].", result.CleanText)
		assert.True(t, result.VerificationPassed)
		assert.True(t, result.SemanticRisk)
		assert.Equal(t, policy.ReasonAuditUnavailable, result.SemanticReason)
		assert.True(t, result.Gated)
		assert.NotEmpty(t, result.ApprovalToken)

		snap := deps.Counters.Snapshot()
		assert.Equal(t, int64(1), snap.Scrubs)
		assert.Equal(t, int64(1), snap.AuditUnavailable)
	})

	t.Run("auditor reached through the openai adapter", func(t *testing.T) {
		var calls int32
		srv := auditorServer(t, `{"semantic_risk": false, "risk_reason": ""}`, &calls)

		cfg := testConfig()
		cfg.Auditor = config.AuditorConfig{Enabled: true, BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini", Timeout: 2 * time.Second}

		deps := newDeps(t, cfg)
		require.NotNil(t, deps.Auditor)
		assert.Equal(t, []string{"openai"}, deps.Providers.ListProviders())

		result := scrubScenario(t, deps)

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.False(t, result.SemanticRisk)
		assert.False(t, result.Gated)
		assert.Empty(t, result.ApprovalToken)
	})

	t.Run("locked-down profile never calls out", func(t *testing.T) {
		var calls int32
		srv := auditorServer(t, `{"semantic_risk": false}`, &calls)

		cfg := testConfig()
		cfg.Environment = "production"
		cfg.Profile = config.ProfileLockedDown
		cfg.Auditor = config.AuditorConfig{Enabled: true, BaseURL: srv.URL, Model: "gpt-4o-mini", Timeout: 2 * time.Second}

		deps := newDeps(t, cfg)
		assert.True(t, deps.Policy.LockedDown())

		result := scrubScenario(t, deps)

		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
		assert.True(t, result.Gated)
		assert.Equal(t, policy.ReasonAuditUnavailable, result.SemanticReason)
	})
}

func TestSweeper(t *testing.T) {
	deps := newDeps(t, testConfig())

	assert.Error(t, deps.CheckSweeper(context.Background()))

	deps.StartSweeper(context.Background())
	deps.StartSweeper(context.Background())
	assert.True(t, deps.SweeperRunning())
	assert.NoError(t, deps.CheckSweeper(context.Background()))

	removed := deps.Sweep()
	for _, key := range []string{"events", "mappings", "statuses", "approvals", "receipts"} {
		assert.Contains(t, removed, key)
	}

	require.NoError(t, deps.Close(context.Background()))
	assert.False(t, deps.SweeperRunning())
	assert.Error(t, deps.CheckAuditTrail(context.Background()))
}

func TestDependenciesClose(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, deps.Close(ctx))
	assert.NoError(t, deps.Close(ctx), "closing twice is harmless")
}
