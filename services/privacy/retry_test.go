package privacy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/privacy-shield/internal/anonymizer"
	"github.com/upb/privacy-shield/internal/detector"
)

// scriptedMasker returns a canned result per call and records the requests
type scriptedMasker struct {
	mu       sync.Mutex
	requests []anonymizer.Request
	respond  func(n int, req anonymizer.Request) (*anonymizer.MaskingResult, error)
}

func (m *scriptedMasker) Anonymize(ctx context.Context, req anonymizer.Request) (*anonymizer.MaskingResult, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.respond(n, req)
}

func (m *scriptedMasker) calls() []anonymizer.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]anonymizer.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func cleanResult(text string) *anonymizer.MaskingResult {
	return &anonymizer.MaskingResult{CleanText: text, Mapping: map[string]string{}, IsAnonymized: true}
}

// leakyMasker always leaves an email behind
func leakyMasker() *scriptedMasker {
	return &scriptedMasker{respond: func(int, anonymizer.Request) (*anonymizer.MaskingResult, error) {
		return cleanResult("still has x@example.com"), nil
	}}
}

func TestRetry_BudgetExhausted(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 5} {
		masker := leakyMasker()
		orchestrator := NewRetryOrchestrator(masker, nil)

		var observed []Attempt
		outcome, err := orchestrator.Run(context.Background(), anonymizer.Request{Text: "raw"}, maxRetries, func(a Attempt) {
			observed = append(observed, a)
		})
		require.NoError(t, err)

		assert.Equal(t, StateFailed, outcome.State)
		assert.False(t, outcome.Verified())
		assert.Equal(t, maxRetries+1, outcome.Attempts)
		assert.Len(t, masker.calls(), maxRetries+1)
		assert.Len(t, observed, maxRetries+1)
		assert.Equal(t, []detector.ReasonCode{detector.ReasonEmail}, outcome.Final.Verification.Failures)
	}
}

func TestRetry_LevelsEscalateFromRawText(t *testing.T) {
	masker := leakyMasker()
	orchestrator := NewRetryOrchestrator(masker, nil)

	_, err := orchestrator.Run(context.Background(), anonymizer.Request{Text: "raw text", EventID: "evt"}, 2, nil)
	require.NoError(t, err)

	calls := masker.calls()
	require.Len(t, calls, 3)
	for i, req := range calls {
		assert.Equal(t, anonymizer.Level(i), req.Level)
		assert.Equal(t, "raw text", req.Text, "every attempt starts from the raw text")
		assert.Equal(t, "evt", req.EventID)
	}
}

func TestRetry_VerifiesOnSecondAttempt(t *testing.T) {
	masker := &scriptedMasker{respond: func(n int, _ anonymizer.Request) (*anonymizer.MaskingResult, error) {
		if n == 0 {
			return cleanResult("call 555-123-4567"), nil
		}
		return cleanResult("call [PHONE_1]"), nil
	}}
	orchestrator := NewRetryOrchestrator(masker, nil)

	outcome, err := orchestrator.Run(context.Background(), anonymizer.Request{Text: "raw"}, 3, nil)
	require.NoError(t, err)

	assert.True(t, outcome.Verified())
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, "call [PHONE_1]", outcome.Final.Result.CleanText)
	assert.Len(t, masker.calls(), 2)
}

func TestRetry_NotAnonymizedEscalates(t *testing.T) {
	masker := &scriptedMasker{respond: func(n int, _ anonymizer.Request) (*anonymizer.MaskingResult, error) {
		if n == 0 {
			return nil, anonymizer.ErrNotAnonymized
		}
		return cleanResult("[PERSON_A] left"), nil
	}}
	orchestrator := NewRetryOrchestrator(masker, nil)

	var observed []Attempt
	outcome, err := orchestrator.Run(context.Background(), anonymizer.Request{Text: "raw", ProductionMode: true}, 2, func(a Attempt) {
		observed = append(observed, a)
	})
	require.NoError(t, err)

	assert.True(t, outcome.Verified())
	require.Len(t, observed, 2)
	assert.True(t, observed[0].NotAnonymized)
	assert.Nil(t, observed[0].Result)
	assert.False(t, observed[1].NotAnonymized)
}

func TestRetry_NotAnonymizedOnFinalAttemptFails(t *testing.T) {
	masker := &scriptedMasker{respond: func(int, anonymizer.Request) (*anonymizer.MaskingResult, error) {
		return nil, anonymizer.ErrNotAnonymized
	}}
	orchestrator := NewRetryOrchestrator(masker, nil)

	var observed []Attempt
	_, err := orchestrator.Run(context.Background(), anonymizer.Request{Text: "raw", ProductionMode: true}, 1, func(a Attempt) {
		observed = append(observed, a)
	})
	assert.ErrorIs(t, err, anonymizer.ErrNotAnonymized)
	assert.Len(t, masker.calls(), 2)

	// the refused final attempt is still observed
	require.Len(t, observed, 2)
	assert.Equal(t, 1, observed[1].Number)
	assert.True(t, observed[1].NotAnonymized)
	assert.False(t, observed[1].EndedAt.IsZero())
}

func TestRetry_OtherErrorsStopImmediately(t *testing.T) {
	boom := errors.New("boom")
	masker := &scriptedMasker{respond: func(int, anonymizer.Request) (*anonymizer.MaskingResult, error) {
		return nil, boom
	}}
	orchestrator := NewRetryOrchestrator(masker, nil)

	_, err := orchestrator.Run(context.Background(), anonymizer.Request{Text: "raw"}, 5, nil)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, masker.calls(), 1)
}

func TestRetry_NegativeBudgetIsOneAttempt(t *testing.T) {
	masker := leakyMasker()
	outcome, err := NewRetryOrchestrator(masker, nil).Run(context.Background(), anonymizer.Request{Text: "raw"}, -3, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestRetry_CustomVerifier(t *testing.T) {
	masker := leakyMasker()
	passAll := func(string) detector.VerificationOutcome { return detector.VerificationOutcome{Passed: true} }

	outcome, err := NewRetryOrchestrator(masker, passAll).Run(context.Background(), anonymizer.Request{Text: "raw"}, 2, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Verified())
	assert.Equal(t, 1, outcome.Attempts)
}
