package privacy

import (
	"context"
	"errors"
	"time"

	"github.com/upb/privacy-shield/internal/anonymizer"
	"github.com/upb/privacy-shield/internal/detector"
)

// RetryState is the state of the masking retry loop
type RetryState string

const (
	StateAttempting RetryState = "attempting"
	StateVerified   RetryState = "verified"
	StateFailed     RetryState = "failed"
)

// Masker produces masked text. *anonymizer.Anonymizer implements it.
type Masker interface {
	Anonymize(ctx context.Context, req anonymizer.Request) (*anonymizer.MaskingResult, error)
}

// Verifier checks masked text for residual patterns
type Verifier func(text string) detector.VerificationOutcome

// Attempt is one masking plus verification pass
type Attempt struct {
	Number       int
	Level        anonymizer.Level
	Result       *anonymizer.MaskingResult
	Verification detector.VerificationOutcome
	// NotAnonymized is set when the masker refused to claim an anonymized result
	NotAnonymized bool
	StartedAt     time.Time
	EndedAt       time.Time
}

// RetryOutcome is the terminal state of the loop
type RetryOutcome struct {
	State    RetryState
	Attempts int
	Final    Attempt
}

// Verified reports whether the loop ended in StateVerified
func (o *RetryOutcome) Verified() bool {
	return o.State == StateVerified
}

// RetryOrchestrator re-masks with escalating aggressiveness until the
// verifier passes or the retry budget is spent.
type RetryOrchestrator struct {
	masker Masker
	verify Verifier
	now    func() time.Time
}

// NewRetryOrchestrator creates a RetryOrchestrator
func NewRetryOrchestrator(masker Masker, verify Verifier) *RetryOrchestrator {
	if verify == nil {
		verify = detector.Verify
	}
	return &RetryOrchestrator{masker: masker, verify: verify, now: time.Now}
}

// Run executes at most maxRetries+1 attempts. Attempt n masks the original
// text from scratch at level n, so no state leaks between attempts.
// observe, when set, is called after every attempt, including a final
// attempt the masker refused to call anonymized.
func (o *RetryOrchestrator) Run(ctx context.Context, req anonymizer.Request, maxRetries int, observe func(Attempt)) (*RetryOutcome, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	state := StateAttempting
	var current Attempt
	n := 0

	for state == StateAttempting {
		current = Attempt{
			Number:    n,
			Level:     anonymizer.Level(n),
			StartedAt: o.now(),
		}

		attemptReq := req
		attemptReq.Level = current.Level
		result, err := o.masker.Anonymize(ctx, attemptReq)
		switch {
		case errors.Is(err, anonymizer.ErrNotAnonymized):
			current.NotAnonymized = true
		case err != nil:
			return nil, err
		default:
			current.Result = result
			current.Verification = o.verify(result.CleanText)
		}
		current.EndedAt = o.now()

		if observe != nil {
			observe(current)
		}
		if current.NotAnonymized && n >= maxRetries {
			return nil, err
		}

		switch {
		case current.Result != nil && current.Verification.Passed:
			state = StateVerified
		case n >= maxRetries:
			state = StateFailed
		default:
			n++
		}
	}

	return &RetryOutcome{
		State:    state,
		Attempts: n + 1,
		Final:    current,
	}, nil
}
