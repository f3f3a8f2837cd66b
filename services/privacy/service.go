// Package privacy runs the scrub pipeline: pre-flight detection, bounded
// masking with verification, semantic audit, gating and approval.
//
// Everything the pipeline keeps lives in RAM stores with a TTL. Responses
// and logs carry clean text, reason codes, counts, booleans and hashes only.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/upb/privacy-shield/internal/anonymizer"
	"github.com/upb/privacy-shield/internal/detector"
	"github.com/upb/privacy-shield/internal/keylock"
	"github.com/upb/privacy-shield/internal/observability"
	"github.com/upb/privacy-shield/internal/policy"
	"github.com/upb/privacy-shield/services"
	"github.com/upb/privacy-shield/services/approval"
	"github.com/upb/privacy-shield/services/audit"
	"github.com/upb/privacy-shield/services/receipt"
	"go.uber.org/zap"
)

// Retry budget bounds
const (
	DefaultMaxRetries = 2
	MaxRetriesLimit   = 5
)

// reasonResidualOriginal is reported by Mask when an original value
// survived masking without matching any detector pattern
const reasonResidualOriginal = "residual_original_value"

// Config holds pipeline configuration
type Config struct {
	DefaultMaxRetries int
	MaxRetriesLimit   int
	DefaultLanguage   string
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		DefaultMaxRetries: DefaultMaxRetries,
		MaxRetriesLimit:   MaxRetriesLimit,
		DefaultLanguage:   "sv",
	}
}

// Components are the collaborators of the pipeline. Nil stores are replaced
// with fresh ones using the default TTLs.
type Components struct {
	Events    RawSource
	Masker    Masker
	Verifier  Verifier
	Auditor   SemanticAuditor
	Policy    AnonymizationPolicy
	Approvals *approval.Service
	Mappings  *MappingStore
	Statuses  *StatusStore
	Receipts  *receipt.Ledger
	Audit     *audit.AuditService
	Metrics   observability.Metrics
}

// Service orchestrates the privacy pipeline
type Service struct {
	events    RawSource
	masker    Masker
	verify    Verifier
	retry     *RetryOrchestrator
	auditor   SemanticAuditor
	policy    AnonymizationPolicy
	approvals *approval.Service
	mappings  *MappingStore
	statuses  *StatusStore
	receipts  *receipt.Ledger
	trail     *audit.AuditService
	metrics   observability.Metrics
	locks     *keylock.Locker[string]
	config    Config
	logger    *observability.ContextLogger
}

// NewService creates a new privacy service
func NewService(c Components, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRetriesLimit <= 0 {
		config.MaxRetriesLimit = MaxRetriesLimit
	}
	if config.DefaultMaxRetries < 0 || config.DefaultMaxRetries > config.MaxRetriesLimit {
		config.DefaultMaxRetries = DefaultMaxRetries
	}
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "sv"
	}
	if c.Masker == nil {
		c.Masker = anonymizer.New(anonymizer.DefaultConfig(), logger)
	}
	if c.Verifier == nil {
		c.Verifier = detector.Verify
	}
	if c.Policy == nil {
		c.Policy = policy.NewEngine("", "")
	}
	if c.Approvals == nil {
		c.Approvals = approval.NewService(approval.DefaultTTL, logger)
	}
	if c.Mappings == nil {
		c.Mappings = NewMappingStore(DefaultMappingTTL)
	}
	if c.Statuses == nil {
		c.Statuses = NewStatusStore(DefaultStatusTTL)
	}
	if c.Receipts == nil {
		c.Receipts = receipt.NewLedger(receipt.DefaultTTL)
	}
	if c.Metrics == nil {
		c.Metrics = observability.NopMetrics{}
	}

	return &Service{
		events:    c.Events,
		masker:    c.Masker,
		verify:    c.Verifier,
		retry:     NewRetryOrchestrator(c.Masker, c.Verifier),
		auditor:   c.Auditor,
		policy:    c.Policy,
		approvals: c.Approvals,
		mappings:  c.Mappings,
		statuses:  c.Statuses,
		receipts:  c.Receipts,
		trail:     c.Audit,
		metrics:   c.Metrics,
		locks:     keylock.New[string](),
		config:    config,
		logger:    observability.NewContextLogger(logger),
	}
}

// Scrub masks the raw text of an event, verifies it, audits it and decides
// whether it is gated. Runs for the same event id never interleave.
func (s *Service) Scrub(ctx context.Context, req ScrubRequest) (*ScrubResult, error) {
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "event_id is required", nil)
	}
	maxRetries, err := s.resolveMaxRetries(req.MaxRetries)
	if err != nil {
		return nil, err
	}
	language := req.Language
	if language == "" {
		language = s.config.DefaultLanguage
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	if s.events == nil {
		return nil, services.WrapInternal("no event source configured", nil)
	}

	pc := &pipelineContext{
		eventID:    eventID,
		requestID:  observability.RequestIDFromContext(ctx),
		startTime:  time.Now(),
		maxRetries: maxRetries,
	}

	s.logger.Info(ctx, "starting scrub pipeline",
		zap.String("event_id", eventID),
		zap.Bool("production_mode", req.ProductionMode),
		zap.Int("max_retries", maxRetries))

	raw, err := s.events.Raw(ctx, eventID)
	if err != nil {
		if services.IsNotFoundError(err) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, services.WrapInternal("failed to load event", err)
	}

	s.receipts.Reset(eventID)

	// Step 1: pre-flight detection, counts only
	s.logger.Debug(ctx, "step 1: pre-flight detection", zap.String("event_id", eventID))
	s.preflight(pc, raw)

	// Step 2: mask and verify with escalation
	s.logger.Debug(ctx, "step 2: masking with verification", zap.String("event_id", eventID))
	outcome, err := s.retry.Run(ctx, anonymizer.Request{
		Text:           raw,
		EventID:        eventID,
		ProductionMode: req.ProductionMode,
		Language:       language,
	}, maxRetries, func(a Attempt) { s.recordAttempt(pc, a) })
	if err != nil {
		mapped := mapMaskingError(err)
		s.abandon(ctx, eventID, string(services.GetErrorType(mapped)))
		return nil, mapped
	}
	pc.retry = outcome
	pc.final = outcome.Final.Result
	pc.verified = outcome.Verified()

	if decision := s.policy.Anonymization(req.ProductionMode, pc.final.IsAnonymized); !decision.Allowed {
		s.abandon(ctx, eventID, string(policy.ViolationNotAnonymized))
		return nil, services.ErrAnonymizationFailed
	}

	// Step 3: semantic audit, only for verified text
	s.logger.Debug(ctx, "step 3: semantic audit", zap.String("event_id", eventID), zap.Bool("verified", pc.verified))
	s.semanticAudit(ctx, pc)

	// Step 4: gate
	s.logger.Debug(ctx, "step 4: gate decision", zap.String("event_id", eventID))
	pc.gate = policy.Gate(pc.verified, pc.audit.Risk)
	s.recordGate(pc)

	// Step 5: stores
	s.mappings.Set(eventID, pc.final.Mapping)

	var token *approval.Token
	if pc.gate.ApprovalRequired {
		token, err = s.approvals.Generate(eventID)
		if err != nil {
			s.logger.Error(ctx, "failed to issue approval token", zap.String("event_id", eventID), zap.Error(err))
			s.abandon(ctx, eventID, string(services.ErrorTypeInternal))
			return nil, services.WrapInternal("failed to issue approval token", err)
		}
		pc.tokenHash = token.Hash
		pc.tokenExpiry = token.ExpiresAt
	}

	status := s.statuses.Set(PrivacyStatus{
		EventID:            eventID,
		VerificationPassed: pc.verified,
		SemanticRisk:       pc.audit.Risk,
		SemanticReason:     pc.audit.Reason,
		ApprovalTokenHash:  pc.tokenHash,
	})
	s.receipts.SetCleanTextHash(eventID, pc.final.CleanText)

	rec, _ := s.receipts.Get(eventID)

	result := &ScrubResult{
		EventID:            eventID,
		VerificationPassed: status.VerificationPassed,
		SemanticRisk:       status.SemanticRisk,
		SemanticReason:     status.SemanticReason,
		Gated:              status.Gated,
		ApprovalRequired:   status.ApprovalRequired,
		IsAnonymized:       pc.final.IsAnonymized,
		CleanText:          pc.final.CleanText,
		Attempts:           outcome.Attempts,
		Receipt:            rec,
	}
	if token != nil {
		result.ApprovalToken = token.Plaintext
		expires := token.ExpiresAt
		result.ApprovalExpiresAt = &expires
	}

	s.metrics.RecordScrub(observability.ScrubLabels{
		VerificationPassed: status.VerificationPassed,
		SemanticRisk:       status.SemanticRisk,
		AuditAvailable:     pc.auditRan && pc.audit.Available(),
		Gated:              status.Gated,
		Attempts:           outcome.Attempts,
	})

	entry := audit.NewEntry(eventID, audit.ActionScrubCompleted).
		WithOutcome(status.VerificationPassed, status.SemanticRisk, status.Gated).
		WithAttempts(outcome.Attempts)
	if status.SemanticReason != "" {
		entry.WithReasons(status.SemanticReason)
	}
	s.record(ctx, entry)
	if token != nil {
		s.record(ctx, audit.NewEntry(eventID, audit.ActionApprovalIssued))
	}

	s.logger.Info(ctx, "scrub pipeline completed",
		zap.String("event_id", eventID),
		zap.Int("attempts", outcome.Attempts),
		zap.Bool("verification_passed", status.VerificationPassed),
		zap.Bool("semantic_risk", status.SemanticRisk),
		zap.Bool("gated", status.Gated),
		zap.String("clean_text_sha256", receipt.HashText(pc.final.CleanText)),
		zap.Duration("duration", time.Since(pc.startTime)))

	return result, nil
}

// Mask masks free text without an event. Any residual detection fails the
// whole call with a leak error; no partial output is returned.
func (s *Service) Mask(ctx context.Context, req MaskRequest) (*MaskResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, services.ErrEmptyText
	}
	level, err := levelForMode(req.Mode)
	if err != nil {
		return nil, err
	}
	language := req.Language
	if language == "" {
		language = s.config.DefaultLanguage
	}

	result, err := s.masker.Anonymize(ctx, anonymizer.Request{
		Text:     req.Text,
		Level:    level,
		Language: language,
	})
	if err != nil {
		return nil, mapMaskingError(err)
	}

	verification := s.verify(result.CleanText)
	if !verification.Passed || !result.IsAnonymized {
		reasons := verification.FailureStrings()
		if !result.IsAnonymized {
			reasons = append(reasons, reasonResidualOriginal)
		}
		s.metrics.RecordMask(true)
		s.record(ctx, audit.NewEntry("", audit.ActionMaskLeakBlocked).WithReasons(reasons...))
		s.logger.Warn(ctx, "mask blocked on residual detection", zap.Strings("reason_codes", reasons))
		return nil, services.NewDomainError(services.ErrorTypeLeakDetected, services.ErrLeakDetected.Message, nil).
			WithDetail("reason_codes", reasons)
	}

	leakMetrics := make(map[string]int, len(detector.Categories))
	for category, n := range detector.Detect(result.CleanText) {
		leakMetrics[string(category)] = n
	}

	s.metrics.RecordMask(false)
	s.record(ctx, audit.NewEntry("", audit.ActionMaskCompleted))

	return &MaskResult{
		MaskedText:  result.CleanText,
		Entities:    entityCounts(result.Entities),
		Provider:    anonymizer.ModelID,
		LeakMetrics: leakMetrics,
	}, nil
}

// Status returns the gating decision of an event. Downstream consumers must
// use this rather than inspect clean text.
func (s *Service) Status(ctx context.Context, eventID string) (*PrivacyStatus, error) {
	status, ok := s.statuses.Get(eventID)
	if !ok {
		return nil, services.ErrStatusNotFound
	}
	return &status, nil
}

// Release decides whether a downstream consumer may use the event. A gated
// event needs the approval token issued by its latest scrub.
func (s *Service) Release(ctx context.Context, eventID, token string) (*ReleaseDecision, error) {
	status, ok := s.statuses.Get(eventID)
	if !ok {
		return nil, services.ErrStatusNotFound
	}

	decision := &ReleaseDecision{EventID: eventID, Gated: status.Gated}
	switch {
	case !status.Gated:
		decision.Allowed = true
		decision.Reason = ReleaseNotGated
	case token == "":
		decision.Reason = ReleaseTokenRequired
	case approval.Hash(token) == status.ApprovalTokenHash && s.approvals.Verify(token, eventID):
		decision.Allowed = true
		decision.Reason = ReleaseApproved
	default:
		decision.Reason = ReleaseTokenInvalid
	}

	s.metrics.RecordRelease(decision.Allowed)
	if decision.Allowed {
		s.record(ctx, audit.NewEntry(eventID, audit.ActionReleaseGranted).WithReasons(decision.Reason))
		return decision, nil
	}

	s.record(ctx, audit.NewEntry(eventID, audit.ActionReleaseDenied).WithReasons(decision.Reason))
	s.logger.Info(ctx, "release denied", zap.String("event_id", eventID), zap.String("reason", decision.Reason))
	return nil, services.NewDomainError(services.ErrorTypeForbidden, services.ErrApprovalRequired.Message, nil).
		WithDetail("reason", decision.Reason)
}

// Receipt returns the content-free receipt of an event
func (s *Service) Receipt(ctx context.Context, eventID string) (*receipt.Receipt, error) {
	rec, ok := s.receipts.Get(eventID)
	if !ok {
		return nil, services.ErrReceiptNotFound
	}
	return rec, nil
}

// Sweep drops expired entries from every pipeline store
func (s *Service) Sweep() map[string]int {
	return map[string]int{
		"mappings":  s.mappings.Sweep(),
		"statuses":  s.statuses.Sweep(),
		"approvals": s.approvals.Sweep(),
		"receipts":  s.receipts.Sweep(),
	}
}

// StoreStats reports the size of every pipeline store
func (s *Service) StoreStats() map[string]int {
	return map[string]int{
		"mappings":  s.mappings.Stats().Size,
		"statuses":  s.statuses.Stats().Size,
		"approvals": s.approvals.Stats().Size,
		"receipts":  s.receipts.Stats().Size,
		"locks":     s.locks.Len(),
	}
}

func (s *Service) resolveMaxRetries(requested *int) (int, error) {
	if requested == nil {
		return s.config.DefaultMaxRetries, nil
	}
	n := *requested
	if n < 0 || n > s.config.MaxRetriesLimit {
		return 0, services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidMaxRetries.Message, nil).
			WithDetail("min", 0).
			WithDetail("max", s.config.MaxRetriesLimit)
	}
	return n, nil
}

func (s *Service) preflight(pc *pipelineContext, raw string) {
	start := time.Now()
	pc.preflight = detector.Detect(raw)

	total := 0
	for _, n := range pc.preflight {
		total += n
	}
	metrics := categoryCounts(pc.preflight)
	metrics["total"] = total

	s.receipts.AddStep(pc.eventID, receipt.Step{
		Name:      StepPreflight,
		Status:    receipt.StatusOK,
		StartedAt: start,
		EndedAt:   time.Now(),
		Metrics:   metrics,
	})
}

// recordAttempt writes the L1 and L2 steps of one attempt
func (s *Service) recordAttempt(pc *pipelineContext, a Attempt) {
	masking := receipt.Step{
		Name:      fmt.Sprintf(StepAttempt, a.Number),
		Status:    receipt.StatusOK,
		ModelID:   anonymizer.ModelID,
		StartedAt: a.StartedAt,
		EndedAt:   a.EndedAt,
		Metrics:   map[string]interface{}{"level": int(a.Level)},
	}
	var failures []string
	if a.NotAnonymized {
		masking.Status = receipt.StatusFailed
		masking.Metrics["reason"] = string(policy.ViolationNotAnonymized)
		failures = []string{string(policy.ViolationNotAnonymized)}
	} else {
		masking.Metrics["tokens_created"] = len(a.Result.Mapping)
		masking.Metrics["is_anonymized"] = a.Result.IsAnonymized
		failures = a.Verification.FailureStrings()
	}
	s.receipts.AddStep(pc.eventID, masking)

	verification := receipt.Step{
		Name:      StepVerification,
		StartedAt: a.EndedAt,
		EndedAt:   a.EndedAt,
		Metrics: map[string]interface{}{
			"attempt":  a.Number,
			"failures": failures,
		},
	}
	switch {
	case a.Result != nil && a.Verification.Passed:
		verification.Status = receipt.StatusOK
	case a.Number >= pc.maxRetries:
		verification.Status = receipt.StatusFailed
	default:
		verification.Status = receipt.StatusRetry
	}
	s.receipts.AddStep(pc.eventID, verification)
}

// semanticAudit fills pc.audit. Unverified text is never sent out.
func (s *Service) semanticAudit(ctx context.Context, pc *pipelineContext) {
	if !pc.verified {
		pc.audit.Risk = false
		s.receipts.AddFlag(pc.eventID, FlagVerificationFailed)
		s.receipts.AddStep(pc.eventID, receipt.Step{
			Name:    StepSemantic,
			Status:  receipt.StatusSkipped,
			Metrics: map[string]interface{}{"reason": FlagVerificationFailed},
		})
		return
	}

	start := time.Now()
	modelID := ""
	if s.auditor == nil {
		pc.audit.Risk = true
		pc.audit.Reason = policy.ReasonAuditUnavailable
	} else {
		pc.audit = s.auditor.Audit(ctx, pc.eventID, pc.final.CleanText)
		modelID = s.auditor.ModelID()
	}
	pc.auditRan = true

	step := receipt.Step{
		Name:      StepSemantic,
		Status:    receipt.StatusOK,
		ModelID:   modelID,
		StartedAt: start,
		EndedAt:   time.Now(),
		Metrics:   map[string]interface{}{"risk": pc.audit.Risk},
	}
	if pc.audit.Risk {
		step.Status = receipt.StatusBlocked
		step.Metrics["reason"] = pc.audit.Reason
		s.receipts.AddFlag(pc.eventID, FlagSemanticRisk)
	}
	s.receipts.AddStep(pc.eventID, step)
}

// abandon ends a failed run. The previous status and mapping of the event
// are dropped, which also voids any approval bound to that status, and the
// receipt is marked failed with no clean text hash.
func (s *Service) abandon(ctx context.Context, eventID, reason string) {
	s.statuses.Delete(eventID)
	s.mappings.Delete(eventID)
	s.receipts.AddStep(eventID, receipt.Step{
		Name:    StepGate,
		Status:  receipt.StatusFailed,
		Metrics: map[string]interface{}{"reason": reason},
	})
	s.receipts.AddFlag(eventID, FlagScrubFailed)

	s.record(ctx, audit.NewEntry(eventID, audit.ActionScrubFailed).WithReasons(reason))
	s.logger.Warn(ctx, "scrub pipeline failed",
		zap.String("event_id", eventID),
		zap.String("reason", reason))
}

func (s *Service) recordGate(pc *pipelineContext) {
	status := receipt.StatusOK
	if pc.gate.Gated {
		status = receipt.StatusBlocked
	}
	s.receipts.AddStep(pc.eventID, receipt.Step{
		Name:   StepGate,
		Status: status,
		Metrics: map[string]interface{}{
			"gated":             pc.gate.Gated,
			"approval_required": pc.gate.ApprovalRequired,
		},
	})
}

func (s *Service) record(ctx context.Context, entry *audit.Entry) {
	if s.trail == nil {
		return
	}
	entry.WithRequest(observability.RequestIDFromContext(ctx))
	if err := s.trail.LogEvent(entry); err != nil {
		s.logger.Debug(ctx, "audit entry not recorded", zap.String("action", string(entry.Action)), zap.Error(err))
	}
}

func levelForMode(mode string) (anonymizer.Level, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeBalanced:
		return anonymizer.LevelBalanced, nil
	case ModeStrict:
		return anonymizer.LevelBroad, nil
	default:
		return 0, services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidMaskMode.Message, nil).
			WithDetail("allowed", []string{ModeStrict, ModeBalanced})
	}
}

// mapMaskingError translates anonymizer errors into the domain taxonomy
func mapMaskingError(err error) error {
	switch {
	case errors.Is(err, anonymizer.ErrInvalidInput):
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidInput.Message, err)
	case errors.Is(err, anonymizer.ErrInputTooLarge):
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrTextTooLarge.Message, err)
	case errors.Is(err, anonymizer.ErrNotAnonymized):
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrAnonymizationFailed.Message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case services.GetErrorType(err) != "":
		return err
	default:
		return services.WrapInternal("masking failed", err)
	}
}
