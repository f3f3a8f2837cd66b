// Package app wires the service together. Everything the pipeline keeps
// lives in RAM; there is no database to open or migrate.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/privacy-shield/config"
	"github.com/upb/privacy-shield/internal/anonymizer"
	"github.com/upb/privacy-shield/internal/egress"
	"github.com/upb/privacy-shield/internal/observability"
	"github.com/upb/privacy-shield/internal/policy"
	"github.com/upb/privacy-shield/middleware"
	"github.com/upb/privacy-shield/services/approval"
	"github.com/upb/privacy-shield/services/audit"
	"github.com/upb/privacy-shield/services/events"
	"github.com/upb/privacy-shield/services/privacy"
	"github.com/upb/privacy-shield/services/providers"
	"github.com/upb/privacy-shield/services/providers/openai"
	"github.com/upb/privacy-shield/services/receipt"
	"github.com/upb/privacy-shield/services/semantic"
	"go.uber.org/zap"
)

// auditorProvider is the registry name of the semantic auditor's provider
const auditorProvider = "openai"

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Policy
	Policy *policy.Engine
	Egress *egress.Guard

	// Semantic audit; Auditor is nil when disabled
	Providers *providers.Registry
	Auditor   *semantic.Auditor

	// RAM stores
	Events    *events.Service
	Approvals *approval.Service
	Mappings  *privacy.MappingStore
	Statuses  *privacy.StatusStore
	Receipts  *receipt.Ledger

	// Pipeline
	AuditTrail *audit.AuditService
	Counters   *observability.Counters
	Privacy    *privacy.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initPolicy(cfg)

	if err := deps.initAuditor(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize semantic auditor: %w", err)
	}

	deps.initStores(cfg)

	if err := deps.initPipeline(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("environment", cfg.Environment),
		zap.String("profile", cfg.Profile),
		zap.Bool("locked_down", deps.Policy.LockedDown()),
		zap.Bool("auditor_enabled", deps.Auditor != nil),
		zap.Bool("auth_enabled", deps.AuthMiddleware.Enabled()))
	return deps, nil
}

func (d *Dependencies) initPolicy(cfg *config.Config) {
	d.Policy = policy.NewEngine(cfg.PolicyEnvironment(), cfg.Profile)
	d.Egress = egress.NewGuard(d.Policy, d.Logger)
	if d.Policy.LockedDown() {
		d.Logger.Warn("locked-down profile active, outbound calls are blocked")
	}
}

// initAuditor registers the auditor's provider. Under the locked-down
// profile the auditor is still built so receipts name it, but the egress
// guard refuses every call.
func (d *Dependencies) initAuditor(cfg *config.Config) error {
	d.Providers = providers.NewRegistry()
	if !cfg.Auditor.Enabled {
		d.Logger.Warn("semantic auditor disabled, verified events will be gated as audit_unavailable")
		return nil
	}

	providerCfg := providers.DefaultProviderConfig()
	providerCfg.APIKey = cfg.Auditor.APIKey
	providerCfg.BaseURL = cfg.Auditor.BaseURL
	providerCfg.Timeout = cfg.Auditor.Timeout
	providerCfg.MaxRetries = cfg.Auditor.MaxRetries

	if err := d.Providers.RegisterProvider(openai.NewOpenAIAdapter(providerCfg)); err != nil {
		return err
	}
	provider, err := d.Providers.GetProvider(auditorProvider)
	if err != nil {
		return err
	}

	d.Auditor = semantic.NewAuditor(provider, d.Egress, d.Policy, semantic.Config{
		Model:     cfg.Auditor.Model,
		Timeout:   cfg.Auditor.Timeout,
		MaxTokens: cfg.Auditor.MaxTokens,
	}, d.Logger.Named("semantic"))

	d.Logger.Info("semantic auditor configured", zap.String("model_id", d.Auditor.ModelID()))
	return nil
}

func (d *Dependencies) initStores(cfg *config.Config) {
	d.Events = events.NewService(events.Config{
		TTL:      cfg.Stores.EventTTL,
		MaxChars: cfg.Privacy.MaxChars,
	}, d.Logger.Named("events"))
	d.Approvals = approval.NewService(cfg.Stores.ApprovalTTL, d.Logger.Named("approval"))
	d.Mappings = privacy.NewMappingStore(cfg.Stores.MappingTTL)
	d.Statuses = privacy.NewStatusStore(cfg.Stores.StatusTTL)
	d.Receipts = receipt.NewLedger(cfg.Stores.ReceiptTTL)
}

func (d *Dependencies) initPipeline(cfg *config.Config) error {
	d.AuditTrail = audit.NewAuditService(nil, d.Logger, audit.Config{
		BufferSize:  cfg.AuditTrail.BufferSize,
		WorkerCount: cfg.AuditTrail.WorkerCount,
	})
	if err := d.AuditTrail.Start(); err != nil {
		return fmt.Errorf("failed to start audit trail: %w", err)
	}

	d.Counters = observability.NewCounters()

	components := privacy.Components{
		Events:    d.Events,
		Masker:    anonymizer.New(anonymizer.Config{MaxChars: cfg.Privacy.MaxChars, DefaultLanguage: cfg.Privacy.DefaultLanguage}, d.Logger.Named("anonymizer")),
		Policy:    d.Policy,
		Approvals: d.Approvals,
		Mappings:  d.Mappings,
		Statuses:  d.Statuses,
		Receipts:  d.Receipts,
		Audit:     d.AuditTrail,
		Metrics:   d.Counters,
	}
	// A nil *semantic.Auditor must not become a non-nil interface value
	if d.Auditor != nil {
		components.Auditor = d.Auditor
	}

	d.Privacy = privacy.NewService(components, privacy.Config{
		DefaultMaxRetries: cfg.Privacy.DefaultMaxRetries,
		MaxRetriesLimit:   privacy.MaxRetriesLimit,
		DefaultLanguage:   cfg.Privacy.DefaultLanguage,
	}, d.Logger.Named("privacy"))
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.AuthEnabled() {
		d.Logger.Warn("AUTH_JWT_SECRET not set, API requests are not authenticated")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return
	}
	validator := middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger.Named("auth"))
	d.Logger.Info("bearer token authentication enabled")
}

// StartSweeper drops expired entries from every RAM store at the configured
// interval until ctx is cancelled or Close is called. Calling it twice is a
// no-op.
func (d *Dependencies) StartSweeper(ctx context.Context) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()
	if d.sweepCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.sweepCancel = cancel
	d.sweepDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(d.Config.Stores.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Sweep()
			}
		}
	}(d.sweepDone)
}

// Sweep runs one sweep over every store and returns the removed counts
func (d *Dependencies) Sweep() map[string]int {
	removed := d.Privacy.Sweep()
	removed["events"] = d.Events.Sweep()

	total := 0
	for _, n := range removed {
		total += n
	}
	if total > 0 {
		fields := make([]zap.Field, 0, len(removed))
		for name, n := range removed {
			fields = append(fields, zap.Int(name, n))
		}
		d.Logger.Debug("expired entries swept", fields...)
	}
	return removed
}

// SweeperRunning reports whether the background sweeper is active
func (d *Dependencies) SweeperRunning() bool {
	d.sweepMu.Lock()
	done := d.sweepDone
	d.sweepMu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// CheckAuditTrail is a readiness check
func (d *Dependencies) CheckAuditTrail(context.Context) error {
	if !d.AuditTrail.GetStats().Started {
		return errors.New("audit trail is not running")
	}
	return nil
}

// CheckSweeper is a readiness check
func (d *Dependencies) CheckSweeper(context.Context) error {
	if !d.SweeperRunning() {
		return errors.New("store sweeper is not running")
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	d.sweepMu.Lock()
	cancel, done := d.sweepCancel, d.sweepDone
	d.sweepCancel = nil
	d.sweepMu.Unlock()
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("store sweeper did not stop: %w", ctx.Err()))
		}
	}

	if d.AuditTrail != nil && d.AuditTrail.GetStats().Started {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditTrail.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit trail: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
