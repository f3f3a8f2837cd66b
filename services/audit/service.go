package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action names a pipeline outcome worth recording
type Action string

const (
	ActionEventCreated    Action = "event.created"
	ActionScrubCompleted  Action = "scrub.completed"
	ActionScrubFailed     Action = "scrub.failed"
	ActionMaskCompleted   Action = "mask.completed"
	ActionMaskLeakBlocked Action = "mask.leak_blocked"
	ActionApprovalIssued  Action = "approval.issued"
	ActionReleaseGranted  Action = "release.granted"
	ActionReleaseDenied   Action = "release.denied"
)

// Entry is one audit record. It only ever carries identifiers, booleans,
// counts and reason codes. Raw or clean text must never be placed here.
type Entry struct {
	ID                 uuid.UUID `json:"id"`
	EventID            string    `json:"event_id,omitempty"`
	RequestID          string    `json:"request_id,omitempty"`
	Action             Action    `json:"action"`
	VerificationPassed *bool     `json:"verification_passed,omitempty"`
	SemanticRisk       *bool     `json:"semantic_risk,omitempty"`
	Gated              *bool     `json:"gated,omitempty"`
	Attempts           int       `json:"attempts,omitempty"`
	ReasonCodes        []string  `json:"reason_codes,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// NewEntry creates an entry for action on eventID
func NewEntry(eventID string, action Action) *Entry {
	return &Entry{
		ID:        uuid.New(),
		EventID:   eventID,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithRequest sets the request id
func (e *Entry) WithRequest(requestID string) *Entry {
	e.RequestID = requestID
	return e
}

// WithOutcome records the gate inputs and result
func (e *Entry) WithOutcome(verified, risk, gated bool) *Entry {
	e.VerificationPassed = &verified
	e.SemanticRisk = &risk
	e.Gated = &gated
	return e
}

// WithAttempts records the number of masking attempts
func (e *Entry) WithAttempts(n int) *Entry {
	e.Attempts = n
	return e
}

// WithReasons appends reason codes
func (e *Entry) WithReasons(codes ...string) *Entry {
	e.ReasonCodes = append(e.ReasonCodes, codes...)
	return e
}

// Sink persists audit entries
type Sink interface {
	Write(ctx context.Context, entry *Entry) error
}

// LogSink writes entries as structured log lines
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink writing to a named child of logger
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

// Write implements Sink
func (s *LogSink) Write(_ context.Context, e *Entry) error {
	fields := []zap.Field{
		zap.String("audit_id", e.ID.String()),
		zap.String("action", string(e.Action)),
		zap.String("event_id", e.EventID),
		zap.Time("timestamp", e.Timestamp),
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.VerificationPassed != nil {
		fields = append(fields, zap.Bool("verification_passed", *e.VerificationPassed))
	}
	if e.SemanticRisk != nil {
		fields = append(fields, zap.Bool("semantic_risk", *e.SemanticRisk))
	}
	if e.Gated != nil {
		fields = append(fields, zap.Bool("gated", *e.Gated))
	}
	if e.Attempts > 0 {
		fields = append(fields, zap.Int("attempts", e.Attempts))
	}
	if len(e.ReasonCodes) > 0 {
		fields = append(fields, zap.Strings("reason_codes", e.ReasonCodes))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	sink        Sink
	logger      *zap.Logger
	eventChan   chan *Entry
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	dropped     int64
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the entry buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(sink Sink, logger *zap.Logger, config Config) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.BufferSize < 0 {
		config.BufferSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		sink:        sink,
		logger:      logger,
		eventChan:   make(chan *Entry, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service.
// Waits for all pending entries to be written.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.stopped = true
	pending := len(s.eventChan)
	// closed under the lock so no sender can race the close
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an entry without blocking. The entry is dropped when the
// buffer is full.
func (s *AuditService) LogEvent(entry *Entry) error {
	if s == nil || entry == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- entry:
		return nil
	default:
		s.dropped++
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(entry.Action)),
			zap.String("event_id", entry.EventID))
		return fmt.Errorf("audit event buffer full")
	}
}

// LogEventBlocking waits until the entry is queued or ctx is cancelled
func (s *AuditService) LogEventBlocking(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.mu.Unlock()

	defer func() {
		// send on a channel closed by a concurrent Stop
		if recover() != nil {
			s.logger.Debug("audit entry discarded after stop", zap.String("action", string(entry.Action)))
		}
	}()

	select {
	case s.eventChan <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return fmt.Errorf("audit service stopped")
	}
}

// worker writes entries from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for entry := range s.eventChan {
		if err := s.processEvent(entry); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(entry.Action)),
				zap.String("event_id", entry.EventID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(entry *Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.sink.Write(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Dropped       int64 `json:"dropped"`
	Started       bool  `json:"started"`
}
