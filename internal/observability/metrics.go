package observability

import (
	"sync"
	"sync/atomic"
)

// Metrics collects pipeline counters.
type Metrics interface {
	RecordScrub(labels ScrubLabels)
	RecordMask(leak bool)
	RecordRelease(granted bool)
}

// ScrubLabels contains the dimensions of one scrub run.
type ScrubLabels struct {
	VerificationPassed bool
	SemanticRisk       bool
	AuditAvailable     bool
	Gated              bool
	Attempts           int
}

// Counters is an in-process Metrics implementation
type Counters struct {
	scrubs           atomic.Int64
	verified         atomic.Int64
	gated            atomic.Int64
	auditUnavailable atomic.Int64
	masks            atomic.Int64
	leaks            atomic.Int64
	releasesGranted  atomic.Int64
	releasesDenied   atomic.Int64

	mu       sync.Mutex
	attempts map[int]int64
}

var _ Metrics = (*Counters)(nil)

// NewCounters creates zeroed counters
func NewCounters() *Counters {
	return &Counters{attempts: make(map[int]int64)}
}

// RecordScrub implements Metrics
func (c *Counters) RecordScrub(l ScrubLabels) {
	c.scrubs.Add(1)
	if l.VerificationPassed {
		c.verified.Add(1)
	}
	if l.Gated {
		c.gated.Add(1)
	}
	if l.VerificationPassed && !l.AuditAvailable {
		c.auditUnavailable.Add(1)
	}
	c.mu.Lock()
	c.attempts[l.Attempts]++
	c.mu.Unlock()
}

// RecordMask implements Metrics
func (c *Counters) RecordMask(leak bool) {
	c.masks.Add(1)
	if leak {
		c.leaks.Add(1)
	}
}

// RecordRelease implements Metrics
func (c *Counters) RecordRelease(granted bool) {
	if granted {
		c.releasesGranted.Add(1)
		return
	}
	c.releasesDenied.Add(1)
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Scrubs           int64         `json:"scrubs"`
	Verified         int64         `json:"verified"`
	Gated            int64         `json:"gated"`
	AuditUnavailable int64         `json:"audit_unavailable"`
	Masks            int64         `json:"masks"`
	Leaks            int64         `json:"leaks"`
	ReleasesGranted  int64         `json:"releases_granted"`
	ReleasesDenied   int64         `json:"releases_denied"`
	AttemptHistogram map[int]int64 `json:"attempt_histogram"`
}

// Snapshot returns the current counters
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	hist := make(map[int]int64, len(c.attempts))
	for k, v := range c.attempts {
		hist[k] = v
	}
	c.mu.Unlock()

	return Snapshot{
		Scrubs:           c.scrubs.Load(),
		Verified:         c.verified.Load(),
		Gated:            c.gated.Load(),
		AuditUnavailable: c.auditUnavailable.Load(),
		Masks:            c.masks.Load(),
		Leaks:            c.leaks.Load(),
		ReleasesGranted:  c.releasesGranted.Load(),
		ReleasesDenied:   c.releasesDenied.Load(),
		AttemptHistogram: hist,
	}
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RecordScrub(ScrubLabels) {}
func (NopMetrics) RecordMask(bool)         {}
func (NopMetrics) RecordRelease(bool)      {}
