package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HandlerConfig tunes the central error handler and its degradation-mode
// state machine. The zero value is normalized to the documented defaults.
type HandlerConfig struct {
	// MaxLogSize bounds the error log; the oldest record is evicted past it.
	// Default: 1000.
	MaxLogSize int

	// CriticalThreshold is the critical-error count that activates
	// degradation mode. Default: 5.
	CriticalThreshold int

	// CategoryRateMax is the per-category error count within the rolling
	// window that activates degradation mode. Default: 10.
	CategoryRateMax int

	// CategoryRateWindow is the rolling window for CategoryRateMax.
	// Default: 10 minutes.
	CategoryRateWindow time.Duration

	// DegradationTimeout is how long degradation mode stays active before
	// auto-deactivating. Default: 30 minutes.
	DegradationTimeout time.Duration

	// Now overrides the clock, for tests. Default: time.Now.
	Now func() time.Time
}

func (c *HandlerConfig) normalize() {
	if c.MaxLogSize <= 0 {
		c.MaxLogSize = 1000
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 5
	}
	if c.CategoryRateMax <= 0 {
		c.CategoryRateMax = 10
	}
	if c.CategoryRateWindow <= 0 {
		c.CategoryRateWindow = 10 * time.Minute
	}
	if c.DegradationTimeout <= 0 {
		c.DegradationTimeout = 30 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Summary reports aggregate handler state for health surfaces.
type Summary struct {
	TotalHandled  int                `json:"total_handled"`
	ByCategory    map[Category]int   `json:"by_category"`
	BySeverity    map[Severity]int   `json:"by_severity"`
	CriticalCount int                `json:"critical_count"`
	Degraded      bool               `json:"degraded"`
	DegradedSince *time.Time         `json:"degraded_since,omitempty"`
}

// Handler is the central error logger and degradation-mode state machine.
// It is long-lived, process-wide state shared across concurrent callers;
// all mutation happens under its mutex. Construct one per process and inject
// it into every engine.
type Handler struct {
	cfg HandlerConfig
	log *logrus.Logger

	mu            sync.Mutex
	records       []ErrorRecord
	totalHandled  int
	counts        map[Category]int
	sevCounts     map[Severity]int
	criticalCount int
	windowStart   map[Category]time.Time
	windowCounts  map[Category]int
	callbacks     []func(ErrorRecord)
	degraded      bool
	degradedSince time.Time
}

// NewHandler constructs a Handler. A nil logger falls back to the logrus
// standard logger.
func NewHandler(cfg HandlerConfig, logger *logrus.Logger) *Handler {
	cfg.normalize()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		cfg:          cfg,
		log:          logger,
		counts:       make(map[Category]int),
		sevCounts:    make(map[Severity]int),
		windowStart:  make(map[Category]time.Time),
		windowCounts: make(map[Category]int),
	}
}

// RegisterCallback adds a notification callback fired for every handled
// error. A callback's own panic is caught and logged, never propagated.
func (h *Handler) RegisterCallback(fn func(ErrorRecord)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, fn)
}

// Handle classifies, logs, and records err, returning the created record.
// It also advances the degradation state machine.
func (h *Handler) Handle(err error) ErrorRecord {
	return h.HandleWithRecovery(err, false, false)
}

// HandleWithRecovery is Handle with explicit recovery flags, used by the
// retry combinators to mark whether a retry was attempted and whether a
// fallback ultimately masked the failure.
func (h *Handler) HandleWithRecovery(err error, attempted, successful bool) ErrorRecord {
	me := coerce(err)
	now := h.cfg.Now()

	rec := ErrorRecord{
		ID:                 uuid.NewString(),
		Category:           me.Category,
		Severity:           me.Severity,
		Component:          me.Component,
		Operation:          me.Operation,
		OwnerID:            me.OwnerID,
		MemoryID:           me.MemoryID,
		Context:            me.Context,
		Message:            me.Error(),
		Timestamp:          now,
		RecoveryAttempted:  attempted,
		RecoverySuccessful: successful,
	}

	h.mu.Lock()
	h.maybeAutoDeactivate(now)

	h.records = append(h.records, rec)
	if len(h.records) > h.cfg.MaxLogSize {
		h.records = h.records[len(h.records)-h.cfg.MaxLogSize:]
	}

	h.totalHandled++
	h.counts[me.Category]++
	h.sevCounts[me.Severity]++
	if me.Severity == SeverityCritical {
		h.criticalCount++
	}

	// Rolling per-category rate window.
	if start, ok := h.windowStart[me.Category]; !ok || now.Sub(start) > h.cfg.CategoryRateWindow {
		h.windowStart[me.Category] = now
		h.windowCounts[me.Category] = 0
	}
	h.windowCounts[me.Category]++

	if !h.degraded &&
		(h.criticalCount >= h.cfg.CriticalThreshold ||
			h.windowCounts[me.Category] >= h.cfg.CategoryRateMax) {
		h.activateDegradationLocked(now)
	}

	callbacks := make([]func(ErrorRecord), len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{
		"component": rec.Component,
		"operation": rec.Operation,
		"category":  rec.Category,
		"severity":  rec.Severity,
		"owner_id":  rec.OwnerID,
		"memory_id": rec.MemoryID,
	}).Warn(rec.Message)

	for _, fn := range callbacks {
		h.fireCallback(fn, rec)
	}

	return rec
}

// fireCallback invokes one notification callback, containing any panic.
func (h *Handler) fireCallback(fn func(ErrorRecord), rec ErrorRecord) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("panic", r).Error("error notification callback panicked")
		}
	}()
	fn(rec)
}

// activateDegradationLocked enters degradation mode and resets all counters.
// Callers must hold h.mu.
func (h *Handler) activateDegradationLocked(now time.Time) {
	h.degraded = true
	h.degradedSince = now
	h.criticalCount = 0
	h.windowCounts = make(map[Category]int)
	h.windowStart = make(map[Category]time.Time)
	h.log.WithField("since", now).Warn("degradation mode activated")
}

// maybeAutoDeactivate exits degradation mode once the timeout has elapsed.
// Callers must hold h.mu.
func (h *Handler) maybeAutoDeactivate(now time.Time) {
	if h.degraded && now.Sub(h.degradedSince) >= h.cfg.DegradationTimeout {
		h.degraded = false
		h.log.Info("degradation mode auto-deactivated")
	}
}

// IsDegraded reports whether degradation mode is currently active. The check
// itself advances the auto-deactivation timer.
func (h *Handler) IsDegraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maybeAutoDeactivate(h.cfg.Now())
	return h.degraded
}

// DeactivateDegradation explicitly exits degradation mode and resets the
// critical-error counter.
func (h *Handler) DeactivateDegradation() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded = false
	h.criticalCount = 0
	h.log.Info("degradation mode deactivated")
}

// Records returns a copy of the bounded error log, oldest first.
func (h *Handler) Records() []ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ErrorRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Summary returns aggregate counters and degradation status.
func (h *Handler) Summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maybeAutoDeactivate(h.cfg.Now())

	s := Summary{
		TotalHandled:  h.totalHandled,
		ByCategory:    make(map[Category]int, len(h.counts)),
		BySeverity:    make(map[Severity]int, len(h.sevCounts)),
		CriticalCount: h.criticalCount,
		Degraded:      h.degraded,
	}
	for c, n := range h.counts {
		s.ByCategory[c] = n
	}
	for sev, n := range h.sevCounts {
		s.BySeverity[sev] = n
	}
	if h.degraded {
		since := h.degradedSince
		s.DegradedSince = &since
	}
	return s
}
