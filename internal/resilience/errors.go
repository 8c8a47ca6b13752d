// Package resilience provides the cross-cutting error taxonomy, central error
// handler with degradation-mode tracking, and retry combinators used by every
// component of the memory subsystem.
package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Category tags a failure with one of the nine taxonomy buckets.
type Category string

const (
	CategoryStorage    Category = "storage"
	CategoryRetrieval  Category = "retrieval"
	CategoryContext    Category = "context"
	CategoryEmbedding  Category = "embedding"
	CategoryConnection Category = "connection"
	CategoryValidation Category = "validation"
	CategoryCorruption Category = "corruption"
	CategoryTimeout    Category = "timeout"
	CategoryResource   Category = "resource"
)

// Severity grades how urgent a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity returns the default severity for a category.
// Connection and Resource failures default to high, Corruption to critical,
// everything else to medium.
func DefaultSeverity(c Category) Severity {
	switch c {
	case CategoryConnection, CategoryResource:
		return SeverityHigh
	case CategoryCorruption:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// MemoryError is the tagged error payload carried by every classified failure
// in the subsystem. It replaces an exception-class hierarchy with a single
// categorized value inspected via errors.As.
type MemoryError struct {
	Category  Category
	Severity  Severity
	Component string
	Operation string
	OwnerID   string
	MemoryID  string
	Context   map[string]any
	Err       error
}

// New builds a MemoryError with the category's default severity.
func New(cat Category, component, operation string, err error) *MemoryError {
	return &MemoryError{
		Category:  cat,
		Severity:  DefaultSeverity(cat),
		Component: component,
		Operation: operation,
		Err:       err,
	}
}

// Newf builds a MemoryError from a formatted message.
func Newf(cat Category, component, operation, format string, args ...any) *MemoryError {
	return New(cat, component, operation, fmt.Errorf(format, args...))
}

// WithSeverity overrides the default severity.
func (e *MemoryError) WithSeverity(s Severity) *MemoryError {
	e.Severity = s
	return e
}

// WithOwner attaches the owner id.
func (e *MemoryError) WithOwner(ownerID string) *MemoryError {
	e.OwnerID = ownerID
	return e
}

// WithMemory attaches the memory id.
func (e *MemoryError) WithMemory(memoryID string) *MemoryError {
	e.MemoryID = memoryID
	return e
}

// WithContext attaches one context key/value pair.
func (e *MemoryError) WithContext(key string, value any) *MemoryError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s [%s]: %v", e.Component, e.Operation, e.Category, e.Err)
	}
	return fmt.Sprintf("%s/%s [%s]", e.Component, e.Operation, e.Category)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// CategoryOf extracts the taxonomy category from err. Unclassified errors
// report CategoryStorage, the subsystem's catch-all bucket.
func CategoryOf(err error) Category {
	var me *MemoryError
	if errors.As(err, &me) {
		return me.Category
	}
	return CategoryStorage
}

// IsRetryable reports whether the error may be retried. Validation and
// corruption failures are immediately actionable bugs, never transient faults.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryValidation, CategoryCorruption:
		return false
	}
	return true
}

// coerce normalizes any error into a MemoryError so the handler always has a
// categorized payload to record.
func coerce(err error) *MemoryError {
	var me *MemoryError
	if errors.As(err, &me) {
		return me
	}
	return New(CategoryStorage, "unknown", "unknown", err)
}

// ErrorRecord is the durable log entry created for every handled failure.
// Records live in a bounded, oldest-evicted log and are never otherwise
// deleted.
type ErrorRecord struct {
	ID                 string         `json:"id"`
	Category           Category       `json:"category"`
	Severity           Severity       `json:"severity"`
	Component          string         `json:"component"`
	Operation          string         `json:"operation"`
	OwnerID            string         `json:"owner_id,omitempty"`
	MemoryID           string         `json:"memory_id,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	Message            string         `json:"message"`
	Timestamp          time.Time      `json:"timestamp"`
	RecoveryAttempted  bool           `json:"recovery_attempted"`
	RecoverySuccessful bool           `json:"recovery_successful"`
}
