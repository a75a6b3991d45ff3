// Package errors provides the error taxonomy of the collector: sentinel
// errors for input and validation failures, and classified upstream errors
// carrying the retry metadata the paginators act on.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Input, validation and construction failures. They are never retried and
// are always returned wrapped with context.
var (
	ErrInvalidInterval       = errors.New("invalid interval")
	ErrInvalidDate           = errors.New("invalid date")
	ErrUnsupportedExchange   = errors.New("unsupported exchange")
	ErrCapabilityUnsupported = errors.New("exchange does not support capability")
	ErrUnsupportedInstrument = errors.New("unsupported instrument")
	ErrValidationUnavailable = errors.New("instrument validation snapshot unavailable")
)

// ErrorType represents the classification of an upstream error
type ErrorType string

const (
	// Retryable by default
	ErrorTypeExchange            ErrorType = "exchange"             // Exchange rejected or failed the request
	ErrorTypeAuthentication      ErrorType = "authentication"       // Credentials or permissions rejected
	ErrorTypeExchangeUnavailable ErrorType = "exchange_unavailable" // Upstream unreachable or 5xx
	ErrorTypeTimeout             ErrorType = "timeout"              // Request timed out
	ErrorTypeRateLimit           ErrorType = "rate_limit"           // Upstream throttled us

	// Not retryable by default
	ErrorTypeNetwork    ErrorType = "network"     // Name resolution and other local network failures
	ErrorTypeBadRequest ErrorType = "bad_request" // Malformed request
	ErrorTypeValidation ErrorType = "validation"  // Input or instrument validation failure
	ErrorTypeCanceled   ErrorType = "canceled"    // Caller canceled the context
	ErrorTypeUnknown    ErrorType = "unknown"     // Unclassified
)

// DefaultRetryableTypes are the error types retried when a policy does not
// name its own set.
var DefaultRetryableTypes = []ErrorType{
	ErrorTypeExchange,
	ErrorTypeAuthentication,
	ErrorTypeExchangeUnavailable,
	ErrorTypeTimeout,
	ErrorTypeRateLimit,
}

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an upstream error with metadata for retry decisions
type ClassifiedError struct {
	Err        error     `json:"error"`
	Type       ErrorType `json:"type"`
	Severity   Severity  `json:"severity"`
	Retryable  bool      `json:"retryable"`
	Component  string    `json:"component"`
	Operation  string    `json:"operation"`
	StatusCode int       `json:"status_code,omitempty"`
	Attempts   int       `json:"attempts"`
	Timestamp  time.Time `json:"timestamp"`
}

// New builds a ClassifiedError with the default severity and retryability
// of errType.
func New(errType ErrorType, component, operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      errType,
		Severity:  severityOf(errType),
		Retryable: retryableByDefault(errType),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, component, operation, format string, args ...any) *ClassifiedError {
	return New(errType, component, operation, fmt.Errorf(format, args...))
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(status int, component, operation string, err error) *ClassifiedError {
	ce := New(TypeForStatus(status), component, operation, err)
	ce.StatusCode = status
	return ce
}

// TypeForStatus maps an HTTP status code onto the taxonomy.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		return ErrorTypeRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorTypeAuthentication
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	case status >= 500:
		return ErrorTypeExchangeUnavailable
	case status >= 400:
		return ErrorTypeExchange
	default:
		return ErrorTypeUnknown
	}
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is matches another ClassifiedError by type, otherwise defers to the wrapped error
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

func severityOf(errType ErrorType) Severity {
	switch errType {
	case ErrorTypeAuthentication:
		return SeverityHigh
	case ErrorTypeValidation, ErrorTypeBadRequest, ErrorTypeExchange:
		return SeverityMedium
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeExchangeUnavailable, ErrorTypeCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func retryableByDefault(errType ErrorType) bool {
	for _, t := range DefaultRetryableTypes {
		if t == errType {
			return true
		}
	}
	return false
}

// ErrorClassifier turns arbitrary errors into ClassifiedErrors and keeps
// per-type counters.
type ErrorClassifier struct {
	logger *slog.Logger
	mu     sync.RWMutex
	stats  map[ErrorType]ErrorStats
}

// ErrorStats tracks error statistics for monitoring
type ErrorStats struct {
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewErrorClassifier creates a classifier. A nil logger uses slog.Default().
func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorClassifier{
		logger: logger,
		stats:  make(map[ErrorType]ErrorStats),
	}
}

// Classify returns err as a ClassifiedError. Errors already classified at
// the source keep their type; everything else is inspected for context,
// network and message patterns.
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		ce = New(classifyErrorType(err), component, operation, err)
	}

	ec.updateStats(ce.Type)

	ec.logger.Debug("error classified",
		"type", ce.Type,
		"severity", ce.Severity.String(),
		"retryable", ce.Retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return ce
}

// classifyErrorType determines the error type of an unclassified error
func classifyErrorType(err error) ErrorType {
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeoutError(err) {
		return ErrorTypeTimeout
	}

	if errors.Is(err, ErrInvalidInterval) || errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrUnsupportedExchange) || errors.Is(err, ErrCapabilityUnsupported) ||
		errors.Is(err, ErrUnsupportedInstrument) {
		return ErrorTypeValidation
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return ErrorTypeNetwork
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return ErrorTypeExchangeUnavailable
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "rate limit", "too many requests", "too many visits", "quota exceeded"):
		return ErrorTypeRateLimit
	case containsAny(errStr, "unauthorized", "forbidden", "invalid api key", "invalid credentials", "authentication"):
		return ErrorTypeAuthentication
	case containsAny(errStr, "service unavailable", "bad gateway", "maintenance", "connection refused", "connection reset"):
		return ErrorTypeExchangeUnavailable
	case containsAny(errStr, "no such host"):
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return containsAny(errStr, "timeout", "timed out", "deadline exceeded")
}

// updateStats updates error statistics
func (ec *ErrorClassifier) updateStats(errorType ErrorType) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	stats.Count++
	stats.LastSeen = time.Now()
	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = stats.LastSeen
	}
	ec.stats[errorType] = stats
}

// GetStats returns a copy of the error statistics
func (ec *ErrorClassifier) GetStats() map[ErrorType]ErrorStats {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(ec.stats))
	for k, v := range ec.stats {
		stats[k] = v
	}
	return stats
}

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable reports whether err carries a retryable classification
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}
