// Package errors provides the error taxonomy of the streamrt engine: a three-class
// classification (transient, invalid, fatal), the engine sentinels reported by
// graph construction, buffer allocation and block execution, and helpers for
// consistent wrapping across packages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/streamrt/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Engine errors. Graph construction and initialization failures are reported
// synchronously; execution failures surface through Runtime.Wait.
var (
	// ErrTypeMismatch is returned by Connect when port kinds or item sizes differ.
	ErrTypeMismatch = errors.New("port type mismatch")
	// ErrUnknownPort is returned when a port name or index does not exist on a node.
	ErrUnknownPort = errors.New("unknown port")
	// ErrPortInUse is returned when a connection exceeds a port's multiplicity.
	ErrPortInUse = errors.New("port multiplicity exceeded")
	// ErrUnknownNode is returned when a node is not part of the graph.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnconnectedPort is returned by Flatten/Initialize for mandatory ports without edges.
	ErrUnconnectedPort = errors.New("unconnected port")
	// ErrBufferAllocation is fatal and prevents Start.
	ErrBufferAllocation = errors.New("buffer allocation failed")
	// ErrWorkContractViolation is returned when a block consumes or produces more than exposed.
	ErrWorkContractViolation = errors.New("work contract violation")
	// ErrBlockRuntime marks an error or panic escaping a block's work or message handler.
	ErrBlockRuntime = errors.New("block runtime error")
	// ErrInvalidState is returned when a lifecycle operation is called out of order.
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrKilled is returned by Wait after Kill.
	ErrKilled = errors.New("runtime killed")
	// ErrUnknownBackend is returned when an edge names an unregistered buffer backend.
	ErrUnknownBackend = errors.New("unknown buffer backend")
	// ErrBufferClosed is returned by operations on a closed buffer.
	ErrBufferClosed = errors.New("buffer closed")
)

// Standard error variables shared by the ambient packages
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and networking errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// Data processing errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrDataCorrupted = errors.New("data corrupted")
	ErrParsingFailed = errors.New("parsing failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// BlockError reports a failure attributed to one block. Kind is one of the
// engine sentinels (ErrBlockRuntime or ErrWorkContractViolation) so callers can
// match with errors.Is on either the kind or the underlying cause.
type BlockError struct {
	Block string
	ID    uint64
	Kind  error
	Err   error
}

// Error implements the error interface
func (be *BlockError) Error() string {
	return fmt.Sprintf("block %s(%d): %v: %v", be.Block, be.ID, be.Kind, be.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (be *BlockError) Unwrap() []error {
	return []error{be.Kind, be.Err}
}

// NewBlockError builds a BlockError.
func NewBlockError(block string, id uint64, kind, err error) *BlockError {
	return &BlockError{Block: block, ID: id, Kind: kind, Err: err}
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable", "busy"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrBufferAllocation) ||
		errors.Is(err, ErrWorkContractViolation) ||
		errors.Is(err, ErrDataCorrupted) ||
		errors.Is(err, ErrResourceExhausted) ||
		errors.Is(err, ErrKilled)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrUnknownPort) ||
		errors.Is(err, ErrUnconnectedPort) ||
		errors.Is(err, ErrPortInUse) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// RetryConfig defines configuration for retry operations
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the retry configuration used by network transports
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// ToRetryConfig converts to the retry package Config. MaxRetries counts
// additional attempts, retry.Config counts total attempts.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
