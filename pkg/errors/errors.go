// Package errors provides the structured error type shared by chaindist adapters.
// Every failure that crosses a collaborator boundary (store, ledger, database,
// kafka) is wrapped into a ServiceError carrying its category and retryability.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType categorizes where a failure originated
type ErrorType string

const (
	// ErrorTypeNetwork is a transport failure not attributable to a specific backend
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeValidation is malformed input or an unexpected payload shape
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStore is a SharedStore (Redis hash) failure
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeLedger is a smart-contract call or transaction failure
	ErrorTypeLedger ErrorType = "ledger"
	// ErrorTypeDatabase is an audit database failure
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeKafka is a heartbeat or event messaging failure
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeTimeout is a deadline hit while waiting on a collaborator
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal is anything else
	ErrorTypeInternal ErrorType = "internal"
)

// ServiceError is a categorized error with operation context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failed operation may be attempted again
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext attaches a key/value pair and returns the same error for chaining
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a ServiceError without a cause
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: isRetryableByType(errorType),
	}
}

// Wrap wraps err with a category and operation. Wrapping nil returns nil.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := isRetryableByDefault(err)
	var se *ServiceError
	if errors.As(err, &se) {
		retryable = se.Retryable
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

func isRetryableByType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeKafka, ErrorTypeStore:
		return true
	default:
		return false
	}
}

// transientMarkers are substrings of driver and RPC errors that indicate a
// condition likely to clear on its own.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"network unreachable",
	"broken pipe",
	"i/o timeout",
	"timeout",
	"temporary failure",
	"too many connections",
	"too many requests",
	"eof",
}

// permanentMarkers override transientMarkers; a node rejecting a transaction
// for these reasons will reject it again.
var permanentMarkers = []string{
	"execution reverted",
	"nonce too low",
	"already known",
	"insufficient funds",
}

func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// IsType reports whether any ServiceError in err's chain has the given type
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			return false
		}
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable reports whether err should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isRetryableByDefault(err)
}

// GetContext returns the context map of the outermost ServiceError in err
func GetContext(err error) map[string]interface{} {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
