package errors

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrorCode represents different categories of relay errors
type ErrorCode string

const (
	// ErrCodeTransport indicates the source-chain connection dropped or erred
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeDecode indicates a malformed log entry
	ErrCodeDecode ErrorCode = "DECODE"

	// ErrCodeInsufficientFunds indicates the funding account cannot cover a payout
	ErrCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"

	// ErrCodeSubmission indicates the destination chain refused or lost a transfer
	ErrCodeSubmission ErrorCode = "SUBMISSION"

	// ErrCodeTimeout indicates a wait was abandoned
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeDatabase indicates database operation errors
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodePolicy indicates an event rejected by payout policy
	ErrCodePolicy ErrorCode = "POLICY"
)

var (
	// ErrConfirmationTimeout is returned when a receipt did not arrive in time.
	// The transaction may still land, so the outcome is not terminal.
	ErrConfirmationTimeout = errors.New("timed out waiting for payout confirmation")

	// ErrSubscriptionClosed is returned when the log subscription ends without an error.
	ErrSubscriptionClosed = errors.New("log subscription closed")

	// ErrInsufficientFunds matches any *InsufficientFundsError with errors.Is.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// RelayError is a classified error flowing through the relay pipeline
type RelayError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// NewRelayError creates a RelayError with the default retryability for its code
func NewRelayError(code ErrorCode, message string, cause error) *RelayError {
	return &RelayError{
		Code:      code,
		Message:   message,
		Retryable: defaultRetryable(code),
		Cause:     cause,
	}
}

// Error implements the error interface
func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *RelayError) WithContext(key string, value interface{}) *RelayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsRetryable returns true if the error is retryable
func (e *RelayError) IsRetryable() bool {
	return e.Retryable
}

func defaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeTransport, ErrCodeTimeout, ErrCodeDatabase:
		return true
	default:
		return false
	}
}

// InsufficientFundsError reports the funding balance shortfall.
type InsufficientFundsError struct {
	Available *big.Int
	Required  *big.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s", bigString(e.Available), bigString(e.Required))
}

// Is lets errors.Is match ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// NewInsufficientFundsError copies the amounts so callers may reuse theirs.
func NewInsufficientFundsError(available, required *big.Int) *InsufficientFundsError {
	return &InsufficientFundsError{
		Available: new(big.Int).Set(orZero(available)),
		Required:  new(big.Int).Set(orZero(required)),
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Common error constructors

// NewTransportError creates a transport error
func NewTransportError(message string, cause error) *RelayError {
	return NewRelayError(ErrCodeTransport, message, cause)
}

// NewDecodeError creates a decode error
func NewDecodeError(message string, cause error) *RelayError {
	return NewRelayError(ErrCodeDecode, message, cause)
}

// NewTransientSubmissionError creates a submission error that may be retried
func NewTransientSubmissionError(message string, cause error) *RelayError {
	e := NewRelayError(ErrCodeSubmission, message, cause)
	e.Retryable = true
	return e
}

// NewPermanentSubmissionError creates a submission error that must not be retried
func NewPermanentSubmissionError(message string, cause error) *RelayError {
	return NewRelayError(ErrCodeSubmission, message, cause)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string, cause error) *RelayError {
	return NewRelayError(ErrCodeTimeout, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *RelayError {
	return NewRelayError(ErrCodeConfig, message, cause)
}

// NewDatabaseError creates a database error
func NewDatabaseError(message string, cause error) *RelayError {
	return NewRelayError(ErrCodeDatabase, message, cause)
}

// NewPolicyError creates a payout policy rejection
func NewPolicyError(message string) *RelayError {
	return NewRelayError(ErrCodePolicy, message, nil)
}
