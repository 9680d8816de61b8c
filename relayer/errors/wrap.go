package errors

import (
	"context"
	"errors"
	"strings"
)

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// CodeOf returns the code of the outermost RelayError, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Code
	}
	if errors.Is(err, ErrInsufficientFunds) {
		return ErrCodeInsufficientFunds
	}
	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInsufficientFunds) {
		return false
	}
	if errors.Is(err, ErrConfirmationTimeout) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.IsRetryable()
	}

	return matchesAny(err.Error(), transientPatterns)
}

// IsTerminal reports whether err settles a payout for good.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err) && !errors.Is(err, context.Canceled)
}

// transientPatterns are RPC messages that clear up on their own or after a nonce refresh.
var transientPatterns = []string{
	"nonce too low",
	"nonce too high",
	"already known",
	"known transaction",
	"replacement transaction underpriced",
	"transaction underpriced",
	"max fee per gas less than block base fee",
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"timeout",
	"deadline exceeded",
	"temporary failure",
	"too many requests",
	"rate limit",
	"service unavailable",
	"bad gateway",
	"header not found",
}

// permanentPatterns are RPC messages that will not change on retry.
var permanentPatterns = []string{
	"insufficient funds",
	"intrinsic gas too low",
	"invalid sender",
	"invalid recipient",
	"invalid address",
	"execution reverted",
	"exceeds block gas limit",
	"gas limit reached",
	"tx fee exceeds",
	"only replay-protected",
	"invalid chain id",
}

// ClassifySubmissionError wraps an RPC send failure as a transient or permanent
// submission error. Unknown failures are treated as transient since every retry
// is gated on the account nonce.
func ClassifySubmissionError(err error) *RelayError {
	if err == nil {
		return nil
	}

	var relayErr *RelayError
	if errors.As(err, &relayErr) && relayErr.Code == ErrCodeSubmission {
		return relayErr
	}

	msg := err.Error()
	if matchesAny(msg, permanentPatterns) {
		return NewPermanentSubmissionError("destination chain rejected payout", err)
	}
	if matchesAny(msg, transientPatterns) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransientSubmissionError("payout submission failed", err)
	}
	return NewTransientSubmissionError("payout submission failed with unrecognized error", err)
}

// IsNonceTooLow reports whether a send failed because the nonce was consumed.
func IsNonceTooLow(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

// IsAlreadyKnown reports whether the node already has the exact transaction.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func matchesAny(msg string, patterns []string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
