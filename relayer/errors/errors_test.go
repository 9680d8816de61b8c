package errors

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayErrorDefaults(t *testing.T) {
	tests := []struct {
		name      string
		err       *RelayError
		code      ErrorCode
		retryable bool
	}{
		{"transport", NewTransportError("ws closed", nil), ErrCodeTransport, true},
		{"decode", NewDecodeError("bad data", nil), ErrCodeDecode, false},
		{"transient submission", NewTransientSubmissionError("nonce race", nil), ErrCodeSubmission, true},
		{"permanent submission", NewPermanentSubmissionError("reverted", nil), ErrCodeSubmission, false},
		{"timeout", NewTimeoutError("receipt", nil), ErrCodeTimeout, true},
		{"config", NewConfigError("missing key", nil), ErrCodeConfig, false},
		{"database", NewDatabaseError("locked", nil), ErrCodeDatabase, true},
		{"policy", NewPolicyError("mismatch"), ErrCodePolicy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.code, CodeOf(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestRelayErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewTransportError("subscribe failed", cause).WithContext("url", "wss://x")

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "TRANSPORT")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "wss://x", err.Context["url"])
}

func TestInsufficientFundsError(t *testing.T) {
	available := big.NewInt(5)
	required := big.NewInt(10)
	err := NewInsufficientFundsError(available, required)

	available.SetInt64(99)
	assert.Equal(t, int64(5), err.Available.Int64())
	assert.Equal(t, int64(10), err.Required.Int64())
	assert.Equal(t, "insufficient funds: available 5, required 10", err.Error())

	wrapped := fmt.Errorf("payout aborted: %w", err)
	assert.True(t, errors.Is(wrapped, ErrInsufficientFunds))
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsTerminal(wrapped))
	assert.Equal(t, ErrCodeInsufficientFunds, CodeOf(wrapped))

	var target *InsufficientFundsError
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, int64(5), target.Available.Int64())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(ErrConfirmationTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("wait: %w", ErrConfirmationTimeout)))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("429 Too Many Requests")))
	assert.False(t, IsRetryable(errors.New("something odd")))
	assert.False(t, IsTerminal(context.Canceled))
}

func TestClassifySubmissionError(t *testing.T) {
	tests := []struct {
		msg       string
		retryable bool
	}{
		{"nonce too low: next nonce 5, tx nonce 4", true},
		{"already known", true},
		{"replacement transaction underpriced", true},
		{"Post \"https://rpc\": context deadline exceeded", true},
		{"read tcp: connection reset by peer", true},
		{"insufficient funds for gas * price + value", false},
		{"intrinsic gas too low", false},
		{"invalid sender", false},
		{"execution reverted", false},
		{"weird provider failure", true},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			classified := ClassifySubmissionError(errors.New(tt.msg))
			require.NotNil(t, classified)
			assert.Equal(t, ErrCodeSubmission, classified.Code)
			assert.Equal(t, tt.retryable, classified.IsRetryable())
		})
	}

	assert.Nil(t, ClassifySubmissionError(nil))

	original := NewPermanentSubmissionError("already classified", nil)
	assert.Same(t, original, ClassifySubmissionError(fmt.Errorf("ctx: %w", original)))
}

func TestNonceHelpers(t *testing.T) {
	assert.True(t, IsNonceTooLow(errors.New("Nonce Too Low")))
	assert.False(t, IsNonceTooLow(nil))
	assert.True(t, IsAlreadyKnown(errors.New("already known")))
	assert.True(t, IsAlreadyKnown(errors.New("known transaction: 0xabc")))
	assert.False(t, IsAlreadyKnown(errors.New("nonce too low")))
}
