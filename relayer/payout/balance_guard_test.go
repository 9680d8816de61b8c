package payout

import (
	"context"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/pushchain/payout-relay/relayer/errors"
)

type mockBalanceReader struct {
	mock.Mock
}

func (m *mockBalanceReader) PendingBalanceAt(ctx context.Context, account ethcommon.Address) (*big.Int, error) {
	args := m.Called(ctx, account)
	if v := args.Get(0); v != nil {
		return v.(*big.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestBalanceGuard_CheckSufficient(t *testing.T) {
	account := ethcommon.HexToAddress("0x00000000000000000000000000000000000000f1")

	tests := []struct {
		name      string
		available *big.Int
		required  *big.Int
		wantErr   bool
	}{
		{"more than enough", ether(20), ether(10), false},
		{"exactly enough", ether(10), ether(10), false},
		{"short", ether(5), ether(10), true},
		{"empty", big.NewInt(0), big.NewInt(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &mockBalanceReader{}
			reader.On("PendingBalanceAt", mock.Anything, account).Return(tt.available, nil)

			var observed *big.Int
			guard := NewBalanceGuard(reader, account, func(b *big.Int) { observed = b }, zerolog.Nop())

			err := guard.CheckSufficient(context.Background(), tt.required)
			assert.Equal(t, tt.available, observed)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var fundsErr *relayerrors.InsufficientFundsError
			require.ErrorAs(t, err, &fundsErr)
			assert.Equal(t, tt.available, fundsErr.Available)
			assert.Equal(t, tt.required, fundsErr.Required)
			assert.False(t, relayerrors.IsRetryable(err))
			reader.AssertExpectations(t)
		})
	}
}

func TestBalanceGuard_ScenarioFiveVersusTen(t *testing.T) {
	reader := &mockBalanceReader{}
	reader.On("PendingBalanceAt", mock.Anything, mock.Anything).Return(ether(5), nil)
	guard := NewBalanceGuard(reader, ethcommon.Address{}, nil, zerolog.Nop())

	err := guard.CheckSufficient(context.Background(), ether(10))
	assert.EqualError(t, err, "insufficient funds: available 5000000000000000000, required 10000000000000000000")
}

func TestBalanceGuard_ReadFailureIsRetryable(t *testing.T) {
	reader := &mockBalanceReader{}
	reader.On("PendingBalanceAt", mock.Anything, mock.Anything).Return(nil, assert.AnError)
	guard := NewBalanceGuard(reader, ethcommon.Address{}, nil, zerolog.Nop())

	err := guard.CheckSufficient(context.Background(), ether(1))
	require.Error(t, err)
	assert.True(t, relayerrors.IsRetryable(err))
	assert.NotErrorIs(t, err, relayerrors.ErrInsufficientFunds)
}
