package faucet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/metrics"
)

func newFaucet(cfg Config) (*Faucet, *ledger.Ledger) {
	l := ledger.New(storage.NewMemoryStore(storage.Options{}), ledger.Options{})
	return New(l, cfg, nil, metrics.New(metrics.DefaultConfig())), l
}

func TestFundCreatesAndCredits(t *testing.T) {
	ctx := context.Background()
	f, l := newFaucet(Config{Enabled: true, MaxAmount: 200_000_000})
	addr := types.DeriveAddress([]byte("alice"))

	res, err := f.Fund(ctx, addr, 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), res.Balance)
	assert.NotEmpty(t, res.RequestID.String())

	res, err = f.Fund(ctx, addr, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_050), res.Balance)

	balance, err := l.Balance(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_050), balance)

	supply, err := l.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_050), supply)
}

func TestFundRejects(t *testing.T) {
	ctx := context.Background()
	addr := types.DeriveAddress([]byte("bob"))

	disabled, _ := newFaucet(Config{})
	_, err := disabled.Fund(ctx, addr, 1)
	assert.True(t, errors.IsAPIError(err, errors.APIErrFaucetDisabled))

	f, l := newFaucet(Config{Enabled: true, MaxAmount: 1000})
	cases := map[string]struct {
		addr   types.AccountAddress
		amount uint64
	}{
		"zero amount":      {addr, 0},
		"over limit":       {addr, 1001},
		"reserved address": {types.MustParseAddress("0x1"), 10},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Fund(ctx, tc.addr, tc.amount)
			assert.True(t, errors.IsTransactionError(err, errors.TransactionErrInvalidAmount), err)
		})
	}

	balance, err := l.Balance(ctx, addr)
	require.NoError(t, err)
	assert.Zero(t, balance)
}
