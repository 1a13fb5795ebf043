package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/timeoracle"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
)

func setup(t *testing.T) (*clock.Mock, *ledger.Ledger, *Engine) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStoreWithClock(mock, storage.Options{})
	oracle, err := timeoracle.NewWithClock(mock, timeoracle.Config{ExpirationWindow: time.Minute})
	require.NoError(t, err)
	return mock, ledger.New(store, ledger.Options{Clock: mock}), NewEngine(store, oracle, nil, nil)
}

func executeScripts(t *testing.T, mock *clock.Mock, l *ledger.Ledger, n int) []*transaction.Record {
	t.Helper()
	ctx := context.Background()
	sender, err := account.New()
	require.NoError(t, err)

	var out []*transaction.Record
	for i := 0; i < n; i++ {
		raw, err := transaction.NewRawTransaction(sender.Address(), &types.Script{Code: types.ScriptHeader(6)}, uint64(i),
			transaction.WithExpiresAt(mock.Now().Add(30*time.Second)))
		require.NoError(t, err)
		signed, err := transaction.Sign(raw, sender)
		require.NoError(t, err)
		rec, err := transaction.NewRecord(signed, mock.Now())
		require.NoError(t, err)
		require.NoError(t, l.ReserveNonce(ctx, rec, time.Minute))
		executed, err := l.Execute(ctx, rec.Hash)
		require.NoError(t, err)
		out = append(out, executed)
	}
	return out
}

func TestSealChain(t *testing.T) {
	ctx := context.Background()
	mock, l, engine := setup(t)

	var sealed int
	engine.onSeal = func(*Block) { sealed++ }

	first, err := engine.Seal(ctx, executeScripts(t, mock, l, 3))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Height)
	assert.Equal(t, uint64(1), first.FirstVersion)
	assert.Equal(t, uint64(3), first.LastVersion)
	assert.Empty(t, first.PrevRoot)

	records := executeScripts(t, mock, l, 2)
	second, err := engine.Seal(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Height)
	assert.Equal(t, first.MerkleRoot, second.PrevRoot)
	assert.Equal(t, 2, sealed)

	stored, err := l.Transaction(ctx, records[0].Hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.BlockHeight)
	assert.Equal(t, uint64(2), records[0].BlockHeight)

	height, err := engine.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), height)

	got, err := engine.GetBlock(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, second.Transactions, got.Transactions)
	require.NoError(t, engine.VerifyBlock(got, first))

	got.Transactions = got.Transactions[:1]
	assert.ErrorIs(t, engine.VerifyBlock(got, first), ErrInvalidMerkleRoot)

	_, err = engine.GetBlock(ctx, 9)
	assert.Error(t, err)
}

func TestSealSkipsUncommitted(t *testing.T) {
	_, _, engine := setup(t)
	_, err := engine.Seal(context.Background(), []*transaction.Record{{Outcome: types.OutcomePending}})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestMerkleRoot(t *testing.T) {
	a := types.HashOf("a")
	b := types.HashOf("b")
	c := types.HashOf("c")

	one, err := calculateMerkleRoot([]types.HashValue{a})
	require.NoError(t, err)
	two, err := calculateMerkleRoot([]types.HashValue{a, b})
	require.NoError(t, err)
	swapped, err := calculateMerkleRoot([]types.HashValue{b, a})
	require.NoError(t, err)
	three, err := calculateMerkleRoot([]types.HashValue{a, b, c})
	require.NoError(t, err)

	assert.NotEqual(t, one, two)
	assert.NotEqual(t, two, swapped)
	assert.NotEqual(t, two, three)

	_, err = calculateMerkleRoot(nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestSealSkipsAlreadySealed(t *testing.T) {
	ctx := context.Background()
	mock, l, engine := setup(t)

	records := executeScripts(t, mock, l, 2)
	block, err := engine.Seal(ctx, append(records, records[0]))
	require.NoError(t, err)
	assert.Len(t, block.Transactions, 2)

	redelivered, err := l.Execute(ctx, records[1].Hash)
	require.NoError(t, err)
	_, err = engine.Seal(ctx, []*transaction.Record{redelivered})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}
