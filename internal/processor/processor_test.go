package processor

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/queue"
	"github.com/cmatc13/orderless/internal/settlement"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/timeoracle"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/metrics"
	"github.com/cmatc13/orderless/pkg/service"
)

type fixture struct {
	clock  *clock.Mock
	ledger *ledger.Ledger
	queue  *queue.MemoryQueue
	engine *settlement.Engine
	proc   *TransactionProcessor
	sender *account.Account
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStoreWithClock(mock, storage.Options{})
	oracle, err := timeoracle.NewWithClock(mock, timeoracle.Config{ExpirationWindow: time.Minute})
	require.NoError(t, err)
	sender, err := account.New()
	require.NoError(t, err)

	f := &fixture{
		clock:  mock,
		ledger: ledger.New(store, ledger.Options{Clock: mock}),
		queue:  queue.NewMemoryQueue(64),
		engine: settlement.NewEngine(store, oracle, nil, nil),
		sender: sender,
	}
	f.proc = NewTransactionProcessor(f.ledger, f.queue, f.engine, cfg, nil, metrics.New(metrics.DefaultConfig()))
	t.Cleanup(func() { _ = f.queue.Close() })
	return f
}

// accept reserves a script transaction and returns its hash unpublished.
func (f *fixture) accept(t *testing.T, nonce uint64, expiresIn time.Duration) types.HashValue {
	t.Helper()
	raw, err := transaction.NewRawTransaction(f.sender.Address(), &types.Script{Code: types.ScriptHeader(6)}, nonce,
		transaction.WithExpiresAt(f.clock.Now().Add(expiresIn)))
	require.NoError(t, err)
	signed, err := transaction.Sign(raw, f.sender)
	require.NoError(t, err)
	rec, err := transaction.NewRecord(signed, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.ledger.ReserveNonce(context.Background(), rec, time.Minute))
	return rec.Hash
}

func (f *fixture) run(t *testing.T) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("processor did not stop")
		}
	}
}

func (f *fixture) sealed(t *testing.T, hash types.HashValue) func() bool {
	return func() bool {
		rec, err := f.ledger.Transaction(context.Background(), hash)
		require.NoError(t, err)
		return rec.BlockHeight != 0
	}
}

func TestProcessorExecutesAndSeals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{Workers: 3, BlockSize: 2, BlockInterval: 10 * time.Millisecond})
	events := f.queue.Subscribe(16)
	stop := f.run(t)

	var hashes []types.HashValue
	for _, nonce := range []uint64{7, 3, 11, 5, 1} {
		h := f.accept(t, nonce, 30*time.Second)
		require.NoError(t, f.queue.Publish(ctx, h))
		hashes = append(hashes, h)
	}

	for _, h := range hashes {
		require.Eventually(t, f.sealed(t, h), 2*time.Second, 5*time.Millisecond)
	}
	stop()

	version, err := f.ledger.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), version)

	height, err := f.engine.Height(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, height, uint64(1))

	var total int
	var parent *settlement.Block
	for h := uint64(1); h <= height; h++ {
		block, err := f.engine.GetBlock(ctx, h)
		require.NoError(t, err)
		require.NoError(t, f.engine.VerifyBlock(block, parent))
		total += len(block.Transactions)
		parent = block
	}
	assert.Equal(t, 5, total)

	announced := 0
	for len(events) > 0 {
		rec := <-events
		assert.Equal(t, types.OutcomeExecuted, rec.Outcome)
		announced++
	}
	assert.Equal(t, 5, announced)
}

func TestProcessorRedeliveryIsHarmless(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BlockSize: 10, BlockInterval: 10 * time.Millisecond})
	stop := f.run(t)

	h := f.accept(t, 42, 30*time.Second)
	require.NoError(t, f.queue.Publish(ctx, h))
	require.NoError(t, f.queue.Publish(ctx, h))
	require.Eventually(t, f.sealed(t, h), 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.queue.Publish(ctx, h))
	require.Eventually(t, func() bool { return f.queue.Depth() == 0 }, time.Second, 5*time.Millisecond)
	stop()

	version, err := f.ledger.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	height, err := f.engine.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)
}

func TestProcessorSealsRemainderOnStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BlockSize: 100, BlockInterval: time.Hour})
	stop := f.run(t)

	h := f.accept(t, 1, 30*time.Second)
	require.NoError(t, f.queue.Publish(ctx, h))
	require.Eventually(t, func() bool {
		rec, err := f.ledger.Transaction(ctx, h)
		require.NoError(t, err)
		return rec.Committed()
	}, 2*time.Second, 5*time.Millisecond)
	stop()

	rec, err := f.ledger.Transaction(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.BlockHeight)
}

func TestProcessExpiredIsNotSealed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	h := f.accept(t, 9, 5*time.Second)
	f.clock.Add(10 * time.Second)

	rec, err := f.proc.Process(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeExpired, rec.Outcome)
	assert.Empty(t, f.proc.committed)

	status, err := f.ledger.NonceStatus(ctx, f.sender.Address(), 9)
	require.NoError(t, err)
	assert.Equal(t, ledger.NonceDiscarded, status)
}

func TestProcessWithoutSealerSealsInline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BlockSize: 1})

	var hashes []types.HashValue
	for nonce := uint64(1); nonce <= 5; nonce++ {
		hashes = append(hashes, f.accept(t, nonce, 30*time.Second))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range hashes {
			rec, err := f.proc.Process(ctx, h)
			if assert.NoError(t, err) {
				assert.NotZero(t, rec.BlockHeight)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Process blocked without a running sealer")
	}

	for _, h := range hashes {
		assert.True(t, f.sealed(t, h)())
	}
	height, err := f.engine.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), height)
	assert.Empty(t, f.proc.committed)
}

func TestProcessUnknownHash(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.proc.Process(context.Background(), types.HashOf("nothing"))
	assert.Error(t, err)
}

func TestServiceLifecycle(t *testing.T) {
	f := newFixture(t, Config{BlockInterval: 10 * time.Millisecond})
	svc := NewTransactionProcessorService(f.proc, storage.ServiceName)

	assert.Equal(t, ServiceName, svc.Name())
	assert.Equal(t, []string{storage.ServiceName}, svc.Dependencies())
	assert.Error(t, svc.Health())

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, service.StatusRunning, svc.Status())
	assert.NoError(t, svc.Health())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, service.StatusStopped, svc.Status())
	require.NoError(t, svc.Stop(ctx))
}
