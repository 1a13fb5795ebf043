package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *clock.Mock
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	store := storage.NewMemoryStoreWithClock(mock, storage.Options{})
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		clock:  mock,
		ledger: New(store, Options{Clock: mock}),
	}
}

func (f *fixture) account() *account.Account {
	acct, err := account.New()
	require.NoError(f.t, err)
	return acct
}

func (f *fixture) sign(sender *account.Account, payload types.Payload, nonce uint64, opts ...transaction.Option) *transaction.Record {
	opts = append([]transaction.Option{transaction.WithExpiresAt(f.clock.Now().Add(30 * time.Second))}, opts...)
	raw, err := transaction.NewRawTransaction(sender.Address(), payload, nonce, opts...)
	require.NoError(f.t, err)
	signed, err := transaction.Sign(raw, sender)
	require.NoError(f.t, err)
	rec, err := transaction.NewRecord(signed, f.clock.Now())
	require.NoError(f.t, err)
	return rec
}

// submit reserves and executes in one go.
func (f *fixture) submit(sender *account.Account, payload types.Payload, nonce uint64, opts ...transaction.Option) *transaction.Record {
	rec := f.sign(sender, payload, nonce, opts...)
	require.NoError(f.t, f.ledger.ReserveNonce(f.ctx, rec, 90*time.Second))
	out, err := f.ledger.Execute(f.ctx, rec.Hash)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) balance(addr types.AccountAddress) uint64 {
	b, err := f.ledger.Balance(f.ctx, addr)
	require.NoError(f.t, err)
	return b
}

func transfer(t *testing.T, to types.AccountAddress, amount uint64) types.Payload {
	ef, err := types.EntryFunctionNatural("0x1::aptos_account", "transfer", nil,
		[]types.TransactionArgument{types.Address(to), types.U64(amount)})
	require.NoError(t, err)
	return ef
}

func createMultisig(t *testing.T, threshold uint64, owners ...types.AccountAddress) types.Payload {
	ef, err := types.EntryFunctionNatural("0x1::multisig_account", "create_with_owners", nil,
		[]types.TransactionArgument{types.AddressVector(owners...), types.U64(threshold)})
	require.NoError(t, err)
	return ef
}

func TestReserveNonceRejectsReplay(t *testing.T) {
	f := newFixture(t)
	sender := f.account()

	first := f.sign(sender, transfer(t, types.MustParseAddress("0xcafe"), 1), 999999)
	require.NoError(t, f.ledger.ReserveNonce(f.ctx, first, time.Minute))

	status, err := f.ledger.NonceStatus(f.ctx, sender.Address(), 999999)
	require.NoError(t, err)
	assert.Equal(t, NoncePending, status)

	// Same nonce, different payload: still a replay.
	second := f.sign(sender, transfer(t, types.MustParseAddress("0xcafe"), 2), 999999)
	err = f.ledger.ReserveNonce(f.ctx, second, time.Minute)
	assert.True(t, errors.IsDuplicateNonce(err))

	// Another nonce from the same sender is independent.
	third := f.sign(sender, transfer(t, types.MustParseAddress("0xcafe"), 1), 1)
	require.NoError(t, f.ledger.ReserveNonce(f.ctx, third, time.Minute))

	_, err = f.ledger.Transaction(f.ctx, second.Hash)
	assert.True(t, errors.IsTransactionError(err, errors.TransactionErrNotFound))
}

func TestReserveNonceConcurrent(t *testing.T) {
	f := newFixture(t)
	sender := f.account()

	const workers = 32
	records := make([]*transaction.Record, workers)
	for i := range records {
		records[i] = f.sign(sender, transfer(t, types.MustParseAddress("0xcafe"), uint64(i+1)), 42)
	}

	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for _, rec := range records {
		wg.Add(1)
		go func(rec *transaction.Record) {
			defer wg.Done()
			err := f.ledger.ReserveNonce(f.ctx, rec, time.Minute)
			if err == nil {
				accepted.Add(1)
			} else if errors.IsDuplicateNonce(err) {
				duplicates.Add(1)
			}
		}(rec)
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(workers-1), duplicates.Load())
}

func TestNonceRetention(t *testing.T) {
	f := newFixture(t)
	sender := f.account()

	rec := f.sign(sender, transfer(t, types.MustParseAddress("0xcafe"), 1), 7)
	require.NoError(t, f.ledger.ReserveNonce(f.ctx, rec, time.Minute))

	f.clock.Add(61 * time.Second)
	status, err := f.ledger.NonceStatus(f.ctx, sender.Address(), 7)
	require.NoError(t, err)
	assert.Empty(t, status)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	sender := f.account()
	recipient := f.account().Address()

	balance, err := f.ledger.Mint(f.ctx, sender.Address(), 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), balance)

	rec := f.submit(sender, transfer(t, recipient, 1_000_000), 12345)
	assert.Equal(t, types.OutcomeExecuted, rec.Outcome)
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, uint64(1_000_000), f.balance(recipient))
	assert.Equal(t, uint64(99_000_000), f.balance(sender.Address()))

	status, err := f.ledger.NonceStatus(f.ctx, sender.Address(), 12345)
	require.NoError(t, err)
	assert.Equal(t, NonceCommitted, status)

	// Redelivery does not apply the transfer twice.
	again, err := f.ledger.Execute(f.ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, again.Version)
	assert.Equal(t, uint64(1_000_000), f.balance(recipient))

	version, err := f.ledger.Version(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	supply, err := f.ledger.TotalSupply(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), supply)

	history, err := f.ledger.AccountTransactions(f.ctx, recipient, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.Hash, history[0].Hash)
}

func TestDistinctNoncesInAnyOrder(t *testing.T) {
	f := newFixture(t)
	sender := f.account()
	recipient := types.MustParseAddress("0xbeef")
	_, err := f.ledger.Mint(f.ctx, sender.Address(), 10)
	require.NoError(t, err)

	for _, nonce := range []uint64{900, 3, 77} {
		rec := f.submit(sender, transfer(t, recipient, 1), nonce)
		assert.Equal(t, types.OutcomeExecuted, rec.Outcome)
	}
	assert.Equal(t, uint64(3), f.balance(recipient))

	history, err := f.ledger.AccountTransactions(f.ctx, sender.Address(), 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(77), history[0].Transaction.Raw.Nonce)
}

func TestInsufficientBalanceConsumesNonce(t *testing.T) {
	f := newFixture(t)
	sender := f.account()

	rec := f.submit(sender, transfer(t, types.MustParseAddress("0xcafe"), 5), 1)
	assert.Equal(t, types.OutcomeInsufficientBalance, rec.Outcome)
	assert.True(t, rec.Committed())
	assert.Equal(t, uint64(1), rec.Version)
	assert.True(t, errors.IsTransactionError(rec.Err(), errors.TransactionErrInsufficientBalance))
	assert.Zero(t, f.balance(types.MustParseAddress("0xcafe")))

	status, err := f.ledger.NonceStatus(f.ctx, sender.Address(), 1)
	require.NoError(t, err)
	assert.Equal(t, NonceCommitted, status)
}

func TestScriptIsNoOp(t *testing.T) {
	f := newFixture(t)
	rec := f.submit(f.account(), &types.Script{Code: types.ScriptHeader(6)}, 1)
	assert.Equal(t, types.OutcomeExecuted, rec.Outcome)
}

func TestExpiredBeforeExecution(t *testing.T) {
	f := newFixture(t)
	sender := f.account()
	_, err := f.ledger.Mint(f.ctx, sender.Address(), 10)
	require.NoError(t, err)

	rec := f.sign(sender, transfer(t, types.MustParseAddress("0xcafe"), 1), 1)
	require.NoError(t, f.ledger.ReserveNonce(f.ctx, rec, 90*time.Second))
	f.clock.Add(31 * time.Second)

	out, err := f.ledger.Execute(f.ctx, rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeExpired, out.Outcome)
	assert.Zero(t, out.Version)
	assert.Equal(t, uint64(10), f.balance(sender.Address()))

	status, err := f.ledger.NonceStatus(f.ctx, sender.Address(), 1)
	require.NoError(t, err)
	assert.Equal(t, NonceDiscarded, status)
}

func TestMultisigThreshold(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.account(), f.account(), f.account()
	recipient := types.MustParseAddress("0xfeed")

	created := f.submit(alice, createMultisig(t, 2, bob.Address()), 10)
	require.Equal(t, types.OutcomeExecuted, created.Outcome)
	msAddr := MultisigAddress(alice.Address(), 10)

	ms, err := f.ledger.Multisig(f.ctx, msAddr)
	require.NoError(t, err)
	assert.Equal(t, []types.AccountAddress{alice.Address(), bob.Address()}, ms.Owners)
	assert.Equal(t, uint64(2), ms.NumSignaturesRequired)

	_, err = f.ledger.Mint(f.ctx, msAddr, 1_000_000)
	require.NoError(t, err)

	payload := transfer(t, recipient, 500_000)
	vote := f.submit(alice, payload, 11, transaction.WithMultisig(msAddr))
	assert.Equal(t, types.OutcomeApprovalPending, vote.Outcome)
	assert.NoError(t, vote.Err())
	assert.Zero(t, f.balance(recipient))

	// A repeated vote by the same owner is counted once.
	repeat := f.submit(alice, payload, 12, transaction.WithMultisig(msAddr))
	assert.Equal(t, types.OutcomeApprovalPending, repeat.Outcome)
	assert.Contains(t, repeat.VMStatus, "(1 of 2)")

	outsider := f.submit(carol, payload, 1, transaction.WithMultisig(msAddr))
	assert.Equal(t, types.OutcomeNotMultisigOwner, outsider.Outcome)

	final := f.submit(bob, payload, 1, transaction.WithMultisig(msAddr))
	assert.Equal(t, types.OutcomeExecuted, final.Outcome)
	assert.Equal(t, uint64(500_000), f.balance(recipient))
	assert.Equal(t, uint64(500_000), f.balance(msAddr))

	ms, err = f.ledger.Multisig(f.ctx, msAddr)
	require.NoError(t, err)
	assert.Empty(t, ms.Proposals)

	// The next identical vote opens a fresh proposal.
	fresh := f.submit(bob, payload, 2, transaction.WithMultisig(msAddr))
	assert.Equal(t, types.OutcomeApprovalPending, fresh.Outcome)
	assert.Equal(t, uint64(500_000), f.balance(recipient))
}

func TestMultisigUnknownAccount(t *testing.T) {
	f := newFixture(t)
	placeholder := types.MustParseAddress("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef")

	rec := f.submit(f.account(), transfer(t, types.MustParseAddress("0xcafe"), 500_000), 1, transaction.WithMultisig(placeholder))
	assert.Equal(t, types.OutcomeMultisigNotFound, rec.Outcome)
	assert.True(t, errors.IsTransactionError(rec.Err(), errors.TransactionErrMultisigNotFound))

	_, err := f.ledger.Multisig(f.ctx, placeholder)
	assert.True(t, errors.IsTransactionError(err, errors.TransactionErrMultisigNotFound))
}

func TestCreateMultisigValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.account()

	rec := f.submit(alice, createMultisig(t, 3, f.account().Address()), 1)
	assert.Equal(t, types.OutcomeInvalidPayload, rec.Outcome)

	rec = f.submit(alice, createMultisig(t, 0), 2)
	assert.Equal(t, types.OutcomeInvalidPayload, rec.Outcome)

	rec = f.submit(alice, createMultisig(t, 1), 3)
	assert.Equal(t, types.OutcomeExecuted, rec.Outcome)
}

func TestMultisigAddressIsDeterministic(t *testing.T) {
	a := types.MustParseAddress("0xa11ce")
	assert.Equal(t, MultisigAddress(a, 1), MultisigAddress(a, 1))
	assert.NotEqual(t, MultisigAddress(a, 1), MultisigAddress(a, 2))
}

func TestValidatePayload(t *testing.T) {
	cafe := types.MustParseAddress("0xcafe")
	cases := []struct {
		name    string
		payload types.Payload
		ok      bool
	}{
		{"transfer", transfer(t, cafe, 1), true},
		{"script", &types.Script{Code: types.ScriptHeader(5)}, true},
		{"empty script", &types.Script{}, false},
		{"unknown function", types.NewEntryFunction(types.ModuleID{Address: types.AccountOne, Name: "nope"}, "run", nil, nil), false},
		{"wrong arity", types.NewEntryFunction(types.ModuleID{Address: types.AccountOne, Name: "aptos_account"}, "transfer", nil,
			[]types.TransactionArgument{types.Address(cafe)}), false},
		{"wrong kind", types.NewEntryFunction(types.ModuleID{Address: types.AccountOne, Name: "aptos_account"}, "transfer", nil,
			[]types.TransactionArgument{types.Address(cafe), types.U8(1)}), false},
		{"coin transfer", types.NewEntryFunction(types.ModuleID{Address: types.AccountOne, Name: "coin"}, "transfer",
			[]types.TypeTag{NativeCoin}, []types.TransactionArgument{types.Address(cafe), types.U64(1)}), true},
		{"coin transfer without type", types.NewEntryFunction(types.ModuleID{Address: types.AccountOne, Name: "coin"}, "transfer",
			nil, []types.TransactionArgument{types.Address(cafe), types.U64(1)}), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePayload(tc.payload)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
