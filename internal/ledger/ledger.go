// Package ledger holds the node's state: balances, used nonces, transaction
// records and multisig accounts. Every state change runs inside a single
// storage transaction, so each one is all-or-nothing.
package ledger

import (
	"context"
	"encoding/binary"
	"math/bits"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
)

const (
	balanceKeyPrefix  = "balance:"
	nonceKeyPrefix    = "nonce:"
	txKeyPrefix       = "tx:"
	accountTxPrefix   = "acctx:"
	multisigKeyPrefix = "multisig:"

	versionKey = "chain:version"
	supplyKey  = "chain:supply"
)

// Nonce record states.
const (
	NoncePending   = "pending"
	NonceCommitted = "committed"
	NonceDiscarded = "discarded"
)

// NonceRecord marks a (sender, nonce) pair as used.
type NonceRecord struct {
	Hash   types.HashValue `json:"hash" cbor:"1,keyasint"`
	Status string          `json:"status" cbor:"2,keyasint"`
	// RetainUntil is when the record may be evicted, in unix seconds.
	RetainUntil int64 `json:"retain_until" cbor:"3,keyasint"`
}

// Options configure a Ledger.
type Options struct {
	// AccountTxLimit caps the per-account transaction index.
	AccountTxLimit int
	Clock          clock.Clock
	Logger         *logging.Logger
}

// Ledger reads and writes chain state through a storage.Store.
type Ledger struct {
	store  storage.Store
	opts   Options
	logger *logging.Logger
}

// New creates a ledger over store.
func New(store storage.Store, opts Options) *Ledger {
	if opts.AccountTxLimit <= 0 {
		opts.AccountTxLimit = 100
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Ledger{store: store, opts: opts, logger: opts.Logger.Named("ledger")}
}

// Store returns the underlying store.
func (l *Ledger) Store() storage.Store {
	return l.store
}

func nonceKey(sender types.AccountAddress, nonce uint64) string {
	return nonceKeyPrefix + sender.String() + ":" + strconv.FormatUint(nonce, 10)
}

func balanceKey(addr types.AccountAddress) string { return balanceKeyPrefix + addr.String() }
func txKey(hash types.HashValue) string          { return txKeyPrefix + hash.String() }
func accountTxKey(addr types.AccountAddress) string {
	return accountTxPrefix + addr.String()
}

// ReserveNonce atomically claims rec's (sender, nonce) and stores rec as
// pending. Exactly one of any number of concurrent reservations of the same
// pair succeeds; the rest fail with TRANSACTION_DUPLICATE_NONCE. The nonce
// record lives for retention.
func (l *Ledger) ReserveNonce(ctx context.Context, rec *transaction.Record, retention time.Duration) error {
	raw := rec.Transaction.Raw
	key := nonceKey(raw.Sender, raw.Nonce)
	encoded, err := rec.Encode()
	if err != nil {
		return err
	}

	err = l.store.Update(ctx, func(tx storage.Tx) error {
		existing, err := getNonce(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.TransactionOpError(errors.OpReserveNonce, errors.TransactionErrDuplicateNonce,
				"nonce "+strconv.FormatUint(raw.Nonce, 10)+" already used by "+raw.Sender.String()+" ("+existing.Status+")")
		}

		record := NonceRecord{
			Hash:        rec.Hash,
			Status:      NoncePending,
			RetainUntil: l.opts.Clock.Now().Add(retention).Unix(),
		}
		if err := putNonce(tx, key, record, retention); err != nil {
			return err
		}
		if err := tx.Set(txKey(rec.Hash), encoded, 0); err != nil {
			return err
		}
		return l.indexAccount(tx, raw.Sender, rec.Hash)
	})
	if err != nil {
		return err
	}

	l.logger.Debug("Reserved nonce", "sender", raw.Sender.String(), "nonce", raw.Nonce, "hash", rec.Hash.String())
	return nil
}

// NonceStatus returns the state of a (sender, nonce) pair, or "" when unused.
func (l *Ledger) NonceStatus(ctx context.Context, sender types.AccountAddress, nonce uint64) (string, error) {
	var status string
	err := l.store.View(ctx, func(tx storage.Tx) error {
		rec, err := getNonce(tx, nonceKey(sender, nonce))
		if rec != nil {
			status = rec.Status
		}
		return err
	})
	return status, err
}

// Mint credits amount to addr out of thin air and returns the new balance.
// It creates the account when unseen.
func (l *Ledger) Mint(ctx context.Context, addr types.AccountAddress, amount uint64) (uint64, error) {
	var balance uint64
	err := l.store.Update(ctx, func(tx storage.Tx) error {
		supply, err := getUint(tx, supplyKey)
		if err != nil {
			return err
		}
		newSupply, carry := bits.Add64(supply, amount, 0)
		if carry != 0 {
			return errors.TransactionOpError(errors.OpFundAccount, errors.TransactionErrInvalidAmount,
				"mint would overflow total supply")
		}

		current, err := getUint(tx, balanceKey(addr))
		if err != nil {
			return err
		}
		balance, carry = bits.Add64(current, amount, 0)
		if carry != 0 {
			return errors.TransactionOpError(errors.OpFundAccount, errors.TransactionErrInvalidAmount,
				"mint would overflow balance of "+addr.String())
		}

		if err := putUint(tx, supplyKey, newSupply); err != nil {
			return err
		}
		return putUint(tx, balanceKey(addr), balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance returns the balance of addr; unseen accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, addr types.AccountAddress) (uint64, error) {
	var balance uint64
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		balance, err = getUint(tx, balanceKey(addr))
		return err
	})
	if err != nil {
		return 0, errors.TransactionWrap(err, errors.OpGetBalance, "failed to read balance")
	}
	return balance, nil
}

// TotalSupply returns everything minted so far.
func (l *Ledger) TotalSupply(ctx context.Context) (uint64, error) {
	var supply uint64
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		supply, err = getUint(tx, supplyKey)
		return err
	})
	return supply, err
}

// Version returns the number of committed transactions.
func (l *Ledger) Version(ctx context.Context) (uint64, error) {
	var version uint64
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		version, err = getUint(tx, versionKey)
		return err
	})
	return version, err
}

// Transaction returns the record stored under hash.
func (l *Ledger) Transaction(ctx context.Context, hash types.HashValue) (*transaction.Record, error) {
	var rec *transaction.Record
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = GetRecord(tx, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AccountTransactions returns the most recent transactions involving addr,
// newest first.
func (l *Ledger) AccountTransactions(ctx context.Context, addr types.AccountAddress, limit int) ([]*transaction.Record, error) {
	var records []*transaction.Record
	err := l.store.View(ctx, func(tx storage.Tx) error {
		hashes, err := getHashes(tx, accountTxKey(addr))
		if err != nil {
			return err
		}
		for i := len(hashes) - 1; i >= 0 && (limit <= 0 || len(records) < limit); i-- {
			rec, err := GetRecord(tx, hashes[i])
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// GetRecord loads a transaction record inside tx.
func GetRecord(tx storage.Tx, hash types.HashValue) (*transaction.Record, error) {
	data, err := tx.Get(txKey(hash))
	if storage.IsNotFound(err) {
		return nil, errors.TransactionOpError(errors.OpGetTransaction, errors.TransactionErrNotFound,
			"transaction "+hash.String()+" not found")
	}
	if err != nil {
		return nil, err
	}
	return transaction.DecodeRecord(data)
}

// PutRecord stores a transaction record inside tx.
func PutRecord(tx storage.Tx, rec *transaction.Record) error {
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	return tx.Set(txKey(rec.Hash), data, 0)
}

func (l *Ledger) indexAccount(tx storage.Tx, addr types.AccountAddress, hash types.HashValue) error {
	key := accountTxKey(addr)
	hashes, err := getHashes(tx, key)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if h == hash {
			return nil
		}
	}
	hashes = append(hashes, hash)
	if over := len(hashes) - l.opts.AccountTxLimit; over > 0 {
		hashes = hashes[over:]
	}
	data, err := types.EncodeCanonical(hashes)
	if err != nil {
		return errors.StorageWrapWithCode(err, errors.OpSerialize, errors.StorageErrSerialization, "failed to encode account index")
	}
	return tx.Set(key, data, 0)
}

func getHashes(tx storage.Tx, key string) ([]types.HashValue, error) {
	data, err := tx.Get(key)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var hashes []types.HashValue
	if err := types.DecodeCanonical(data, &hashes); err != nil {
		return nil, errors.StorageWrapWithCode(err, errors.OpDeserialize, errors.StorageErrDeserialization, "failed to decode "+key)
	}
	return hashes, nil
}

func getNonce(tx storage.Tx, key string) (*NonceRecord, error) {
	data, err := tx.Get(key)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec NonceRecord
	if err := types.DecodeCanonical(data, &rec); err != nil {
		return nil, errors.StorageWrapWithCode(err, errors.OpDeserialize, errors.StorageErrDeserialization, "failed to decode "+key)
	}
	return &rec, nil
}

func putNonce(tx storage.Tx, key string, rec NonceRecord, ttl time.Duration) error {
	data, err := types.EncodeCanonical(rec)
	if err != nil {
		return errors.StorageWrapWithCode(err, errors.OpSerialize, errors.StorageErrSerialization, "failed to encode "+key)
	}
	return tx.Set(key, data, ttl)
}

// getUint reads a big-endian uint64; missing keys read as zero.
func getUint(tx storage.Tx, key string) (uint64, error) {
	data, err := tx.Get(key)
	if storage.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, errors.StorageErrorf(errors.StorageErrInvalidValue, "value of %s is %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func putUint(tx storage.Tx, key string, v uint64) error {
	return tx.Set(key, binary.BigEndian.AppendUint64(nil, v), 0)
}
