// Package node accepts orderless transactions and answers chain queries. It
// owns the submission pipeline: verify, check expiration, validate the payload,
// reserve the (sender, nonce) pair, enqueue and optionally wait for commit.
package node

import (
	"context"
	"time"

	"github.com/cmatc13/orderless/internal/faucet"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/processor"
	"github.com/cmatc13/orderless/internal/queue"
	"github.com/cmatc13/orderless/internal/settlement"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/timeoracle"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
	"github.com/cmatc13/orderless/pkg/metrics"
)

// Config holds the submission settings
type Config struct {
	ChainID      uint8
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChainID == 0 {
		c.ChainID = transaction.DefaultChainID
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Deps are the components a Node is assembled from
type Deps struct {
	Store     storage.Store
	Ledger    *ledger.Ledger
	Oracle    timeoracle.TimeOracle
	Queue     queue.Queue
	Engine    *settlement.Engine
	Processor *processor.TransactionProcessor
	Faucet    *faucet.Faucet
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Node is the orderless transaction node
type Node struct {
	Deps
	cfg    Config
	logger *logging.Logger
}

// SubmitResult identifies a submitted transaction and, once committed, how it
// ended.
type SubmitResult struct {
	Hash        types.HashValue `json:"hash"`
	Outcome     types.Outcome   `json:"outcome"`
	Version     uint64          `json:"version,string"`
	BlockHeight uint64          `json:"block_height,string"`
	VMStatus    string          `json:"vm_status"`
}

func resultOf(rec *transaction.Record) *SubmitResult {
	return &SubmitResult{
		Hash:        rec.Hash,
		Outcome:     rec.Outcome,
		Version:     rec.Version,
		BlockHeight: rec.BlockHeight,
		VMStatus:    rec.VMStatus,
	}
}

// Info summarises the chain state
type Info struct {
	ChainID         uint8  `json:"chain_id"`
	LedgerVersion   uint64 `json:"ledger_version,string"`
	BlockHeight     uint64 `json:"block_height,string"`
	LedgerTimestamp uint64 `json:"ledger_timestamp,string"`
	TotalSupply     uint64 `json:"total_supply,string"`
	NodeRole        string `json:"node_role"`
}

// New assembles a node from deps
func New(cfg Config, deps Deps) *Node {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Node{Deps: deps, cfg: cfg.withDefaults(), logger: deps.Logger.Named("node")}
}

// ChainID returns the chain id transactions must be signed for.
func (n *Node) ChainID() uint8 { return n.cfg.ChainID }

// Submit accepts a signed orderless transaction. The (sender, nonce) pair is
// reserved before Submit returns, so any later submission of the same pair
// fails with TRANSACTION_DUPLICATE_NONCE. With wait set, Submit returns once
// the transaction is in a block; a committed transaction whose payload failed
// returns both the result and an error carrying the outcome. A wait that ends
// before the transaction is final returns no result.
func (n *Node) Submit(ctx context.Context, tx *transaction.SignedTransaction, wait bool) (*SubmitResult, error) {
	rec, err := n.accept(ctx, tx)
	if err != nil {
		n.recordSubmission(tx, err)
		return nil, err
	}
	n.recordSubmission(tx, nil)

	if err := n.Queue.Publish(ctx, rec.Hash); err != nil {
		n.logger.Warn("Queue refused transaction, executing inline",
			"hash", rec.Hash.String(),
			"error", err.Error(),
		)
		if _, err := n.Processor.Process(context.WithoutCancel(ctx), rec.Hash); err != nil {
			err = errors.TransactionWrap(err, errors.OpSubmitTransaction, "failed to execute "+rec.Hash.String())
			if wait {
				return nil, err
			}
			return resultOf(rec), err
		}
	}

	if !wait {
		return resultOf(rec), nil
	}
	done, err := n.WaitForTransaction(ctx, rec.Hash)
	if err != nil {
		return nil, err
	}
	return resultOf(done), done.Err()
}

// accept runs the checks that need no execution and reserves the nonce.
func (n *Node) accept(ctx context.Context, tx *transaction.SignedTransaction) (*transaction.Record, error) {
	if tx == nil {
		return nil, errors.TransactionOpError(errors.OpSubmitTransaction, errors.TransactionErrInvalidPayload, "missing transaction")
	}
	if err := tx.VerifySignature(); err != nil {
		return nil, err
	}

	raw := tx.Raw
	if raw.ChainID != n.cfg.ChainID {
		return nil, errors.TransactionOpError(errors.OpValidateTransaction, errors.TransactionErrInvalidChainID,
			errors.Sprintf("transaction is for chain %d, node serves chain %d", raw.ChainID, n.cfg.ChainID))
	}
	if err := n.Oracle.ValidateExpiration(raw.ExpirationTimestampSecs); err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpValidateTransaction, errors.TransactionErrExpired,
			"expiration rejected")
	}
	if err := ledger.ValidatePayload(raw.Payload.Payload); err != nil {
		return nil, errors.TransactionWrapWithCode(err, errors.OpValidateTransaction, errors.TransactionErrInvalidPayload,
			"invalid payload")
	}

	rec, err := transaction.NewRecord(tx, n.Oracle.Now())
	if err != nil {
		return nil, err
	}
	if err := n.Ledger.ReserveNonce(ctx, rec, n.Oracle.RetentionTTL(raw.ExpirationTimestampSecs)); err != nil {
		return nil, err
	}
	return rec, nil
}

func (n *Node) recordSubmission(tx *transaction.SignedTransaction, err error) {
	if n.Metrics == nil || tx == nil || tx.Raw.Payload.Payload == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "error"
		if o, ok := types.OutcomeFromError(err); ok {
			outcome = string(o)
		}
	}
	n.Metrics.RecordSubmission(string(tx.Raw.Payload.Payload.Kind()), outcome)
}

// WaitForTransaction polls until the transaction is final, ctx is done or the
// wait timeout passes. A committed transaction is final once a block holds it;
// one that expired before execution is final without a block.
func (n *Node) WaitForTransaction(ctx context.Context, hash types.HashValue) (*transaction.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rec, err := n.Transaction(ctx, hash)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if err == nil && final(rec) {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.TransactionWrapWithCode(ctx.Err(), errors.OpWaitForTransaction, errors.TransactionErrWaitTimeout,
				"transaction "+hash.String()+" was not finalized in time")
		case <-ticker.C:
		}
	}
}

func final(rec *transaction.Record) bool {
	if rec.Committed() {
		return rec.BlockHeight != 0
	}
	return rec.Outcome != types.OutcomePending
}

// Transaction returns the record stored for hash.
func (n *Node) Transaction(ctx context.Context, hash types.HashValue) (*transaction.Record, error) {
	return n.Ledger.Transaction(ctx, hash)
}

// Balance returns the balance of addr in octas; unseen accounts hold zero.
func (n *Node) Balance(ctx context.Context, addr types.AccountAddress) (uint64, error) {
	balance, err := n.Ledger.Balance(ctx, addr)
	if err != nil {
		return 0, errors.TransactionWrap(err, errors.OpGetBalance, "failed to read balance of "+addr.String())
	}
	return balance, nil
}

// AccountTransactions returns up to limit transactions touching addr, newest first.
func (n *Node) AccountTransactions(ctx context.Context, addr types.AccountAddress, limit int) ([]*transaction.Record, error) {
	return n.Ledger.AccountTransactions(ctx, addr, limit)
}

// Multisig returns the multisig account at addr.
func (n *Node) Multisig(ctx context.Context, addr types.AccountAddress) (*ledger.MultisigAccount, error) {
	return n.Ledger.Multisig(ctx, addr)
}

// Block returns the block at height.
func (n *Node) Block(ctx context.Context, height uint64) (*settlement.Block, error) {
	return n.Engine.GetBlock(ctx, height)
}

// Fund mints amount into addr through the faucet.
func (n *Node) Fund(ctx context.Context, addr types.AccountAddress, amount uint64) (*faucet.FundResult, error) {
	if n.Faucet == nil {
		return nil, errors.NewAPIError(errors.APIErrFaucetDisabled, "faucet is disabled", nil)
	}
	return n.Faucet.Fund(ctx, addr, amount)
}

// Info reports the chain id, ledger version and block height.
func (n *Node) Info(ctx context.Context) (*Info, error) {
	version, err := n.Ledger.Version(ctx)
	if err != nil {
		return nil, err
	}
	height, err := n.Engine.Height(ctx)
	if err != nil {
		return nil, err
	}
	supply, err := n.Ledger.TotalSupply(ctx)
	if err != nil {
		return nil, err
	}
	return &Info{
		ChainID:         n.cfg.ChainID,
		LedgerVersion:   version,
		BlockHeight:     height,
		LedgerTimestamp: uint64(n.Oracle.Now().UnixMicro()),
		TotalSupply:     supply,
		NodeRole:        "full_node",
	}, nil
}

// Ping checks the store and the queue.
func (n *Node) Ping(ctx context.Context) error {
	if err := n.Store.Ping(ctx); err != nil {
		return err
	}
	return n.Queue.Ping(ctx)
}
