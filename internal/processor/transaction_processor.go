// internal/processor/transaction_processor.go
package processor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/queue"
	"github.com/cmatc13/orderless/internal/settlement"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
	"github.com/cmatc13/orderless/pkg/metrics"
)

// Config tunes the processor
type Config struct {
	// Workers is the number of goroutines consuming the queue.
	Workers int
	// BlockSize seals a block as soon as this many transactions committed.
	BlockSize int
	// BlockInterval seals whatever committed since the last block.
	BlockInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 100
	}
	if c.BlockInterval <= 0 {
		c.BlockInterval = 250 * time.Millisecond
	}
	return c
}

// TransactionProcessor executes queued transactions and seals them into blocks
type TransactionProcessor struct {
	ledger  *ledger.Ledger
	queue   queue.Queue
	engine  *settlement.Engine
	metrics *metrics.Metrics
	logger  *logging.Logger
	cfg     Config

	committed chan *transaction.Record

	// mu guards sealing, which is set while Run's sealer drains committed.
	mu      sync.Mutex
	sealing bool
}

// NewTransactionProcessor creates a new transaction processor. m may be nil.
func NewTransactionProcessor(l *ledger.Ledger, q queue.Queue, engine *settlement.Engine, cfg Config, logger *logging.Logger, m *metrics.Metrics) *TransactionProcessor {
	if logger == nil {
		logger = logging.Nop()
	}
	cfg = cfg.withDefaults()
	return &TransactionProcessor{
		ledger:    l,
		queue:     q,
		engine:    engine,
		metrics:   m,
		logger:    logger.Named("processor"),
		cfg:       cfg,
		committed: make(chan *transaction.Record, cfg.BlockSize*2),
	}
}

// Run consumes the queue until ctx is done or the queue closes. Committed
// transactions still waiting for a block are sealed before Run returns.
func (tp *TransactionProcessor) Run(ctx context.Context) error {
	tp.logger.Info("Transaction processor started",
		"workers", tp.cfg.Workers,
		"block_size", tp.cfg.BlockSize,
		"block_interval", tp.cfg.BlockInterval.String(),
	)

	consumers, cctx := errgroup.WithContext(ctx)
	for i := 0; i < tp.cfg.Workers; i++ {
		consumers.Go(func() error { return tp.consume(cctx) })
	}

	tp.setSealing(true)
	stop := make(chan struct{})
	sealed := make(chan error, 1)
	go func() { sealed <- tp.seal(ctx, stop) }()

	err := consumers.Wait()
	tp.setSealing(false)
	close(stop)
	if sealErr := <-sealed; err == nil {
		err = sealErr
	}

	tp.logger.Info("Transaction processor stopped")
	return err
}

func (tp *TransactionProcessor) consume(ctx context.Context) error {
	for {
		hash, err := tp.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.IsQueueError(err, errors.QueueErrClosed) {
				return nil
			}
			tp.logger.Error("Error reading message", "error", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if tp.metrics != nil {
			tp.metrics.QueueDepth.Set(float64(tp.queue.Depth()))
		}

		if _, err := tp.Process(ctx, hash); err != nil {
			tp.requeue(ctx, hash, err)
		}
	}
}

// requeue puts a hash back when its execution failed for reasons other than
// the transaction itself, such as a storage outage.
func (tp *TransactionProcessor) requeue(ctx context.Context, hash types.HashValue, cause error) {
	if errors.IsTransactionError(cause, errors.TransactionErrNotFound) {
		tp.logger.Warn("Dropping unknown transaction", "hash", hash.String())
		return
	}
	tp.logger.Error("Transaction processing failed", "hash", hash.String(), "error", cause.Error())
	if ctx.Err() != nil {
		return
	}
	if err := tp.queue.Publish(ctx, hash); err != nil {
		tp.logger.Error("Failed to requeue transaction", "hash", hash.String(), "error", err.Error())
	}
}

// Process executes one transaction, announces its outcome and hands it to the
// block sealer.
func (tp *TransactionProcessor) Process(ctx context.Context, hash types.HashValue) (*transaction.Record, error) {
	rec, err := tp.ledger.Execute(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec.BlockHeight != 0 {
		// Redelivered after it was sealed.
		return rec, nil
	}

	if err := tp.queue.Announce(ctx, rec); err != nil {
		tp.logger.Warn("Failed to announce transaction", "hash", hash.String(), "error", err.Error())
	}
	tp.observe(rec)

	if rec.Committed() {
		tp.handOff(ctx, rec)
	}
	return rec, nil
}

func (tp *TransactionProcessor) setSealing(on bool) {
	tp.mu.Lock()
	tp.sealing = on
	tp.mu.Unlock()
}

// handOff queues rec for the sealer. Without a running sealer, or with its
// backlog full, rec is sealed into a block of its own.
func (tp *TransactionProcessor) handOff(ctx context.Context, rec *transaction.Record) {
	tp.mu.Lock()
	if tp.sealing {
		select {
		case tp.committed <- rec:
			tp.mu.Unlock()
			return
		default:
		}
	}
	tp.mu.Unlock()

	tp.logger.Debug("Sealing transaction outside the batch", "hash", rec.Hash.String())
	tp.sealBatch(ctx, []*transaction.Record{rec})
}

// sealBatch writes batch into a block. It reports false when the batch must
// be kept for a later attempt.
func (tp *TransactionProcessor) sealBatch(ctx context.Context, batch []*transaction.Record) bool {
	block, err := tp.engine.Seal(ctx, batch)
	if errors.Is(err, settlement.ErrEmptyBatch) {
		// Everything was redelivered and is already in a block.
		return true
	}
	if err != nil {
		tp.logger.Error("Failed to seal block", "transactions", len(batch), "error", err.Error())
		return false
	}
	if tp.metrics != nil {
		tp.metrics.RecordBlock(block.Height, len(block.Transactions))
	}
	return true
}

func (tp *TransactionProcessor) observe(rec *transaction.Record) {
	if tp.metrics == nil || !rec.Committed() {
		return
	}
	raw := rec.Transaction.Raw
	kind := string(raw.Payload.Payload.Kind())
	latency := time.Duration(rec.CommittedAt-rec.SubmittedAt) * time.Microsecond
	tp.metrics.RecordCommit(kind, latency)
	if raw.IsMultisig() {
		tp.metrics.RecordMultisigVote(rec.Outcome == types.OutcomeExecuted)
	}
}

// seal batches committed records into blocks until stop closes, then seals
// what is left with a context that outlives ctx.
func (tp *TransactionProcessor) seal(ctx context.Context, stop <-chan struct{}) error {
	ticker := time.NewTicker(tp.cfg.BlockInterval)
	defer ticker.Stop()

	var batch []*transaction.Record
	flush := func(ctx context.Context) {
		if len(batch) > 0 && tp.sealBatch(ctx, batch) {
			batch = batch[:0]
		}
	}

	for {
		select {
		case rec := <-tp.committed:
			batch = append(batch, rec)
			if len(batch) >= tp.cfg.BlockSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-stop:
			for {
				select {
				case rec := <-tp.committed:
					batch = append(batch, rec)
				default:
					flush(context.WithoutCancel(ctx))
					return nil
				}
			}
		}
	}
}
