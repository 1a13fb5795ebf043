package node

import (
	"context"
	"sync"

	"github.com/cmatc13/orderless/internal/faucet"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/processor"
	"github.com/cmatc13/orderless/internal/queue"
	"github.com/cmatc13/orderless/internal/settlement"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/timeoracle"
	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
	"github.com/cmatc13/orderless/pkg/metrics"
)

// Open builds every component of a node from configuration. m may be nil.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*Node, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	storeOpts := storage.Options{Logger: logger.Named("storage")}
	if m != nil {
		storeOpts.OnConflict = m.RecordStorageConflict
	}
	store, err := storage.Open(ctx, cfg, storeOpts)
	if err != nil {
		return nil, err
	}

	oracle, err := timeoracle.New(timeoracle.Config{
		ExpirationWindow: cfg.Node.ExpirationWindow,
		Retention:        cfg.Node.NonceRetention,
	})
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "failed to create time oracle")
	}

	q, err := queue.Open(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	l := ledger.New(store, ledger.Options{
		AccountTxLimit: cfg.Node.AccountTxLimit,
		Clock:          oracle.Clock(),
		Logger:         logger,
	})

	engine := settlement.NewEngine(store, oracle, logger, nil)

	proc := processor.NewTransactionProcessor(l, q, engine, processor.Config{
		Workers:       cfg.Node.Workers,
		BlockSize:     cfg.Node.BlockSize,
		BlockInterval: cfg.Node.BlockInterval,
	}, logger, m)

	f := faucet.New(l, faucet.Config{
		Enabled:   cfg.Faucet.Enabled,
		MaxAmount: cfg.Faucet.MaxAmount,
	}, logger, m)

	return New(Config{
		ChainID:      cfg.Node.ChainID,
		WaitTimeout:  cfg.Node.WaitTimeout,
		PollInterval: cfg.Node.PollInterval,
	}, Deps{
		Store:     store,
		Ledger:    l,
		Oracle:    oracle,
		Queue:     q,
		Engine:    engine,
		Processor: proc,
		Faucet:    f,
		Metrics:   m,
		Logger:    logger,
	}), nil
}

// Embedded is a node that runs its own processor, for tests and the example
// runner.
type Embedded struct {
	*Node
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// StartEmbedded opens a node and starts its processor.
func StartEmbedded(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Embedded, error) {
	n, err := Open(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Embedded{Node: n, cancel: cancel, done: make(chan error, 1)}
	go func() { e.done <- n.Processor.Run(runCtx) }()
	return e, nil
}

// Close stops the processor, then closes the queue and the store.
func (e *Embedded) Close() error {
	var err error
	e.once.Do(func() {
		e.cancel()
		err = <-e.done
		if qerr := e.Queue.Close(); err == nil {
			err = qerr
		}
		if serr := e.Store.Close(); err == nil {
			err = serr
		}
	})
	return err
}
