// Package queue carries accepted transaction hashes from the submission path
// to the processor and announces finished transactions.
package queue

import (
	"context"

	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
)

// Queue is a work queue of pending transaction hashes. Delivery is at least
// once; consumers must tolerate a hash arriving more than once.
type Queue interface {
	// Publish enqueues a pending transaction.
	Publish(ctx context.Context, hash types.HashValue) error
	// Consume blocks until a hash is available or ctx is done.
	Consume(ctx context.Context) (types.HashValue, error)
	// Announce reports a finished transaction to subscribers.
	Announce(ctx context.Context, rec *transaction.Record) error
	// Depth is the number of published hashes not yet consumed.
	Depth() int
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the Kafka queue when it is enabled and an in-memory queue
// otherwise.
func Open(cfg *config.Config, logger *logging.Logger) (Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Kafka.Enabled {
		return NewKafkaQueue(cfg.Kafka, logger)
	}
	return NewMemoryQueue(cfg.Node.QueueSize), nil
}

func errClosed(op string) error {
	return errors.QueueErrorf(op, errors.QueueErrClosed, "queue is closed")
}
