// internal/processor/service.go
package processor

import (
	"context"

	"github.com/cmatc13/orderless/pkg/service"
)

// ServiceName is the registry name of the processor service
const ServiceName = "transaction-processor"

// TransactionProcessorService wraps the TransactionProcessor as a Service
type TransactionProcessorService struct {
	service.Lifecycle
	processor    *TransactionProcessor
	dependencies []string

	cancel context.CancelFunc
	done   chan error
}

// NewTransactionProcessorService creates a new transaction processor service
// starting after the named services.
func NewTransactionProcessorService(processor *TransactionProcessor, dependencies ...string) *TransactionProcessorService {
	return &TransactionProcessorService{
		processor:    processor,
		dependencies: dependencies,
	}
}

// Name returns the service name
func (s *TransactionProcessorService) Name() string {
	return ServiceName
}

// Start runs the processor in the background. It keeps running after ctx is
// done, until Stop.
func (s *TransactionProcessorService) Start(ctx context.Context) error {
	s.SetStatus(service.StatusStarting)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		err := s.processor.Run(runCtx)
		if err != nil {
			s.SetStatus(service.StatusError)
		}
		s.done <- err
	}()

	s.SetStatus(service.StatusRunning)
	return nil
}

// Stop cancels the processor and waits for it to seal outstanding work
func (s *TransactionProcessorService) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.SetStatus(service.StatusStopping)
	s.cancel()

	var err error
	select {
	case err = <-s.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.cancel = nil
	s.SetStatus(service.StatusStopped)
	return err
}

// Health reports the processor unhealthy unless it is running and its queue
// answers
func (s *TransactionProcessorService) Health() error {
	if err := s.RequireRunning(); err != nil {
		return err
	}
	return s.processor.queue.Ping(context.Background())
}

// Dependencies returns a list of services this service depends on
func (s *TransactionProcessorService) Dependencies() []string {
	return s.dependencies
}
