package storage

import (
	"context"
	"time"

	"github.com/cmatc13/orderless/pkg/service"
)

// ServiceName is the registry name of the store service.
const ServiceName = "store"

// Service exposes a Store to the service registry so it starts first and
// closes last.
type Service struct {
	service.Lifecycle
	store Store
}

// NewService wraps store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) Start(ctx context.Context) error {
	s.SetStatus(service.StatusStarting)
	if err := s.store.Ping(ctx); err != nil {
		s.SetStatus(service.StatusError)
		return err
	}
	s.SetStatus(service.StatusRunning)
	return nil
}

func (s *Service) Stop(context.Context) error {
	s.SetStatus(service.StatusStopping)
	err := s.store.Close()
	s.SetStatus(service.StatusStopped)
	return err
}

func (s *Service) Health() error {
	if err := s.RequireRunning(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}

func (s *Service) Dependencies() []string { return nil }
