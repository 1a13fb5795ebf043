package api

import (
	"context"
	"time"

	"github.com/cmatc13/orderless/internal/processor"
	"github.com/cmatc13/orderless/pkg/logging"
	"github.com/cmatc13/orderless/pkg/metrics"
	"github.com/cmatc13/orderless/pkg/service"
)

// ServiceName is the registry name of the API service
const ServiceName = "api"

// APIService wraps the API server as a Service
type APIService struct {
	service.Lifecycle
	server           *Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	uptimeDone       chan struct{}
	serveErr         chan error
}

// NewAPIService creates a new API service
func NewAPIService(server *Server) *APIService {
	return &APIService{
		server:           server,
		logger:           server.logger,
		metricsCollector: server.metricsCollector,
	}
}

// Name returns the service name
func (s *APIService) Name() string {
	return ServiceName
}

// Start serves the API in the background
func (s *APIService) Start(ctx context.Context) error {
	s.SetStatus(service.StatusStarting)

	s.serveErr = make(chan error, 1)
	go func() {
		err := s.server.Start()
		if err != nil {
			s.logger.Error("API server stopped", "error", err.Error())
			s.SetStatus(service.StatusError)
		}
		s.serveErr <- err
	}()

	s.metricsCollector.ServiceLastStarted.Set(float64(time.Now().Unix()))
	s.uptimeDone = make(chan struct{})
	s.metricsCollector.RecordUptime(s.uptimeDone)

	s.SetStatus(service.StatusRunning)
	return nil
}

// Stop gracefully shuts down the service
func (s *APIService) Stop(ctx context.Context) error {
	if s.serveErr == nil {
		return nil
	}
	s.SetStatus(service.StatusStopping)
	close(s.uptimeDone)

	err := s.server.Shutdown(ctx)
	if serveErr := <-s.serveErr; err == nil {
		err = serveErr
	}
	s.serveErr = nil
	s.SetStatus(service.StatusStopped)
	return err
}

// Health reports the API unhealthy unless it is serving
func (s *APIService) Health() error {
	return s.RequireRunning()
}

// Dependencies returns a list of services this service depends on
func (s *APIService) Dependencies() []string {
	return []string{processor.ServiceName}
}
