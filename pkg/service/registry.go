package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cmatc13/orderless/pkg/logging"
)

// Registry starts services after their dependencies and stops them in
// reverse.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
	logger   *logging.Logger

	// HealthTimeout bounds how long StartAll waits for each service to report healthy.
	HealthTimeout time.Duration
	// HealthPoll is the interval between health probes during startup.
	HealthPoll time.Duration
}

func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		services:      make(map[string]Service),
		logger:        logger.Named("registry"),
		HealthTimeout: 30 * time.Second,
		HealthPoll:    50 * time.Millisecond,
	}
}

// Register adds a service. Names are unique.
func (r *Registry) Register(svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := svc.Name()
	if _, ok := r.services[name]; ok {
		return fmt.Errorf("service %s is already registered", name)
	}
	r.services[name] = svc
	r.logger.Debug("Service registered", "service", name, "dependencies", svc.Dependencies())
	return nil
}

func (r *Registry) Get(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("service %s not found", name)
	}
	return svc, nil
}

// Order returns the service names in start order.
func (r *Registry) Order() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order()
}

// StartAll starts every service once its dependencies are healthy. When one
// fails, the services already started are stopped again.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, err := r.order()
	if err != nil {
		return err
	}

	for i, name := range order {
		svc := r.services[name]
		r.logger.Info("Starting service", "service", name)

		err := svc.Start(ctx)
		if err == nil {
			err = r.waitHealthy(ctx, svc)
		}
		if err != nil {
			r.logger.Error("Failed to start service", "service", name, "error", err.Error())
			r.stop(context.WithoutCancel(ctx), order[:i+1])
			return fmt.Errorf("failed to start service %s: %w", name, err)
		}
	}
	r.logger.Info("All services started", "services", order)
	return nil
}

// StopAll stops every service, dependents first. It keeps going past
// failures and returns them joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, err := r.order()
	if err != nil {
		return err
	}
	return r.stop(ctx, order)
}

// HealthCheck reports each service's Health result.
func (r *Registry) HealthCheck() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make(map[string]error, len(r.services))
	for name, svc := range r.services {
		results[name] = svc.Health()
	}
	return results
}

// stop stops the named services in reverse order.
func (r *Registry) stop(ctx context.Context, started []string) error {
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		name := started[i]
		r.logger.Info("Stopping service", "service", name)
		if err := r.services[name].Stop(ctx); err != nil {
			r.logger.Error("Error stopping service", "service", name, "error", err.Error())
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) waitHealthy(ctx context.Context, svc Service) error {
	if svc.Health() == nil {
		return nil
	}

	ticker := time.NewTicker(r.HealthPoll)
	defer ticker.Stop()
	deadline := time.NewTimer(r.HealthTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timeout waiting for service %s to become healthy: %w", svc.Name(), svc.Health())
		case <-ticker.C:
			if svc.Health() == nil {
				return nil
			}
		}
	}
}

// order sorts services so each follows its dependencies, breaking ties by
// name. Every dependency must be registered.
func (r *Registry) order() ([]string, error) {
	pending := make(map[string]int, len(r.services))
	dependents := make(map[string][]string)
	for name, svc := range r.services {
		for _, dep := range svc.Dependencies() {
			if _, ok := r.services[dep]; !ok {
				return nil, fmt.Errorf("service %s depends on unregistered service %s", name, dep)
			}
			pending[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name := range r.services {
		if pending[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(r.services))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, next := range dependents[name] {
			pending[next]--
			if pending[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(r.services) {
		var stuck []string
		for name := range r.services {
			if pending[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle among services %v", stuck)
	}
	return order, nil
}
