// Package service runs the node's long-lived parts (store, processor, API)
// under one Registry that orders startup by dependency.
package service

import (
	"context"
	"fmt"
	"sync"
)

// Status is a service's lifecycle state.
type Status string

const (
	StatusStopped  Status = "STOPPED"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusError    Status = "ERROR"
)

// Service is a component the Registry starts and stops.
type Service interface {
	Name() string
	// Start must not block; long-running work belongs in goroutines that Stop ends.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
	// Health returns nil once the service can serve.
	Health() error
	// Dependencies names services that must be healthy before this one starts.
	Dependencies() []string
}

// Lifecycle holds a service's Status. Embed it to satisfy Status().
type Lifecycle struct {
	mu     sync.RWMutex
	status Status
}

func (l *Lifecycle) SetStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

// Status returns StatusStopped before the first SetStatus.
func (l *Lifecycle) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.status == "" {
		return StatusStopped
	}
	return l.status
}

// RequireRunning is a Health implementation for services without deeper checks.
func (l *Lifecycle) RequireRunning() error {
	if s := l.Status(); s != StatusRunning {
		return fmt.Errorf("service not running (status %s)", s)
	}
	return nil
}
