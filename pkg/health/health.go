// Package health runs the node's dependency probes (store, queue,
// processor) and folds them into one status for GET /health.
package health

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmatc13/orderless/pkg/logging"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "UNKNOWN"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 2 * time.Second

// Check is the result of one probe.
type Check struct {
	Name        string
	Status      Status
	Message     string
	LastChecked time.Time
	Latency     time.Duration
	Error       error
}

func (c Check) MarshalJSON() ([]byte, error) {
	var errText string
	if c.Error != nil {
		errText = c.Error.Error()
	}
	return json.Marshal(struct {
		Name        string    `json:"name"`
		Status      Status    `json:"status"`
		Message     string    `json:"message,omitempty"`
		LastChecked time.Time `json:"last_checked"`
		LatencyMS   float64   `json:"latency_ms"`
		Error       string    `json:"error,omitempty"`
	}{c.Name, c.Status, c.Message, c.LastChecked, float64(c.Latency.Microseconds()) / 1000, errText})
}

// Checker performs one probe.
type Checker func(ctx context.Context) Check

// Observer is notified of every check result.
type Observer func(name string, up bool)

// Registry holds the node's probes.
type Registry struct {
	mu       sync.RWMutex
	checks   map[string]Checker
	logger   *logging.Logger
	observer Observer

	// Timeout bounds each probe. A probe that overruns reports DOWN.
	Timeout time.Duration
}

func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		checks:  make(map[string]Checker),
		logger:  logger.Named("health"),
		Timeout: DefaultTimeout,
	}
}

// Observe installs a callback invoked after each probe.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// Register adds or replaces the probe called name.
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	r.checks[name] = checker
	r.mu.Unlock()
	r.logger.Debug("Registered health check", "name", name)
}

// Names returns the registered probe names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunChecks runs every probe concurrently, each under Timeout.
func (r *Registry) RunChecks(ctx context.Context) map[string]Check {
	r.mu.RLock()
	checks := make(map[string]Checker, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	observer, timeout := r.observer, r.Timeout
	r.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]Check, len(checks))
	var g errgroup.Group
	for name, checker := range checks {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			check := checker(probeCtx)
			if check.Name == "" {
				check.Name = name
			}

			mu.Lock()
			results[name] = check
			mu.Unlock()
			if check.Status != StatusUp {
				r.logger.Warn("Health check failing", "name", name, "message", check.Message)
			}
			if observer != nil {
				observer(name, check.Status == StatusUp)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Overall runs every probe. Any DOWN makes the node DOWN; otherwise any
// UNKNOWN makes it UNKNOWN.
func (r *Registry) Overall(ctx context.Context) (Status, map[string]Check) {
	checks := r.RunChecks(ctx)
	status := StatusUp
	for _, check := range checks {
		switch check.Status {
		case StatusDown:
			return StatusDown, checks
		case StatusUnknown:
			status = StatusUnknown
		}
	}
	return status, checks
}

func (r *Registry) IsHealthy(ctx context.Context) bool {
	status, _ := r.Overall(ctx)
	return status == StatusUp
}

// probe builds a Checker from a ping function.
func probe(name, label string, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		start := time.Now()
		err := ping(ctx)
		if err == nil {
			err = ctx.Err()
		}
		check := Check{
			Name:        name,
			Status:      StatusUp,
			Message:     label + " is healthy",
			LastChecked: start.UTC(),
			Latency:     time.Since(start),
		}
		if err != nil {
			check.Status = StatusDown
			check.Error = err
			check.Message = label + " is unhealthy: " + err.Error()
		}
		return check
	}
}

// ServiceChecker probes an in-process service.
func ServiceChecker(serviceName string, ping func(ctx context.Context) error) Checker {
	return probe(serviceName, "Service "+serviceName, ping)
}

// StoreChecker probes the state store.
func StoreChecker(backend string, ping func(ctx context.Context) error) Checker {
	return probe("store", "Store ("+backend+")", ping)
}

// KafkaChecker probes the Kafka brokers behind the transaction queue.
func KafkaChecker(brokers string, ping func(ctx context.Context) error) Checker {
	return probe("kafka", "Kafka at "+brokers, ping)
}
