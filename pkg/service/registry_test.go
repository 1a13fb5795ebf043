package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/pkg/logging"
)

type fakeService struct {
	name    string
	deps    []string
	status  Status
	healthy bool
	journal *[]string
	mu      *sync.Mutex
}

func (f *fakeService) Name() string           { return f.name }
func (f *fakeService) Dependencies() []string { return f.deps }
func (f *fakeService) Status() Status         { return f.status }

func (f *fakeService) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.journal = append(*f.journal, "start:"+f.name)
	f.status = StatusRunning
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.journal = append(*f.journal, "stop:"+f.name)
	f.status = StatusStopped
	return nil
}

func (f *fakeService) Health() error {
	if !f.healthy {
		return fmt.Errorf("%s unhealthy", f.name)
	}
	return nil
}

func newFakes(journal *[]string) (store, processor, api *fakeService) {
	mu := &sync.Mutex{}
	store = &fakeService{name: "store", healthy: true, journal: journal, mu: mu}
	processor = &fakeService{name: "transaction-processor", deps: []string{"store"}, healthy: true, journal: journal, mu: mu}
	api = &fakeService{name: "api", deps: []string{"transaction-processor", "store"}, healthy: true, journal: journal, mu: mu}
	return
}

func TestStartStopOrder(t *testing.T) {
	var journal []string
	store, processor, api := newFakes(&journal)

	r := NewRegistry(logging.Nop())
	require.NoError(t, r.Register(api))
	require.NoError(t, r.Register(processor))
	require.NoError(t, r.Register(store))

	order, err := r.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "transaction-processor", "api"}, order)

	require.NoError(t, r.StartAll(context.Background()))
	require.NoError(t, r.StopAll(context.Background()))

	assert.Equal(t, []string{
		"start:store", "start:transaction-processor", "start:api",
		"stop:api", "stop:transaction-processor", "stop:store",
	}, journal)
}

func TestRegisterDuplicate(t *testing.T) {
	var journal []string
	store, _, _ := newFakes(&journal)
	r := NewRegistry(logging.Nop())
	require.NoError(t, r.Register(store))
	assert.Error(t, r.Register(store))
}

func TestCycleDetected(t *testing.T) {
	var journal []string
	mu := &sync.Mutex{}
	a := &fakeService{name: "a", deps: []string{"b"}, healthy: true, journal: &journal, mu: mu}
	b := &fakeService{name: "b", deps: []string{"a"}, healthy: true, journal: &journal, mu: mu}

	r := NewRegistry(logging.Nop())
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	assert.Error(t, r.StartAll(context.Background()))
}

func TestUnhealthyServiceTimesOut(t *testing.T) {
	var journal []string
	store, _, _ := newFakes(&journal)
	store.healthy = false

	r := NewRegistry(logging.Nop())
	r.HealthTimeout = 30 * time.Millisecond
	r.HealthPoll = 5 * time.Millisecond
	require.NoError(t, r.Register(store))

	err := r.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")

	checks := r.HealthCheck()
	assert.Error(t, checks["store"])
}

func TestMissingDependency(t *testing.T) {
	var journal []string
	_, processor, _ := newFakes(&journal)

	r := NewRegistry(logging.Nop())
	require.NoError(t, r.Register(processor))

	_, err := r.Order()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered service store")
	assert.Error(t, r.StartAll(context.Background()))
	assert.Empty(t, journal)
}

func TestFailedStartStopsStartedServices(t *testing.T) {
	var journal []string
	store, processor, api := newFakes(&journal)
	processor.healthy = false

	r := NewRegistry(logging.Nop())
	r.HealthTimeout = 20 * time.Millisecond
	r.HealthPoll = 5 * time.Millisecond
	for _, svc := range []Service{store, processor, api} {
		require.NoError(t, r.Register(svc))
	}

	err := r.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transaction-processor")
	assert.Equal(t, []string{
		"start:store", "start:transaction-processor",
		"stop:transaction-processor", "stop:store",
	}, journal)
}
