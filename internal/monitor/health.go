package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/contentpipe/contentpipe/internal/provider"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Status is the result of the most recent run of one check.
type Status struct {
	Name         string    `json:"name"`
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	FailureCount int       `json:"failure_count"`
	Message      string    `json:"message"`
}

// Monitor runs named health checks on a schedule and keeps the latest
// status per check. Statuses are mirrored to Redis when a client is
// configured.
type Monitor struct {
	redisClient *redis.Client
	interval    time.Duration
	timeout     time.Duration

	mu       sync.RWMutex
	checks   map[string]CheckFunc
	statuses map[string]Status

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a health monitor.
func NewMonitor(redisClient *redis.Client, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		redisClient: redisClient,
		interval:    interval,
		timeout:     timeout,
		checks:      make(map[string]CheckFunc),
		statuses:    make(map[string]Status),
		stopChan:    make(chan struct{}),
	}
}

// RegisterCheck adds a named check. Re-registering replaces it.
func (m *Monitor) RegisterCheck(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = fn
	m.statuses[name] = Status{Name: name, Healthy: true}
}

// Start begins periodic checking.
func (m *Monitor) Start(ctx context.Context) {
	log.Println("Starting health monitor...")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.RunChecks(ctx)

		for {
			select {
			case <-ticker.C:
				m.RunChecks(ctx)
			case <-m.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the monitor.
func (m *Monitor) Stop() {
	log.Println("Stopping health monitor...")
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

// RunChecks executes every registered check once and returns the fresh
// statuses.
func (m *Monitor) RunChecks(ctx context.Context) map[string]Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.performCheck(ctx, name)
	}

	return m.GetAllStatuses()
}

func (m *Monitor) performCheck(ctx context.Context, name string) {
	m.mu.RLock()
	fn, ok := m.checks[name]
	m.mu.RUnlock()
	if !ok {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := fn(checkCtx)

	m.mu.Lock()
	status := m.statuses[name]
	status.Name = name
	status.LastCheck = time.Now()
	if err != nil {
		status.Healthy = false
		status.FailureCount++
		status.Message = err.Error()
	} else {
		status.Healthy = true
		status.FailureCount = 0
		status.Message = "ok"
	}
	m.statuses[name] = status
	m.mu.Unlock()

	m.storeStatus(ctx, status)
}

// GetStatus returns the latest status for one check.
func (m *Monitor) GetStatus(name string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	if !ok {
		return nil, fmt.Errorf("no health check named %s", name)
	}
	return &status, nil
}

// GetAllStatuses returns the latest status for every check.
func (m *Monitor) GetAllStatuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}

// Healthy reports whether every check passed its last run.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, status := range m.statuses {
		if !status.Healthy {
			return false
		}
	}
	return true
}

func (m *Monitor) storeStatus(ctx context.Context, status Status) {
	if m.redisClient == nil {
		return
	}

	key := fmt.Sprintf("health:%s", status.Name)
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	m.redisClient.Set(ctx, key, data, 24*time.Hour)
}

// RedisCheck probes the Redis connection.
func RedisCheck(client *redis.Client) CheckFunc {
	return func(ctx context.Context) error {
		if client == nil {
			return fmt.Errorf("no redis client configured")
		}
		return client.Ping(ctx).Err()
	}
}

// DiskCheck verifies the directory exists and is writable.
func DiskCheck(dir string) CheckFunc {
	return func(ctx context.Context) error {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("directory not available: %w", err)
		}
		probe := filepath.Join(dir, ".health-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
			return fmt.Errorf("directory not writable: %w", err)
		}
		os.Remove(probe)
		return nil
	}
}

// ProviderCheck verifies at least one operation is registered.
func ProviderCheck(registry *provider.Registry) CheckFunc {
	return func(ctx context.Context) error {
		if registry == nil || len(registry.Pairs()) == 0 {
			return fmt.Errorf("no operations registered")
		}
		return nil
	}
}
