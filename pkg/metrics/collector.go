package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Sample is one point of gauge history kept for the dashboard.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	QueueDepth int64     `json:"queue_depth"`
	ActiveRuns int64     `json:"active_runs"`
}

// Collector periodically samples gauge sources, pushes them into the
// Prometheus gauges and keeps a 24h history in Redis. The Redis client
// is optional; without it only the gauges are updated.
type Collector struct {
	metrics     *Metrics
	redisClient *redis.Client
	interval    time.Duration

	queueDepth func(ctx context.Context) (int64, error)
	activeRuns func(ctx context.Context) (int64, error)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector. queueDepth and activeRuns supply the
// sampled values; either may be nil.
func NewCollector(metrics *Metrics, redisClient *redis.Client, interval time.Duration,
	queueDepth, activeRuns func(ctx context.Context) (int64, error)) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		metrics:     metrics,
		redisClient: redisClient,
		interval:    interval,
		queueDepth:  queueDepth,
		activeRuns:  activeRuns,
		stopChan:    make(chan struct{}),
	}
}

// Start begins periodic sampling.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collectOnce(ctx)

		for {
			select {
			case <-ticker.C:
				c.collectOnce(ctx)
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the collector.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()
}

func (c *Collector) collectOnce(ctx context.Context) {
	sampleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sample := Sample{Timestamp: time.Now()}

	if c.queueDepth != nil {
		n, err := c.queueDepth(sampleCtx)
		if err != nil {
			log.Printf("Failed to sample queue depth: %v", err)
		} else {
			sample.QueueDepth = n
			c.metrics.SetQueueDepth(n)
		}
	}

	if c.activeRuns != nil {
		n, err := c.activeRuns(sampleCtx)
		if err != nil {
			log.Printf("Failed to sample active runs: %v", err)
		} else {
			sample.ActiveRuns = n
		}
	}

	c.storeSample(sampleCtx, sample)
}

func (c *Collector) storeSample(ctx context.Context, sample Sample) {
	if c.redisClient == nil {
		return
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return
	}

	key := "metrics:history"
	c.redisClient.ZAdd(ctx, key, &redis.Z{
		Score:  float64(sample.Timestamp.Unix()),
		Member: string(data),
	})

	// Keep 24 hours of data.
	cutoff := time.Now().Add(-24 * time.Hour).Unix()
	c.redisClient.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
}

// History returns the stored samples for the given window.
func (c *Collector) History(ctx context.Context, duration time.Duration) ([]Sample, error) {
	if c.redisClient == nil {
		return nil, fmt.Errorf("metrics history needs a redis connection")
	}

	endTime := time.Now()
	startTime := endTime.Add(-duration)

	results, err := c.redisClient.ZRangeByScore(ctx, "metrics:history", &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", startTime.Unix()),
		Max: fmt.Sprintf("%d", endTime.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics history: %w", err)
	}

	samples := make([]Sample, 0, len(results))
	for _, result := range results {
		var s Sample
		if err := json.Unmarshal([]byte(result), &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}

	return samples, nil
}
