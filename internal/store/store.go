package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/contentpipe/contentpipe/internal/pipeline"
)

// RunStatus tracks a run through its lifecycle.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// RunRecord is the persisted state of one pipeline run. ChainConfig
// keeps the raw submitted chain so the run can be replayed later.
type RunRecord struct {
	ID          string           `json:"id"`
	ChainName   string           `json:"chain_name"`
	Status      RunStatus        `json:"status"`
	Input       interface{}      `json:"input,omitempty"`
	Source      string           `json:"source,omitempty"`
	ChainConfig []byte           `json:"chain_config,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	Report      *pipeline.Report `json:"report,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// StatusEvent is published on the run events channel whenever a run
// changes status.
type StatusEvent struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Chain     string    `json:"chain"`
	Status    RunStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	runKeyPrefix     = "run:"
	runsIndexKey     = "runs:index"
	chainIndexPrefix = "runs:chain:"

	// EventsChannel carries run progress and status messages as JSON.
	EventsChannel = "run:events"
)

// Store persists run records in Redis.
type Store struct {
	redisClient *redis.Client
}

// NewStore creates a store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redisClient: redisClient}
}

func runKey(id string) string {
	return runKeyPrefix + id
}

// SaveRun writes the record and maintains the listing indexes.
func (s *Store) SaveRun(ctx context.Context, record *RunRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	if err := s.redisClient.Set(ctx, runKey(record.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if err := s.redisClient.ZAdd(ctx, runsIndexKey, &redis.Z{
		Score:  float64(record.CreatedAt.Unix()),
		Member: record.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index run: %w", err)
	}

	if record.ChainName != "" {
		if err := s.redisClient.SAdd(ctx, chainIndexPrefix+record.ChainName, record.ID).Err(); err != nil {
			return fmt.Errorf("failed to index run by chain: %w", err)
		}
	}

	return nil
}

// GetRun loads one record.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	data, err := s.redisClient.Get(ctx, runKey(id)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var record RunRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}

	return &record, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 means
// all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.redisClient.ZRevRange(ctx, runsIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return s.loadRuns(ctx, ids), nil
}

// ListRunsByChain returns every run of one chain, newest first.
func (s *Store) ListRunsByChain(ctx context.Context, chainName string) ([]RunRecord, error) {
	ids, err := s.redisClient.SMembers(ctx, chainIndexPrefix+chainName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for chain %s: %w", chainName, err)
	}

	records := s.loadRuns(ctx, ids)
	// Set members come back unordered.
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (s *Store) loadRuns(ctx context.Context, ids []string) []RunRecord {
	records := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.GetRun(ctx, id)
		if err != nil {
			log.Printf("Warning: skipping run %s: %v", id, err)
			continue
		}
		records = append(records, *record)
	}
	return records
}

// DeleteRun removes the record and its index entries.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	record, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}

	if err := s.redisClient.Del(ctx, runKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	s.redisClient.ZRem(ctx, runsIndexKey, id)
	if record.ChainName != "" {
		s.redisClient.SRem(ctx, chainIndexPrefix+record.ChainName, id)
	}

	return nil
}

// SetStatus transitions a run and stamps the matching timestamp. The
// change is broadcast on the events channel.
func (s *Store) SetStatus(ctx context.Context, id string, status RunStatus) (*RunRecord, error) {
	record, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record.Status = status
	switch status {
	case StatusRunning:
		record.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCanceled:
		record.FinishedAt = &now
	}

	if err := s.SaveRun(ctx, record); err != nil {
		return nil, err
	}

	s.publishStatus(ctx, record)
	return record, nil
}

// CountByStatus tallies stored runs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[RunStatus]int64, error) {
	records, err := s.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}

	counts := make(map[RunStatus]int64)
	for _, record := range records {
		counts[record.Status]++
	}
	return counts, nil
}

// CountActive returns how many runs are queued or executing.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		return 0, err
	}
	return counts[StatusQueued] + counts[StatusRunning], nil
}

// PublishEvent broadcasts a pipeline event on the events channel. It
// satisfies pipeline.EventPublisher.
func (s *Store) PublishEvent(event pipeline.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.redisClient.Publish(context.Background(), EventsChannel, data).Err(); err != nil {
		log.Printf("Failed to publish run event: %v", err)
	}
}

func (s *Store) publishStatus(ctx context.Context, record *RunRecord) {
	event := StatusEvent{
		Type:      "run_status",
		RunID:     record.ID,
		Chain:     record.ChainName,
		Status:    record.Status,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.redisClient.Publish(ctx, EventsChannel, data).Err(); err != nil {
		log.Printf("Failed to publish status event: %v", err)
	}
}

// Subscribe returns a subscription to the events channel. The caller
// closes it.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.redisClient.Subscribe(ctx, EventsChannel)
}

// Set stores an arbitrary value with optional expiration.
func (s *Store) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.redisClient.Set(ctx, key, value, expiration).Err()
}

// Get fetches an arbitrary value.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.redisClient.Get(ctx, key).Result()
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.redisClient.Del(ctx, key).Err()
}

// Exists reports whether a key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	result, err := s.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// Keys lists keys matching a pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.redisClient.Keys(ctx, pattern).Result()
}
