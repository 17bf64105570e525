package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/contentpipe/contentpipe/internal/queue"
)

// Trigger is a cron schedule that submits a chain run. ChainConfig is
// materialized at registration, so firing never depends on the
// template library; Template records where the config came from.
type Trigger struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	ChainName      string     `json:"chain_name"`
	ChainConfig    []byte     `json:"chain_config"`
	Template       string     `json:"template,omitempty"`
	Input          string     `json:"input"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	RunCount       int        `json:"run_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const (
	triggerKeyPrefix = "trigger:"
	triggersIndexKey = "triggers:index"
)

// Scheduler fires chain runs on cron schedules. Triggers persist in
// Redis and are re-registered on start.
type Scheduler struct {
	queue       *queue.Queue
	redisClient *redis.Client
	cron        *cron.Cron

	mu       sync.RWMutex
	triggers map[string]*Trigger
	entries  map[string]cron.EntryID
}

// NewScheduler creates a scheduler that enqueues onto the given queue.
func NewScheduler(q *queue.Queue, redisClient *redis.Client) *Scheduler {
	return &Scheduler{
		queue:       q,
		redisClient: redisClient,
		cron:        cron.New(),
		triggers:    make(map[string]*Trigger),
		entries:     make(map[string]cron.EntryID),
	}
}

// Start loads persisted triggers and begins firing them.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.loadTriggers(ctx); err != nil {
		return fmt.Errorf("failed to load triggers: %w", err)
	}

	s.cron.Start()
	log.Println("Scheduler started")
	return nil
}

// Stop halts the cron engine and waits for a running fire to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("Scheduler stopped")
}

// nextAfter computes a schedule's next fire time strictly after from.
func nextAfter(expression string, from time.Time) (*time.Time, error) {
	schedule, err := cron.ParseStandard(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	next := schedule.Next(from)
	return &next, nil
}

// CreateTrigger validates and registers a trigger. Invalid cron
// expressions and empty chain configs are rejected before anything is
// persisted.
func (s *Scheduler) CreateTrigger(ctx context.Context, trigger *Trigger) error {
	if len(trigger.ChainConfig) == 0 {
		return fmt.Errorf("trigger requires a chain config")
	}
	next, err := nextAfter(trigger.CronExpression, time.Now())
	if err != nil {
		return err
	}

	if trigger.ID == "" {
		trigger.ID = uuid.New().String()
	}
	trigger.Enabled = true
	trigger.NextRun = next
	trigger.CreatedAt = time.Now()
	trigger.UpdatedAt = trigger.CreatedAt

	if err := s.register(trigger); err != nil {
		return err
	}
	if err := s.saveTrigger(ctx, trigger); err != nil {
		s.unregister(trigger.ID)
		return err
	}
	return nil
}

// register adds the trigger to the cron engine and the in-memory set.
func (s *Scheduler) register(trigger *Trigger) error {
	id := trigger.ID
	entryID, err := s.cron.AddFunc(trigger.CronExpression, func() {
		s.fire(id)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule trigger: %w", err)
	}

	s.mu.Lock()
	s.triggers[id] = trigger
	s.entries[id] = entryID
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) unregister(id string) {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	delete(s.triggers, id)
	s.mu.Unlock()
}

// fire submits one run for the trigger and updates its bookkeeping.
func (s *Scheduler) fire(id string) {
	s.mu.RLock()
	trigger, ok := s.triggers[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if !trigger.Enabled {
		return
	}

	ctx := context.Background()
	job := &queue.Job{
		ChainName:   trigger.ChainName,
		ChainConfig: trigger.ChainConfig,
		Input:       trigger.Input,
		Source:      "scheduler:" + trigger.Name,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		log.Printf("Failed to enqueue run for trigger %s: %v", trigger.Name, err)
		return
	}

	s.mu.Lock()
	now := time.Now()
	trigger.LastRun = &now
	trigger.RunCount++
	if next, err := nextAfter(trigger.CronExpression, now); err == nil {
		trigger.NextRun = next
	}
	trigger.UpdatedAt = now
	s.mu.Unlock()

	if err := s.saveTrigger(ctx, trigger); err != nil {
		log.Printf("Failed to save trigger %s: %v", trigger.Name, err)
	}
	log.Printf("Trigger %s enqueued run %s", trigger.Name, job.ID)
}

// GetTrigger returns one trigger.
func (s *Scheduler) GetTrigger(id string) (*Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trigger, ok := s.triggers[id]
	if !ok {
		return nil, fmt.Errorf("trigger %s not found", id)
	}
	return trigger, nil
}

// ListTriggers returns all triggers, oldest first.
func (s *Scheduler) ListTriggers() []*Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	triggers := make([]*Trigger, 0, len(s.triggers))
	for _, trigger := range s.triggers {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool {
		if triggers[i].CreatedAt.Equal(triggers[j].CreatedAt) {
			return triggers[i].Name < triggers[j].Name
		}
		return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
	})
	return triggers
}

// EnableTrigger resumes a disabled trigger.
func (s *Scheduler) EnableTrigger(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

// DisableTrigger pauses a trigger without deleting it.
func (s *Scheduler) DisableTrigger(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	trigger, ok := s.triggers[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("trigger %s not found", id)
	}
	trigger.Enabled = enabled
	trigger.UpdatedAt = time.Now()
	if next, err := nextAfter(trigger.CronExpression, trigger.UpdatedAt); err == nil {
		trigger.NextRun = next
	}
	s.mu.Unlock()

	return s.saveTrigger(ctx, trigger)
}

// DeleteTrigger removes a trigger permanently.
func (s *Scheduler) DeleteTrigger(ctx context.Context, id string) error {
	s.mu.RLock()
	_, ok := s.triggers[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("trigger %s not found", id)
	}

	s.unregister(id)

	if err := s.redisClient.Del(ctx, triggerKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	s.redisClient.SRem(ctx, triggersIndexKey, id)
	return nil
}

func (s *Scheduler) saveTrigger(ctx context.Context, trigger *Trigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	if err := s.redisClient.Set(ctx, triggerKeyPrefix+trigger.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}
	if err := s.redisClient.SAdd(ctx, triggersIndexKey, trigger.ID).Err(); err != nil {
		return fmt.Errorf("failed to index trigger: %w", err)
	}
	return nil
}

func (s *Scheduler) loadTriggers(ctx context.Context) error {
	ids, err := s.redisClient.SMembers(ctx, triggersIndexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}

	for _, id := range ids {
		data, err := s.redisClient.Get(ctx, triggerKeyPrefix+id).Result()
		if err != nil {
			log.Printf("Warning: skipping trigger %s: %v", id, err)
			continue
		}

		var trigger Trigger
		if err := json.Unmarshal([]byte(data), &trigger); err != nil {
			log.Printf("Warning: skipping trigger %s: %v", id, err)
			continue
		}

		if err := s.register(&trigger); err != nil {
			log.Printf("Warning: failed to schedule trigger %s: %v", trigger.Name, err)
		}
	}
	return nil
}
