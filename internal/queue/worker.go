package queue

import (
	"context"
	"log"
	"sync"
	"time"
)

// RunFunc executes one dequeued job. It owns the run's full lifecycle
// (status transitions, report persistence); a returned error feeds the
// job's retry accounting.
type RunFunc func(ctx context.Context, job *Job) error

// Worker drains the run queue with a pool of goroutines. A janitor
// loop periodically recovers jobs orphaned by a crashed worker.
type Worker struct {
	queue      *Queue
	run        RunFunc
	workers    int
	poll       time.Duration
	staleAfter time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a worker pool over the queue. workers defaults to
// 2 and staleAfter to 30 minutes.
func NewWorker(queue *Queue, run RunFunc, workers int, staleAfter time.Duration) *Worker {
	if workers <= 0 {
		workers = 2
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &Worker{
		queue:      queue,
		run:        run,
		workers:    workers,
		poll:       2 * time.Second,
		staleAfter: staleAfter,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the worker pool. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	log.Printf("Starting %d queue workers...", w.workers)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	w.wg.Add(1)
	go w.janitor(ctx)
}

// Stop shuts the pool down and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain pops jobs until the queue is empty or the worker is stopped.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("Warning: failed to dequeue job: %v", err)
			return
		}
		if job == nil {
			return
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log.Printf("Processing job %s (chain %s, attempt %d/%d)", job.ID, job.ChainName, job.RetryCount+1, job.MaxRetries)

	if err := w.run(ctx, job); err != nil {
		log.Printf("Job %s failed: %v", job.ID, err)
		if failErr := w.queue.Fail(ctx, job, err); failErr != nil {
			log.Printf("Warning: failed to record job failure: %v", failErr)
		}
		return
	}

	if err := w.queue.Complete(ctx, job); err != nil {
		log.Printf("Warning: failed to mark job %s completed: %v", job.ID, err)
	}
}

func (w *Worker) janitor(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			requeued, err := w.queue.RequeueStale(ctx, w.staleAfter)
			if err != nil {
				log.Printf("Warning: failed to requeue stale jobs: %v", err)
				continue
			}
			if requeued > 0 {
				log.Printf("Requeued %d stale jobs", requeued)
			}
		}
	}
}
