package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/contentpipe/contentpipe/internal/api"
	"github.com/contentpipe/contentpipe/internal/artifact"
	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/logging"
	"github.com/contentpipe/contentpipe/internal/monitor"
	"github.com/contentpipe/contentpipe/internal/pipeline"
	"github.com/contentpipe/contentpipe/internal/provider"
	"github.com/contentpipe/contentpipe/internal/queue"
	"github.com/contentpipe/contentpipe/internal/scheduler"
	"github.com/contentpipe/contentpipe/internal/store"
	"github.com/contentpipe/contentpipe/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ContentPipe daemon (API server + queue workers)",
	Long: `Start the ContentPipe daemon: the REST API, the run queue workers,
cron triggers and health monitoring.

The daemon exposes:
  POST /chains/run          Submit a chain for queued execution
  POST /chains/estimate     Estimate a chain without running it
  GET  /runs                List runs, GET /runs/{id} for one
  GET  /runs/{id}/report    Full step-by-step run report
  POST /runs/{id}/replay    Re-run a finished run's stored chain
  GET  /runs/{id}/export    Download a run as a tar.gz archive
  POST /triggers            Create a cron trigger (scheduler.enabled)
  GET  /health              Liveness and dependency checks
  GET  /monitoring/metrics  Prometheus metrics
  WS   /ws/runs             Live run status events

Requires Redis. Configure via ~/.contentpipe/config.yaml or
CONTENTPIPE_* environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr(), err)
	}

	logger, err := logging.NewLogger(redisClient, cfg.Logging.Dir, cfg.Logging.Console)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logging.SetGlobalLogger(logger)
	defer logger.Close()

	st := store.NewStore(redisClient)
	q := queue.NewQueue(redisClient)

	catalog := chain.NewCatalog()
	registry := provider.NewRegistry()
	provider.NewSimulator(catalog, 0).RegisterAll(registry)

	promReg := prometheus.NewRegistry()
	m := metrics.NewMetrics(promReg)
	collector := metrics.NewCollector(m, redisClient, 0, q.Depth, st.CountActive)
	collector.Start(ctx)
	defer collector.Stop()

	artifacts := artifact.NewManager(cfg.Storage.OutputDir, cfg.Storage.TempDir)
	alerts := monitor.NewAlertManager()

	worker := queue.NewWorker(q, makeRunFunc(st, catalog, registry, artifacts, m, alerts),
		cfg.Queue.Workers, cfg.Queue.StaleAfter)
	worker.Start(ctx)
	defer worker.Stop()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(q, redisClient)
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	}

	healthMonitor := monitor.NewMonitor(redisClient, 0, 0)
	healthMonitor.RegisterCheck("redis", monitor.RedisCheck(redisClient))
	healthMonitor.RegisterCheck("disk", monitor.DiskCheck(cfg.Storage.OutputDir))
	healthMonitor.RegisterCheck("providers", monitor.ProviderCheck(registry))
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	server := api.NewServer(cfg, st, q, sched, catalog, alerts, healthMonitor,
		promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	log.Printf("ContentPipe daemon started on %s (%d queue workers)", cfg.ListenAddr(), cfg.Queue.Workers)
	logging.Info("daemon", "Daemon started", map[string]interface{}{
		"addr":      cfg.ListenAddr(),
		"workers":   cfg.Queue.Workers,
		"scheduler": cfg.Scheduler.Enabled,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down daemon...")
	cancel()
}

// makeRunFunc builds the worker callback that executes one queued run
// end to end. A returned error feeds the job's retry accounting, so a
// failed attempt with retries left parks the run record back at queued
// instead of failed.
func makeRunFunc(st *store.Store, catalog *chain.Catalog, registry *provider.Registry,
	artifacts *artifact.Manager, m *metrics.Metrics, alerts *monitor.AlertManager) queue.RunFunc {
	return func(ctx context.Context, job *queue.Job) error {
		if _, err := st.SetStatus(ctx, job.ID, store.StatusRunning); err != nil {
			logging.Warn("worker", "Failed to mark run as running", map[string]interface{}{
				"run_id": job.ID,
				"error":  err.Error(),
			})
		}
		m.RunStarted()
		defer m.RunFinished()

		report, runErr := executeQueuedRun(ctx, job, st, catalog, registry, artifacts, m)

		status := store.StatusCompleted
		if runErr != nil {
			status = store.StatusFailed
			if job.RetryCount+1 < job.MaxRetries {
				status = store.StatusQueued
			}
		}
		record, err := st.SetStatus(ctx, job.ID, status)
		if err != nil {
			logging.Error("worker", "Failed to persist run outcome", map[string]interface{}{
				"run_id": job.ID,
				"error":  err.Error(),
			})
			return runErr
		}
		record.Report = report
		if runErr != nil {
			record.Error = runErr.Error()
		}
		if err := st.SaveRun(ctx, record); err != nil {
			logging.Error("worker", "Failed to save run record", map[string]interface{}{
				"run_id": job.ID,
				"error":  err.Error(),
			})
		}

		if report != nil {
			alerts.ObserveRun(report.OverallSuccess, report.TotalElapsed)
		} else {
			alerts.ObserveRun(false, 0)
		}
		return runErr
	}
}

// executeQueuedRun parses the stored chain and runs it with the full
// artifact lifecycle. It returns the report even when the run failed
// partway, so the record keeps the partial outcomes.
func executeQueuedRun(ctx context.Context, job *queue.Job, st *store.Store, catalog *chain.Catalog,
	registry *provider.Registry, artifacts *artifact.Manager, m *metrics.Metrics) (*pipeline.Report, error) {
	c, err := chain.Parse(job.ChainConfig, "yaml")
	if err != nil {
		return nil, fmt.Errorf("invalid chain config: %w", err)
	}
	c.Normalize(catalog)
	c.CleanupTemp = c.CleanupTemp || cfg.Pipeline.CleanupTemp
	c.SaveIntermediates = c.SaveIntermediates || cfg.Pipeline.SaveIntermediates

	workspace, err := artifacts.ForRun(job.ID, c)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare run directory: %w", err)
	}

	executor := pipeline.NewExecutor(pipeline.Options{
		RunID:     job.ID,
		Registry:  registry,
		Catalog:   catalog,
		Workers:   cfg.Pipeline.Workers,
		Publisher: st,
		Recorder:  m,
	})

	if cfg.Pipeline.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.DefaultTimeout)
		defer cancel()
	}

	report, err := executor.Run(ctx, c, job.Input)
	if err != nil {
		return nil, err
	}

	if _, err := workspace.WriteReport(report); err != nil {
		logging.Warn("worker", "Failed to write run report", map[string]interface{}{
			"run_id": job.ID,
			"error":  err.Error(),
		})
	}
	if err := workspace.Cleanup(); err != nil {
		logging.Warn("worker", "Failed to clean temp files", map[string]interface{}{
			"run_id": job.ID,
			"error":  err.Error(),
		})
	}

	if !report.OverallSuccess {
		return report, fmt.Errorf("chain failed: %s", report.Error)
	}
	return report, nil
}
