package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/config"
	"github.com/contentpipe/contentpipe/internal/logging"
	"github.com/contentpipe/contentpipe/internal/monitor"
	"github.com/contentpipe/contentpipe/internal/queue"
	"github.com/contentpipe/contentpipe/internal/scheduler"
	"github.com/contentpipe/contentpipe/internal/store"
)

// Server exposes the pipeline daemon over HTTP: run submission, run
// history, cost estimates, triggers and monitoring.
type Server struct {
	config         *config.Config
	store          *store.Store
	queue          *queue.Queue
	scheduler      *scheduler.Scheduler
	catalog        *chain.Catalog
	templates      *chain.Templates
	alerts         *monitor.AlertManager
	healthMonitor  *monitor.Monitor
	archiver       *store.Archiver
	metricsHandler http.Handler
	hub            *Hub
}

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewServer wires the HTTP layer. scheduler, alerts, healthMonitor and
// metricsHandler may be nil; the matching endpoints degrade instead of
// panicking.
func NewServer(cfg *config.Config, st *store.Store, q *queue.Queue, sched *scheduler.Scheduler, catalog *chain.Catalog, alerts *monitor.AlertManager, healthMonitor *monitor.Monitor, metricsHandler http.Handler) *Server {
	return &Server{
		config:         cfg,
		store:          st,
		queue:          q,
		scheduler:      sched,
		catalog:        catalog,
		templates:      chain.NewTemplates(),
		alerts:         alerts,
		healthMonitor:  healthMonitor,
		archiver:       store.NewArchiver(st, cfg.ArchiveDir(), cfg.Storage.OutputDir),
		metricsHandler: metricsHandler,
		hub:            newHub(st),
	}
}

// Router builds the full route table. Health and Prometheus metrics
// stay public; everything else sits behind token auth.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	if s.metricsHandler != nil {
		r.Handle("/monitoring/metrics", s.metricsHandler).Methods("GET")
	}

	api := r.PathPrefix("/").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/chains/run", s.submitRunHandler).Methods("POST")
	api.HandleFunc("/chains/estimate", s.estimateHandler).Methods("POST")
	api.HandleFunc("/models", s.modelsHandler).Methods("GET")
	api.HandleFunc("/templates", s.templatesHandler).Methods("GET")

	api.HandleFunc("/runs", s.listRunsHandler).Methods("GET")
	api.HandleFunc("/runs/import", s.importRunHandler).Methods("POST")
	api.HandleFunc("/runs/{id}", s.getRunHandler).Methods("GET")
	api.HandleFunc("/runs/{id}", s.deleteRunHandler).Methods("DELETE")
	api.HandleFunc("/runs/{id}/report", s.getReportHandler).Methods("GET")
	api.HandleFunc("/runs/{id}/replay", s.replayRunHandler).Methods("POST")
	api.HandleFunc("/runs/{id}/export", s.exportRunHandler).Methods("GET")

	api.HandleFunc("/queue", s.queueStatsHandler).Methods("GET")

	api.HandleFunc("/triggers", s.listTriggersHandler).Methods("GET")
	api.HandleFunc("/triggers", s.createTriggerHandler).Methods("POST")
	api.HandleFunc("/triggers/{id}", s.deleteTriggerHandler).Methods("DELETE")
	api.HandleFunc("/triggers/{id}/enable", s.enableTriggerHandler).Methods("POST")
	api.HandleFunc("/triggers/{id}/disable", s.disableTriggerHandler).Methods("POST")

	api.HandleFunc("/monitoring/alerts", s.alertsHandler).Methods("GET")
	api.HandleFunc("/ws/runs", s.hub.serveWS)

	return r
}

// Start serves until ctx is canceled, then shuts down gracefully. The
// WebSocket bridge runs alongside the listener.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)

	addr := s.config.ListenAddr()
	logging.Info("api", "Server starting", map[string]interface{}{"addr": addr})

	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{"status": "ok"}
	healthy := true
	if s.healthMonitor != nil {
		healthy = s.healthMonitor.Healthy()
		if !healthy {
			data["status"] = "degraded"
		}
		data["checks"] = s.healthMonitor.GetAllStatuses()
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	s.sendResponse(w, code, Response{
		Success: healthy,
		Message: "Service health",
		Data:    data,
	})
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.sendError(w, http.StatusServiceUnavailable, "Alerting is not enabled")
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Alerts retrieved successfully",
		Data: map[string]interface{}{
			"active":   s.alerts.ActiveAlerts(),
			"resolved": s.alerts.RecentResolved(20),
			"window":   s.alerts.Snapshot(),
		},
	})
}

func (s *Server) queueStatsHandler(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get queue depth: %v", err))
		return
	}
	dead, err := s.queue.DeadLetters(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get dead letters: %v", err))
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Queue status retrieved successfully",
		Data: map[string]interface{}{
			"depth":        depth,
			"dead_letters": dead,
		},
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/monitoring/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if strings.HasPrefix(token, "Bearer ") {
			token = strings.TrimPrefix(token, "Bearer ")
		}

		if token == "" {
			s.sendError(w, http.StatusUnauthorized, "Missing authorization token")
			return
		}
		if !s.authorized(token) {
			s.sendError(w, http.StatusUnauthorized, "Invalid authorization token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authorized compares the presented token against the configured
// bcrypt hash, falling back to the development default token when no
// hash is set.
func (s *Server) authorized(token string) bool {
	if hash := s.config.Security.TokenHash; hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
	}
	return token == s.config.Security.DefaultToken
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Debug("api", fmt.Sprintf("%s %s", r.Method, r.URL.Path), map[string]interface{}{
			"remote": r.RemoteAddr,
		})
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendResponse(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, statusCode int, message string) {
	s.sendResponse(w, statusCode, Response{
		Success: false,
		Message: message,
	})
}

// getUserID reports who performed an action, for audit entries. Tokens
// are never logged verbatim.
func (s *Server) getUserID(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") || r.URL.Query().Get("token") != "" {
		return "token-user"
	}
	return "anonymous"
}

// getClientIP extracts the client IP, preferring proxy headers.
func (s *Server) getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
