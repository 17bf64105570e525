package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/contentpipe/contentpipe/internal/chain"
	"github.com/contentpipe/contentpipe/internal/logging"
	"github.com/contentpipe/contentpipe/internal/queue"
	"github.com/contentpipe/contentpipe/internal/store"
)

// SubmitRunRequest is the body for POST /chains/run and /chains/estimate.
// Config carries an inline chain definition, either a YAML document in a
// JSON string or a JSON chain object. Template names a built-in chain
// instead; exactly one of the two must be set.
type SubmitRunRequest struct {
	Config     json.RawMessage `json:"config,omitempty"`
	Template   string          `json:"template,omitempty"`
	Input      string          `json:"input,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty"`
}

// resolveChain turns a submission into a parsed chain plus the raw config
// bytes that get stored on the run for later replay.
func (s *Server) resolveChain(cfg json.RawMessage, template string) (*chain.Chain, []byte, error) {
	switch {
	case len(cfg) > 0:
		return parseInlineConfig(cfg)
	case template != "":
		c, err := s.templates.Get(template)
		if err != nil {
			return nil, nil, err
		}
		raw, err := chain.Marshal(c, "yaml")
		if err != nil {
			return nil, nil, err
		}
		return c, raw, nil
	default:
		return nil, nil, fmt.Errorf("request needs a chain config or a template name")
	}
}

// parseInlineConfig accepts either a YAML document wrapped in a JSON
// string or a JSON chain object.
func parseInlineConfig(raw json.RawMessage) (*chain.Chain, []byte, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		c, err := chain.Parse([]byte(text), "yaml")
		if err != nil {
			return nil, nil, err
		}
		return c, []byte(text), nil
	}

	c, err := chain.Parse(raw, "json")
	if err != nil {
		return nil, nil, err
	}
	return c, raw, nil
}

func (s *Server) submitRunHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, raw, err := s.resolveChain(req.Config, req.Template)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c.Normalize(s.catalog)
	if err := c.Validate(s.catalog); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("Invalid chain: %v", err))
		return
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.config.Queue.MaxRetries
	}

	// The job ID doubles as the run ID so queue state and run record
	// stay joined across retries.
	id := uuid.New().String()

	record := &store.RunRecord{
		ID:          id,
		ChainName:   c.Name,
		Status:      store.StatusQueued,
		Input:       req.Input,
		Source:      "api",
		ChainConfig: raw,
		CreatedAt:   time.Now(),
	}
	if err := s.store.SaveRun(r.Context(), record); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save run: %v", err))
		return
	}

	job := &queue.Job{
		ID:          id,
		ChainName:   c.Name,
		ChainConfig: raw,
		Input:       req.Input,
		Source:      "api",
		MaxRetries:  maxRetries,
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to enqueue run: %v", err))
		return
	}

	logging.Info("api", fmt.Sprintf("Run %s queued for chain %s", id, c.Name), nil)
	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   "submit_run",
		Resource: "run",
		RunID:    id,
		Result:   "success",
		Details:  map[string]interface{}{"chain": c.Name},
		IP:       s.getClientIP(r),
	})

	s.sendResponse(w, http.StatusAccepted, Response{
		Success: true,
		Message: "Run queued successfully",
		Data: map[string]interface{}{
			"run_id": id,
			"chain":  c.Name,
			"status": store.StatusQueued,
		},
	})
}

func (s *Server) estimateHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, _, err := s.resolveChain(req.Config, req.Template)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	c.Normalize(s.catalog)
	if err := c.Validate(s.catalog); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("Invalid chain: %v", err))
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Estimate computed successfully",
		Data:    chain.EstimateChain(c, s.catalog),
	})
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Models retrieved successfully",
		Data:    s.catalog.Variants(),
	})
}

func (s *Server) templatesHandler(w http.ResponseWriter, r *http.Request) {
	type templateSummary struct {
		Name          string  `json:"name"`
		Steps         int     `json:"steps"`
		EstimatedCost float64 `json:"estimated_cost"`
	}

	summaries := make([]templateSummary, 0, len(s.templates.Names()))
	for _, name := range s.templates.Names() {
		c, err := s.templates.Get(name)
		if err != nil {
			continue
		}
		c.Normalize(s.catalog)
		est := chain.EstimateChain(c, s.catalog)
		summaries = append(summaries, templateSummary{
			Name:          name,
			Steps:         c.TotalSteps(),
			EstimatedCost: est.TotalCost,
		})
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Templates retrieved successfully",
		Data:    summaries,
	})
}

func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}

	var (
		runs []store.RunRecord
		err  error
	)
	if chainName := r.URL.Query().Get("chain"); chainName != "" {
		runs, err = s.store.ListRunsByChain(r.Context(), chainName)
		if err == nil && len(runs) > limit {
			runs = runs[:limit]
		}
	} else {
		runs, err = s.store.ListRuns(r.Context(), limit)
	}
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Runs retrieved successfully",
		Data: map[string]interface{}{
			"runs":  runs,
			"count": len(runs),
		},
	})
}

func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %s", id))
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Run retrieved successfully",
		Data:    record,
	})
}

func (s *Server) getReportHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %s", id))
		return
	}
	if record.Report == nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Run %s has no report yet", id))
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Report retrieved successfully",
		Data:    record.Report,
	})
}

func (s *Server) deleteRunHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %s", id))
		return
	}
	if record.Status == store.StatusRunning {
		s.sendError(w, http.StatusConflict, "Cannot delete a running run")
		return
	}

	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete run: %v", err))
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   "delete_run",
		Resource: "run",
		RunID:    id,
		Result:   "success",
		IP:       s.getClientIP(r),
	})

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Run deleted successfully",
	})
}

func (s *Server) replayRunHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %s", id))
		return
	}
	if record.Status == store.StatusQueued || record.Status == store.StatusRunning {
		s.sendError(w, http.StatusConflict, "Run is still in progress")
		return
	}
	if len(record.ChainConfig) == 0 {
		s.sendError(w, http.StatusConflict, "Run has no stored chain config to replay")
		return
	}

	input, _ := record.Input.(string)

	newID := uuid.New().String()
	newRecord := &store.RunRecord{
		ID:          newID,
		ChainName:   record.ChainName,
		Status:      store.StatusQueued,
		Input:       record.Input,
		Source:      "replay:" + record.ID,
		ChainConfig: record.ChainConfig,
		CreatedAt:   time.Now(),
	}
	if err := s.store.SaveRun(r.Context(), newRecord); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save run: %v", err))
		return
	}

	job := &queue.Job{
		ID:          newID,
		ChainName:   record.ChainName,
		ChainConfig: record.ChainConfig,
		Input:       input,
		Source:      "replay:" + record.ID,
		MaxRetries:  s.config.Queue.MaxRetries,
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to enqueue run: %v", err))
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   "replay_run",
		Resource: "run",
		RunID:    newID,
		Result:   "success",
		Details:  map[string]interface{}{"replayed_from": record.ID},
		IP:       s.getClientIP(r),
	})

	s.sendResponse(w, http.StatusAccepted, Response{
		Success: true,
		Message: "Replay queued successfully",
		Data: map[string]interface{}{
			"run_id":        newID,
			"replayed_from": record.ID,
			"status":        store.StatusQueued,
		},
	})
}

func (s *Server) exportRunHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Run not found: %s", id))
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+id+".tar.gz"))

	if err := s.archiver.ExportTo(r.Context(), id, w); err != nil {
		// Headers are already sent; all we can do is log.
		logging.Error("api", fmt.Sprintf("Export of run %s failed mid-stream: %v", id, err), nil)
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   "export_run",
		Resource: "run",
		RunID:    id,
		Result:   "success",
		IP:       s.getClientIP(r),
	})
}

func (s *Server) importRunHandler(w http.ResponseWriter, r *http.Request) {
	record, err := s.archiver.ImportFrom(r.Context(), r.Body)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("Failed to import run: %v", err))
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   "import_run",
		Resource: "run",
		RunID:    record.ID,
		Result:   "success",
		IP:       s.getClientIP(r),
	})

	s.sendResponse(w, http.StatusCreated, Response{
		Success: true,
		Message: "Run imported successfully",
		Data: map[string]interface{}{
			"run_id": record.ID,
			"chain":  record.ChainName,
			"status": record.Status,
		},
	})
}
