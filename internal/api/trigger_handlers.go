package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/contentpipe/contentpipe/internal/logging"
	"github.com/contentpipe/contentpipe/internal/scheduler"
)

// TriggerRequest is the body for POST /triggers. The chain config is
// materialized at creation time, so a trigger keeps firing the same
// chain even if the template it came from changes later.
type TriggerRequest struct {
	Name           string          `json:"name"`
	Config         json.RawMessage `json:"config,omitempty"`
	Template       string          `json:"template,omitempty"`
	Input          string          `json:"input,omitempty"`
	CronExpression string          `json:"cron_expression"`
}

func (s *Server) listTriggersHandler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.sendError(w, http.StatusServiceUnavailable, "Scheduler is not enabled")
		return
	}

	triggers := s.scheduler.ListTriggers()
	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Triggers retrieved successfully",
		Data: map[string]interface{}{
			"triggers": triggers,
			"count":    len(triggers),
		},
	})
}

func (s *Server) createTriggerHandler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.sendError(w, http.StatusServiceUnavailable, "Scheduler is not enabled")
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "Trigger name is required")
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

	trigger := &scheduler.Trigger{
		Name:           req.Name,
		ChainName:      c.Name,
		ChainConfig:    raw,
		Template:       req.Template,
		Input:          req.Input,
		CronExpression: req.CronExpression,
	}
	if err := s.scheduler.CreateTrigger(r.Context(), trigger); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("Failed to create trigger: %v", err))
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   "create_trigger",
		Resource: "trigger",
		Result:   "success",
		Details:  map[string]interface{}{"trigger_id": trigger.ID, "chain": c.Name},
		IP:       s.getClientIP(r),
	})

	s.sendResponse(w, http.StatusCreated, Response{
		Success: true,
		Message: "Trigger created successfully",
		Data:    trigger,
	})
}

func (s *Server) deleteTriggerHandler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		s.sendError(w, http.StatusServiceUnavailable, "Scheduler is not enabled")
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.scheduler.DeleteTrigger(r.Context(), id); err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Failed to delete trigger: %v", err))
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   "delete_trigger",
		Resource: "trigger",
		Result:   "success",
		Details:  map[string]interface{}{"trigger_id": id},
		IP:       s.getClientIP(r),
	})

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Trigger deleted successfully",
	})
}

func (s *Server) enableTriggerHandler(w http.ResponseWriter, r *http.Request) {
	s.setTriggerEnabled(w, r, true)
}

func (s *Server) disableTriggerHandler(w http.ResponseWriter, r *http.Request) {
	s.setTriggerEnabled(w, r, false)
}

func (s *Server) setTriggerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if s.scheduler == nil {
		s.sendError(w, http.StatusServiceUnavailable, "Scheduler is not enabled")
		return
	}

	id := mux.Vars(r)["id"]

	var err error
	action := "enable_trigger"
	if enabled {
		err = s.scheduler.EnableTrigger(r.Context(), id)
	} else {
		err = s.scheduler.DisableTrigger(r.Context(), id)
		action = "disable_trigger"
	}
	if err != nil {
		s.sendError(w, http.StatusNotFound, fmt.Sprintf("Failed to update trigger: %v", err))
		return
	}

	logging.AuditLog(logging.AuditEntry{
		UserID:   s.getUserID(r),
		Action:   action,
		Resource: "trigger",
		Result:   "success",
		Details:  map[string]interface{}{"trigger_id": id},
		IP:       s.getClientIP(r),
	})

	trigger, err := s.scheduler.GetTrigger(id)
	if err != nil {
		s.sendResponse(w, http.StatusOK, Response{Success: true, Message: "Trigger updated successfully"})
		return
	}

	s.sendResponse(w, http.StatusOK, Response{
		Success: true,
		Message: "Trigger updated successfully",
		Data:    trigger,
	})
}
