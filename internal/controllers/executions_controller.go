package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/flowmill/flowmill/internal/engine"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
	"github.com/flowmill/flowmill/pkg/flowmill/models"
)

// ExecutionsController holds dependencies for the execution HTTP endpoints.
type ExecutionsController struct {
	AuthController
	ExecutionRepo engine.ExecutionRepo
	HistoryRepo   engine.HistoryRepo
	Manager       *engine.Manager
}

func NewExecutionsController(executionRepo engine.ExecutionRepo, historyRepo engine.HistoryRepo,
	manager *engine.Manager, userRepo engine.UserRepo) *ExecutionsController {
	return &ExecutionsController{
		ExecutionRepo: executionRepo,
		HistoryRepo:   historyRepo,
		Manager:       manager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *ExecutionsController) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.StartExecutionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Definition == "" {
		http.Error(w, "definition is required", http.StatusBadRequest)
		return
	}

	slog.InfoContext(r.Context(), "Starting execution", "definition", req.Definition, "businessKey", req.BusinessKey)

	id, err := c.Manager.StartExecution(req.Definition, req.Input, req.BusinessKey, req.ExecutorGroup)
	if err != nil {
		if _, ok := c.Manager.Definition(req.Definition); !ok {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("Failed to start execution", "definition", req.Definition, "error", err)
		http.Error(w, "failed to start execution", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(models.StartExecutionResponse{ID: id})
}

func (c *ExecutionsController) handleGetExecutionById(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	exec, err := c.ExecutionRepo.FindByID(id)
	if err != nil || exec == nil {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapExecutionToApiExecution(exec))
}

func (c *ExecutionsController) handleGetExecutionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if exec, err := c.ExecutionRepo.FindByID(id); err != nil || exec == nil {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	records, err := c.HistoryRepo.FindByExecutionID(id)
	if err != nil {
		slog.Error("Failed to load execution history", "id", id, "error", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	out := make([]models.StateRecordApiResponse, 0)
	if records != nil {
		for _, rec := range *records {
			out = append(out, mapStateRecordToApiRecord(&rec))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

func (c *ExecutionsController) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	exec, err := c.ExecutionRepo.FindByID(id)
	if err != nil || exec == nil {
		http.Error(w, "execution not found", http.StatusNotFound)
		return
	}
	if exec.Status == domain.StatusSucceeded || exec.Status == domain.StatusFailed {
		http.Error(w, "execution already finished", http.StatusConflict)
		return
	}

	if err := c.Manager.CancelExecution(id); err != nil {
		slog.Error("Failed to request cancel", "id", id, "error", err)
		http.Error(w, "failed to request cancel", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"cancelRequested": true})
}

func (c *ExecutionsController) handleSearchExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.SearchExecutionsRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		slog.Error("Failed to decode request", "error", err)
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	//max of 1000 results is allowed
	if req.Limit > 1000 {
		http.Error(w, "limit cannot be greater than 1000", http.StatusBadRequest)
		return
	}

	results, err := c.Manager.SearchExecutions(req)
	if err != nil {
		slog.Error("Failed to search executions", "error", err)
		http.Error(w, "failed to search executions", http.StatusInternalServerError)
		return
	}

	out := make([]models.ExecutionApiResponse, 0)
	if results != nil {
		for i := range *results {
			out = append(out, mapExecutionToApiExecution(&(*results)[i]))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

func mapExecutionToApiExecution(exec *domain.Execution) models.ExecutionApiResponse {
	resp := models.ExecutionApiResponse{
		ID:             exec.ID,
		Status:         exec.Status,
		Definition:     exec.DefinitionName,
		CurrentState:   exec.CurrentState,
		Variables:      decodeJSONMap(exec.Variables.String, exec.Variables.Valid),
		Output:         decodeJSONMap(exec.Output.String, exec.Output.Valid),
		ExecutionCount: exec.ExecutionCount,
		Created:        exec.Created,
		Modified:       exec.Modified,
		ExecutorGroup:  exec.ExecutorGroup,
		BusinessKey:    exec.BusinessKey,
	}
	if exec.ErrorKind.Valid {
		resp.ErrorKind = exec.ErrorKind.String
	}
	if exec.ErrorDetail.Valid {
		resp.ErrorDetail = exec.ErrorDetail.String
	}
	if exec.Started.Valid {
		resp.Started = exec.Started.Time
	}
	if exec.Finished.Valid {
		resp.Finished = exec.Finished.Time
	}
	return resp
}

func mapStateRecordToApiRecord(rec *domain.StateRecord) models.StateRecordApiResponse {
	resp := models.StateRecordApiResponse{
		Seq:       rec.Seq,
		StateName: rec.StateName,
		EnteredAt: rec.EnteredAt,
		ExitedAt:  rec.ExitedAt,
		Input:     decodeJSONMap(rec.Input.String, rec.Input.Valid),
		Output:    decodeJSONMap(rec.Output.String, rec.Output.Valid),
		Variables: decodeJSONMap(rec.Variables.String, rec.Variables.Valid),
	}
	if rec.ErrorKind.Valid {
		resp.ErrorKind = rec.ErrorKind.String
	}
	if rec.ErrorDetail.Valid {
		resp.ErrorDetail = rec.ErrorDetail.String
	}
	return resp
}

func decodeJSONMap(s string, valid bool) map[string]any {
	if !valid || s == "" {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		slog.Warn("Failed to parse stored JSON document", "error", err)
		return nil
	}
	return out
}
