package controllers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/flowmill/flowmill/internal/engine"
	"github.com/flowmill/flowmill/pkg/flowmill/models"
)

// maxDefinitionBytes bounds the size of an uploaded definition document.
const maxDefinitionBytes = 1 << 20

// DefinitionsController serves registration and lookup of workflow
// definitions.
type DefinitionsController struct {
	AuthController
	Manager *engine.Manager
}

func NewDefinitionsController(manager *engine.Manager, userRepo engine.UserRepo) *DefinitionsController {
	return &DefinitionsController{
		Manager: manager,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleRegisterDefinition accepts a YAML definition document, validates it
// and stores it. Re-registering an existing name replaces the stored document;
// executions already claimed by a worker keep the compiled form they started
// with.
func (c *DefinitionsController) handleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	doc, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	if len(doc) == 0 {
		http.Error(w, "definition document is required", http.StatusBadRequest)
		return
	}

	def, err := c.Manager.RegisterDefinition(doc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	slog.InfoContext(r.Context(), "Registered definition", "name", def.Name)

	resp := models.RegisterDefinitionResponse{
		Name:        def.Name,
		Description: def.Description,
	}
	for _, name := range def.Unreachable() {
		resp.Warnings = append(resp.Warnings, "state "+name+" is unreachable from startAt")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (c *DefinitionsController) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	defs, err := c.Manager.ListDefinitions()
	if err != nil {
		slog.Error("Failed to list definitions", "error", err)
		http.Error(w, "failed to load definitions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(defs)
}

func (c *DefinitionsController) handleGetDefinitionByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := r.PathValue("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	rec, err := c.Manager.GetDefinitionByName(name)
	if err != nil || rec == nil {
		http.Error(w, "definition not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(rec)
}
