package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/flowmill/flowmill/internal/engine"
)

type ExecutorsController struct {
	AuthController
	ExecutorsRepo engine.ExecutorRepo
}

func NewExecutorsController(executorsRepo engine.ExecutorRepo, userRepo engine.UserRepo) *ExecutorsController {
	return &ExecutorsController{
		ExecutorsRepo: executorsRepo,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	results, err := c.ExecutorsRepo.GetExecutorsByLastActive(20)
	if err != nil {
		slog.Error("Failed to list executors", "error", err)
		http.Error(w, "failed to list executors", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(results)
}
