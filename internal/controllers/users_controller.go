package controllers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowmill/flowmill/internal/engine"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
)

type UsersController struct {
	AuthController
}

func NewUsersController(userRepo engine.UserRepo) *UsersController {
	return &UsersController{
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

// handleGetUsers returns all users with credential material blanked.
func (c *UsersController) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	users, err := c.UserRepo.FindAll()
	if err != nil {
		slog.Error("Failed to get users", "error", err)
		http.Error(w, "failed to get users", http.StatusInternalServerError)
		return
	}

	out := make([]domain.User, 0)
	if users != nil {
		for _, u := range *users {
			u.Password = ""
			u.SessionID = sql.NullString{}
			u.ApiKey = sql.NullString{}
			out = append(out, u)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

// handleCreateUser creates a new user. The plaintext password is hashed
// before storage and a fresh API key is generated and returned once.
func (c *UsersController) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	existing, err := c.UserRepo.FindByUsername(req.Username)
	if err == nil && existing != nil {
		http.Error(w, "username already exists", http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	apiKey := uuid.NewString()
	user := &domain.User{
		Username: req.Username,
		Password: string(hash),
		ApiKey:   sql.NullString{String: apiKey, Valid: true},
		Created:  sql.NullTime{Time: time.Now().UTC(), Valid: true},
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	}
	id, err := c.UserRepo.Save(user)
	if err != nil {
		slog.Error("Failed to create user", "error", err)
		http.Error(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"id": id, "username": req.Username, "apiKey": apiKey})
}
