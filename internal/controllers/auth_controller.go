package controllers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowmill/flowmill/internal/config"
	"github.com/flowmill/flowmill/internal/engine"
	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/models"
)

type AuthController struct {
	UserRepo engine.UserRepo
}

func NewAuthController(userRepo engine.UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 1) Try session cookie
		if c, err := r.Cookie("sessionId"); err == nil && c.Value != "" {
			u, err := ac.UserRepo.FindBySessionID(c.Value, time.Now().UTC())
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		// 2) Try API key from headers
		// Supported headers: X-API-Key: <key>
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			u, err := ac.UserRepo.FindByApiKey(apiKey)
			if err == nil && u != nil {
				ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
				next(w, r.WithContext(ctx))
				return
			}
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
}

// handleLogin checks credentials against the stored bcrypt hash and issues a
// fresh session id, returned in the body and as a cookie.
func (ac *AuthController) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.LoginRequest
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

	user, err := ac.UserRepo.FindByUsername(req.Username)
	if err != nil || user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if user.Enabled.Valid && !user.Enabled.Bool {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		slog.Warn("Login failed", "username", req.Username)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := uuid.NewString()
	hours := config.GetSystemSettingInteger(config.WEB_SESSION_EXPIRY_HOURS)
	expiry := time.Now().UTC().Add(time.Duration(hours) * time.Hour)
	if err := ac.UserRepo.UpdateSession(user.ID, sessionID, expiry); err != nil {
		slog.Error("Failed to store session", "username", req.Username, "error", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "sessionId",
		Value:    sessionID,
		Path:     "/",
		Expires:  expiry,
		HttpOnly: true,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.LoginResponse{SessionID: sessionID})
}
