package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/marcus/plate/internal/serverdb"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 64
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// RegisterResponse is returned after an account is created.
type RegisterResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// handleRegister creates an account. It does not issue a token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.config.AllowSignup {
		writeError(w, http.StatusForbidden, ErrCodeSignupDisabled, "signup is disabled on this server")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Username) > maxUsernameLength {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "username must be 1-64 characters")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logFor(r.Context()).Error("hash password", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to create account")
		return
	}

	user, err := s.store.CreateUser(req.Username, req.Email, string(hash))
	if err != nil {
		if errors.Is(err, serverdb.ErrUserExists) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "username already taken")
			return
		}
		logFor(r.Context()).Error("create user", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to create account")
		return
	}

	logFor(r.Context()).Info("user registered", "uid", user.ID)
	writeJSON(w, http.StatusCreated, RegisterResponse{UserID: user.ID, Username: user.Username})
}

// handleLogin verifies credentials and issues a bearer token bound to the
// calling device. Older tokens for the same device are revoked.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "username and password are required")
		return
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		logFor(r.Context()).Error("get user", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to log in")
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid username or password")
		return
	}

	if req.DeviceID != "" {
		if _, err := s.store.RevokeDeviceKeys(user.ID, req.DeviceID); err != nil {
			logFor(r.Context()).Warn("revoke device keys", "err", err)
		}
	}

	var expiresAt *time.Time
	if s.config.TokenTTL > 0 {
		t := time.Now().UTC().Add(s.config.TokenTTL)
		expiresAt = &t
	}

	token, _, err := s.store.GenerateAPIKey(user.ID, req.DeviceID, expiresAt)
	if err != nil {
		logFor(r.Context()).Error("generate api key", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to log in")
		return
	}

	logFor(r.Context()).Info("user logged in", "uid", user.ID, "device", req.DeviceID)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, UserID: user.ID, Username: user.Username})
}
