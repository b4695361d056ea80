package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-location-simulator/internal/auth"
	"github.com/ukydev/fleet-location-simulator/internal/models"
)

// AuthHandler handles operator authentication requests
type AuthHandler struct {
	authService *auth.Service
	logger      log.FieldLogger
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(authService *auth.Service, logger log.FieldLogger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger.WithField("component", "auth_handler"),
	}
}

// Login handles operator login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var loginReq models.LoginRequest
	if err := json.Unmarshal(body, &loginReq); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if loginReq.Username == "" || loginReq.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	resp, err := h.authService.Login(loginReq.Username, loginReq.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.WithField("username", loginReq.Username).Warn("Failed login attempt")
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.WithError(err).Error("Failed to issue token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(log.Fields{"username": resp.Username, "role": resp.Role}).Info("Operator logged in")
	writeJSON(w, http.StatusOK, resp)
}
