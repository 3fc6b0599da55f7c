package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
	"github.com/track-server/track-server-pro/pkg/crypto"
)

// ========== Auth handlers ==========

// HandleLogin handles service account login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sa, err := s.store.GetServiceAccountByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, sa.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(sa)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	now := time.Now()
	sa.LastLoginAt = &now
	if err := s.store.UpdateServiceAccount(r.Context(), sa); err != nil {
		log.Warn().Err(err).Str("email", sa.Email).Msg("Failed to record login time")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := s.auth.ParseRefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	sa, err := s.store.GetServiceAccount(r.Context(), userID)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(sa)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleCreateServiceAccount creates an API credential. Admin only.
func (s *RESTServer) HandleCreateServiceAccount(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req struct {
		Name      string  `json:"name" validate:"required,min=2,max=100"`
		Email     string  `json:"email" validate:"required,email"`
		Password  string  `json:"password" validate:"required,min=8"`
		IsAdmin   bool    `json:"isAdmin"`
		AccountID *string `json:"accountId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	sa := &models.ServiceAccount{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		IsAdmin:      req.IsAdmin,
		AccountID:    req.AccountID,
	}

	if err := s.store.CreateServiceAccount(r.Context(), sa); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "email already registered")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, sa)
}

// ========== Account handlers ==========

// HandleListAccounts lists accounts
func (s *RESTServer) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := requestClaims(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	limit, offset := pageParams(r)

	accounts, total, err := s.store.ListAccounts(ctx, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"total":    total,
	})
}

// HandleCreateAccount creates an account
func (s *RESTServer) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req struct {
		AccountID      string `json:"accountId" validate:"required,min=2,max=64"`
		Description    string `json:"description"`
		ContactName    string `json:"contactName"`
		HTTPWebhookURL string `json:"httpWebhookUrl"`
		MQTTBrokerURL  string `json:"mqttBrokerUrl"`
		MQTTUsername   string `json:"mqttUsername"`
		MQTTPassword   string `json:"mqttPassword"`
		MQTTTopic      string `json:"mqttTopic"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	account := &models.Account{
		AccountID:      req.AccountID,
		Description:    req.Description,
		ContactName:    req.ContactName,
		IsActive:       true,
		HTTPWebhookURL: req.HTTPWebhookURL,
		MQTTBrokerURL:  req.MQTTBrokerURL,
		MQTTUsername:   req.MQTTUsername,
		MQTTPassword:   req.MQTTPassword,
		MQTTTopic:      req.MQTTTopic,
	}

	if err := s.store.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "account already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, account)
}

// HandleGetAccount gets an account
func (s *RESTServer) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "account not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, account)
}

// HandleUpdateAccount updates an account
func (s *RESTServer) HandleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "account not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req struct {
		Description    *string `json:"description"`
		ContactName    *string `json:"contactName"`
		IsActive       *bool   `json:"isActive"`
		HTTPWebhookURL *string `json:"httpWebhookUrl"`
		MQTTBrokerURL  *string `json:"mqttBrokerUrl"`
		MQTTUsername   *string `json:"mqttUsername"`
		MQTTPassword   *string `json:"mqttPassword"`
		MQTTTopic      *string `json:"mqttTopic"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Description != nil {
		account.Description = *req.Description
	}
	if req.ContactName != nil {
		account.ContactName = *req.ContactName
	}
	if req.IsActive != nil {
		account.IsActive = *req.IsActive
	}
	if req.HTTPWebhookURL != nil {
		account.HTTPWebhookURL = *req.HTTPWebhookURL
	}
	if req.MQTTBrokerURL != nil {
		account.MQTTBrokerURL = *req.MQTTBrokerURL
	}
	if req.MQTTUsername != nil {
		account.MQTTUsername = *req.MQTTUsername
	}
	if req.MQTTPassword != nil {
		account.MQTTPassword = *req.MQTTPassword
	}
	if req.MQTTTopic != nil {
		account.MQTTTopic = *req.MQTTTopic
	}

	if err := s.store.UpdateAccount(r.Context(), account); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, account)
}

// HandleDeleteAccount deletes an account
func (s *RESTServer) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)
	if claims == nil || !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "admin access required")
		return
	}

	accountID := chi.URLParam(r, "account_id")
	if err := s.store.DeleteAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "account not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ========== Misc handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "Fleet Tracking Server",
		"version": "1.0.0",
		"health":  "/api/v1/health",
	})
}

// ========== Helper functions ==========

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// pageParams extracts limit/offset query parameters
func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// hashPassword is a thin wrapper kept close to the handlers that use it
func hashPassword(password string) (string, error) {
	return crypto.HashPassword(password)
}
