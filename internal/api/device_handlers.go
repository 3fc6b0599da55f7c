package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
)

// ========== Device handlers ==========

// HandleListDevices lists devices in an account
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	limit, offset := pageParams(r)

	devices, total, err := s.store.ListDevices(r.Context(), accountID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
	})
}

// HandleCreateDevice creates a device
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	var req struct {
		DeviceID       string `json:"deviceId" validate:"required,min=1,max=64"`
		UniqueID       string `json:"uniqueId" validate:"required,min=1,max=128"`
		Description    string `json:"description"`
		EquipmentID    string `json:"equipmentId"`
		IPAddressValid string `json:"ipAddressValid"`
		Password       string `json:"password"` // HTTP ingest credential, optional
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device := &models.Device{
		DeviceID:       req.DeviceID,
		UniqueID:       req.UniqueID,
		Description:    req.Description,
		EquipmentID:    req.EquipmentID,
		IsActive:       true,
		IPAddressValid: req.IPAddressValid,
	}
	device.AccountID = accountID

	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "failed to hash password")
			return
		}
		device.AuthHash = hash
	}

	if err := s.store.CreateDevice(r.Context(), device); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "device or unique id already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, device)
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	device, err := s.store.GetDevice(r.Context(), accountID, chi.URLParam(r, "device_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice updates a device
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	device, err := s.store.GetDevice(r.Context(), accountID, chi.URLParam(r, "device_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req struct {
		UniqueID       *string  `json:"uniqueId"`
		Description    *string  `json:"description"`
		EquipmentID    *string  `json:"equipmentId"`
		IsActive       *bool    `json:"isActive"`
		IPAddressValid *string  `json:"ipAddressValid"`
		Password       *string  `json:"password"`
		LastOdometerKM *float64 `json:"lastOdometerKm"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UniqueID != nil {
		device.UniqueID = *req.UniqueID
	}
	if req.Description != nil {
		device.Description = *req.Description
	}
	if req.EquipmentID != nil {
		device.EquipmentID = *req.EquipmentID
	}
	if req.IsActive != nil {
		device.IsActive = *req.IsActive
	}
	if req.IPAddressValid != nil {
		device.IPAddressValid = *req.IPAddressValid
	}
	if req.Password != nil {
		if *req.Password == "" {
			device.AuthHash = ""
		} else {
			hash, err := hashPassword(*req.Password)
			if err != nil {
				s.respondError(w, http.StatusInternalServerError, "failed to hash password")
				return
			}
			device.AuthHash = hash
		}
	}
	if req.LastOdometerKM != nil && *req.LastOdometerKM >= 0 {
		device.LastOdometerKM = *req.LastOdometerKM
	}

	if err := s.store.UpdateDevice(r.Context(), device); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "unique id already in use")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleDeleteDevice deletes a device
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	err := s.store.DeleteDevice(r.Context(), accountID, chi.URLParam(r, "device_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ========== Event handlers ==========

// HandleListEvents lists events for a device within a time range
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	query := r.URL.Query()
	from := parseTimeParam(query.Get("from"), time.Time{})
	to := parseTimeParam(query.Get("to"), time.Now().UTC())
	limit, offset := pageParams(r)

	events, total, err := s.store.ListEvents(r.Context(), accountID,
		chi.URLParam(r, "device_id"), from, to, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// HandleGetLastEvent returns the most recent event for a device
func (s *RESTServer) HandleGetLastEvent(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	event, err := s.store.GetLastEvent(r.Context(), accountID, chi.URLParam(r, "device_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no events recorded")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, event)
}

// parseTimeParam accepts either epoch seconds or RFC3339
func parseTimeParam(value string, def time.Time) time.Time {
	if value == "" {
		return def
	}
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return def
}
