package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
)

// ========== Geozone handlers ==========

// HandleListGeozones lists geozones in an account
func (s *RESTServer) HandleListGeozones(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	zones, err := s.store.ListGeozones(r.Context(), accountID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"geozones": zones,
		"total":    len(zones),
	})
}

// HandleCreateGeozone creates a geozone
func (s *RESTServer) HandleCreateGeozone(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	var req struct {
		GeozoneID       string  `json:"geozoneId" validate:"required,min=1,max=64"`
		Description     string  `json:"description"`
		CenterLatitude  float64 `json:"centerLatitude" validate:"min=-90,max=90"`
		CenterLongitude float64 `json:"centerLongitude" validate:"min=-180,max=180"`
		RadiusMeters    float64 `json:"radiusMeters" validate:"required,min=1"`
		ArrivalZone     bool    `json:"arrivalZone"`
		DepartureZone   bool    `json:"departureZone"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	zone := &models.Geozone{
		GeozoneID:       req.GeozoneID,
		Description:     req.Description,
		CenterLatitude:  req.CenterLatitude,
		CenterLongitude: req.CenterLongitude,
		RadiusMeters:    req.RadiusMeters,
		ArrivalZone:     req.ArrivalZone,
		DepartureZone:   req.DepartureZone,
		IsActive:        true,
	}
	zone.AccountID = accountID

	if err := s.store.CreateGeozone(r.Context(), zone); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "geozone already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, zone)
}

// HandleGetGeozone gets a geozone
func (s *RESTServer) HandleGetGeozone(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	zone, err := s.store.GetGeozone(r.Context(), accountID, chi.URLParam(r, "geozone_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "geozone not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, zone)
}

// HandleUpdateGeozone updates a geozone
func (s *RESTServer) HandleUpdateGeozone(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	zone, err := s.store.GetGeozone(r.Context(), accountID, chi.URLParam(r, "geozone_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "geozone not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req struct {
		Description     *string  `json:"description"`
		CenterLatitude  *float64 `json:"centerLatitude"`
		CenterLongitude *float64 `json:"centerLongitude"`
		RadiusMeters    *float64 `json:"radiusMeters"`
		ArrivalZone     *bool    `json:"arrivalZone"`
		DepartureZone   *bool    `json:"departureZone"`
		IsActive        *bool    `json:"isActive"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Description != nil {
		zone.Description = *req.Description
	}
	if req.CenterLatitude != nil {
		zone.CenterLatitude = *req.CenterLatitude
	}
	if req.CenterLongitude != nil {
		zone.CenterLongitude = *req.CenterLongitude
	}
	if req.RadiusMeters != nil && *req.RadiusMeters > 0 {
		zone.RadiusMeters = *req.RadiusMeters
	}
	if req.ArrivalZone != nil {
		zone.ArrivalZone = *req.ArrivalZone
	}
	if req.DepartureZone != nil {
		zone.DepartureZone = *req.DepartureZone
	}
	if req.IsActive != nil {
		zone.IsActive = *req.IsActive
	}

	if err := s.store.UpdateGeozone(r.Context(), zone); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, zone)
}

// HandleDeleteGeozone deletes a geozone
func (s *RESTServer) HandleDeleteGeozone(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	if !authorizedAccount(r, accountID) {
		s.respondError(w, http.StatusForbidden, "access denied")
		return
	}

	err := s.store.DeleteGeozone(r.Context(), accountID, chi.URLParam(r, "geozone_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "geozone not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
