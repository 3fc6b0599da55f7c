package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Service accounts (API credentials)
		r.Route("/service-accounts", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/", s.HandleCreateServiceAccount)
		})

		// Accounts
		r.Route("/accounts", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListAccounts)
			r.Post("/", s.HandleCreateAccount)
			r.Route("/{account_id}", func(r chi.Router) {
				r.Get("/", s.HandleGetAccount)
				r.Put("/", s.HandleUpdateAccount)
				r.Delete("/", s.HandleDeleteAccount)

				// Devices
				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.HandleListDevices)
					r.Post("/", s.HandleCreateDevice)
					r.Route("/{device_id}", func(r chi.Router) {
						r.Get("/", s.HandleGetDevice)
						r.Put("/", s.HandleUpdateDevice)
						r.Delete("/", s.HandleDeleteDevice)
						r.Get("/events", s.HandleListEvents)
						r.Get("/events/last", s.HandleGetLastEvent)
					})
				})

				// Geozones
				r.Route("/geozones", func(r chi.Router) {
					r.Get("/", s.HandleListGeozones)
					r.Post("/", s.HandleCreateGeozone)
					r.Route("/{geozone_id}", func(r chi.Router) {
						r.Get("/", s.HandleGetGeozone)
						r.Put("/", s.HandleUpdateGeozone)
						r.Delete("/", s.HandleDeleteGeozone)
					})
				})
			})
		})
	})
}
