package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Builds
	mux.Handle("GET /api/v1/builds", chain(http.HandlerFunc(h.ListBuilds)))
	mux.Handle("POST /api/v1/builds", chain(http.HandlerFunc(h.TriggerBuild)))
	mux.Handle("GET /api/v1/builds/{id}", chain(http.HandlerFunc(h.GetBuild)))
	mux.Handle("POST /api/v1/builds/{id}/cancel", chain(http.HandlerFunc(h.CancelBuild)))
	mux.Handle("GET /api/v1/builds/{id}/environments", chain(http.HandlerFunc(h.ListEnvironmentBuilds)))

	// Promotions
	mux.Handle("GET /api/v1/builds/{id}/promotions", chain(http.HandlerFunc(h.PromotionStatus)))
	mux.Handle("POST /api/v1/builds/{id}/promotions/{process}/approve", chain(http.HandlerFunc(h.ApprovePromotion)))
	mux.Handle("POST /api/v1/builds/{id}/promotions/{process}/force", chain(http.HandlerFunc(h.ForcePromotion)))

	// Environments and processes
	mux.Handle("GET /api/v1/environments", chain(http.HandlerFunc(h.ListEnvironments)))
	mux.Handle("GET /api/v1/processes", chain(http.HandlerFunc(h.ListProcesses)))
}
