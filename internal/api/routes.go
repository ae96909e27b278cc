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

	// Проверка документов
	mux.Handle("POST /api/v1/validate", chain(http.HandlerFunc(h.Validate)))
	mux.Handle("POST /api/v1/submit", chain(http.HandlerFunc(h.Submit)))

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("DELETE /api/v1/workflows/{id}", chain(http.HandlerFunc(h.DeleteWorkflow)))

	// Workflow Versions
	mux.Handle("GET /api/v1/workflows/{id}/versions", chain(http.HandlerFunc(h.ListVersions)))
	mux.Handle("POST /api/v1/workflows/{id}/versions", chain(http.HandlerFunc(h.CreateVersion)))
	mux.Handle("GET /api/v1/workflows/{id}/versions/{version}", chain(http.HandlerFunc(h.GetVersion)))
	mux.Handle("GET /api/v1/workflows/{id}/versions/{version}/graph", chain(http.HandlerFunc(h.GetVersionGraph)))
}
