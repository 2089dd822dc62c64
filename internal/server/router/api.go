package router

import (
	"net/http"

	"github.com/stillcam/stillcam/internal/server/handlers"
)

// APIRouter handles all /api/* routes
type APIRouter struct {
	handlers *handlers.APIHandlers
}

// RegisterRoutes registers all API routes
func (r *APIRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	// Cast server to ServerService
	var serverService handlers.ServerService
	if srv, ok := server.(handlers.ServerService); ok {
		serverService = srv
	}

	r.handlers = handlers.NewAPIHandlers(serverService)

	api := NewRouteGroup(r.GetPathPrefix(), mux)

	// Health and status endpoints
	api.HandleFunc("/health", r.handlers.HandleHealth)
	api.HandleFunc("/status", r.handlers.HandleStatus)

	// Node and link endpoints
	api.HandleFunc("/nodes", r.handlers.HandleNodeList)
	api.HandleFunc("/nodes/", r.handlers.HandleNodeAction)
	api.HandleFunc("/links", r.handlers.HandleLinkList)

	// Server management endpoints
	api.HandleFunc("/server/shutdown", r.handlers.HandleServerShutdown)
	api.HandleFunc("/server/info", r.handlers.HandleServerInfo)
}

// GetPathPrefix returns the path prefix for this router
func (r *APIRouter) GetPathPrefix() string {
	return "/api"
}
