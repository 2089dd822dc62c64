package router

import (
	"net/http"

	"github.com/stillcam/stillcam/internal/server/handlers"
)

// NodeSocketRouter serves the websocket nodes register on
type NodeSocketRouter struct{}

// RegisterRoutes registers the node websocket endpoint
func (r *NodeSocketRouter) RegisterRoutes(mux *http.ServeMux, server interface{}) {
	srv, ok := server.(handlers.ServerService)
	if !ok {
		return
	}
	mux.HandleFunc("/ws", srv.HandleNodeSocket)
}

// GetPathPrefix returns the path prefix for this router
func (r *NodeSocketRouter) GetPathPrefix() string {
	return "/ws"
}
