package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/stillcam/stillcam/internal/bus/protocol"
)

// ServiceName identifies the bus daemon in health responses.
const ServiceName = "stillcam-bus"

// APIHandlers contains handlers for all /api/* routes
type APIHandlers struct {
	serverService ServerService
	nodeHandlers  *NodeHandlers
	exit          func(code int)
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(serverSvc ServerService) *APIHandlers {
	return &APIHandlers{
		serverService: serverSvc,
		nodeHandlers:  NewNodeHandlers(serverSvc),
		exit:          os.Exit,
	}
}

// Health and status endpoints
func (h *APIHandlers) HandleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"` + ServiceName + `"}`))
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, req *http.Request) {
	if h.serverService == nil {
		RespondJSON(w, http.StatusOK, map[string]string{"status": "running", "service": ServiceName})
		return
	}

	nodes := h.serverService.ListNodes()
	links := h.serverService.ListLinks()

	status := map[string]interface{}{
		"running":          h.serverService.IsRunning(),
		"socket":           h.serverService.GetSocketPath(),
		"pool_dir":         h.serverService.GetPoolDir(),
		"uptime":           h.serverService.GetUptime().Round(time.Second).String(),
		"nodes":            len(nodes),
		"links":            len(links),
		"version":          h.serverService.GetVersion(),
		"build_id":         h.serverService.GetBuildID(),
		"protocol_version": protocol.Version,
	}

	RespondJSON(w, http.StatusOK, status)
}

// Node endpoints - delegate to dedicated handlers
func (h *APIHandlers) HandleNodeList(w http.ResponseWriter, req *http.Request) {
	h.nodeHandlers.HandleNodeList(w, req)
}

func (h *APIHandlers) HandleNodeAction(w http.ResponseWriter, req *http.Request) {
	h.nodeHandlers.HandleNodeAction(w, req)
}

func (h *APIHandlers) HandleLinkList(w http.ResponseWriter, req *http.Request) {
	h.nodeHandlers.HandleLinkList(w, req)
}

// Server management endpoints
func (h *APIHandlers) HandleServerShutdown(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.serverService == nil {
		RespondError(w, http.StatusNotImplemented, "server shutdown unavailable")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Server shutting down",
	})

	// Shutdown after response
	go func() {
		time.Sleep(100 * time.Millisecond)
		h.serverService.Stop()
		h.exit(0)
	}()
}

func (h *APIHandlers) HandleServerInfo(w http.ResponseWriter, req *http.Request) {
	if h.serverService == nil {
		RespondJSON(w, http.StatusOK, map[string]string{"name": ServiceName, "version": "dev"})
		return
	}

	info := map[string]interface{}{
		"name":             ServiceName,
		"version":          h.serverService.GetVersion(),
		"build_id":         h.serverService.GetBuildID(),
		"socket":           h.serverService.GetSocketPath(),
		"uptime":           h.serverService.GetUptime().Round(time.Second).String(),
		"protocol_version": protocol.Version,
	}

	RespondJSON(w, http.StatusOK, info)
}
