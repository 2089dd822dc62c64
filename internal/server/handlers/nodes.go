package handlers

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrNodeNotFound is matched by EvictNode errors that should map to 404.
var ErrNodeNotFound = errors.New("node not found")

// NodeHandlers contains handlers for /api/nodes and /api/links
type NodeHandlers struct {
	serverService ServerService
}

// NewNodeHandlers creates a new node handlers instance
func NewNodeHandlers(serverSvc ServerService) *NodeHandlers {
	return &NodeHandlers{serverService: serverSvc}
}

// HandleNodeList handles node listing requests
func (h *NodeHandlers) HandleNodeList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nodes := h.serverService.ListNodes()
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// HandleLinkList handles link listing requests
func (h *NodeHandlers) HandleLinkList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	links := h.serverService.ListLinks()
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"links": links,
		"count": len(links),
	})
}

// HandleNodeAction serves /api/nodes/{id}. DELETE evicts the node.
func (h *NodeHandlers) HandleNodeAction(w http.ResponseWriter, r *http.Request) {
	ref := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/nodes/"), "/")
	if !isValidNodeRef(ref) {
		RespondError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		for _, n := range h.serverService.ListNodes() {
			if n.ID == ref || n.Name == ref {
				RespondJSON(w, http.StatusOK, n)
				return
			}
		}
		RespondError(w, http.StatusNotFound, "node not found")
	case http.MethodDelete:
		err := h.serverService.EvictNode(ref)
		switch {
		case err == nil:
			RespondJSON(w, http.StatusOK, map[string]string{"message": "node evicted", "node": ref})
		case errors.Is(err, ErrNodeNotFound):
			RespondError(w, http.StatusNotFound, err.Error())
		default:
			RespondError(w, http.StatusServiceUnavailable, err.Error())
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
