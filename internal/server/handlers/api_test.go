package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockServerService for testing
type MockServerService struct {
	nodes   []NodeDTO
	links   []LinkDTO
	evicted []string
	stopped bool
}

// Status and info
func (m *MockServerService) IsRunning() bool          { return true }
func (m *MockServerService) GetSocketPath() string    { return "/run/stillcam/bus.sock" }
func (m *MockServerService) GetPoolDir() string       { return "/run/stillcam" }
func (m *MockServerService) GetUptime() time.Duration { return time.Hour }
func (m *MockServerService) GetBuildID() string       { return "test-build" }
func (m *MockServerService) GetVersion() string       { return "1.0.0" }

// Bus state
func (m *MockServerService) ListNodes() []NodeDTO { return m.nodes }
func (m *MockServerService) ListLinks() []LinkDTO { return m.links }

func (m *MockServerService) EvictNode(idOrName string) error {
	for _, n := range m.nodes {
		if n.ID == idOrName || n.Name == idOrName {
			m.evicted = append(m.evicted, n.ID)
			return nil
		}
	}
	return errors.Wrapf(ErrNodeNotFound, "%s", idOrName)
}

func (m *MockServerService) HandleNodeSocket(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

// Server lifecycle
func (m *MockServerService) Stop() error {
	m.stopped = true
	return nil
}

func NewMockServerService() *MockServerService {
	return &MockServerService{
		nodes: []NodeDTO{
			{ID: "id-camera", Name: "virtual-camera", Direction: "output", MediaClass: "Video/Source", State: "streaming", Link: "abcd1234"},
			{ID: "id-probe", Name: "probe", Direction: "input", State: "streaming", Link: "abcd1234"},
		},
		links: []LinkDTO{
			{ID: "abcd1234", Producer: "virtual-camera", Consumer: "probe", Phase: "streaming", Frames: 42},
		},
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandleHealth(t *testing.T) {
	h := NewAPIHandlers(NewMockServerService())
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, ServiceName, body["service"])
}

func TestHandleStatus(t *testing.T) {
	h := NewAPIHandlers(NewMockServerService())
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, float64(2), body["nodes"])
	assert.Equal(t, float64(1), body["links"])
	assert.Equal(t, "1h0m0s", body["uptime"])
	assert.Equal(t, "/run/stillcam/bus.sock", body["socket"])
}

func TestHandleNodeList(t *testing.T) {
	h := NewAPIHandlers(NewMockServerService())

	rec := httptest.NewRecorder()
	h.HandleNodeList(rec, httptest.NewRequest(http.MethodGet, "/api/nodes", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Nodes []NodeDTO `json:"nodes"`
		Count int       `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "virtual-camera", body.Nodes[0].Name)

	rec = httptest.NewRecorder()
	h.HandleNodeList(rec, httptest.NewRequest(http.MethodPost, "/api/nodes", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleLinkList(t *testing.T) {
	h := NewAPIHandlers(NewMockServerService())
	rec := httptest.NewRecorder()
	h.HandleLinkList(rec, httptest.NewRequest(http.MethodGet, "/api/links", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Links []LinkDTO `json:"links"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Links, 1)
	assert.Equal(t, uint64(42), body.Links[0].Frames)
}

func TestHandleNodeAction(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		path    string
		code    int
		evicted []string
	}{
		{"get by name", http.MethodGet, "/api/nodes/probe", http.StatusOK, nil},
		{"get unknown", http.MethodGet, "/api/nodes/nobody", http.StatusNotFound, nil},
		{"evict by name", http.MethodDelete, "/api/nodes/virtual-camera", http.StatusOK, []string{"id-camera"}},
		{"evict by id", http.MethodDelete, "/api/nodes/id-probe", http.StatusOK, []string{"id-probe"}},
		{"evict unknown", http.MethodDelete, "/api/nodes/nobody", http.StatusNotFound, nil},
		{"invalid ref", http.MethodDelete, "/api/nodes/a%20b", http.StatusBadRequest, nil},
		{"empty ref", http.MethodDelete, "/api/nodes/", http.StatusBadRequest, nil},
		{"bad method", http.MethodPut, "/api/nodes/probe", http.StatusMethodNotAllowed, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMockServerService()
			h := NewAPIHandlers(svc)
			rec := httptest.NewRecorder()
			h.HandleNodeAction(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.evicted, svc.evicted)
		})
	}
}

func TestHandleServerShutdown(t *testing.T) {
	svc := NewMockServerService()
	h := NewAPIHandlers(svc)
	exited := make(chan int, 1)
	h.exit = func(code int) { exited <- code }

	rec := httptest.NewRecorder()
	h.HandleServerShutdown(rec, httptest.NewRequest(http.MethodGet, "/api/server/shutdown", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleServerShutdown(rec, httptest.NewRequest(http.MethodPost, "/api/server/shutdown", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case code := <-exited:
		assert.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.True(t, svc.stopped)
}

func TestHandleServerInfo(t *testing.T) {
	h := NewAPIHandlers(NewMockServerService())
	rec := httptest.NewRecorder()
	h.HandleServerInfo(rec, httptest.NewRequest(http.MethodGet, "/api/server/info", nil))

	body := decodeBody(t, rec)
	assert.Equal(t, ServiceName, body["name"])
	assert.Equal(t, "test-build", body["build_id"])
	assert.Equal(t, float64(1), body["protocol_version"])
}
