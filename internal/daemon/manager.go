// Package daemon manages the lifecycle of the background bus daemon and
// talks to its HTTP API over the bus socket.
package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	procgroup "github.com/stillcam/stillcam/internal/proc_group"
	"github.com/stillcam/stillcam/internal/server/handlers"
	"github.com/stillcam/stillcam/internal/util"
)

// baseURL is the host part of API URLs; the transport dials the socket.
const baseURL = "http://stillcam"

var (
	// ErrNotRunning means no bus daemon answers on the socket.
	ErrNotRunning = errors.New("bus is not running")
	// ErrMismatched means something other than the bus owns the socket.
	ErrMismatched = errors.New("socket is served by another program")
)

// Status is the daemon's /api/status answer.
type Status struct {
	Running         bool   `json:"running"`
	Socket          string `json:"socket"`
	PoolDir         string `json:"pool_dir"`
	Uptime          string `json:"uptime"`
	Nodes           int    `json:"nodes"`
	Links           int    `json:"links"`
	Version         string `json:"version"`
	BuildID         string `json:"build_id"`
	ProtocolVersion int    `json:"protocol_version"`
}

// Manager handles the bus daemon lifecycle
type Manager struct {
	socket string
	home   string
	client *http.Client
	log    *slog.Logger
}

// NewManager creates a manager for the daemon serving socket. The PID file
// and daemon log live next to the socket.
func NewManager(socket string) *Manager {
	return &Manager{
		socket: socket,
		home:   filepath.Dir(socket),
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
		},
		log: util.Component("daemon"),
	}
}

func (m *Manager) SocketPath() string {
	return m.socket
}

// LogFile is where a background daemon writes its log.
func (m *Manager) LogFile() string {
	return filepath.Join(m.home, "bus.log")
}

func (m *Manager) pidFile() string {
	return filepath.Join(m.home, "bus.pid")
}

// EnsureServerRunning starts the daemon unless it already answers.
func (m *Manager) EnsureServerRunning() error {
	if m.IsServerRunning() {
		return nil
	}
	return m.StartServer()
}

// IsServerRunning checks the PID file and then the health endpoint.
func (m *Manager) IsServerRunning() bool {
	if pid, err := m.ReadPID(); err == nil && !procgroup.Alive(pid) {
		// stale PID file
		m.RemovePIDFile()
	}
	return m.CheckHealth() == nil
}

// CheckHealth returns nil when the bus answers its health endpoint.
func (m *Manager) CheckHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return ErrNotRunning
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Service != handlers.ServiceName {
		return ErrMismatched
	}
	return nil
}

// StartServer starts the daemon in the background and waits for it to
// answer.
func (m *Manager) StartServer() error {
	if err := os.MkdirAll(m.home, 0o700); err != nil {
		return errors.Wrapf(err, "failed to create bus directory %s", m.home)
	}

	exePath, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "failed to get executable path")
	}

	startLog := filepath.Join(os.TempDir(), "stillcam-bus-"+uuid.New().String())
	defer os.Remove(startLog)

	cmd := exec.Command(exePath, "bus", "start",
		"--socket", m.socket,
		"--internal-daemon",
		"--daemon-start-log-filename", startLog)
	cmd.Env = append(os.Environ(), "STILLCAM_BUS_DAEMON=1")
	procgroup.Detach(cmd)
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start bus daemon")
	}
	pid := cmd.Process.Pid
	go cmd.Wait()

	if err := m.WritePIDFile(pid); err != nil {
		m.log.Warn("Failed to write PID file", "error", err)
	}

	for i := 0; i < 20; i++ {
		time.Sleep(250 * time.Millisecond)
		if m.CheckHealth() == nil {
			m.log.Info("Bus started", "pid", pid, "socket", m.socket)
			return nil
		}
		if msg, err := os.ReadFile(startLog); err == nil && len(msg) > 0 {
			return errors.Errorf("failed to start bus: %s", strings.TrimSpace(string(msg)))
		}
	}
	return errors.Errorf("bus started but not responding on %s", m.socket)
}

// StopServer asks the daemon to shut down, falling back to SIGTERM.
func (m *Manager) StopServer() error {
	if err := m.CallAPI(http.MethodPost, "/api/server/shutdown", nil, nil); err == nil {
		for i := 0; i < 10 && m.CheckHealth() == nil; i++ {
			time.Sleep(100 * time.Millisecond)
		}
		m.RemovePIDFile()
		return nil
	}

	pid, err := m.ReadPID()
	if err != nil {
		return ErrNotRunning
	}
	defer m.RemovePIDFile()
	if err := procgroup.Terminate(pid); err != nil {
		return errors.Wrapf(err, "failed to stop bus (PID %d)", pid)
	}
	m.log.Info("Bus stopped", "pid", pid)
	return nil
}

func (m *Manager) ReadPID() (int, error) {
	b, err := os.ReadFile(m.pidFile())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid PID file %s", m.pidFile())
	}
	return pid, nil
}

func (m *Manager) WritePIDFile(pid int) error {
	return os.WriteFile(m.pidFile(), []byte(strconv.Itoa(pid)), 0o600)
}

func (m *Manager) RemovePIDFile() {
	os.Remove(m.pidFile())
}

// Status fetches the daemon status.
func (m *Manager) Status() (*Status, error) {
	var status Status
	if err := m.CallAPI(http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Nodes lists the registered nodes.
func (m *Manager) Nodes() ([]handlers.NodeDTO, error) {
	var body struct {
		Nodes []handlers.NodeDTO `json:"nodes"`
	}
	if err := m.CallAPI(http.MethodGet, "/api/nodes", nil, &body); err != nil {
		return nil, err
	}
	return body.Nodes, nil
}

// Links lists the active links.
func (m *Manager) Links() ([]handlers.LinkDTO, error) {
	var body struct {
		Links []handlers.LinkDTO `json:"links"`
	}
	if err := m.CallAPI(http.MethodGet, "/api/links", nil, &body); err != nil {
		return nil, err
	}
	return body.Links, nil
}

// Evict disconnects a node by id or name.
func (m *Manager) Evict(ref string) error {
	return m.CallAPI(http.MethodDelete, "/api/nodes/"+ref, nil, nil)
}

// CallAPI makes an API call to the daemon
func (m *Manager) CallAPI(method, endpoint string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, baseURL+endpoint, bodyReader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrapf(ErrNotRunning, "%v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return errors.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		return errors.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return errors.Wrap(err, "failed to decode response")
		}
	}
	return nil
}
