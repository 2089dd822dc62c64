package cmd

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillcam/stillcam/config"
	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/camera"
	"github.com/stillcam/stillcam/internal/core"
	"github.com/stillcam/stillcam/internal/server"
	"github.com/stillcam/stillcam/internal/spa"
)

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 20), B: 0x80, A: 0xff})
		}
	}
	path := filepath.Join(t.TempDir(), "still.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

// setConfig overrides a key for one test.
func setConfig(t *testing.T, key string, value interface{}) {
	t.Helper()
	old := config.AllSettings()
	config.Set(key, value)
	t.Cleanup(func() {
		section, name, _ := strings.Cut(key, ".")
		if m, ok := old[section].(map[string]interface{}); ok {
			config.Set(key, m[name])
		}
	})
}

// shortSocket returns a socket path that fits the unix path limit.
func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "stillcam")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "bus.sock")
}

func startTestBus(t *testing.T) (*server.BusServer, string) {
	t.Helper()
	socket := shortSocket(t)
	srv := server.NewBusServer(server.Options{SocketPath: socket})
	l, err := net.Listen("unix", socket)
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Stop() })
	setConfig(t, "bus.socket", socket)
	return srv, socket
}

func stubDial(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := dialBus
	dialBus = func(ctx context.Context, addr string) (protocol.Conn, error) {
		calls++
		return orig(ctx, addr)
	}
	t.Cleanup(func() { dialBus = orig })
	return &calls
}

func TestRunCameraMissingImage(t *testing.T) {
	calls := stubDial(t)

	err := runCamera(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.Equal(t, ExitImage, ExitCode(err))
	assert.Zero(t, *calls)
}

func TestRunCameraUndecodableImage(t *testing.T) {
	calls := stubDial(t)
	path := filepath.Join(t.TempDir(), "noise.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image at all"), 0o644))

	err := runCamera(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, ExitImage, ExitCode(err))
	assert.Zero(t, *calls)
}

func TestRunCameraInvalidConfig(t *testing.T) {
	calls := stubDial(t)
	setConfig(t, "camera.format", "YUY2")

	err := runCamera(context.Background(), writePNG(t))
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
	assert.Zero(t, *calls)
}

func TestRunCameraBusUnavailable(t *testing.T) {
	setConfig(t, "bus.socket", filepath.Join(t.TempDir(), "none.sock"))

	err := runCamera(context.Background(), writePNG(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrBusUnavailable))
	assert.Equal(t, ExitBus, ExitCode(err))
}

func TestRunCameraRegistersAndStops(t *testing.T) {
	srv, _ := startTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	still := writePNG(t)
	done := make(chan error, 1)
	go func() { done <- runCamera(ctx, still) }()

	require.Eventually(t, func() bool {
		nodes := srv.ListNodes()
		return len(nodes) == 1 && nodes[0].Name == config.GetNodeName()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Video/Source", srv.ListNodes()[0].MediaClass)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, ExitOK, ExitCode(err))
	case <-time.After(5 * time.Second):
		t.Fatal("camera did not stop")
	}
	assert.Eventually(t, func() bool { return len(srv.ListNodes()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRunCameraBusShutdown(t *testing.T) {
	srv, _ := startTestBus(t)

	still := writePNG(t)
	done := make(chan error, 1)
	go func() { done <- runCamera(context.Background(), still) }()
	require.Eventually(t, func() bool { return len(srv.ListNodes()) == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Stop())
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, ExitBus, ExitCode(err))
	case <-time.After(5 * time.Second):
		t.Fatal("camera did not notice the bus going away")
	}
}

func TestCameraConfigDefaults(t *testing.T) {
	cfg, fit, err := cameraConfig()
	require.NoError(t, err)

	assert.Equal(t, "virtual-camera", cfg.Name)
	assert.EqualValues(t, "contain", fit)
	require.Len(t, cfg.Candidates, 1)
	c := cfg.Candidates[0]
	assert.Equal(t, camera.DefaultFormat, c)
	assert.Equal(t, 1228800, c.FrameSize())
	assert.Equal(t, 2560, c.Stride())
	assert.Equal(t, camera.DefaultBufferPolicy, cfg.Buffers)
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    camera.Rate
		wantErr bool
	}{
		{"30/1", camera.Rate{Num: 30, Denom: 1}, false},
		{"30000/1001", camera.Rate{Num: 30000, Denom: 1001}, false},
		{"15", camera.Rate{Num: 15, Denom: 1}, false},
		{"30/0", camera.Rate{}, true},
		{"fast", camera.Rate{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsumeVideoInfo(t *testing.T) {
	o := &consumeOptions{format: "rgba", width: 320, height: 240, framerate: "15/1"}
	info, err := o.videoInfo()
	require.NoError(t, err)
	assert.Equal(t, spa.VideoFormatRGBA, info.Format)
	assert.Equal(t, spa.Rectangle{Width: 320, Height: 240}, info.Size)
	assert.Equal(t, spa.Fraction{Num: 15, Denom: 1}, info.Framerate)

	o.width = 0
	_, err = o.videoInfo()
	assert.Error(t, err)
}

func TestRunConsumeBadFormat(t *testing.T) {
	calls := stubDial(t)
	err := runConsume(context.Background(), &consumeOptions{format: "NV12", width: 640, height: 480, framerate: "30/1"})
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
	assert.Zero(t, *calls)
}

func TestRunConsumeReceivesFrames(t *testing.T) {
	srv, _ := startTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	still := writePNG(t)
	go runCamera(ctx, still)
	require.Eventually(t, func() bool { return len(srv.ListNodes()) == 1 }, 5*time.Second, 10*time.Millisecond)

	save := filepath.Join(t.TempDir(), "first.png")
	err := runConsume(ctx, &consumeOptions{
		name:      "probe",
		frames:    2,
		save:      save,
		format:    core.LayoutBGRA.String(),
		width:     640,
		height:    480,
		framerate: "30/1",
	})
	require.NoError(t, err)

	f, err := os.Open(save)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 480, cfg.Height)
}

func TestRenderConfig(t *testing.T) {
	out, err := renderConfig()
	require.NoError(t, err)
	assert.Contains(t, out, "[camera]")
	assert.Contains(t, out, "node_name = 'virtual-camera'")
	assert.Contains(t, out, "[bus]")
}
