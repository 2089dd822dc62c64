package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stillcam/stillcam/config"
	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/camera"
	"github.com/stillcam/stillcam/internal/core"
	"github.com/stillcam/stillcam/internal/daemon"
	"github.com/stillcam/stillcam/internal/imagesource"
	"github.com/stillcam/stillcam/internal/util"
)

// dialBus connects to the bus daemon. Tests replace it.
var dialBus = func(ctx context.Context, addr string) (protocol.Conn, error) {
	return client.Dial(ctx, addr)
}

// cameraFlags maps root command flags to configuration keys.
var cameraFlags = map[string]string{
	"name":      "camera.node_name",
	"fit":       "image.fit",
	"autostart": "bus.autostart",
}

func addCameraFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("name", "", "Node name on the bus (default from config)")
	flags.String("fit", "", "How the image fills the frame: contain, cover or stretch")
	flags.Bool("autostart", false, "Start the bus daemon if it is not running")
}

func applyCameraFlags(cmd *cobra.Command) error {
	for flag, key := range cameraFlags {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if f.Value.Type() == "bool" {
			b, err := cmd.Flags().GetBool(flag)
			if err != nil {
				return err
			}
			config.Set(key, b)
			continue
		}
		config.Set(key, f.Value.String())
	}
	return nil
}

// cameraConfig builds the node configuration from the effective settings.
func cameraConfig() (camera.Config, imagesource.Fit, error) {
	layout, err := core.ParseLayout(config.GetFormat())
	if err != nil {
		return camera.Config{}, "", err
	}
	fit, err := imagesource.ParseFit(config.GetFit())
	if err != nil {
		return camera.Config{}, "", err
	}
	width, height := config.GetSize()
	num, denom := config.GetFramerate()
	minCount, maxCount, align := config.GetBufferLimits()

	return camera.Config{
		Name:        config.GetNodeName(),
		Description: config.GetDescription(),
		Candidates: []camera.FormatCandidate{{
			Layout: layout,
			Width:  width,
			Height: height,
			Rate:   camera.Rate{Num: num, Denom: denom},
		}},
		Buffers: camera.BufferPolicy{MinCount: minCount, MaxCount: maxCount, Align: align},
	}, fit, nil
}

// runCamera loads the image, registers the camera node and serves the bus
// until the process is signalled or the bus disconnects the node.
func runCamera(ctx context.Context, imagePath string) error {
	cfg, fit, err := cameraConfig()
	if err != nil {
		return withExitCode(ExitConfig, errors.Wrap(err, "invalid camera configuration"))
	}
	format := cfg.Candidates[0]

	frame, err := imagesource.Load(imagePath, format.Width, format.Height, format.Layout, fit)
	if err != nil {
		return withExitCode(ExitImage, errors.Wrapf(err, "failed to load %s", imagePath))
	}

	log := util.Component("camera")
	cfg.OnTransition = func(session int, from, to camera.State) {
		log.Info("Session state changed", "session", session, "from", from, "to", to)
	}
	node, err := camera.NewNode(cfg, frame, util.GetLogger())
	if err != nil {
		return withExitCode(ExitConfig, err)
	}

	busSocket := config.GetBusSocket()
	if config.GetAutostart() {
		if err := daemon.NewManager(busSocket).EnsureServerRunning(); err != nil {
			return withExitCode(ExitBus, errors.Wrap(err, "failed to start bus"))
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dialBus(ctx, busSocket)
	if err != nil {
		return withExitCode(ExitBus, err)
	}
	stream := client.NewStream(conn, node.StreamOptions(), node)
	if err := stream.Connect(); err != nil {
		conn.Close()
		return err
	}
	log.Info("Camera registered", "node", cfg.Name, "id", stream.ID(), "format", format.String())

	if err := stream.Run(ctx); err != nil {
		return err
	}
	log.Info("Camera closed", "node", cfg.Name, "frames", node.Frames())
	return nil
}
