package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stillcam/stillcam/config"
	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/camera"
	"github.com/stillcam/stillcam/internal/consumer"
	"github.com/stillcam/stillcam/internal/core"
	"github.com/stillcam/stillcam/internal/spa"
	"github.com/stillcam/stillcam/internal/util"
)

type consumeOptions struct {
	name       string
	target     string
	frames     uint64
	save       string
	format     string
	width      int
	height     int
	framerate  string
	minBuffers int
}

// NewConsumeCommand creates the consume command
func NewConsumeCommand() *cobra.Command {
	opts := &consumeOptions{}

	cmd := &cobra.Command{
		Use:           "consume",
		Short:         "Open a camera on the bus and log the frames it sends",
		Long:          `Connect to the bus as a video sink, negotiate a format with a camera and report every frame received.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsume(cmd.Context(), opts)
		},
		Example: `  # Read ten frames from the default camera and save the first
  stillcam consume --frames 10 --save frame.png

  # Ask for a format the camera does not offer
  stillcam consume --format RGBA`,
	}

	width, height := config.GetSize()
	num, denom := config.GetFramerate()

	flags := cmd.Flags()
	flags.StringVar(&opts.name, "name", "stillcam-consume", "Node name of the sink")
	flags.StringVarP(&opts.target, "target", "t", "", "Name of the camera to link to (default: any camera)")
	flags.Uint64VarP(&opts.frames, "frames", "n", 0, "Stop after this many frames (0 runs until interrupted)")
	flags.StringVar(&opts.save, "save", "", "Save the first frame as PNG to this path")
	flags.StringVar(&opts.format, "format", config.GetFormat(), "Pixel layout to request")
	flags.IntVar(&opts.width, "width", width, "Frame width to request")
	flags.IntVar(&opts.height, "height", height, "Frame height to request")
	flags.StringVar(&opts.framerate, "framerate", fmt.Sprintf("%d/%d", num, denom), "Frame rate to request as NUM/DENOM")
	flags.IntVar(&opts.minBuffers, "min-buffers", 0, "Minimum buffers to ask for (0 lets the bus decide)")

	return cmd
}

// parseRate parses "30/1" or "30".
func parseRate(s string) (camera.Rate, error) {
	numStr, denomStr, found := strings.Cut(s, "/")
	if !found {
		denomStr = "1"
	}
	num, err := strconv.ParseUint(strings.TrimSpace(numStr), 10, 32)
	if err != nil {
		return camera.Rate{}, errors.Errorf("invalid frame rate %q", s)
	}
	denom, err := strconv.ParseUint(strings.TrimSpace(denomStr), 10, 32)
	if err != nil || denom == 0 {
		return camera.Rate{}, errors.Errorf("invalid frame rate %q", s)
	}
	return camera.Rate{Num: uint32(num), Denom: uint32(denom)}, nil
}

func (o *consumeOptions) videoInfo() (spa.VideoInfo, error) {
	layout, err := core.ParseLayout(o.format)
	if err != nil {
		return spa.VideoInfo{}, err
	}
	rate, err := parseRate(o.framerate)
	if err != nil {
		return spa.VideoInfo{}, err
	}
	if o.width <= 0 || o.height <= 0 {
		return spa.VideoInfo{}, errors.Errorf("invalid size %dx%d", o.width, o.height)
	}
	c := camera.FormatCandidate{Layout: layout, Width: o.width, Height: o.height, Rate: rate}
	return c.VideoInfo()
}

func runConsume(ctx context.Context, o *consumeOptions) error {
	info, err := o.videoInfo()
	if err != nil {
		return withExitCode(ExitConfig, err)
	}

	sink := consumer.NewSink(consumer.Options{
		Name:       o.name,
		Target:     o.target,
		Format:     info,
		MinBuffers: o.minBuffers,
		Frames:     o.frames,
		SavePath:   o.save,
	}, util.GetLogger())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dialBus(ctx, config.GetBusSocket())
	if err != nil {
		return withExitCode(ExitBus, err)
	}
	stream := client.NewStream(conn, sink.StreamOptions(), sink)
	if err := stream.Connect(); err != nil {
		conn.Close()
		return err
	}

	err = sink.Run(ctx, stream)
	fmt.Printf("received %d frames\n", sink.Frames())
	if o.save != "" && sink.Frames() > 0 {
		fmt.Printf("first frame saved to %s\n", o.save)
	}
	return err
}
