package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stillcam/stillcam/config"
	"github.com/stillcam/stillcam/internal/util"
	"github.com/stillcam/stillcam/internal/version"
)

var (
	verbose bool
	socket  string

	rootCmd = &cobra.Command{
		Use:   "stillcam IMAGE",
		Short: "Expose a still image as a virtual camera",
		Long: `stillcam registers a video source on the media bus and streams one still
image to any application that opens it as a camera.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
			util.SetupGlobalLogger()
			color.NoColor = color.NoColor || !term.IsTerminal(int(os.Stdout.Fd()))
			if cmd.Flags().Changed("socket") {
				config.Set("bus.socket", socket)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.ClientInfo()
				fmt.Printf("stillcam version %s, build %s\n", info["Version"], info["GitCommit"])
				return nil
			}
			if len(args) == 0 {
				cmd.Usage()
				return errors.New("missing IMAGE argument")
			}
			if err := applyCameraFlags(cmd); err != nil {
				return withExitCode(ExitConfig, err)
			}
			return runCamera(cmd.Context(), args[0])
		},
		Example: `  # Stream a picture as "virtual-camera"
  stillcam ~/Pictures/me.png

  # Use another node name and crop instead of letterboxing
  stillcam --name desk-cam --fit cover photo.jpg

  # Start the bus daemon first when none is running
  stillcam --autostart photo.jpg`,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.Flags().Bool("version", false, "Print version information and exit")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&socket, "socket", "", "Bus daemon socket (default from config)")

	addCameraFlags(rootCmd)

	rootCmd.AddCommand(NewBusCommand())
	rootCmd.AddCommand(NewConsumeCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
