package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stillcam/stillcam/internal/version"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.ClientInfo()
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, info["Version"])
				return
			}
			fmt.Fprintf(out, "Version:      %s\n", info["Version"])
			fmt.Fprintf(out, "Protocol:     %s\n", info["ProtocolVersion"])
			fmt.Fprintf(out, "Go version:   %s\n", info["GoVersion"])
			fmt.Fprintf(out, "Git commit:   %s\n", info["GitCommit"])
			fmt.Fprintf(out, "Built:        %s\n", info["FormattedTime"])
			fmt.Fprintf(out, "OS/Arch:      %s/%s\n", info["OS"], info["Arch"])
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
