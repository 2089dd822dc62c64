package cmd

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stillcam/stillcam/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := renderConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	})
	return cmd
}

func renderConfig() (string, error) {
	b, err := toml.Marshal(config.AllSettings())
	if err != nil {
		return "", errors.Wrap(err, "failed to encode configuration")
	}
	header := "# no config file, defaults and environment only\n"
	if file := config.ConfigFileUsed(); file != "" {
		header = fmt.Sprintf("# read from %s\n", file)
	}
	return header + string(b), nil
}
