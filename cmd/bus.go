package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stillcam/stillcam/config"
	"github.com/stillcam/stillcam/internal/daemon"
	"github.com/stillcam/stillcam/internal/server"
	"github.com/stillcam/stillcam/internal/server/handlers"
	"github.com/stillcam/stillcam/internal/util"
)

// NewBusCommand creates the bus command with subcommands
func NewBusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bus",
		Short: "Manage the media bus daemon",
		Long:  `Manage the daemon that links camera nodes to consumers over shared memory.`,
	}

	cmd.AddCommand(newBusStartCmd())
	cmd.AddCommand(newBusStopCmd())
	cmd.AddCommand(newBusStatusCmd())
	cmd.AddCommand(newBusEvictCmd())

	return cmd
}

func newBusStartCmd() *cobra.Command {
	var (
		foreground             bool
		internalDaemon         bool
		daemonStartLogFilename string
	)

	cmd := &cobra.Command{
		Use:           "start",
		Short:         "Start the bus daemon",
		Long:          `Start the bus daemon if it's not already running.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if internalDaemon {
				return runBusInBackground(daemonStartLogFilename)
			}
			if foreground {
				return runBusInForeground()
			}
			return runBusInDaemon()
		},
		Example: `  # Start the bus in background
  stillcam bus start

  # Start the bus in foreground (see logs)
  stillcam bus start --foreground`,
	}

	flags := cmd.Flags()
	flags.BoolVarP(&foreground, "foreground", "f", false, "Run the bus in foreground (show logs)")

	// Flag --internal-daemon is hidden in help message for internal use.
	flags.BoolVarP(&internalDaemon, "internal-daemon", "", false, "")
	flags.Lookup("internal-daemon").Hidden = true
	flags.StringVarP(&daemonStartLogFilename, "daemon-start-log-filename", "", "", "")
	flags.Lookup("daemon-start-log-filename").Hidden = true

	return cmd
}

func newBusStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "stop",
		Short:         "Stop the bus daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := daemon.NewManager(config.GetBusSocket())
			if err := m.StopServer(); err != nil {
				return err
			}
			fmt.Println("bus has been stopped")
			return nil
		},
	}
}

func newBusStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show bus status, nodes and links",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := daemon.NewManager(config.GetBusSocket())
			status, err := m.Status()
			if err != nil {
				fmt.Printf("%s Bus is not running\n", color.RedString("✗"))
				fmt.Printf("   Use '%s' to start it\n", color.CyanString("stillcam bus start"))
				return nil
			}

			fmt.Printf("%s Bus is running\n", color.GreenString("✓"))
			fmt.Printf("   Socket:   %s\n", status.Socket)
			fmt.Printf("   Pools:    %s\n", status.PoolDir)
			fmt.Printf("   Uptime:   %s\n", status.Uptime)
			fmt.Printf("   Version:  %s (protocol %d)\n", status.Version, status.ProtocolVersion)
			if status.BuildID != server.GetBuildID() {
				color.Yellow("   The bus runs another build of stillcam; restart it with 'stillcam bus stop && stillcam bus start'")
			}

			nodes, err := m.Nodes()
			if err != nil {
				return err
			}
			links, err := m.Links()
			if err != nil {
				return err
			}
			fmt.Println()
			renderNodes(os.Stdout, nodes)
			if len(links) > 0 {
				fmt.Println()
				renderLinks(os.Stdout, links)
			}
			return nil
		},
	}
}

func newBusEvictCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "evict NODE",
		Short:         "Disconnect a node by name or id",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := daemon.NewManager(config.GetBusSocket())
			if err := m.Evict(args[0]); err != nil {
				return err
			}
			fmt.Printf("node %s has been evicted\n", args[0])
			return nil
		},
	}
}

func newBusServer() *server.BusServer {
	return server.NewBusServer(server.Options{
		SocketPath:     config.GetBusSocket(),
		PoolDir:        config.GetPoolDir(),
		MaxBufferSize:  config.GetMaxBufferSize(),
		DefaultBuffers: config.GetDefaultBuffers(),
	})
}

// runBusInDaemon starts a detached daemon and waits for it to answer
func runBusInDaemon() error {
	m := daemon.NewManager(config.GetBusSocket())
	switch err := m.CheckHealth(); err {
	case nil:
		fmt.Printf("bus has been already started on %s\n", m.SocketPath())
		return nil
	case daemon.ErrMismatched:
		return errors.Wrapf(err, "socket %s is already in use", m.SocketPath())
	}

	if err := m.StartServer(); err != nil {
		return err
	}
	fmt.Printf("bus has been started on %s\n", m.SocketPath())
	return nil
}

// runBusInBackground is the body of the detached daemon process. Startup
// failures are written to startLogFilename for the parent to report.
func runBusInBackground(startLogFilename string) error {
	m := daemon.NewManager(config.GetBusSocket())
	fail := func(err error) error {
		if startLogFilename != "" {
			os.WriteFile(startLogFilename, []byte(err.Error()), 0600)
		}
		return err
	}

	logFd, err := os.OpenFile(m.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fail(errors.Wrapf(err, "failed to create log file: %s", m.LogFile()))
	}
	defer logFd.Close()
	util.InitLoggerTo(logFd, verbose)
	util.SetupGlobalLogger()

	srv := newBusServer()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		srv.Stop()
	}()

	if err := srv.Listen(); err != nil && err != http.ErrServerClosed {
		return fail(errors.Wrap(err, "failed to start bus"))
	}
	m.RemovePIDFile()
	return nil
}

func runBusInForeground() error {
	m := daemon.NewManager(config.GetBusSocket())
	switch err := m.CheckHealth(); err {
	case nil:
		fmt.Printf("bus has been already started on %s\n", m.SocketPath())
		return nil
	case daemon.ErrMismatched:
		return errors.Wrapf(err, "socket %s is already in use", m.SocketPath())
	}

	srv := newBusServer()
	errChan := make(chan error, 1)
	go func() {
		if err := srv.Listen(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	for m.CheckHealth() != nil {
		select {
		case startErr := <-errChan:
			return errors.Wrapf(startErr, "fail to start bus on %s", m.SocketPath())
		case <-time.After(100 * time.Millisecond):
		}
	}

	fmt.Printf("%s %s %s\n", color.GreenString("stillcam bus"), color.CyanString("➜"), color.BlueString(m.SocketPath()))
	color.New(color.Faint).Println("Press Ctrl+C to stop...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errChan:
		return err
	}

	util.GetLogger().Info("Shutting down bus...")
	return srv.Stop()
}

func stateColor(state string) string {
	switch state {
	case "streaming":
		return color.GreenString(state)
	case "paused", "connecting":
		return color.YellowString(state)
	case "error":
		return color.RedString(state)
	}
	return state
}

func renderNodes(w io.Writer, nodes []handlers.NodeDTO) {
	rows := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		link := n.Link
		if link == "" {
			link = "-"
		}
		rows = append(rows, map[string]interface{}{
			"name":      n.Name,
			"id":        n.ID,
			"direction": n.Direction,
			"class":     n.MediaClass,
			"state":     stateColor(n.State),
			"link":      link,
		})
	}
	util.RenderTable(w, []util.TableColumn{
		{Header: "NAME", Key: "name"},
		{Header: "ID", Key: "id"},
		{Header: "DIRECTION", Key: "direction"},
		{Header: "CLASS", Key: "class"},
		{Header: "STATE", Key: "state"},
		{Header: "LINK", Key: "link"},
	}, rows)
}

func renderLinks(w io.Writer, links []handlers.LinkDTO) {
	rows := make([]map[string]interface{}, 0, len(links))
	for _, l := range links {
		rows = append(rows, map[string]interface{}{
			"id":       l.ID,
			"producer": l.Producer,
			"consumer": l.Consumer,
			"phase":    stateColor(l.Phase),
			"format":   l.Format,
			"buffers":  fmt.Sprintf("%d x %d", l.Buffers, l.BufferSize),
			"frames":   l.Frames,
		})
	}
	util.RenderTable(w, []util.TableColumn{
		{Header: "LINK", Key: "id"},
		{Header: "PRODUCER", Key: "producer"},
		{Header: "CONSUMER", Key: "consumer"},
		{Header: "PHASE", Key: "phase"},
		{Header: "FORMAT", Key: "format"},
		{Header: "BUFFERS", Key: "buffers"},
		{Header: "FRAMES", Key: "frames"},
	}, rows)
}
