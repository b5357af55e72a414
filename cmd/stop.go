package cmd

import (
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/daemon"
)

// Signaler delivers a signal to the daemon recorded in a PID file.
type Signaler interface {
	Signal(pidFile string, sig syscall.Signal) error
}

type pidSignaler struct{}

func (pidSignaler) Signal(pidFile string, sig syscall.Signal) error {
	return daemon.Signal(pidFile, sig)
}

var signaler Signaler = pidSignaler{}

var signalPIDFile string

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Stop the trapd daemon gracefully by sending SIGTERM to the process recorded
in the PID file. The daemon closes the trap socket, flushes the sinks and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(signaler, signalPIDFile, cmd.OutOrStdout())
	},
}

func runStop(s Signaler, pidFile string, out io.Writer) error {
	if err := s.Signal(pidFile, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Stop signal sent")
	return nil
}

func init() {
	for _, c := range []*cobra.Command{stopCmd, reloadCmd} {
		c.Flags().StringVar(&signalPIDFile, "pidfile", "/var/run/trapd.pid", "PID file of the running daemon")
	}
}
