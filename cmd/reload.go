package cmd

import (
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Send SIGHUP to the running daemon. Log settings and the authorization policy
(community allow list, engine ID) are applied without dropping the socket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(signaler, signalPIDFile, cmd.OutOrStdout())
	},
}

func runReload(s Signaler, pidFile string, out io.Writer) error {
	if err := s.Signal(pidFile, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration reload requested")
	return nil
}
