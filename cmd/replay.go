package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/log"
	"firestige.xyz/trapd/internal/receiver"
	"firestige.xyz/trapd/internal/replay"
	"firestige.xyz/trapd/internal/sink"
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Decode traps from a pcap or pcapng capture",
	Long: `Feed every UDP datagram addressed to the trap port in a capture file through
the same decode, authorization and classification pipeline as the daemon,
writing the results to the configured sinks.

Examples:
  trapd replay traps.pcap
  trapd replay -c trapd.yml --port 1162 traps.pcapng`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runReplay(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), configFile, args[0], replayPort); err != nil {
			exitWithError("replay failed", err)
		}
	},
}

var replayPort uint16

func init() {
	replayCmd.Flags().Uint16Var(&replayPort, "port", 0, "trap port to select (receiver.listen_port when 0)")
}

func runReplay(ctx context.Context, out, errOut io.Writer, cfgPath, capture string, port uint16) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}
	if port == 0 {
		port = uint16(cfg.Receiver.ListenPort)
	}

	s, err := sink.Build(cfg.Sinks, sink.Env{
		Verbose: cfg.Receiver.Verbose,
		Kafka:   cfg.Kafka,
		Stdout:  out,
		Stderr:  errOut,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := receiver.New(cfg.Receiver, s)
	if err != nil {
		return err
	}

	stats, err := replay.File(ctx, capture, port, r)
	rs := r.Stats()
	fmt.Fprintf(errOut, "%d packets, %d datagrams, %d emitted, %d emit failures, %d decode errors, %d suppressed\n",
		stats.Packets, stats.Datagrams, rs.Emitted, rs.EmitFailures, rs.DecodeErrors, rs.Suppressed)
	if err != nil {
		return err
	}
	if stats.Datagrams == 0 {
		fmt.Fprintf(errOut, "no UDP datagrams to port %d in %s\n", port, capture)
	}
	return nil
}
