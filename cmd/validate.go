package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/sink"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration (file, defaults and TRAPD_* env vars), validate it and
build every configured sink without starting the receiver.

Examples:
  trapd validate -c /etc/trapd/trapd.yml
  trapd validate -c trapd.yml --print    # also print the effective config`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd.OutOrStdout(), configFile, validatePrint); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false, "print the effective configuration as YAML")
}

func runValidate(out io.Writer, path string, printYAML bool) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	s, err := sink.Build(cfg.Sinks, sink.Env{
		Kafka:  cfg.Kafka,
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}

	if printYAML {
		b, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = out.Write(b)
		return err
	}

	fmt.Fprintf(out, "VALID: udp port %d (%s), %d sink(s)\n",
		cfg.Receiver.ListenPort, cfg.Receiver.Transport, len(cfg.Sinks))
	return nil
}
