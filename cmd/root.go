// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// sink types selectable from the `sinks:` section
	_ "firestige.xyz/trapd/internal/sink/console"
	_ "firestige.xyz/trapd/internal/sink/file"
	_ "firestige.xyz/trapd/internal/sink/kafka"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "trapd",
	Short: "trapd - SNMP trap receiver",
	Long: `trapd listens for SNMP notifications (v1, v2c and unencrypted v3) on UDP,
classifies them against the well-known trap identifiers and writes the result
to the configured sinks (console, JSON file, Kafka).

Features:
  - Self-contained BER decoder, no MIB files needed
  - Community allow list and SNMPv3 engine ID gate
  - Prometheus metrics
  - Offline replay of pcap / pcapng captures`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and TRAPD_* env vars when empty)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
