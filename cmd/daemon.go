package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the trap receiver in foreground",
	Long: `Run the trap receiver in foreground.

The daemon will:
  1. Load configuration from the config file, then apply command-line flags
  2. Initialize logging, metrics and sinks
  3. Bind the trap port (exit 1 when it cannot)
  4. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

Examples:
  trapd daemon                          # listen on udp4 port 162, community "public"
  trapd daemon -p 1162 -n               # unprivileged port, accept every community
  trapd daemon -t udp6 -e 0x80001f8880  # IPv6, only traps from this engine`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(cmd.Flags()); err != nil {
			exitWithError("daemon failed", err)
		}
	},
}

type daemonFlags struct {
	port                  int
	transport             string
	bindAddress           string
	verbose               bool
	disableAuthorization  bool
	engineID              string
	includeAuthentication bool
	pidFile               string
}

var daemonOpts daemonFlags

func init() {
	f := daemonCmd.Flags()
	f.IntVarP(&daemonOpts.port, "port", "p", 162, "UDP port to listen on")
	f.StringVarP(&daemonOpts.transport, "transport", "t", "udp4", "transport: udp4 or udp6")
	f.StringVarP(&daemonOpts.bindAddress, "bind", "b", "", "local address to bind (all interfaces when empty)")
	f.BoolVarP(&daemonOpts.verbose, "verbose", "v", false, "print full trap details")
	f.BoolVarP(&daemonOpts.disableAuthorization, "disable-authorization", "n", false,
		"accept traps from every community and engine")
	f.StringVarP(&daemonOpts.engineID, "engine-id", "e", "", "SNMPv3 authoritative engine ID (hex)")
	f.BoolVarP(&daemonOpts.includeAuthentication, "include-authentication", "a", false,
		"keep community and v3 user name in the output")
	f.StringVar(&daemonOpts.pidFile, "pidfile", "", "PID file path")
}

// overrides returns a function applying the flags the user actually set.
func (o daemonFlags) overrides(flags *pflag.FlagSet) func(*config.GlobalConfig) {
	return func(cfg *config.GlobalConfig) {
		r := &cfg.Receiver
		if flags.Changed("port") {
			r.ListenPort = o.port
		}
		if flags.Changed("transport") {
			r.Transport = o.transport
		}
		if flags.Changed("bind") {
			r.BindAddress = o.bindAddress
		}
		if flags.Changed("verbose") {
			r.Verbose = o.verbose
		}
		if flags.Changed("disable-authorization") {
			r.DisableAuthorization = o.disableAuthorization
		}
		if flags.Changed("engine-id") {
			r.EngineID = o.engineID
		}
		if flags.Changed("include-authentication") {
			r.IncludeAuthentication = o.includeAuthentication
		}
		if flags.Changed("pidfile") {
			cfg.PIDFile = o.pidFile
		}
	}
}

func runDaemon(flags *pflag.FlagSet) error {
	d, err := daemon.New(configFile, daemon.WithOverride(daemonOpts.overrides(flags)))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
