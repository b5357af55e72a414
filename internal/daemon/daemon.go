// Package daemon implements the trapd process lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/log"
	"firestige.xyz/trapd/internal/metrics"
	"firestige.xyz/trapd/internal/receiver"
	"firestige.xyz/trapd/internal/sink"
)

// Daemon manages the receiver, the sinks and the metrics server.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	override   func(*config.GlobalConfig)
	sinkEnv    sink.Env

	// Core components
	receiver      *receiver.Receiver
	sink          sink.Sink
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	served       chan struct{} // closed when the receive loop returns
	serveErr     error
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

type Option func(*Daemon)

// WithOverride applies command-line overrides after every config load,
// including reloads.
func WithOverride(fn func(*config.GlobalConfig)) Option {
	return func(d *Daemon) { d.override = fn }
}

// WithSinkEnv sets the environment passed to sink factories. Verbose,
// Kafka and Logger are filled from the configuration.
func WithSinkEnv(env sink.Env) Option {
	return func(d *Daemon) { d.sinkEnv = env }
}

// New loads the configuration. An empty configPath runs on defaults and
// TRAPD_* environment variables.
func New(configPath string, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		configPath:   configPath,
		shutdownChan: make(chan struct{}, 1),
		served:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	cfg, err := d.loadConfig()
	if err != nil {
		return nil, err
	}
	d.config = cfg
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

func (d *Daemon) loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if d.override != nil {
		d.override(cfg)
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.GlobalConfig {
	return d.config
}

// Start initializes logging, metrics and sinks, then binds the trap socket
// and starts the receive loop. A bind failure is returned as
// *receiver.BindError.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := log.GetLogger()
	logger.WithFields(map[string]interface{}{
		"config": d.configPath,
		"port":   d.config.Receiver.ListenPort,
	}).Info("starting trapd")

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build sinks
	env := d.sinkEnv
	env.Verbose = d.config.Receiver.Verbose
	env.Kafka = d.config.Kafka
	env.Logger = logger
	s, err := sink.Build(d.config.Sinks, env)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to build sinks: %w", err)
	}
	d.sink = s

	// 5. Bind the trap socket
	r, err := receiver.New(d.config.Receiver, d.sink)
	if err != nil {
		d.cleanup()
		return err
	}
	if err := r.Listen(); err != nil {
		d.cleanup()
		return err
	}
	d.receiver = r

	go func() {
		defer close(d.served)
		d.serveErr = r.Serve(d.ctx)
	}()

	logger.Info("daemon started successfully")
	return nil
}

// Run blocks until SIGINT/SIGTERM, TriggerShutdown or the receive loop
// ending on its own. SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger := log.GetLogger()
	logger.Info("daemon running, waiting for traps")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				log.GetLogger().WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				log.GetLogger().Info("received reload signal")
				if err := d.Reload(); err != nil {
					log.GetLogger().WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			log.GetLogger().Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.served:
			d.Stop()
			if d.serveErr != nil {
				return fmt.Errorf("receiver stopped: %w", d.serveErr)
			}
			return nil
		}
	}
}

// Stop closes the socket, waits for the in-flight datagram, then stops
// metrics, closes sinks and removes the PID file. It is safe to call more
// than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		logger := log.GetLogger()
		logger.Info("initiating graceful shutdown")

		d.cancel()
		if d.receiver != nil {
			select {
			case <-d.served:
			case <-time.After(5 * time.Second):
				logger.Warn("receive loop did not stop in time")
			}
			st := d.receiver.Stats()
			logger.WithFields(map[string]interface{}{
				"received":      st.Received,
				"emitted":       st.Emitted,
				"emit_failures": st.EmitFailures,
				"decode_errors": st.DecodeErrors,
				"suppressed":    st.Suppressed,
			}).Info("trap receiver stopped")
		}

		if d.sigChan != nil {
			signal.Stop(d.sigChan)
		}
		d.cleanup()

		logger.Info("daemon stopped gracefully")
		_ = log.Close()
	})
}

// cleanup releases whatever Start has acquired so far.
func (d *Daemon) cleanup() {
	logger := log.GetLogger()
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			logger.WithError(err).Error("error closing sinks")
		}
		d.sink = nil
	}
	if d.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(ctx); err != nil {
			logger.WithError(err).Error("error stopping metrics server")
		}
		d.metricsServer = nil
	}
	if err := d.removePIDFile(); err != nil {
		logger.WithError(err).Error("error removing PID file")
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log settings, community allow list, engine ID,
// disable_authorization.
// Cold (requires restart, see restartRequired): listen address, transport,
// output options, sinks, metrics.
func (d *Daemon) Reload() error {
	logger := log.GetLogger()
	logger.WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := d.loadConfig()
	if err != nil {
		return err
	}

	hotReloaded := []string{}
	if err := log.Init(newConfig.Log); err != nil {
		logger.WithError(err).Error("failed to reinitialize logging")
	} else {
		d.config.Log = newConfig.Log
		hotReloaded = append(hotReloaded, "log")
	}

	if d.receiver != nil {
		if err := d.receiver.UpdateAuthorization(newConfig.Receiver); err != nil {
			return fmt.Errorf("failed to update authorization: %w", err)
		}
		r := &d.config.Receiver
		r.CommunityAllowList = newConfig.Receiver.CommunityAllowList
		r.EngineID = newConfig.Receiver.EngineID
		r.DisableAuthorization = newConfig.Receiver.DisableAuthorization
		hotReloaded = append(hotReloaded, "authorization")
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": restartRequired(d.config, newConfig),
	}).Info("configuration reloaded")
	return nil
}

// restartRequired lists the settings that differ between the running and
// the reloaded config but only take effect on restart.
func restartRequired(running, reloaded *config.GlobalConfig) []string {
	var keys []string
	add := func(changed bool, key string) {
		if changed {
			keys = append(keys, key)
		}
	}
	o, n := running.Receiver, reloaded.Receiver
	add(n.Addr() != o.Addr() || n.Transport != o.Transport, "receiver.listen")
	add(n.Verbose != o.Verbose, "receiver.verbose")
	add(n.IncludeAuthentication != o.IncludeAuthentication, "receiver.include_authentication")
	add(n.ResolveTrapOID != o.ResolveTrapOID, "receiver.resolve_trap_oid")
	add(n.ReadBuffer != o.ReadBuffer, "receiver.read_buffer")
	add(n.InformDedupWindow != o.InformDedupWindow, "receiver.inform_dedup_window")
	add(!reflect.DeepEqual(reloaded.Sinks, running.Sinks), "sinks")
	add(reloaded.Metrics != running.Metrics, "metrics")
	return keys
}

// TriggerShutdown makes Run stop the daemon and return.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		log.GetLogger().Debug("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		d.metricsServer = nil
		return err
	}
	return nil
}
