// Package config handles global configuration loading using viper.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/trapd/internal/core"
)

// RootKey is the top-level YAML key. Env vars use the TRAPD_ prefix
// (e.g. TRAPD_RECEIVER_LISTEN_PORT).
const RootKey = "trapd"

// GlobalConfig represents the top-level configuration.
// Maps to the `trapd:` root key in YAML.
type GlobalConfig struct {
	Receiver ReceiverConfig    `mapstructure:"receiver" yaml:"receiver"`
	Kafka    GlobalKafkaConfig `mapstructure:"kafka" yaml:"kafka"`
	Sinks    []SinkConfig      `mapstructure:"sinks" yaml:"sinks"`
	Metrics  MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Log      LogConfig         `mapstructure:"log" yaml:"log"`
	PIDFile  string            `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Receiver ───

// ReceiverConfig configures the UDP trap listener and the authorization gate.
type ReceiverConfig struct {
	ListenPort            int      `mapstructure:"listen_port" yaml:"listen_port"`
	BindAddress           string   `mapstructure:"bind_address" yaml:"bind_address"` // Empty = all interfaces
	Transport             string   `mapstructure:"transport" yaml:"transport"`       // udp4 | udp6
	Verbose               bool     `mapstructure:"verbose" yaml:"verbose"`
	DisableAuthorization  bool     `mapstructure:"disable_authorization" yaml:"disable_authorization"`
	CommunityAllowList    []string `mapstructure:"community_allow_list" yaml:"community_allow_list"` // Empty = admit every community
	EngineID              string   `mapstructure:"engine_id" yaml:"engine_id"`                       // Hex, v3 only
	IncludeAuthentication bool     `mapstructure:"include_authentication" yaml:"include_authentication"`
	ResolveTrapOID        bool     `mapstructure:"resolve_trap_oid" yaml:"resolve_trap_oid"`
	ReadBuffer            int      `mapstructure:"read_buffer" yaml:"read_buffer"`

	// InformDedupWindow drops InformRequests repeating a (source, request-id)
	// pair seen within the window. Zero disables it.
	InformDedupWindow time.Duration `mapstructure:"inform_dedup_window" yaml:"inform_dedup_window"`
}

// Addr returns the host:port the receiver binds.
func (c ReceiverConfig) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.ListenPort))
}

// EngineIDBytes decodes EngineID. An empty EngineID yields nil.
func (c ReceiverConfig) EngineIDBytes() ([]byte, error) {
	id := strings.TrimPrefix(strings.TrimPrefix(c.EngineID, "0x"), "0X")
	if id == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("receiver.engine_id %q: %w", c.EngineID, core.ErrConfigInvalid)
	}
	return b, nil
}

// ─── Kafka Global Default ───

// GlobalKafkaConfig provides shared Kafka connection defaults.
// Kafka sinks inherit brokers, SASL and TLS from here when their own are empty.
type GlobalKafkaConfig struct {
	Brokers []string   `mapstructure:"brokers" yaml:"brokers"`
	SASL    SASLConfig `mapstructure:"sasl" yaml:"sasl"`
	TLS     TLSConfig  `mapstructure:"tls" yaml:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Mechanism string `mapstructure:"mechanism" yaml:"mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled" yaml:"enabled"`
	CACert             string `mapstructure:"ca_cert" yaml:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert" yaml:"client_cert"`
	ClientKey          string `mapstructure:"client_key" yaml:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// ─── Sinks ───

// SinkConfig selects one output sink. Options are decoded by the sink's
// factory into its own typed config.
type SinkConfig struct {
	Type    string         `mapstructure:"type" yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`     // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"`   // json / text
	Pattern string           `mapstructure:"pattern" yaml:"pattern"` // text only
	File    FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `trapd: ...`.
type configRoot struct {
	Trapd GlobalConfig `mapstructure:"trapd" yaml:"trapd"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `trapd.` key prefix maps to `TRAPD_` in env vars via the key
	// replacer (e.g., key "trapd.log.level" → env "TRAPD_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Trapd

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "trapd." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Receiver defaults
	v.SetDefault("trapd.receiver.listen_port", 162)
	v.SetDefault("trapd.receiver.bind_address", "")
	v.SetDefault("trapd.receiver.transport", "udp4")
	v.SetDefault("trapd.receiver.verbose", false)
	v.SetDefault("trapd.receiver.disable_authorization", false)
	v.SetDefault("trapd.receiver.community_allow_list", []string{"public"})
	v.SetDefault("trapd.receiver.engine_id", "")
	v.SetDefault("trapd.receiver.include_authentication", false)
	v.SetDefault("trapd.receiver.resolve_trap_oid", false)
	v.SetDefault("trapd.receiver.read_buffer", 65535)
	v.SetDefault("trapd.receiver.inform_dedup_window", "0s")

	// Log defaults
	v.SetDefault("trapd.log.level", "info")
	v.SetDefault("trapd.log.format", "text")
	v.SetDefault("trapd.log.pattern", "")
	v.SetDefault("trapd.log.file.enabled", false)
	v.SetDefault("trapd.log.file.path", "/var/log/trapd/trapd.log")
	v.SetDefault("trapd.log.file.rotation.max_size_mb", 100)
	v.SetDefault("trapd.log.file.rotation.max_age_days", 30)
	v.SetDefault("trapd.log.file.rotation.max_backups", 5)
	v.SetDefault("trapd.log.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("trapd.metrics.enabled", false)
	v.SetDefault("trapd.metrics.listen", ":9163")
	v.SetDefault("trapd.metrics.path", "/metrics")

	v.SetDefault("trapd.pid_file", "")
}

var validTransports = map[string]bool{"udp4": true, "udp6": true}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Every returned error wraps core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error): %w", cfg.Log.Level, core.ErrConfigInvalid)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text): %w", cfg.Log.Format, core.ErrConfigInvalid)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when log.file.enabled=true: %w", core.ErrConfigInvalid)
	}

	// ── Receiver validation ──
	r := &cfg.Receiver
	if r.ListenPort < 0 || r.ListenPort > 65535 {
		return fmt.Errorf("invalid receiver.listen_port: %d: %w", r.ListenPort, core.ErrConfigInvalid)
	}
	if r.Transport == "" {
		r.Transport = "udp4"
	}
	if !validTransports[r.Transport] {
		return fmt.Errorf("invalid receiver.transport: %s (must be udp4/udp6): %w", r.Transport, core.ErrConfigInvalid)
	}
	if r.BindAddress != "" && net.ParseIP(r.BindAddress) == nil {
		return fmt.Errorf("invalid receiver.bind_address: %s: %w", r.BindAddress, core.ErrConfigInvalid)
	}
	if _, err := r.EngineIDBytes(); err != nil {
		return err
	}
	if r.ReadBuffer <= 0 {
		r.ReadBuffer = 65535
	}
	if r.InformDedupWindow < 0 {
		return fmt.Errorf("invalid receiver.inform_dedup_window: %s: %w", r.InformDedupWindow, core.ErrConfigInvalid)
	}

	// ── Sinks ──
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SinkConfig{{Type: "console"}}
	}
	for i, s := range cfg.Sinks {
		if s.Type == "" {
			return fmt.Errorf("sinks[%d].type is required: %w", i, core.ErrConfigInvalid)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen is required when metrics.enabled=true: %w", core.ErrConfigInvalid)
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("invalid metrics.path: %q: %w", cfg.Metrics.Path, core.ErrConfigInvalid)
		}
	}

	return nil
}

// YAML renders the configuration under the `trapd:` root key.
func (cfg *GlobalConfig) YAML() ([]byte, error) {
	return yaml.Marshal(configRoot{Trapd: *cfg})
}
