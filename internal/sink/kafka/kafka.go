// Package kafka publishes classified traps to a Kafka topic.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/log"
	"firestige.xyz/trapd/internal/sink"
)

const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// Config represents Kafka sink options. Brokers, SASL and TLS fall back to
// the global `kafka:` section when left empty.
type Config struct {
	Brokers      []string          `mapstructure:"brokers"`
	Topic        string            `mapstructure:"topic"`        // required
	ErrorsTopic  string            `mapstructure:"errors_topic"` // decode errors are not published when empty
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout time.Duration     `mapstructure:"batch_timeout"`
	Compression  string            `mapstructure:"compression"` // none|gzip|snappy|lz4|zstd
	MaxAttempts  int               `mapstructure:"max_attempts"`
	Async        bool              `mapstructure:"async"` // default true
	SASL         config.SASLConfig `mapstructure:"sasl"`
	TLS          config.TLSConfig  `mapstructure:"tls"`
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Sink struct {
	writer messageWriter
	config Config
	logger log.Logger

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

func init() {
	sink.Register(Name, func(options map[string]any, env sink.Env) (sink.Sink, error) {
		cfg, err := parseConfig(options, env.Kafka)
		if err != nil {
			return nil, err
		}
		w, err := newWriter(cfg)
		if err != nil {
			return nil, err
		}
		s := newSink(w, cfg, env.Logger)
		w.Completion = s.completion
		env.Logger.WithFields(map[string]interface{}{
			"brokers":     cfg.Brokers,
			"topic":       cfg.Topic,
			"compression": cfg.Compression,
			"async":       cfg.Async,
		}).Info("kafka sink started")
		return s, nil
	})
}

func parseConfig(options map[string]any, global config.GlobalKafkaConfig) (Config, error) {
	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
		Async:        true,
	}
	if err := sink.DecodeOptions(options, &cfg); err != nil {
		return cfg, err
	}

	if len(cfg.Brokers) == 0 {
		cfg.Brokers = global.Brokers
	}
	if !cfg.SASL.Enabled && global.SASL.Enabled {
		cfg.SASL = global.SASL
	}
	if !cfg.TLS.Enabled && global.TLS.Enabled {
		cfg.TLS = global.TLS
	}

	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("brokers is required: %w", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return cfg, fmt.Errorf("topic is required: %w", core.ErrConfigInvalid)
	}
	if _, err := compression(cfg.Compression); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func compression(name string) (kafka.Compression, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type: %s: %w", name, core.ErrConfigInvalid)
	}
}

func newWriter(cfg Config) (*kafka.Writer, error) {
	codec, err := compression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	transport := &kafka.Transport{}
	if cfg.SASL.Enabled {
		if transport.SASL, err = saslMechanism(cfg.SASL); err != nil {
			return nil, err
		}
	}
	if cfg.TLS.Enabled {
		if transport.TLS, err = tlsConfig(cfg.TLS); err != nil {
			return nil, err
		}
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{}, // same source, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		Transport:    transport,
		Async:        cfg.Async,
	}, nil
}

func saslMechanism(c config.SASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(c.Mechanism) {
	case "PLAIN", "":
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.Username, c.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.Username, c.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism %q: %w", c.Mechanism, core.ErrConfigInvalid)
	}
}

func tlsConfig(c config.TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify} //nolint:gosec // operator choice
	if c.CACert != "" {
		pem, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_cert %s: no certificates: %w", c.CACert, core.ErrConfigInvalid)
		}
		tc.RootCAs = pool
	}
	if c.ClientCert != "" || c.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

func newSink(w messageWriter, cfg Config, logger log.Logger) *Sink {
	return &Sink{writer: w, config: cfg, logger: logger}
}

func (s *Sink) Name() string { return Name }

// completion reports the outcome of asynchronous batches.
func (s *Sink) completion(msgs []kafka.Message, err error) {
	if !s.config.Async {
		return
	}
	if err != nil {
		s.errorCount.Add(uint64(len(msgs)))
		s.logger.WithError(err).WithField("messages", len(msgs)).Error("kafka batch write failed")
		return
	}
	s.reportedCount.Add(uint64(len(msgs)))
}

type payload struct {
	Time   int64       `json:"timestamp"` // unix millis
	Name   string      `json:"name,omitempty"`
	Source string      `json:"source"`
	Labels core.Labels `json:"labels,omitempty"`
	Trap   *core.Trap  `json:"trap,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Emit publishes one event keyed by the agent's source address. Labels are
// also sent as message headers.
func (s *Sink) Emit(ctx context.Context, ev core.Event) error {
	if ev.Trap == nil {
		return fmt.Errorf("nil trap")
	}
	labels := core.EventLabels(ev)
	value, err := json.Marshal(payload{
		Time:   ev.Trap.ReceivedAt.UnixMilli(),
		Name:   ev.Name,
		Source: ev.Trap.Source.String(),
		Labels: labels,
		Trap:   ev.Trap,
	})
	if err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("serialize event failed: %w", err)
	}

	msg := kafka.Message{
		Topic:   s.config.Topic,
		Key:     []byte(ev.Trap.Source.Addr().Unmap().String()),
		Value:   value,
		Time:    ev.Trap.ReceivedAt,
		Headers: headers(labels),
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	if !s.config.Async {
		s.reportedCount.Add(1)
	}
	return nil
}

// EmitError publishes decode failures to errors_topic, if configured.
func (s *Sink) EmitError(ctx context.Context, src netip.AddrPort, cause error) error {
	if s.config.ErrorsTopic == "" {
		return nil
	}
	now := time.Now()
	value, err := json.Marshal(payload{Time: now.UnixMilli(), Source: src.String(), Error: cause.Error()})
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.config.ErrorsTopic,
		Key:   []byte(src.Addr().Unmap().String()),
		Value: value,
		Time:  now,
	}); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	err := s.writer.Close()
	s.logger.WithFields(map[string]interface{}{
		"total_reported": s.reportedCount.Load(),
		"total_errors":   s.errorCount.Load(),
	}).Info("kafka sink stopped")
	return err
}

func headers(labels core.Labels) []kafka.Header {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	hs := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		hs = append(hs, kafka.Header{Key: k, Value: []byte(labels[k])})
	}
	return hs
}
