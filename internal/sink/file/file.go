// Package file appends traps as JSON lines to a rotating file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"time"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/log"
	"firestige.xyz/trapd/internal/sink"
)

const Name = "file"

// Config represents file sink options.
type Config struct {
	Path       string `mapstructure:"path"` // required
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// record is one line of the file.
type record struct {
	Time   time.Time   `json:"time"`
	Kind   string      `json:"kind"` // "trap" or "error"
	Name   string      `json:"name,omitempty"`
	Source string      `json:"source"`
	Labels core.Labels `json:"labels,omitempty"`
	Trap   *core.Trap  `json:"trap,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type Sink struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

func init() {
	sink.Register(Name, func(options map[string]any, env sink.Env) (sink.Sink, error) {
		cfg := Config{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30}
		if err := sink.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		w, err := log.NewRotatingFile(cfg.Path, config.RotationConfig{
			MaxSizeMB:  cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
		}
		env.Logger.WithField("path", cfg.Path).Info("file sink opened")
		return New(w), nil
	})
}

// New writes JSON lines to w and closes it on Close.
func New(w io.WriteCloser) *Sink {
	return &Sink{w: w, enc: json.NewEncoder(w)}
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Emit(ctx context.Context, ev core.Event) error {
	if ev.Trap == nil {
		return fmt.Errorf("nil trap")
	}
	return s.write(record{
		Time:   ev.Trap.ReceivedAt,
		Kind:   "trap",
		Name:   ev.Name,
		Source: ev.Trap.Source.String(),
		Labels: core.EventLabels(ev),
		Trap:   ev.Trap,
	})
}

func (s *Sink) EmitError(ctx context.Context, src netip.AddrPort, cause error) error {
	return s.write(record{
		Time:   time.Now(),
		Kind:   "error",
		Source: src.String(),
		Error:  cause.Error(),
	})
}

func (s *Sink) write(r record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return core.ErrSinkClosed
	}
	return s.enc.Encode(r)
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
