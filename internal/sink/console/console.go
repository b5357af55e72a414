// Package console writes traps to stdout in the classic snmptrapd line
// format, or as JSON lines.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/log"
	"firestige.xyz/trapd/internal/sink"
)

const Name = "console"

// TimeLayout is the timestamp prefix of every text line.
const TimeLayout = "2006-01-02 15:04:05"

// Config represents console sink options.
type Config struct {
	Format  string `mapstructure:"format"`  // "text" or "json", default "text"
	Verbose *bool  `mapstructure:"verbose"` // overrides receiver.verbose when set
}

// Sink prints one line per trap (text, non-verbose v1), one line per
// varbind (text, non-verbose v2c/v3), a full JSON dump (verbose) or one
// JSON object per trap (json).
type Sink struct {
	format  string
	verbose bool
	out     io.Writer
	errOut  io.Writer
	logger  log.Logger

	mu            sync.Mutex
	reportedCount atomic.Uint64
}

func init() {
	sink.Register(Name, func(options map[string]any, env sink.Env) (sink.Sink, error) {
		cfg := Config{Format: "text"}
		if err := sink.DecodeOptions(options, &cfg); err != nil {
			return nil, err
		}
		if cfg.Format != "text" && cfg.Format != "json" {
			return nil, fmt.Errorf("invalid format %q, must be json or text: %w", cfg.Format, core.ErrConfigInvalid)
		}
		verbose := env.Verbose
		if cfg.Verbose != nil {
			verbose = *cfg.Verbose
		}
		return New(env.Stdout, env.Stderr, cfg.Format, verbose, env.Logger), nil
	})
}

// New creates a console sink writing events to out and errors to errOut.
func New(out, errOut io.Writer, format string, verbose bool, logger log.Logger) *Sink {
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Sink{
		format:  format,
		verbose: verbose,
		out:     out,
		errOut:  errOut,
		logger:  logger,
	}
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Emit(ctx context.Context, ev core.Event) error {
	if ev.Trap == nil {
		return fmt.Errorf("nil trap")
	}
	s.reportedCount.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == "json" {
		return s.emitJSON(ev)
	}
	return s.emitText(ev)
}

func (s *Sink) emitText(ev core.Event) error {
	t := ev.Trap
	now := stamp(t.ReceivedAt)

	if s.verbose {
		body, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		_, err = fmt.Fprintf(s.out, "%s: %s received:\n%s\n", now, t.PDUType, body)
		return err
	}

	addr := sourceAddr(t.Source)
	if t.IsV1Trap() {
		_, err := fmt.Fprintf(s.out, "%s: %s: %s : %s\n", now, ev.Name, addr, t.Enterprise)
		return err
	}
	for _, vb := range t.Varbinds {
		if _, err := fmt.Fprintf(s.out, "%s: %s: %s : %s -> %s\n", now, ev.Name, addr, vb.OID, vb.Value); err != nil {
			return err
		}
	}
	return nil
}

type jsonEvent struct {
	Time   string     `json:"time"`
	Name   string     `json:"name"`
	Source string     `json:"source"`
	Trap   *core.Trap `json:"trap"`
}

func (s *Sink) emitJSON(ev core.Event) error {
	data, err := json.Marshal(jsonEvent{
		Time:   ev.Trap.ReceivedAt.Format(time.RFC3339Nano),
		Name:   ev.Name,
		Source: ev.Trap.Source.String(),
		Trap:   ev.Trap,
	})
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}
	_, err = fmt.Fprintln(s.out, string(data))
	return err
}

func (s *Sink) EmitError(ctx context.Context, src netip.AddrPort, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.format == "json" {
		data, err := json.Marshal(map[string]string{
			"time":   time.Now().Format(time.RFC3339Nano),
			"source": src.String(),
			"error":  cause.Error(),
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.errOut, string(data))
		return err
	}
	_, err := fmt.Fprintf(s.errOut, "%s: %s : %s\n", stamp(time.Now()), sourceAddr(src), cause)
	return err
}

func (s *Sink) Close() error {
	s.logger.WithField("total_reported", s.reportedCount.Load()).Debug("console sink closed")
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Local().Format(TimeLayout)
}

func sourceAddr(ap netip.AddrPort) string {
	if !ap.IsValid() {
		return "-"
	}
	return ap.Addr().Unmap().String()
}
