// Package sink defines where classified traps go and builds sinks from
// configuration.
package sink

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/log"
)

// Sink consumes classified traps. Emit and EmitError are called from the
// receive loop one datagram at a time.
type Sink interface {
	Name() string
	Emit(ctx context.Context, ev core.Event) error
	EmitError(ctx context.Context, src netip.AddrPort, err error) error
	Close() error
}

// Env carries process-wide settings into sink factories.
type Env struct {
	Verbose bool
	Kafka   config.GlobalKafkaConfig
	Logger  log.Logger
	Stdout  io.Writer
	Stderr  io.Writer
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = log.GetLogger()
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	return e
}

// Factory builds a sink from its `options` map.
type Factory func(options map[string]any, env Env) (Sink, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a sink type available to Build. It is meant to be called
// from init and panics on a duplicate name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("sink: %q registered twice", name))
	}
	registry[name] = f
}

// Types lists the registered sink types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates one sink per entry. More than one entry yields a Multi.
// Sinks built before a failure are closed.
func Build(cfgs []config.SinkConfig, env Env) (Sink, error) {
	env = env.withDefaults()

	sinks := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		mu.RLock()
		f, ok := registry[c.Type]
		mu.RUnlock()
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("sinks[%d] %q: %w", i, c.Type, core.ErrSinkNotFound)
		}
		s, err := f(c.Options, env)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("sinks[%d] %q: %w", i, c.Type, err)
		}
		sinks = append(sinks, instrumented{s})
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return NewMulti(sinks...), nil
}

// DecodeOptions decodes a sink's options map into out. Unknown keys are
// rejected; durations may be given as strings such as "200ms".
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
