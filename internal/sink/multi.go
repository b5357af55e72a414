package sink

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"firestige.xyz/trapd/internal/core"
)

// Multi fans every call out to all of its sinks. A failing sink does not
// stop the others; the errors are joined.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Emit(ctx context.Context, ev core.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) EmitError(ctx context.Context, src netip.AddrPort, cause error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.EmitError(ctx, src, cause); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
