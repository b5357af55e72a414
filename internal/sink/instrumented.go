package sink

import (
	"context"
	"net/netip"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/metrics"
)

// instrumented counts failed writes per sink type.
type instrumented struct {
	Sink
}

func (s instrumented) Emit(ctx context.Context, ev core.Event) error {
	err := s.Sink.Emit(ctx, ev)
	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
	}
	return err
}

func (s instrumented) EmitError(ctx context.Context, src netip.AddrPort, cause error) error {
	err := s.Sink.EmitError(ctx, src, cause)
	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
	}
	return err
}
