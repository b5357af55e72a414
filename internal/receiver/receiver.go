// Package receiver owns the trap socket and runs the decode, authorize,
// classify and emit cycle for every datagram.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/core/classifier"
	"firestige.xyz/trapd/internal/core/decoder"
	"firestige.xyz/trapd/internal/log"
	"firestige.xyz/trapd/internal/metrics"
	"firestige.xyz/trapd/internal/sink"
)

// BindError reports a failure to bind the trap socket.
type BindError struct {
	Network string
	Addr    string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s %s: %v", e.Network, e.Addr, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{core.ErrBind, e.Err}
}

// Stats holds counters of one receiver instance. Emitted counts traps the
// sink accepted; EmitFailures counts traps the sink returned an error for.
type Stats struct {
	Received     uint64
	Emitted      uint64
	EmitFailures uint64
	DecodeErrors uint64
	Suppressed   uint64
}

type Option func(*Receiver)

// WithLogger overrides the process-wide logger.
func WithLogger(l log.Logger) Option {
	return func(r *Receiver) { r.logger = l }
}

// WithClock overrides the receive timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

type Receiver struct {
	cfg        config.ReceiverConfig
	sink       sink.Sink
	auth       *Authorizer
	classifier classifier.Classifier
	logger     log.Logger
	now        func() time.Time
	informs    *cache.Cache // nil unless inform_dedup_window is set

	conn *net.UDPConn
	p4   *ipv4.PacketConn
	p6   *ipv6.PacketConn

	received     atomic.Uint64
	emitted      atomic.Uint64
	emitFailures atomic.Uint64
	decodeErrors atomic.Uint64
	suppressed   atomic.Uint64
}

func New(cfg config.ReceiverConfig, s sink.Sink, opts ...Option) (*Receiver, error) {
	auth, err := NewAuthorizer(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Transport == "" {
		cfg.Transport = "udp4"
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = 65535
	}
	r := &Receiver{
		cfg:        cfg,
		sink:       s,
		auth:       auth,
		classifier: classifier.Classifier{ResolveTrapOID: cfg.ResolveTrapOID},
		logger:     log.GetLogger(),
		now:        time.Now,
	}
	if cfg.InformDedupWindow > 0 {
		r.informs = cache.New(cfg.InformDedupWindow, 2*cfg.InformDedupWindow)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Listen binds the trap socket. Failures are returned as *BindError.
func (r *Receiver) Listen() error {
	addr := r.cfg.Addr()
	pc, err := net.ListenPacket(r.cfg.Transport, addr)
	if err != nil {
		return &BindError{Network: r.cfg.Transport, Addr: addr, Err: err}
	}
	r.conn = pc.(*net.UDPConn)

	// Destination capture is best effort, the loop falls back to plain reads.
	switch r.cfg.Transport {
	case "udp4":
		p := ipv4.NewPacketConn(r.conn)
		if err := p.SetControlMessage(ipv4.FlagDst, true); err != nil {
			r.logger.WithError(err).Debug("local destination address unavailable")
		} else {
			r.p4 = p
		}
	case "udp6":
		p := ipv6.NewPacketConn(r.conn)
		if err := p.SetControlMessage(ipv6.FlagDst, true); err != nil {
			r.logger.WithError(err).Debug("local destination address unavailable")
		} else {
			r.p6 = p
		}
	}

	metrics.ReceiverUp.Set(1)
	r.logger.WithFields(map[string]interface{}{
		"addr":      r.conn.LocalAddr().String(),
		"transport": r.cfg.Transport,
	}).Info("trap receiver listening")
	return nil
}

// LocalAddr returns the bound address, nil before Listen.
func (r *Receiver) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled or the receiver is closed.
// Each datagram is fully handled before the next read. Serve returns nil
// on cancellation.
func (r *Receiver) Serve(ctx context.Context) error {
	if r.conn == nil {
		return fmt.Errorf("serve before listen: %w", core.ErrReceiverStopped)
	}
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()
	defer metrics.ReceiverUp.Set(0)

	buf := make([]byte, r.cfg.ReadBuffer)
	retry := newReadBackoff()
	failing := false
	for {
		n, src, dst, err := r.read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.logger.Info("trap receiver stopped")
				return nil
			}
			failing = true
			delay := retry.NextBackOff()
			r.logger.WithError(err).WithField("retry_in", delay.String()).Warn("read datagram failed")
			if !sleepCtx(ctx, delay) {
				r.logger.Info("trap receiver stopped")
				return nil
			}
			continue
		}
		if failing {
			retry.Reset()
			failing = false
		}
		r.Handle(ctx, core.Datagram{
			Payload:     buf[:n],
			Source:      src,
			Destination: dst,
			ReceivedAt:  r.now(),
		})
	}
}

const (
	readRetryInitial = 5 * time.Millisecond
	readRetryMax     = time.Second
)

// newReadBackoff paces retries after failed socket reads. It never gives up.
func newReadBackoff() *backoff.ExponentialBackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(readRetryInitial),
		backoff.WithMaxInterval(readRetryMax),
		backoff.WithMaxElapsedTime(0),
	)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Receiver) read(buf []byte) (int, netip.AddrPort, netip.Addr, error) {
	switch {
	case r.p4 != nil:
		n, cm, src, err := r.p4.ReadFrom(buf)
		if err != nil {
			return 0, netip.AddrPort{}, netip.Addr{}, err
		}
		var dst netip.Addr
		if cm != nil {
			dst = ipAddr(cm.Dst)
		}
		return n, addrPort(src), dst, nil
	case r.p6 != nil:
		n, cm, src, err := r.p6.ReadFrom(buf)
		if err != nil {
			return 0, netip.AddrPort{}, netip.Addr{}, err
		}
		var dst netip.Addr
		if cm != nil {
			dst = ipAddr(cm.Dst)
		}
		return n, addrPort(src), dst, nil
	default:
		n, src, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return 0, netip.AddrPort{}, netip.Addr{}, err
		}
		return n, netip.AddrPortFrom(src.Addr().Unmap(), src.Port()), netip.Addr{}, nil
	}
}

func addrPort(a net.Addr) netip.AddrPort {
	u, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap := u.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func ipAddr(ip net.IP) netip.Addr {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}

// Handle runs one decode, authorize, classify and emit cycle. Decode
// failures go to the sink's EmitError, unauthorized traps are dropped
// without reaching the sink. Sink errors are logged.
func (r *Receiver) Handle(ctx context.Context, d core.Datagram) {
	start := time.Now()
	defer func() {
		metrics.HandleLatencySeconds.Observe(time.Since(start).Seconds())
	}()
	metrics.DatagramsReceivedTotal.Inc()
	r.received.Add(1)

	trap, err := decoder.Decode(d.Payload)
	if err != nil {
		r.decodeErrors.Add(1)
		kind, _ := decoder.KindOf(err)
		metrics.DecodeErrorsTotal.WithLabelValues(kind.String()).Inc()
		r.logger.WithError(err).WithField("source", d.Source.String()).Debug("datagram rejected")
		if err := r.sink.EmitError(ctx, d.Source, err); err != nil {
			r.logger.WithError(err).Warn("sink failed to report decode error")
		}
		return
	}
	trap.Source = d.Source
	trap.ReceivedAt = d.ReceivedAt

	if reason, ok := r.auth.Authorize(trap); !ok {
		r.suppressed.Add(1)
		metrics.TrapsSuppressedTotal.WithLabelValues(reason).Inc()
		if r.logger.IsDebugEnabled() {
			r.logger.WithFields(map[string]interface{}{
				"source":  d.Source.String(),
				"version": trap.Version.String(),
				"reason":  reason,
			}).Debug("unauthorized trap dropped")
		}
		return
	}

	if r.retransmitted(trap) {
		r.suppressed.Add(1)
		metrics.TrapsSuppressedTotal.WithLabelValues(ReasonDuplicateInform).Inc()
		r.logger.WithField("source", d.Source.String()).WithField("request_id", trap.RequestID).
			Debug("retransmitted inform dropped")
		return
	}

	if !r.cfg.IncludeAuthentication {
		redact(trap)
	}

	name := r.classifier.Classify(trap)
	if err := r.sink.Emit(ctx, core.Event{Trap: trap, Name: name}); err != nil {
		r.emitFailures.Add(1)
		r.logger.WithError(err).WithField("trap", name).Warn("sink failed to emit trap")
		return
	}
	r.emitted.Add(1)
	metrics.TrapsTotal.WithLabelValues(name, trap.Version.String()).Inc()
}

// retransmitted reports whether t repeats an InformRequest seen within the
// dedup window. Agents resend informs until acknowledged, and trapd never
// acknowledges.
func (r *Receiver) retransmitted(t *core.Trap) bool {
	if r.informs == nil || t.PDUType != core.PDUInformRequest {
		return false
	}
	key := t.Source.Addr().String() + "/" + strconv.FormatInt(t.RequestID, 10)
	if _, found := r.informs.Get(key); found {
		return true
	}
	r.informs.SetDefault(key, struct{}{})
	return false
}

// redact strips the community and the v3 user name.
func redact(t *core.Trap) {
	t.Community = ""
	if t.V3 != nil {
		t.V3.UserName = ""
	}
}

// UpdateAuthorization swaps the authorization policy without interrupting
// the receive loop.
func (r *Receiver) UpdateAuthorization(cfg config.ReceiverConfig) error {
	return r.auth.Update(cfg)
}

func (r *Receiver) Stats() Stats {
	return Stats{
		Received:     r.received.Load(),
		Emitted:      r.emitted.Load(),
		EmitFailures: r.emitFailures.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		Suppressed:   r.suppressed.Load(),
	}
}

// Close closes the socket, which makes Serve return.
func (r *Receiver) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
