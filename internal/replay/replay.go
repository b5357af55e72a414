// Package replay feeds SNMP datagrams from a capture file through the
// receiver pipeline.
package replay

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/log"
)

// pcapng files start with a Section Header Block.
const ngMagic = 0x0a0d0d0a

// Handler consumes one datagram. *receiver.Receiver satisfies it.
type Handler interface {
	Handle(ctx context.Context, d core.Datagram)
}

type Stats struct {
	Packets   uint64 // packets read from the capture
	Datagrams uint64 // UDP payloads handed to the handler
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// File replays a pcap or pcapng capture. Only UDP datagrams sent to port
// are handled; port 0 accepts every UDP datagram.
func File(ctx context.Context, path string, port uint16, h Handler) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open capture %s: %w", path, err)
	}
	defer f.Close()
	return Reader(ctx, f, port, h)
}

// Reader is File over an arbitrary stream.
func Reader(ctx context.Context, r io.Reader, port uint16, h Handler) (Stats, error) {
	pr, err := open(r)
	if err != nil {
		return Stats{}, err
	}

	logger := log.GetLogger().WithField("link_type", pr.LinkType().String())
	logger.Debug("replaying capture")

	var stats Stats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		d, ok := datagram(data, pr.LinkType(), port)
		if !ok {
			continue
		}
		d.ReceivedAt = ci.Timestamp
		stats.Datagrams++
		h.Handle(ctx, d)
	}
}

func open(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if binary.BigEndian.Uint32(magic) == ngMagic {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return pr, nil
}

// datagram extracts the UDP payload and its endpoints from one frame.
func datagram(data []byte, lt layers.LinkType, port uint16) (core.Datagram, bool) {
	pkt := gopacket.NewPacket(data, lt, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return core.Datagram{}, false
	}
	if port != 0 && uint16(udp.DstPort) != port {
		return core.Datagram{}, false
	}

	var src, dst netip.Addr
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		src, _ = netip.AddrFromSlice(ip.SrcIP.To4())
		dst, _ = netip.AddrFromSlice(ip.DstIP.To4())
	case *layers.IPv6:
		src, _ = netip.AddrFromSlice(ip.SrcIP)
		dst, _ = netip.AddrFromSlice(ip.DstIP)
	default:
		return core.Datagram{}, false
	}

	return core.Datagram{
		Payload:     udp.Payload,
		Source:      netip.AddrPortFrom(src, uint16(udp.SrcPort)),
		Destination: dst,
	}, true
}
