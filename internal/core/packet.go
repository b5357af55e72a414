// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// Datagram is one UDP payload as read from the trap socket or a capture file.
type Datagram struct {
	Payload     []byte         // Raw UDP payload, only valid for the duration of one Handle call
	Source      netip.AddrPort // Sender address
	Destination netip.Addr     // Local address the datagram was sent to, zero if unknown
	ReceivedAt  time.Time
}

// Event is the classified trap handed to output sinks.
type Event struct {
	Trap *Trap  `json:"trap"`
	Name string `json:"name"`
}
