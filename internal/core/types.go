// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/hex"
	"net/netip"
	"time"
)

// Version is the SNMP message version as carried on the wire.
type Version int

const (
	V1  Version = 0
	V2c Version = 1
	V3  Version = 3
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2c:
		return "v2c"
	case V3:
		return "v3"
	default:
		return "unknown"
	}
}

// MarshalText renders the version as "v1" / "v2c" / "v3".
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// PDUType is the context-class tag of the PDU inside an SNMP message.
type PDUType byte

const (
	PDUTrap          PDUType = 0xa4 // SNMPv1 Trap-PDU
	PDUInformRequest PDUType = 0xa6
	PDUTrapV2        PDUType = 0xa7 // SNMPv2-Trap-PDU
)

func (p PDUType) String() string {
	switch p {
	case PDUTrap:
		return "Trap"
	case PDUInformRequest:
		return "InformRequest"
	case PDUTrapV2:
		return "TrapV2"
	default:
		return "Unknown"
	}
}

// MarshalText renders the PDU type by name.
func (p PDUType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// HexBytes is a byte string rendered as lowercase hex in JSON and logs.
type HexBytes []byte

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// MarshalText renders the bytes as hex.
func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

// Varbind is one (OID, value) pair of a trap.
type Varbind struct {
	OID   string `json:"oid"`
	Value Value  `json:"value"`
}

// V3Header carries the SNMPv3 message header and USM security parameters.
// Authentication parameters are never verified.
type V3Header struct {
	MsgID           int64    `json:"msg_id"`
	MaxSize         int64    `json:"max_size"`
	Flags           byte     `json:"flags"`
	SecurityModel   int64    `json:"security_model"`
	EngineID        HexBytes `json:"engine_id,omitempty"`
	EngineBoots     int64    `json:"engine_boots"`
	EngineTime      int64    `json:"engine_time"`
	UserName        string   `json:"user_name,omitempty"`
	ContextEngineID HexBytes `json:"context_engine_id,omitempty"`
	ContextName     string   `json:"context_name,omitempty"`
}

// V3 message flag bits.
const (
	V3FlagAuth       byte = 0x01
	V3FlagPriv       byte = 0x02
	V3FlagReportable byte = 0x04
)

// Trap is one fully decoded SNMP notification. It is created per datagram
// and never modified once handed to a sink.
type Trap struct {
	Version    Version        `json:"version"`
	Source     netip.AddrPort `json:"source"`
	ReceivedAt time.Time      `json:"received_at"`
	Community  string         `json:"community,omitempty"`
	PDUType    PDUType        `json:"pdu_type"`

	// SNMPv1 Trap-PDU fields, set only when PDUType == PDUTrap.
	Enterprise   string     `json:"enterprise,omitempty"`
	AgentAddress netip.Addr `json:"agent_address,omitzero"`
	GenericTrap  int        `json:"generic_trap"`
	SpecificTrap int        `json:"specific_trap"`
	Timestamp    uint32     `json:"timestamp"`

	// SNMPv2-Trap-PDU / InformRequest fields.
	RequestID   int64 `json:"request_id"`
	ErrorStatus int64 `json:"error_status"`
	ErrorIndex  int64 `json:"error_index"`

	V3 *V3Header `json:"v3,omitempty"`

	Varbinds []Varbind `json:"varbinds"`
}

// IsV1Trap reports whether the trap carries an SNMPv1 Trap-PDU.
func (t *Trap) IsV1Trap() bool {
	return t.PDUType == PDUTrap
}
