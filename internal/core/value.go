package core

import (
	"encoding/hex"
	"encoding/json"
	"net/netip"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// ValueType is the BER tag of a varbind value.
type ValueType byte

const (
	TypeInteger          ValueType = 0x02
	TypeOctetString      ValueType = 0x04
	TypeNull             ValueType = 0x05
	TypeObjectIdentifier ValueType = 0x06
	TypeIPAddress        ValueType = 0x40
	TypeCounter32        ValueType = 0x41
	TypeGauge32          ValueType = 0x42
	TypeTimeTicks        ValueType = 0x43
	TypeOpaque           ValueType = 0x44
	TypeCounter64        ValueType = 0x46
	TypeNoSuchObject     ValueType = 0x80
	TypeNoSuchInstance   ValueType = 0x81
	TypeEndOfMibView     ValueType = 0x82
)

var valueTypeNames = map[ValueType]string{
	TypeInteger:          "Integer",
	TypeOctetString:      "OctetString",
	TypeNull:             "Null",
	TypeObjectIdentifier: "ObjectIdentifier",
	TypeIPAddress:        "IpAddress",
	TypeCounter32:        "Counter32",
	TypeGauge32:          "Gauge32",
	TypeTimeTicks:        "TimeTicks",
	TypeOpaque:           "Opaque",
	TypeCounter64:        "Counter64",
	TypeNoSuchObject:     "NoSuchObject",
	TypeNoSuchInstance:   "NoSuchInstance",
	TypeEndOfMibView:     "EndOfMibView",
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return "0x" + strconv.FormatUint(uint64(t), 16)
}

// Known reports whether t is one of the supported SNMP value types.
func (t ValueType) Known() bool {
	_, ok := valueTypeNames[t]
	return ok
}

// IsException reports whether t is one of the v2 exception markers.
func (t ValueType) IsException() bool {
	return t == TypeNoSuchObject || t == TypeNoSuchInstance || t == TypeEndOfMibView
}

// Value is a tagged union over the SNMP base types. Exactly one payload
// field is meaningful, selected by Type:
//
//	Integer                       Int
//	Counter32 Gauge32 TimeTicks   Uint (fits in 32 bits)
//	Counter64                     Uint
//	OctetString Opaque            Bytes
//	ObjectIdentifier              OID
//	IpAddress                     IP
//	Null and exception markers    none
type Value struct {
	Type  ValueType
	Int   int64
	Uint  uint64
	Bytes []byte
	OID   string
	IP    netip.Addr
}

func IntegerValue(v int64) Value { return Value{Type: TypeInteger, Int: v} }
func OctetStringValue(b []byte) Value { return Value{Type: TypeOctetString, Bytes: b} }
func OIDValue(oid string) Value { return Value{Type: TypeObjectIdentifier, OID: oid} }
func IPAddressValue(ip netip.Addr) Value { return Value{Type: TypeIPAddress, IP: ip} }
func Counter32Value(v uint32) Value { return Value{Type: TypeCounter32, Uint: uint64(v)} }
func Gauge32Value(v uint32) Value { return Value{Type: TypeGauge32, Uint: uint64(v)} }
func TimeTicksValue(v uint32) Value { return Value{Type: TypeTimeTicks, Uint: uint64(v)} }
func Counter64Value(v uint64) Value { return Value{Type: TypeCounter64, Uint: v} }
func OpaqueValue(b []byte) Value { return Value{Type: TypeOpaque, Bytes: b} }
func NullValue() Value { return Value{Type: TypeNull} }

// String renders the value the way it is shown on the console.
func (v Value) String() string {
	switch v.Type {
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case TypeCounter32, TypeGauge32, TypeTimeTicks, TypeCounter64:
		return strconv.FormatUint(v.Uint, 10)
	case TypeOctetString:
		if printable(v.Bytes) {
			return string(v.Bytes)
		}
		return "0x" + hex.EncodeToString(v.Bytes)
	case TypeOpaque:
		return "0x" + hex.EncodeToString(v.Bytes)
	case TypeObjectIdentifier:
		return v.OID
	case TypeIPAddress:
		return v.IP.String()
	case TypeNull:
		return "null"
	default:
		return v.Type.String()
	}
}

// MarshalJSON renders the value as {"type": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	out := struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}{Type: v.Type.String()}

	switch v.Type {
	case TypeInteger:
		out.Value = v.Int
	case TypeCounter32, TypeGauge32, TypeTimeTicks, TypeCounter64:
		out.Value = v.Uint
	case TypeNull, TypeNoSuchObject, TypeNoSuchInstance, TypeEndOfMibView:
		out.Value = nil
	default:
		out.Value = v.String()
	}
	return json.Marshal(out)
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
