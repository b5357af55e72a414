package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"firestige.xyz/trapd/internal/core"
)

// Encode renders a Trap as a BER datagram. It is the inverse of Decode for
// every trap Decode can produce, except that v3 messages are always
// written unauthenticated and unencrypted.
//
// Fields with no wire distinction come back from Decode in one canonical
// form: a zero AgentAddress decodes as 0.0.0.0, a nil varbind list as an
// empty slice, and empty octet strings as nil.
func Encode(t *core.Trap) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("encode nil trap: %w", core.ErrInvalidValue)
	}

	var body []byte
	switch t.Version {
	case core.V1, core.V2c:
		pdu, err := encodePDU(t)
		if err != nil {
			return nil, err
		}
		body = appendTLV(body, tagInteger, intBytes(int64(t.Version)))
		body = appendTLV(body, tagOctetString, []byte(t.Community))
		body = append(body, pdu...)

	case core.V3:
		msg, err := encodeV3(t)
		if err != nil {
			return nil, err
		}
		body = appendTLV(body, tagInteger, intBytes(wireV3))
		body = append(body, msg...)

	default:
		return nil, fmt.Errorf("encode version %d: %w", t.Version, core.ErrUnsupportedVersion)
	}

	return appendTLV(nil, tagSequence, body), nil
}

func encodeV3(t *core.Trap) ([]byte, error) {
	h := t.V3
	if h == nil {
		return nil, fmt.Errorf("encode v3 trap without header: %w", core.ErrInvalidValue)
	}
	if h.Flags&core.V3FlagPriv != 0 {
		return nil, fmt.Errorf("encode encrypted v3 trap: %w", core.ErrUnsupportedVersion)
	}

	var global []byte
	global = appendTLV(global, tagInteger, intBytes(h.MsgID))
	global = appendTLV(global, tagInteger, intBytes(h.MaxSize))
	global = appendTLV(global, tagOctetString, []byte{h.Flags &^ core.V3FlagAuth})
	global = appendTLV(global, tagInteger, intBytes(h.SecurityModel))

	var secParams []byte
	if h.SecurityModel == usmSecurityModel {
		var usm []byte
		usm = appendTLV(usm, tagOctetString, h.EngineID)
		usm = appendTLV(usm, tagInteger, intBytes(h.EngineBoots))
		usm = appendTLV(usm, tagInteger, intBytes(h.EngineTime))
		usm = appendTLV(usm, tagOctetString, []byte(h.UserName))
		usm = appendTLV(usm, tagOctetString, nil)
		usm = appendTLV(usm, tagOctetString, nil)
		secParams = appendTLV(nil, tagSequence, usm)
	}

	pdu, err := encodePDU(t)
	if err != nil {
		return nil, err
	}
	var scoped []byte
	scoped = appendTLV(scoped, tagOctetString, h.ContextEngineID)
	scoped = appendTLV(scoped, tagOctetString, []byte(h.ContextName))
	scoped = append(scoped, pdu...)

	var out []byte
	out = appendTLV(out, tagSequence, global)
	out = appendTLV(out, tagOctetString, secParams)
	out = appendTLV(out, tagSequence, scoped)
	return out, nil
}

func encodePDU(t *core.Trap) ([]byte, error) {
	var body []byte
	switch {
	case t.Version == core.V1 && t.PDUType == core.PDUTrap:
		enterprise, err := oidBytes(t.Enterprise)
		if err != nil {
			return nil, fmt.Errorf("encode enterprise: %w", err)
		}
		agent := []byte{0, 0, 0, 0}
		if t.AgentAddress.IsValid() {
			agent = t.AgentAddress.AsSlice()
		}
		body = appendTLV(body, tagOID, enterprise)
		body = appendTLV(body, tagIPAddress, agent)
		body = appendTLV(body, tagInteger, intBytes(int64(t.GenericTrap)))
		body = appendTLV(body, tagInteger, intBytes(int64(t.SpecificTrap)))
		body = appendTLV(body, tagTimeTicks, uintBytes(uint64(t.Timestamp)))

	case t.Version != core.V1 && (t.PDUType == core.PDUTrapV2 || t.PDUType == core.PDUInformRequest):
		body = appendTLV(body, tagInteger, intBytes(t.RequestID))
		body = appendTLV(body, tagInteger, intBytes(t.ErrorStatus))
		body = appendTLV(body, tagInteger, intBytes(t.ErrorIndex))

	default:
		return nil, fmt.Errorf("encode %s pdu in %s message: %w", t.PDUType, t.Version, core.ErrInvalidValue)
	}

	var list []byte
	for i, vb := range t.Varbinds {
		enc, err := encodeVarbind(vb)
		if err != nil {
			return nil, fmt.Errorf("encode varbind %d: %w", i, err)
		}
		list = append(list, enc...)
	}
	body = appendTLV(body, tagSequence, list)

	return appendTLV(nil, byte(t.PDUType), body), nil
}

func encodeVarbind(vb core.Varbind) ([]byte, error) {
	name, err := oidBytes(vb.OID)
	if err != nil {
		return nil, err
	}
	value, err := encodeValue(vb.Value)
	if err != nil {
		return nil, err
	}
	var body []byte
	body = appendTLV(body, tagOID, name)
	body = append(body, value...)
	return appendTLV(nil, tagSequence, body), nil
}

func encodeValue(v core.Value) ([]byte, error) {
	tag := byte(v.Type)
	switch v.Type {
	case core.TypeInteger:
		return appendTLV(nil, tag, intBytes(v.Int)), nil
	case core.TypeOctetString, core.TypeOpaque:
		return appendTLV(nil, tag, v.Bytes), nil
	case core.TypeNull, core.TypeNoSuchObject, core.TypeNoSuchInstance, core.TypeEndOfMibView:
		return appendTLV(nil, tag, nil), nil
	case core.TypeObjectIdentifier:
		oid, err := oidBytes(v.OID)
		if err != nil {
			return nil, err
		}
		return appendTLV(nil, tag, oid), nil
	case core.TypeIPAddress:
		if !v.IP.IsValid() {
			return nil, fmt.Errorf("ip address value unset: %w", core.ErrInvalidValue)
		}
		return appendTLV(nil, tag, v.IP.AsSlice()), nil
	case core.TypeCounter32, core.TypeGauge32, core.TypeTimeTicks:
		if v.Uint > math.MaxUint32 {
			return nil, fmt.Errorf("%s value %d overflows 32 bits: %w", v.Type, v.Uint, core.ErrInvalidValue)
		}
		return appendTLV(nil, tag, uintBytes(v.Uint)), nil
	case core.TypeCounter64:
		return appendTLV(nil, tag, uintBytes(v.Uint)), nil
	default:
		return nil, fmt.Errorf("value type %s: %w", v.Type, core.ErrInvalidValue)
	}
}

func appendTLV(dst []byte, tag byte, content []byte) []byte {
	dst = append(dst, tag)
	dst = appendLength(dst, len(content))
	return append(dst, content...)
}

func appendLength(dst []byte, n int) []byte {
	if n < 0x80 {
		return append(dst, byte(n))
	}
	var tmp [maxLengthOctets]byte
	i := len(tmp)
	for ; n > 0; n >>= 8 {
		i--
		tmp[i] = byte(n)
	}
	dst = append(dst, 0x80|byte(len(tmp)-i))
	return append(dst, tmp[i:]...)
}

// intBytes returns the minimal two's complement encoding of v.
func intBytes(v int64) []byte {
	n := 1
	for i := v; i > 127 || i < -128; i >>= 8 {
		n++
	}
	b := make([]byte, n)
	for j := n - 1; j >= 0; j-- {
		b[j] = byte(v)
		v >>= 8
	}
	return b
}

// uintBytes returns the minimal encoding of v with a leading zero octet
// when the high bit would otherwise read as a sign.
func uintBytes(v uint64) []byte {
	n := 1
	for i := v; i > 0x7f; i >>= 8 {
		n++
	}
	b := make([]byte, n)
	for j := n - 1; j >= 0; j-- {
		b[j] = byte(v)
		v >>= 8
	}
	return b
}

func oidBytes(oid string) ([]byte, error) {
	parts := strings.Split(strings.TrimPrefix(oid, "."), ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%q: %w", oid, core.ErrInvalidOID)
	}
	arcs := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", oid, core.ErrInvalidOID)
		}
		arcs[i] = n
	}
	if arcs[0] > 2 || (arcs[0] < 2 && arcs[1] >= 40) || arcs[1] > math.MaxUint64-80 {
		return nil, fmt.Errorf("%q: %w", oid, core.ErrInvalidOID)
	}

	out := appendBase128(nil, arcs[0]*40+arcs[1])
	for _, a := range arcs[2:] {
		out = appendBase128(out, a)
	}
	return out, nil
}

func appendBase128(dst []byte, v uint64) []byte {
	var tmp [10]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
	}
	return append(dst, tmp[i:]...)
}
