package decoder

import (
	"math"
	"strconv"

	"firestige.xyz/trapd/internal/core"
)

// Universal and SNMP application tags used by the message envelope.
const (
	tagInteger     byte = 0x02
	tagOctetString byte = 0x04
	tagOID         byte = 0x06
	tagSequence    byte = 0x30
	tagIPAddress   byte = 0x40
	tagTimeTicks   byte = 0x43
)

const maxLengthOctets = 4

// element is one decoded TLV. offset is the absolute position of body in
// the datagram.
type element struct {
	tag    byte
	body   []byte
	offset int
}

func (e element) reader() *berReader {
	return &berReader{buf: e.body, base: e.offset}
}

// berReader walks consecutive TLVs of a buffer. Every length is checked
// against the bytes left in buf before anything is sliced.
type berReader struct {
	buf  []byte
	pos  int
	base int
}

func newReader(buf []byte) *berReader {
	return &berReader{buf: buf}
}

func (r *berReader) empty() bool {
	return r.pos >= len(r.buf)
}

func (r *berReader) offset() int {
	return r.base + r.pos
}

// next reads one TLV and advances past it.
func (r *berReader) next(what string) (element, error) {
	start := r.pos
	if start >= len(r.buf) {
		return element{}, newError(Truncated, r.base+start, "missing %s", what)
	}

	tag := r.buf[start]
	if tag&0x1f == 0x1f {
		return element{}, newError(InvalidTag, r.base+start, "%s: high tag number form is not used by SNMP", what)
	}

	p := start + 1
	if p >= len(r.buf) {
		return element{}, newError(Truncated, r.base+p, "%s: missing length", what)
	}

	length := int(r.buf[p])
	p++
	if length&0x80 != 0 {
		n := length & 0x7f
		if n == 0 {
			return element{}, newError(InvalidLength, r.base+p-1, "%s: indefinite length", what)
		}
		if n > maxLengthOctets {
			return element{}, newError(InvalidLength, r.base+p-1, "%s: %d length octets", what, n)
		}
		if n > len(r.buf)-p {
			return element{}, newError(Truncated, r.base+p, "%s: length needs %d octets, %d left", what, n, len(r.buf)-p)
		}
		length = 0
		for _, b := range r.buf[p : p+n] {
			length = length<<8 | int(b)
		}
		p += n
	}

	if length < 0 || length > len(r.buf)-p {
		return element{}, newError(Truncated, r.base+p, "%s: length %d exceeds %d remaining bytes", what, length, len(r.buf)-p)
	}

	r.pos = p + length
	return element{tag: tag, body: r.buf[p : p+length], offset: r.base + p}, nil
}

// expect reads one TLV and requires its tag.
func (r *berReader) expect(tag byte, what string) (element, error) {
	start := r.offset()
	e, err := r.next(what)
	if err != nil {
		return element{}, err
	}
	if e.tag != tag {
		return element{}, newError(InvalidTag, start, "%s: expected tag 0x%02x, got 0x%02x", what, tag, e.tag)
	}
	return e, nil
}

func (r *berReader) readInt(what string) (int64, error) {
	e, err := r.expect(tagInteger, what)
	if err != nil {
		return 0, err
	}
	return parseInt(e, what)
}

func (r *berReader) readOctets(what string) ([]byte, error) {
	e, err := r.expect(tagOctetString, what)
	if err != nil {
		return nil, err
	}
	return cloneBytes(e.body), nil
}

func (r *berReader) readOID(what string) (string, error) {
	e, err := r.expect(tagOID, what)
	if err != nil {
		return "", err
	}
	return parseOID(e, what)
}

// parseInt decodes a two's complement INTEGER of at most 64 bits.
func parseInt(e element, what string) (int64, error) {
	n := len(e.body)
	if n == 0 {
		return 0, newError(InvalidLength, e.offset, "%s: empty integer", what)
	}
	if n > 8 {
		return 0, newError(InvalidLength, e.offset, "%s: integer of %d octets", what, n)
	}
	var v int64
	if e.body[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range e.body {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// parseUint decodes an unsigned application type of at most width octets,
// allowing one leading zero octet.
func parseUint(e element, width int, what string) (uint64, error) {
	n := len(e.body)
	if n == 0 {
		return 0, newError(InvalidLength, e.offset, "%s: empty value", what)
	}
	if n > width+1 || (n == width+1 && e.body[0] != 0) {
		return 0, newError(InvalidLength, e.offset, "%s: value of %d octets exceeds %d bits", what, n, width*8)
	}
	var v uint64
	for _, b := range e.body {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// parseOID decodes base-128 sub-identifiers into dotted notation.
func parseOID(e element, what string) (string, error) {
	if len(e.body) == 0 {
		return "", newError(InvalidLength, e.offset, "%s: empty object identifier", what)
	}

	out := make([]byte, 0, len(e.body)*3)
	var v uint64
	first := true
	for i, b := range e.body {
		if v > math.MaxUint64>>7 {
			return "", newError(InvalidLength, e.offset+i, "%s: sub-identifier overflow", what)
		}
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 != 0 {
			if i == len(e.body)-1 {
				return "", newError(InvalidLength, e.offset+i, "%s: unterminated sub-identifier", what)
			}
			continue
		}
		if first {
			switch {
			case v < 40:
				out = append(out, '0', '.')
				out = strconv.AppendUint(out, v, 10)
			case v < 80:
				out = append(out, '1', '.')
				out = strconv.AppendUint(out, v-40, 10)
			default:
				out = append(out, '2', '.')
				out = strconv.AppendUint(out, v-80, 10)
			}
			first = false
		} else {
			out = append(out, '.')
			out = strconv.AppendUint(out, v, 10)
		}
		v = 0
	}
	return string(out), nil
}

// decodeValue dispatches on the tag of a varbind value.
func decodeValue(e element) (core.Value, error) {
	t := core.ValueType(e.tag)
	switch t {
	case core.TypeInteger:
		n, err := parseInt(e, "integer value")
		if err != nil {
			return core.Value{}, err
		}
		return core.IntegerValue(n), nil

	case core.TypeOctetString, core.TypeOpaque:
		return core.Value{Type: t, Bytes: cloneBytes(e.body)}, nil

	case core.TypeNull, core.TypeNoSuchObject, core.TypeNoSuchInstance, core.TypeEndOfMibView:
		if len(e.body) != 0 {
			return core.Value{}, newError(InvalidLength, e.offset, "%s value with %d content octets", t, len(e.body))
		}
		return core.Value{Type: t}, nil

	case core.TypeObjectIdentifier:
		oid, err := parseOID(e, "oid value")
		if err != nil {
			return core.Value{}, err
		}
		return core.OIDValue(oid), nil

	case core.TypeIPAddress:
		ip, err := parseIP(e, "ip address value")
		if err != nil {
			return core.Value{}, err
		}
		return core.IPAddressValue(ip), nil

	case core.TypeCounter32, core.TypeGauge32, core.TypeTimeTicks:
		n, err := parseUint(e, 4, t.String())
		if err != nil {
			return core.Value{}, err
		}
		return core.Value{Type: t, Uint: n}, nil

	case core.TypeCounter64:
		n, err := parseUint(e, 8, t.String())
		if err != nil {
			return core.Value{}, err
		}
		return core.Counter64Value(n), nil

	default:
		return core.Value{}, newError(InvalidTag, e.offset, "unsupported value tag 0x%02x", e.tag)
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
