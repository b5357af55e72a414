package decoder

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/core"
)

const (
	// v1 coldStart from agent 192.0.2.1, enterprise 1.3.6.1.4.1.8072.3.2.10,
	// one varbind sysName.0 = "router1"
	v1ColdStartHex = "304002010004067075626c6963a433060a2b06010401bf0803020a4004c0000201" +
		"020100020100430204d23015301306082b060102010105000407726f7574657231"

	// v2c notification whose first varbind is linkDown, second ifIndex.2 = 2
	v2cLinkDownHex = "303c02010104067075626c6963a72f0201010201000201003024301106092b0601" +
		"060301010503040465746830300f060a2b060102010202010102020102"
)

func mustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestDecodeV1ColdStart(t *testing.T) {
	trap, err := Decode(mustHex(t, v1ColdStartHex))
	require.NoError(t, err)

	assert.Equal(t, core.V1, trap.Version)
	assert.Equal(t, "public", trap.Community)
	assert.Equal(t, core.PDUTrap, trap.PDUType)
	assert.Equal(t, "1.3.6.1.4.1.8072.3.2.10", trap.Enterprise)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), trap.AgentAddress)
	assert.Equal(t, 0, trap.GenericTrap)
	assert.Equal(t, 0, trap.SpecificTrap)
	assert.Equal(t, uint32(1234), trap.Timestamp)
	assert.Nil(t, trap.V3)
	require.Len(t, trap.Varbinds, 1)
	assert.Equal(t, "1.3.6.1.2.1.1.5.0", trap.Varbinds[0].OID)
	assert.Equal(t, core.OctetStringValue([]byte("router1")), trap.Varbinds[0].Value)
}

func TestDecodeV2cLinkDown(t *testing.T) {
	trap, err := Decode(mustHex(t, v2cLinkDownHex))
	require.NoError(t, err)

	assert.Equal(t, core.V2c, trap.Version)
	assert.Equal(t, "public", trap.Community)
	assert.Equal(t, core.PDUTrapV2, trap.PDUType)
	assert.Equal(t, int64(1), trap.RequestID)
	assert.Empty(t, trap.Enterprise)
	assert.False(t, trap.AgentAddress.IsValid())
	require.Len(t, trap.Varbinds, 2)
	assert.Equal(t, "1.3.6.1.6.3.1.1.5.3", trap.Varbinds[0].OID)
	assert.Equal(t, "eth0", trap.Varbinds[0].Value.String())
	assert.Equal(t, "1.3.6.1.2.1.2.2.1.1.2", trap.Varbinds[1].OID)
	assert.Equal(t, core.IntegerValue(2), trap.Varbinds[1].Value)
}

func TestDecodeDoesNotAliasInput(t *testing.T) {
	buf := mustHex(t, v1ColdStartHex)
	trap, err := Decode(buf)
	require.NoError(t, err)

	for i := range buf {
		buf[i] = 0
	}
	assert.Equal(t, "router1", string(trap.Varbinds[0].Value.Bytes))
	assert.Equal(t, "public", trap.Community)
}

func TestRoundTripValueTypes(t *testing.T) {
	values := []core.Value{
		core.IntegerValue(0),
		core.IntegerValue(-1),
		core.IntegerValue(128),
		core.IntegerValue(-2147483648),
		core.IntegerValue(1 << 40),
		core.OctetStringValue([]byte("GigabitEthernet0/1")),
		core.OctetStringValue([]byte{0x00, 0x1b, 0x21, 0xff}),
		core.OctetStringValue(make([]byte, 300)), // long-form length
		core.OIDValue("1.3.6.1.6.3.1.1.5.1"),
		core.OIDValue("2.999.4294967295"),
		core.IPAddressValue(netip.MustParseAddr("10.1.2.3")),
		core.IPAddressValue(netip.MustParseAddr("2001:db8::1")),
		core.Counter32Value(0xffffffff),
		core.Counter32Value(0x80),
		core.Gauge32Value(1000000000),
		core.TimeTicksValue(360000),
		core.Counter64Value(0xffffffffffffffff),
		core.OpaqueValue([]byte{0x9f, 0x78, 0x04, 0x3f, 0x80, 0x00, 0x00}),
		core.NullValue(),
		{Type: core.TypeNoSuchObject},
		{Type: core.TypeNoSuchInstance},
		{Type: core.TypeEndOfMibView},
	}

	for i, v := range values {
		t.Run(fmt.Sprintf("%02d_%s", i, v.Type), func(t *testing.T) {
			in := &core.Trap{
				Version:   core.V2c,
				Community: "public",
				PDUType:   core.PDUTrapV2,
				RequestID: 7,
				Varbinds:  []core.Varbind{{OID: "1.3.6.1.4.1.8072.9999.1", Value: v}},
			}
			b, err := Encode(in)
			require.NoError(t, err)

			out, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestRoundTripV1(t *testing.T) {
	in := &core.Trap{
		Version:      core.V1,
		Community:    "monitor",
		PDUType:      core.PDUTrap,
		Enterprise:   "1.3.6.1.4.1.9.1.1",
		AgentAddress: netip.MustParseAddr("198.51.100.7"),
		GenericTrap:  6,
		SpecificTrap: 17,
		Timestamp:    4294967295,
		Varbinds: []core.Varbind{
			{OID: "1.3.6.1.2.1.2.2.1.1.4", Value: core.IntegerValue(4)},
			{OID: "1.3.6.1.2.1.2.2.1.2.4", Value: core.OctetStringValue([]byte("ge-0/0/4"))},
		},
	}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRoundTripCanonicalForm(t *testing.T) {
	in := &core.Trap{
		Version:    core.V1,
		PDUType:    core.PDUTrap,
		Enterprise: "1.3.6.1.4.1.9",
	}
	b, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("0.0.0.0"), out.AgentAddress)
	assert.NotNil(t, out.Varbinds)
	assert.Empty(t, out.Varbinds)

	in = &core.Trap{
		Version:  core.V2c,
		PDUType:  core.PDUTrapV2,
		Varbinds: []core.Varbind{{OID: "1.3.6.1.2.1.1.5.0", Value: core.OctetStringValue([]byte{})}},
	}
	b, err = Encode(in)
	require.NoError(t, err)
	out, err = Decode(b)
	require.NoError(t, err)
	require.Len(t, out.Varbinds, 1)
	assert.Equal(t, core.TypeOctetString, out.Varbinds[0].Value.Type)
	assert.Nil(t, out.Varbinds[0].Value.Bytes)
}

func TestRoundTripV3(t *testing.T) {
	in := &core.Trap{
		Version:   core.V3,
		PDUType:   core.PDUInformRequest,
		RequestID: 99,
		V3: &core.V3Header{
			MsgID:           12345,
			MaxSize:         65507,
			Flags:           core.V3FlagReportable,
			SecurityModel:   3,
			EngineID:        core.HexBytes{0x80, 0x00, 0x1f, 0x88, 0x04, 0x74, 0x72, 0x61, 0x70},
			EngineBoots:     2,
			EngineTime:      86400,
			UserName:        "trapuser",
			ContextEngineID: core.HexBytes{0x80, 0x00, 0x1f, 0x88, 0x04, 0x74, 0x72, 0x61, 0x70},
			ContextName:     "",
		},
		Varbinds: []core.Varbind{
			{OID: "1.3.6.1.2.1.1.3.0", Value: core.TimeTicksValue(500)},
			{OID: "1.3.6.1.6.3.1.1.4.1.0", Value: core.OIDValue("1.3.6.1.6.3.1.1.5.4")},
		},
	}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodePreservesVarbindOrder(t *testing.T) {
	oids := []string{"1.3.6.1.4.1.1.9", "1.3.6.1.4.1.1.2", "1.3.6.1.4.1.1.5", "1.3.6.1.4.1.1.1"}
	in := &core.Trap{Version: core.V2c, Community: "public", PDUType: core.PDUTrapV2}
	for i, oid := range oids {
		in.Varbinds = append(in.Varbinds, core.Varbind{OID: oid, Value: core.IntegerValue(int64(i))})
	}
	b, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, out.Varbinds, len(oids))
	for i, vb := range out.Varbinds {
		assert.Equal(t, oids[i], vb.OID)
		assert.Equal(t, int64(i), vb.Value.Int)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	encrypted := func(extra ...byte) []byte {
		// v3 header with the privacy flag set and an opaque encrypted payload
		var global []byte
		global = appendTLV(global, tagInteger, intBytes(1))
		global = appendTLV(global, tagInteger, intBytes(65507))
		global = appendTLV(global, tagOctetString, []byte{core.V3FlagAuth | core.V3FlagPriv})
		global = appendTLV(global, tagInteger, intBytes(3))
		global = append(global, extra...)
		var body []byte
		body = appendTLV(body, tagInteger, intBytes(3))
		body = appendTLV(body, tagSequence, global)
		body = appendTLV(body, tagOctetString, nil)
		body = appendTLV(body, tagOctetString, []byte{0xde, 0xad, 0xbe, 0xef})
		return appendTLV(nil, tagSequence, body)
	}

	v3Trailing := func() []byte {
		b, err := Encode(&core.Trap{
			Version: core.V3,
			PDUType: core.PDUTrapV2,
			V3:      &core.V3Header{MsgID: 1, MaxSize: 65507, SecurityModel: 3, UserName: "u"},
		})
		require.NoError(t, err)
		msg, err := newReader(b).expect(tagSequence, "message")
		require.NoError(t, err)
		return appendTLV(nil, tagSequence, append(msg.body, 0x05, 0x00))
	}

	tests := []struct {
		name string
		data []byte
		kind Kind
		is   error
	}{
		{"empty input", []byte{}, Truncated, core.ErrTruncated},
		{"nil input", nil, Truncated, core.ErrTruncated},
		{"tag only", []byte{0x30}, Truncated, core.ErrTruncated},
		{"length exceeds buffer", []byte{0x30, 0x05, 0x02, 0x01}, Truncated, core.ErrTruncated},
		{"length of length exceeds buffer", []byte{0x30, 0x84, 0x00, 0x00}, Truncated, core.ErrTruncated},
		{"huge long-form length", []byte{0x30, 0x84, 0x7f, 0xff, 0xff, 0xff, 0x02}, Truncated, core.ErrTruncated},
		{"indefinite length", []byte{0x30, 0x80, 0x00, 0x00}, InvalidLength, core.ErrInvalidLength},
		{"too many length octets", []byte{0x30, 0x85, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}, InvalidLength, core.ErrInvalidLength},
		{"outer tag not sequence", []byte{0x02, 0x01, 0x00}, InvalidTag, core.ErrInvalidTag},
		{"high tag number", []byte{0x1f, 0x01, 0x00}, InvalidTag, core.ErrInvalidTag},
		{"version 2", mustHex(t, "3003020102"), UnsupportedVersion, core.ErrUnsupportedVersion},
		{"empty version integer", mustHex(t, "30020200"), InvalidLength, core.ErrInvalidLength},
		{"v1 message with v2 pdu", mustHex(t, "300f02010004067075626c6963a7020000"), InvalidTag, core.ErrInvalidTag},
		{"v2c message with get-response", mustHex(t, "300f02010104067075626c6963a2020000"), InvalidTag, core.ErrInvalidTag},
		{"encrypted v3", encrypted(), UnsupportedVersion, core.ErrUnsupportedVersion},
		{"octets after v2c varbind list", mustHex(t, "303e02010104067075626c6963a7310201010201000201003024301106092b0601"+
			"060301010503040465746830300f060a2b0601020102020101020201020500"), InvalidLength, core.ErrInvalidLength},
		{"octets after v1 varbind list", mustHex(t, "304202010004067075626c6963a435060a2b06010401bf0803020a4004c0000201"+
			"020100020100430204d23015301306082b060102010105000407726f75746572310500"), InvalidLength, core.ErrInvalidLength},
		{"octets after v2c pdu", mustHex(t, "303e02010104067075626c6963a72f0201010201000201003024301106092b0601"+
			"060301010503040465746830300f060a2b0601020102020101020201020500"), InvalidLength, core.ErrInvalidLength},
		{"octets after message", append(mustHex(t, v2cLinkDownHex), 0xde, 0xad), InvalidLength, core.ErrInvalidLength},
		{"octets after v3 global data", encrypted(0x05, 0x00), InvalidLength, core.ErrInvalidLength},
		{"octets after v3 scoped pdu", v3Trailing(), InvalidLength, core.ErrInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trap, err := Decode(tt.data)
			require.Error(t, err)
			assert.Nil(t, trap)
			assert.ErrorIs(t, err, tt.is)

			kind, ok := KindOf(err)
			require.True(t, ok, "expected *DecodeError, got %T", err)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestDecodeRejectsEveryTruncation(t *testing.T) {
	for _, fixture := range []string{v1ColdStartHex, v2cLinkDownHex} {
		full := mustHex(t, fixture)
		for n := 1; n < len(full); n++ {
			trap, err := Decode(full[:n])
			if assert.Error(t, err, "prefix of %d bytes", n) {
				assert.ErrorIs(t, err, core.ErrTruncated, "prefix of %d bytes", n)
			}
			assert.Nil(t, trap)
		}
	}
}

// v2cWithValue wraps one raw value TLV into a v2c notification whose only
// varbind is named 1.3.6.1.
func v2cWithValue(value []byte) []byte {
	vb := appendTLV(nil, tagOID, []byte{0x2b, 0x06, 0x01})
	vb = append(vb, value...)
	var pdu []byte
	pdu = appendTLV(pdu, tagInteger, intBytes(1))
	pdu = appendTLV(pdu, tagInteger, intBytes(0))
	pdu = appendTLV(pdu, tagInteger, intBytes(0))
	pdu = appendTLV(pdu, tagSequence, appendTLV(nil, tagSequence, vb))
	var body []byte
	body = appendTLV(body, tagInteger, intBytes(1))
	body = appendTLV(body, tagOctetString, []byte("public"))
	body = appendTLV(body, byte(core.PDUTrapV2), pdu)
	return appendTLV(nil, tagSequence, body)
}

func TestDecodeRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
		kind  Kind
	}{
		{"unknown tag", []byte{0x47, 0x01, 0x00}, InvalidTag},
		{"counter32 overflow", []byte{0x41, 0x05, 0x01, 0x00, 0x00, 0x00, 0x00}, InvalidLength},
		{"counter64 overflow", []byte{0x46, 0x0a, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, InvalidLength},
		{"integer too long", []byte{0x02, 0x09, 1, 0, 0, 0, 0, 0, 0, 0, 0}, InvalidLength},
		{"null with content", []byte{0x05, 0x01, 0x00}, InvalidLength},
		{"ip address of 3 octets", []byte{0x40, 0x03, 10, 0, 0}, InvalidLength},
		{"empty oid", []byte{0x06, 0x00}, InvalidLength},
		{"unterminated oid", []byte{0x06, 0x02, 0x2b, 0x86}, InvalidLength},
		{"trailing octets", []byte{0x05, 0x00, 0x05, 0x00}, InvalidLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trap, err := Decode(v2cWithValue(tt.value))
			assert.Nil(t, trap)
			kind, ok := KindOf(err)
			require.True(t, ok, "expected *DecodeError, got %v", err)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestDecodeUnsignedWithoutSignOctet(t *testing.T) {
	// Some agents encode 0xffffffff in four octets without the sign pad.
	trap, err := Decode(v2cWithValue([]byte{0x41, 0x04, 0xff, 0xff, 0xff, 0xff}))
	require.NoError(t, err)
	assert.Equal(t, core.Counter32Value(0xffffffff), trap.Varbinds[0].Value)

	trap, err = Decode(v2cWithValue([]byte{0x43, 0x05, 0x00, 0xff, 0xff, 0xff, 0xff}))
	require.NoError(t, err)
	assert.Equal(t, core.TimeTicksValue(0xffffffff), trap.Varbinds[0].Value)
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		trap *core.Trap
		is   error
	}{
		{"nil trap", nil, core.ErrInvalidValue},
		{"bad version", &core.Trap{Version: core.Version(2)}, core.ErrUnsupportedVersion},
		{"v1 with v2 pdu", &core.Trap{Version: core.V1, PDUType: core.PDUTrapV2}, core.ErrInvalidValue},
		{"v3 without header", &core.Trap{Version: core.V3, PDUType: core.PDUTrapV2}, core.ErrInvalidValue},
		{"bad enterprise", &core.Trap{Version: core.V1, PDUType: core.PDUTrap, Enterprise: "1"}, core.ErrInvalidOID},
		{"bad varbind oid", &core.Trap{
			Version: core.V2c, PDUType: core.PDUTrapV2,
			Varbinds: []core.Varbind{{OID: "1.3.x", Value: core.NullValue()}},
		}, core.ErrInvalidOID},
		{"counter overflow", &core.Trap{
			Version: core.V2c, PDUType: core.PDUTrapV2,
			Varbinds: []core.Varbind{{OID: "1.3.6", Value: core.Value{Type: core.TypeGauge32, Uint: 1 << 33}}},
		}, core.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.trap)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestLengthEncoding(t *testing.T) {
	assert.Equal(t, []byte{0x7f}, appendLength(nil, 127))
	assert.Equal(t, []byte{0x81, 0x80}, appendLength(nil, 128))
	assert.Equal(t, []byte{0x82, 0x01, 0x00}, appendLength(nil, 256))
}

func FuzzDecode(f *testing.F) {
	f.Add(mustHex(f, v1ColdStartHex))
	f.Add(mustHex(f, v2cLinkDownHex))
	f.Add([]byte{0x30, 0x84, 0xff, 0xff, 0xff, 0xff})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		trap, err := Decode(data)
		if (trap == nil) == (err == nil) {
			t.Fatalf("Decode must return exactly one of trap or error, got %v / %v", trap, err)
		}
	})
}

func BenchmarkDecodeV2c(b *testing.B) {
	data := mustHex(b, v2cLinkDownHex)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}
