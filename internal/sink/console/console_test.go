package console

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
	"firestige.xyz/trapd/internal/sink"
)

var receivedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

func coldStart() core.Event {
	return core.Event{
		Name: "ColdStart",
		Trap: &core.Trap{
			Version:      core.V1,
			Source:       netip.MustParseAddrPort("192.0.2.1:161"),
			ReceivedAt:   receivedAt,
			Community:    "public",
			PDUType:      core.PDUTrap,
			Enterprise:   "1.3.6.1.4.1.8072.3.2.10",
			AgentAddress: netip.MustParseAddr("192.0.2.1"),
			Varbinds: []core.Varbind{
				{OID: "1.3.6.1.2.1.1.5.0", Value: core.OctetStringValue([]byte("router1"))},
			},
		},
	}
}

func linkDown() core.Event {
	return core.Event{
		Name: "LinkDown",
		Trap: &core.Trap{
			Version:    core.V2c,
			Source:     netip.MustParseAddrPort("198.51.100.4:50123"),
			ReceivedAt: receivedAt,
			Community:  "public",
			PDUType:    core.PDUTrapV2,
			Varbinds: []core.Varbind{
				{OID: "1.3.6.1.6.3.1.1.5.3", Value: core.OctetStringValue([]byte("eth0"))},
				{OID: "1.3.6.1.2.1.2.2.1.1.2", Value: core.IntegerValue(2)},
			},
		},
	}
}

func TestEmitV1Line(t *testing.T) {
	var out, errOut bytes.Buffer
	s := New(&out, &errOut, "text", false, nil)

	require.NoError(t, s.Emit(context.Background(), coldStart()))
	assert.Equal(t, "2024-05-01 12:00:00: ColdStart: 192.0.2.1 : 1.3.6.1.4.1.8072.3.2.10\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestEmitV2cLinePerVarbind(t *testing.T) {
	var out bytes.Buffer
	s := New(&out, &bytes.Buffer{}, "text", false, nil)

	require.NoError(t, s.Emit(context.Background(), linkDown()))
	assert.Equal(t,
		"2024-05-01 12:00:00: LinkDown: 198.51.100.4 : 1.3.6.1.6.3.1.1.5.3 -> eth0\n"+
			"2024-05-01 12:00:00: LinkDown: 198.51.100.4 : 1.3.6.1.2.1.2.2.1.1.2 -> 2\n",
		out.String())
}

func TestEmitV2cWithoutVarbindsPrintsNothing(t *testing.T) {
	var out bytes.Buffer
	s := New(&out, &bytes.Buffer{}, "text", false, nil)

	ev := linkDown()
	ev.Name = "Unknown Trap Type"
	ev.Trap.Varbinds = []core.Varbind{}
	require.NoError(t, s.Emit(context.Background(), ev))
	assert.Empty(t, out.String())
}

func TestEmitVerbose(t *testing.T) {
	var out bytes.Buffer
	s := New(&out, &bytes.Buffer{}, "text", true, nil)

	require.NoError(t, s.Emit(context.Background(), linkDown()))

	header, body, ok := strings.Cut(out.String(), "\n")
	require.True(t, ok)
	assert.Equal(t, "2024-05-01 12:00:00: TrapV2 received:", header)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, "v2c", decoded["version"])
	assert.Equal(t, "198.51.100.4:50123", decoded["source"])
	assert.Len(t, decoded["varbinds"], 2)
	assert.True(t, strings.Contains(body, "\n  \"version\""), "body should be indented")
}

func TestEmitJSON(t *testing.T) {
	var out bytes.Buffer
	s := New(&out, &bytes.Buffer{}, "json", false, nil)

	require.NoError(t, s.Emit(context.Background(), coldStart()))

	var decoded struct {
		Name   string         `json:"name"`
		Source string         `json:"source"`
		Trap   map[string]any `json:"trap"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "ColdStart", decoded.Name)
	assert.Equal(t, "192.0.2.1:161", decoded.Source)
	assert.Equal(t, "1.3.6.1.4.1.8072.3.2.10", decoded.Trap["enterprise"])
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestEmitError(t *testing.T) {
	var out, errOut bytes.Buffer
	s := New(&out, &errOut, "text", false, nil)

	err := s.EmitError(context.Background(), netip.MustParseAddrPort("192.0.2.9:1024"), errors.New("snmp decode: truncated at offset 0: empty datagram"))
	require.NoError(t, err)
	assert.Empty(t, out.String())

	line := errOut.String()
	assert.True(t, strings.HasSuffix(line, ": 192.0.2.9 : snmp decode: truncated at offset 0: empty datagram\n"), line)
	_, perr := time.ParseInLocation(TimeLayout, line[:len(TimeLayout)], time.Local)
	assert.NoError(t, perr)

	errOut.Reset()
	require.NoError(t, s.EmitError(context.Background(), netip.AddrPort{}, errors.New("bad")))
	assert.True(t, strings.HasSuffix(errOut.String(), ": - : bad\n"), errOut.String())
}

func TestEmitNilTrap(t *testing.T) {
	s := New(&bytes.Buffer{}, &bytes.Buffer{}, "text", false, nil)
	assert.Error(t, s.Emit(context.Background(), core.Event{Name: "ColdStart"}))
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		verbose bool
		wantErr bool
		wantFmt string
		wantVrb bool
	}{
		{name: "nil options default to text", wantFmt: "text"},
		{name: "json format", options: map[string]any{"format": "json"}, wantFmt: "json"},
		{name: "verbose from receiver", verbose: true, wantFmt: "text", wantVrb: true},
		{name: "verbose overridden", options: map[string]any{"verbose": false}, verbose: true, wantFmt: "text"},
		{name: "invalid format", options: map[string]any{"format": "xml"}, wantErr: true},
		{name: "unknown option", options: map[string]any{"colour": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			s, err := sink.Build(
				[]config.SinkConfig{{Type: Name, Options: tt.options}},
				sink.Env{Verbose: tt.verbose, Stdout: &out},
			)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Name, s.Name())

			require.NoError(t, s.Emit(context.Background(), coldStart()))
			switch {
			case tt.wantFmt == "json":
				assert.True(t, strings.HasPrefix(out.String(), "{"))
			case tt.wantVrb:
				assert.Contains(t, out.String(), "Trap received:")
			default:
				assert.Contains(t, out.String(), ": ColdStart: 192.0.2.1 : ")
			}
		})
	}
}
