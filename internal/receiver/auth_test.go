package receiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
)

func TestAuthorizer(t *testing.T) {
	v2c := func(community string) *core.Trap {
		return &core.Trap{Version: core.V2c, Community: community, PDUType: core.PDUTrapV2}
	}
	v3 := func(engineID []byte) *core.Trap {
		return &core.Trap{Version: core.V3, PDUType: core.PDUTrapV2, V3: &core.V3Header{EngineID: engineID}}
	}

	tests := []struct {
		name       string
		cfg        config.ReceiverConfig
		trap       *core.Trap
		wantOK     bool
		wantReason string
	}{
		{
			name:   "community in allow list",
			cfg:    config.ReceiverConfig{CommunityAllowList: []string{"public", "ops"}},
			trap:   v2c("ops"),
			wantOK: true,
		},
		{
			name:       "community not in allow list",
			cfg:        config.ReceiverConfig{CommunityAllowList: []string{"public"}},
			trap:       v2c("private"),
			wantReason: ReasonCommunity,
		},
		{
			name:   "empty allow list admits all",
			cfg:    config.ReceiverConfig{},
			trap:   v2c("anything"),
			wantOK: true,
		},
		{
			name:   "authorization disabled",
			cfg:    config.ReceiverConfig{DisableAuthorization: true, CommunityAllowList: []string{"public"}},
			trap:   v2c("private"),
			wantOK: true,
		},
		{
			name:   "v1 uses community",
			cfg:    config.ReceiverConfig{CommunityAllowList: []string{"public"}},
			trap:   &core.Trap{Version: core.V1, Community: "public", PDUType: core.PDUTrap},
			wantOK: true,
		},
		{
			name:   "v3 ignores community allow list",
			cfg:    config.ReceiverConfig{CommunityAllowList: []string{"public"}},
			trap:   v3([]byte{0x80, 0x00, 0x1f, 0x88}),
			wantOK: true,
		},
		{
			name:   "v3 engine id matches",
			cfg:    config.ReceiverConfig{EngineID: "0x80001f88"},
			trap:   v3([]byte{0x80, 0x00, 0x1f, 0x88}),
			wantOK: true,
		},
		{
			name:       "v3 engine id mismatch",
			cfg:        config.ReceiverConfig{EngineID: "80001f88"},
			trap:       v3([]byte{0x80, 0x00, 0x1f, 0x89}),
			wantReason: ReasonEngineID,
		},
		{
			name:       "v3 without header",
			cfg:        config.ReceiverConfig{EngineID: "80001f88"},
			trap:       &core.Trap{Version: core.V3},
			wantReason: ReasonEngineID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAuthorizer(tt.cfg)
			require.NoError(t, err)
			reason, ok := a.Authorize(tt.trap)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestAuthorizerRejectsBadEngineID(t *testing.T) {
	_, err := NewAuthorizer(config.ReceiverConfig{EngineID: "xyz"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestAuthorizerUpdate(t *testing.T) {
	a, err := NewAuthorizer(config.ReceiverConfig{CommunityAllowList: []string{"public"}})
	require.NoError(t, err)

	trap := &core.Trap{Version: core.V2c, Community: "private"}
	_, ok := a.Authorize(trap)
	assert.False(t, ok)

	require.NoError(t, a.Update(config.ReceiverConfig{CommunityAllowList: []string{"public", "private"}}))
	_, ok = a.Authorize(trap)
	assert.True(t, ok)

	// a failed update keeps the previous policy
	assert.Error(t, a.Update(config.ReceiverConfig{EngineID: "zz"}))
	_, ok = a.Authorize(trap)
	assert.True(t, ok)
}
