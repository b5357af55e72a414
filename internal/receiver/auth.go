package receiver

import (
	"bytes"
	"sync/atomic"

	"firestige.xyz/trapd/internal/config"
	"firestige.xyz/trapd/internal/core"
)

// Suppression reasons, used as the `reason` label of
// trapd_traps_suppressed_total.
const (
	ReasonCommunity = "community"
	ReasonEngineID  = "engine_id"

	ReasonDuplicateInform = "duplicate_inform"
)

type policy struct {
	disabled    bool
	communities map[string]struct{} // nil admits every community
	engineID    []byte              // nil admits every engine
}

// Authorizer decides whether a decoded trap is passed on to the sinks.
// The policy can be swapped while the receive loop is running.
type Authorizer struct {
	policy atomic.Pointer[policy]
}

func NewAuthorizer(cfg config.ReceiverConfig) (*Authorizer, error) {
	a := &Authorizer{}
	if err := a.Update(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Update replaces the policy with the one described by cfg.
func (a *Authorizer) Update(cfg config.ReceiverConfig) error {
	engineID, err := cfg.EngineIDBytes()
	if err != nil {
		return err
	}
	p := &policy{
		disabled: cfg.DisableAuthorization,
		engineID: engineID,
	}
	if len(cfg.CommunityAllowList) > 0 {
		p.communities = make(map[string]struct{}, len(cfg.CommunityAllowList))
		for _, c := range cfg.CommunityAllowList {
			p.communities[c] = struct{}{}
		}
	}
	a.policy.Store(p)
	return nil
}

// Authorize returns true when t may be emitted. Otherwise it returns the
// suppression reason.
func (a *Authorizer) Authorize(t *core.Trap) (string, bool) {
	p := a.policy.Load()
	if p.disabled {
		return "", true
	}
	switch t.Version {
	case core.V3:
		if p.engineID == nil {
			return "", true
		}
		if t.V3 == nil || !bytes.Equal(t.V3.EngineID, p.engineID) {
			return ReasonEngineID, false
		}
		return "", true
	default:
		if p.communities == nil {
			return "", true
		}
		if _, ok := p.communities[t.Community]; !ok {
			return ReasonCommunity, false
		}
		return "", true
	}
}
