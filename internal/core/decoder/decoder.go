// Package decoder implements the BER codec for SNMP trap messages
// (RFC 1157, RFC 3416, RFC 3412/3414).
package decoder

import (
	"net/netip"

	"firestige.xyz/trapd/internal/core"
)

const (
	wireV1  = 0
	wireV2c = 1
	wireV3  = 3

	usmSecurityModel = 3
)

// Decode parses one UDP payload into a Trap. It either returns a fully
// populated Trap or a *DecodeError, never both. Source and ReceivedAt are
// left for the caller to fill in.
func Decode(b []byte) (*core.Trap, error) {
	if len(b) == 0 {
		return nil, newError(Truncated, 0, "empty datagram")
	}

	outer := newReader(b)
	msg, err := outer.expect(tagSequence, "message")
	if err != nil {
		return nil, err
	}
	if err := noTrailing(outer, "message"); err != nil {
		return nil, err
	}
	r := msg.reader()

	versionOffset := r.offset()
	version, err := r.readInt("version")
	if err != nil {
		return nil, err
	}

	trap := &core.Trap{}
	switch version {
	case wireV1:
		trap.Version = core.V1
		err = decodeCommunityMessage(r, trap)
	case wireV2c:
		trap.Version = core.V2c
		err = decodeCommunityMessage(r, trap)
	case wireV3:
		trap.Version = core.V3
		err = decodeV3Message(r, trap)
	default:
		return nil, newError(UnsupportedVersion, versionOffset, "version %d", version)
	}
	if err != nil {
		return nil, err
	}
	return trap, nil
}

func decodeCommunityMessage(r *berReader, trap *core.Trap) error {
	community, err := r.readOctets("community")
	if err != nil {
		return err
	}
	trap.Community = string(community)

	pdu, err := r.next("pdu")
	if err != nil {
		return err
	}
	if err := decodePDU(pdu, trap); err != nil {
		return err
	}
	return noTrailing(r, "pdu")
}

func decodeV3Message(r *berReader, trap *core.Trap) error {
	global, err := r.expect(tagSequence, "msgGlobalData")
	if err != nil {
		return err
	}
	h := &core.V3Header{}
	gr := global.reader()
	if h.MsgID, err = gr.readInt("msgID"); err != nil {
		return err
	}
	if h.MaxSize, err = gr.readInt("msgMaxSize"); err != nil {
		return err
	}
	flags, err := gr.expect(tagOctetString, "msgFlags")
	if err != nil {
		return err
	}
	if len(flags.body) != 1 {
		return newError(InvalidLength, flags.offset, "msgFlags of %d octets", len(flags.body))
	}
	h.Flags = flags.body[0]
	if h.SecurityModel, err = gr.readInt("msgSecurityModel"); err != nil {
		return err
	}
	if err := noTrailing(gr, "msgGlobalData"); err != nil {
		return err
	}

	secParams, err := r.expect(tagOctetString, "msgSecurityParameters")
	if err != nil {
		return err
	}
	if h.SecurityModel == usmSecurityModel && len(secParams.body) > 0 {
		if err := decodeUSM(secParams.reader(), h); err != nil {
			return err
		}
	}

	if h.Flags&core.V3FlagPriv != 0 {
		return newError(UnsupportedVersion, r.offset(), "encrypted scoped PDU")
	}

	scoped, err := r.expect(tagSequence, "scopedPDU")
	if err != nil {
		return err
	}
	sr := scoped.reader()
	engineID, err := sr.readOctets("contextEngineID")
	if err != nil {
		return err
	}
	h.ContextEngineID = engineID
	name, err := sr.readOctets("contextName")
	if err != nil {
		return err
	}
	h.ContextName = string(name)
	trap.V3 = h

	pdu, err := sr.next("pdu")
	if err != nil {
		return err
	}
	if err := decodePDU(pdu, trap); err != nil {
		return err
	}
	if err := noTrailing(sr, "pdu"); err != nil {
		return err
	}
	return noTrailing(r, "scopedPDU")
}

func decodeUSM(r *berReader, h *core.V3Header) error {
	usm, err := r.expect(tagSequence, "usmSecurityParameters")
	if err != nil {
		return err
	}
	ur := usm.reader()
	engineID, err := ur.readOctets("msgAuthoritativeEngineID")
	if err != nil {
		return err
	}
	h.EngineID = engineID
	if h.EngineBoots, err = ur.readInt("msgAuthoritativeEngineBoots"); err != nil {
		return err
	}
	if h.EngineTime, err = ur.readInt("msgAuthoritativeEngineTime"); err != nil {
		return err
	}
	user, err := ur.readOctets("msgUserName")
	if err != nil {
		return err
	}
	h.UserName = string(user)
	if _, err := ur.readOctets("msgAuthenticationParameters"); err != nil {
		return err
	}
	if _, err := ur.readOctets("msgPrivacyParameters"); err != nil {
		return err
	}
	if err := noTrailing(ur, "msgPrivacyParameters"); err != nil {
		return err
	}
	return noTrailing(r, "usmSecurityParameters")
}

// decodePDU checks the PDU tag against the message version and decodes
// the matching layout.
func decodePDU(pdu element, trap *core.Trap) error {
	t := core.PDUType(pdu.tag)
	switch {
	case trap.Version == core.V1 && t == core.PDUTrap:
		trap.PDUType = t
		return decodeV1Trap(pdu.reader(), trap)
	case trap.Version != core.V1 && (t == core.PDUTrapV2 || t == core.PDUInformRequest):
		trap.PDUType = t
		return decodeV2Trap(pdu.reader(), trap)
	default:
		return newError(InvalidTag, pdu.offset, "pdu tag 0x%02x is not a %s notification", pdu.tag, trap.Version)
	}
}

func decodeV1Trap(r *berReader, trap *core.Trap) error {
	var err error
	if trap.Enterprise, err = r.readOID("enterprise"); err != nil {
		return err
	}

	agent, err := r.expect(tagIPAddress, "agent-addr")
	if err != nil {
		return err
	}
	if trap.AgentAddress, err = parseIP(agent, "agent-addr"); err != nil {
		return err
	}

	generic, err := r.readInt("generic-trap")
	if err != nil {
		return err
	}
	trap.GenericTrap = int(generic)

	specific, err := r.readInt("specific-trap")
	if err != nil {
		return err
	}
	trap.SpecificTrap = int(specific)

	ts, err := r.expect(tagTimeTicks, "time-stamp")
	if err != nil {
		return err
	}
	ticks, err := parseUint(ts, 4, "time-stamp")
	if err != nil {
		return err
	}
	trap.Timestamp = uint32(ticks)

	if trap.Varbinds, err = decodeVarbinds(r); err != nil {
		return err
	}
	return noTrailing(r, "varbind list")
}

func decodeV2Trap(r *berReader, trap *core.Trap) error {
	var err error
	if trap.RequestID, err = r.readInt("request-id"); err != nil {
		return err
	}
	if trap.ErrorStatus, err = r.readInt("error-status"); err != nil {
		return err
	}
	if trap.ErrorIndex, err = r.readInt("error-index"); err != nil {
		return err
	}
	if trap.Varbinds, err = decodeVarbinds(r); err != nil {
		return err
	}
	return noTrailing(r, "varbind list")
}

// decodeVarbinds preserves wire order.
func decodeVarbinds(r *berReader) ([]core.Varbind, error) {
	list, err := r.expect(tagSequence, "varbind list")
	if err != nil {
		return nil, err
	}

	varbinds := []core.Varbind{}
	lr := list.reader()
	for !lr.empty() {
		vb, err := lr.expect(tagSequence, "varbind")
		if err != nil {
			return nil, err
		}
		vr := vb.reader()
		oid, err := vr.readOID("varbind name")
		if err != nil {
			return nil, err
		}
		raw, err := vr.next("varbind value")
		if err != nil {
			return nil, err
		}
		value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		if !vr.empty() {
			return nil, newError(InvalidLength, vr.offset(), "trailing octets in varbind %s", oid)
		}
		varbinds = append(varbinds, core.Varbind{OID: oid, Value: value})
	}
	return varbinds, nil
}

// noTrailing rejects octets left in r after its last expected element.
func noTrailing(r *berReader, after string) error {
	if !r.empty() {
		return newError(InvalidLength, r.offset(), "trailing octets after %s", after)
	}
	return nil
}

func parseIP(e element, what string) (netip.Addr, error) {
	switch len(e.body) {
	case 4:
		return netip.AddrFrom4([4]byte(e.body)), nil
	case 16:
		return netip.AddrFrom16([16]byte(e.body)), nil
	default:
		return netip.Addr{}, newError(InvalidLength, e.offset, "%s of %d octets", what, len(e.body))
	}
}
