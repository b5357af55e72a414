// Package core defines core types.
package core

// Labels represents key-value metadata attached to an emitted event.
type Labels map[string]string

// Label naming constants following the {protocol}.{field} convention.
const (
	LabelSNMPVersion   = "snmp.version"
	LabelSNMPPDUType   = "snmp.pdu_type"
	LabelSNMPTrapName  = "snmp.trap_name"
	LabelSNMPSource    = "snmp.source"
	LabelSNMPCommunity = "snmp.community"
	LabelSNMPUser      = "snmp.user"
)

// EventLabels derives the label set of an event. Community and user labels
// are only present when the trap still carries them.
func EventLabels(ev Event) Labels {
	l := Labels{
		LabelSNMPTrapName: ev.Name,
	}
	if ev.Trap == nil {
		return l
	}
	l[LabelSNMPVersion] = ev.Trap.Version.String()
	l[LabelSNMPPDUType] = ev.Trap.PDUType.String()
	if ev.Trap.Source.IsValid() {
		l[LabelSNMPSource] = ev.Trap.Source.String()
	}
	if ev.Trap.Community != "" {
		l[LabelSNMPCommunity] = ev.Trap.Community
	}
	if ev.Trap.V3 != nil && ev.Trap.V3.UserName != "" {
		l[LabelSNMPUser] = ev.Trap.V3.UserName
	}
	return l
}
