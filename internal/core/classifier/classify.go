// Package classifier maps a decoded trap to a human-readable trap name.
package classifier

import "firestige.xyz/trapd/internal/core"

const (
	NameEnterpriseSpecific = "EnterpriseSpecific"
	NameUnknown            = "Unknown Trap Type"
)

// SNMPTrapOID is snmpTrapOID.0, the varbind that carries the notification
// identity in SNMPv2-Trap and InformRequest PDUs.
const SNMPTrapOID = "1.3.6.1.6.3.1.1.4.1.0"

// genericNames is indexed by the v1 generic-trap field.
var genericNames = [...]string{
	"ColdStart",
	"WarmStart",
	"LinkDown",
	"LinkUp",
	"AuthenticationFailure",
	"EGPNeighborLoss",
}

// standardTraps are the snmpTraps notifications of SNMPv2-MIB and IF-MIB.
var standardTraps = map[string]string{
	"1.3.6.1.6.3.1.1.5.1": "ColdStart",
	"1.3.6.1.6.3.1.1.5.2": "WarmStart",
	"1.3.6.1.6.3.1.1.5.3": "LinkDown",
	"1.3.6.1.6.3.1.1.5.4": "LinkUp",
	"1.3.6.1.6.3.1.1.5.5": "AuthenticationFailure",
	"1.3.6.1.6.3.1.1.5.6": "EGPNeighborLoss",
}

// Classifier names traps.
//
// v1 traps are named from the generic-trap field. For v2c and v3 the first
// varbind's OID is looked up. With ResolveTrapOID set, a trap whose first
// varbind does not match is looked up again by the value of its
// snmpTrapOID.0 varbind, which is where RFC 3416 agents put it.
type Classifier struct {
	ResolveTrapOID bool
}

// Classify uses the zero Classifier.
func Classify(t *core.Trap) string {
	return Classifier{}.Classify(t)
}

func (c Classifier) Classify(t *core.Trap) string {
	if t == nil {
		return NameUnknown
	}
	if t.IsV1Trap() {
		return GenericName(t.GenericTrap)
	}

	if len(t.Varbinds) == 0 {
		return NameUnknown
	}
	if name, ok := standardTraps[t.Varbinds[0].OID]; ok {
		return name
	}
	if c.ResolveTrapOID {
		for _, vb := range t.Varbinds {
			if vb.OID != SNMPTrapOID || vb.Value.Type != core.TypeObjectIdentifier {
				continue
			}
			if name, ok := standardTraps[vb.Value.OID]; ok {
				return name
			}
			break
		}
	}
	return NameUnknown
}

// GenericName returns the name of a v1 generic-trap code.
func GenericName(generic int) string {
	if generic >= 0 && generic < len(genericNames) {
		return genericNames[generic]
	}
	return NameEnterpriseSpecific
}

// TrapOIDName returns the name of a standard notification OID.
func TrapOIDName(oid string) (string, bool) {
	name, ok := standardTraps[oid]
	return name, ok
}
