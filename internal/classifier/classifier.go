// Package classifier evaluates match predicates against packet descriptors.
//
// Predicates are validated once, when policy is loaded or compiled. Matches never
// fails: a predicate that reached the match path is known to be well formed.
package classifier

import (
	"fmt"

	"flow-policy-controller/internal/model"
)

// Matches reports whether pkt satisfies every constrained field of p. A constrained
// field is never satisfied by an absent packet field.
func Matches(p model.Predicate, pkt model.PacketDescriptor) bool {
	if eth := p.EffectiveEtherType(); eth != 0 && pkt.EtherType != eth {
		return false
	}
	if p.IPProtocol != 0 && pkt.IPProtocol != p.IPProtocol {
		return false
	}
	if !p.Src.IsAny() && !p.Src.Contains(pkt.Src) {
		return false
	}
	if !p.Dst.IsAny() && !p.Dst.Contains(pkt.Dst) {
		return false
	}
	return true
}

// Validate rejects IP-layer constraints combined with an ether type that does not
// carry IPv4.
func Validate(p model.Predicate) error {
	if p.EtherType == 0 || p.EtherType == model.EtherTypeIPv4 {
		return nil
	}
	if p.IPProtocol != 0 {
		return &model.MalformedPredicateError{
			Reason: fmt.Sprintf("ip protocol %d requested on ether type 0x%04x", p.IPProtocol, p.EtherType),
		}
	}
	if !p.Src.IsAny() || !p.Dst.IsAny() {
		return &model.MalformedPredicateError{
			Reason: fmt.Sprintf("IPv4 address constraint requested on ether type 0x%04x", p.EtherType),
		}
	}
	return nil
}

// Overlaps reports whether some packet could match both predicates.
func Overlaps(a, b model.Predicate) bool {
	ea, eb := a.EffectiveEtherType(), b.EffectiveEtherType()
	if ea != 0 && eb != 0 && ea != eb {
		return false
	}
	if a.IPProtocol != 0 && b.IPProtocol != 0 && a.IPProtocol != b.IPProtocol {
		return false
	}
	return a.Src.Overlaps(b.Src) && a.Dst.Overlaps(b.Dst)
}
