// Package openflow encodes compiled entries as OpenFlow 1.3 flow-mod messages.
// Session establishment and the receive loop belong to the transport; this package
// only produces the bytes for the outbound half.
package openflow

import (
	"net"

	"github.com/cespare/xxhash/v2"
	"github.com/contiv/libOpenflow/openflow13"

	"flow-policy-controller/internal/model"
)

// TableID is the flow table policy entries are written to.
const TableID uint8 = 0

// Cookie identifies the rule an entry came from in switch flow dumps.
func Cookie(ruleID string) uint64 {
	return xxhash.Sum64String(ruleID)
}

// NewFlowMod translates one entry into an add flow-mod. Permit floods; deny carries
// no instructions, which the switch treats as drop.
func NewFlowMod(entry model.CompiledEntry) *openflow13.FlowMod {
	flowMod := openflow13.NewFlowMod()
	flowMod.TableId = TableID
	flowMod.Command = openflow13.FC_ADD
	flowMod.Priority = entry.Priority
	flowMod.Cookie = Cookie(entry.RuleID)
	flowMod.Match = xlateMatch(entry.Match)

	if entry.Action == model.Permit {
		instr := openflow13.NewInstrApplyActions()
		instr.AddAction(openflow13.NewActionOutput(openflow13.P_FLOOD), false)
		flowMod.AddInstruction(instr)
	}
	return flowMod
}

// xlateMatch always sets the ether type when an IP field is present; OpenFlow
// rejects IP match fields without that prerequisite.
func xlateMatch(p model.Predicate) openflow13.Match {
	ofMatch := openflow13.NewMatch()

	if eth := p.EffectiveEtherType(); eth != 0 {
		ofMatch.AddField(*openflow13.NewEthTypeField(eth))
	}
	if p.IPProtocol != 0 {
		ofMatch.AddField(*openflow13.NewIpProtoField(p.IPProtocol))
	}
	if !p.Src.IsAny() {
		ip, mask := ipAndMask(p.Src)
		ofMatch.AddField(*openflow13.NewIpv4SrcField(ip, mask))
	}
	if !p.Dst.IsAny() {
		ip, mask := ipAndMask(p.Dst)
		ofMatch.AddField(*openflow13.NewIpv4DstField(ip, mask))
	}
	return *ofMatch
}

// ipAndMask returns a nil mask for host addresses.
func ipAndMask(a model.Address) (net.IP, *net.IP) {
	prefix := a.Prefix()
	ip := net.IP(prefix.Addr().AsSlice())
	if prefix.Bits() == 32 {
		return ip, nil
	}
	mask := net.IP(net.CIDRMask(prefix.Bits(), 32))
	return ip, &mask
}
