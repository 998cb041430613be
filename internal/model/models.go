package model

import (
	"fmt"
	"net/netip"
	"strings"
)

const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv6 uint16 = 0x86dd

	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

type SwitchID string

type Action string // "permit", "deny"

const (
	Permit Action = "permit"
	Deny   Action = "deny"
)

// ParseAction accepts the FortiGate spellings as well.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "permit", "accept", "allow":
		return Permit, nil
	case "deny", "drop":
		return Deny, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Address is an IPv4 prefix. The zero value matches any address.
type Address struct {
	prefix netip.Prefix
}

var AnyAddress = Address{}

// ParseAddress accepts "any", a bare IPv4 address (treated as /32) or an IPv4 CIDR.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "any") || strings.EqualFold(s, "all") {
		return AnyAddress, nil
	}
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
		}
		return AddressFromPrefix(netip.PrefixFrom(addr, addr.BitLen()))
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid prefix %q: %w", s, err)
	}
	return AddressFromPrefix(prefix)
}

// AddressFromPrefix masks the prefix; 0.0.0.0/0 becomes AnyAddress.
func AddressFromPrefix(p netip.Prefix) (Address, error) {
	if !p.IsValid() {
		return Address{}, fmt.Errorf("invalid prefix %s", p)
	}
	if !p.Addr().Unmap().Is4() {
		return Address{}, fmt.Errorf("prefix %s is not IPv4", p)
	}
	p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()).Masked()
	if p.Bits() == 0 {
		return AnyAddress, nil
	}
	return Address{prefix: p}, nil
}

func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) IsAny() bool { return !a.prefix.IsValid() }

func (a Address) Prefix() netip.Prefix { return a.prefix }

// Bits is the prefix length, 0 for any.
func (a Address) Bits() int {
	if a.IsAny() {
		return 0
	}
	return a.prefix.Bits()
}

func (a Address) Contains(ip netip.Addr) bool {
	if a.IsAny() {
		return true
	}
	return ip.IsValid() && a.prefix.Contains(ip.Unmap())
}

func (a Address) Overlaps(b Address) bool {
	if a.IsAny() || b.IsAny() {
		return true
	}
	return a.prefix.Overlaps(b.prefix)
}

func (a Address) Equal(b Address) bool { return a.prefix == b.prefix }

func (a Address) String() string {
	if a.IsAny() {
		return "any"
	}
	return a.prefix.String()
}

type TrafficKind int

const (
	TrafficAny TrafficKind = iota
	TrafficEtherType
	TrafficIPProtocol
)

// TrafficClass is {Any, EtherType(v), IPProtocol(v)}.
type TrafficClass struct {
	Kind  TrafficKind
	Value uint16
}

func AnyTraffic() TrafficClass { return TrafficClass{Kind: TrafficAny} }

func EtherType(v uint16) TrafficClass { return TrafficClass{Kind: TrafficEtherType, Value: v} }

func IPProtocol(v uint8) TrafficClass {
	return TrafficClass{Kind: TrafficIPProtocol, Value: uint16(v)}
}

// FieldCount is the number of header fields the class constrains.
func (t TrafficClass) FieldCount() int {
	switch t.Kind {
	case TrafficEtherType:
		return 1
	case TrafficIPProtocol:
		return 2
	default:
		return 0
	}
}

func (t TrafficClass) String() string {
	switch t.Kind {
	case TrafficEtherType:
		return fmt.Sprintf("ether:0x%04x", t.Value)
	case TrafficIPProtocol:
		return fmt.Sprintf("ip:%d", t.Value)
	default:
		return "any"
	}
}

// Predicate is a conjunction of field constraints. Zero values are wildcards, so
// IP protocol 0 cannot be matched explicitly.
type Predicate struct {
	EtherType  uint16
	IPProtocol uint8
	Src        Address
	Dst        Address
}

func (p Predicate) IsAny() bool {
	return p.EtherType == 0 && p.IPProtocol == 0 && p.Src.IsAny() && p.Dst.IsAny()
}

// EffectiveEtherType includes the IPv4 ether type implied by IP-layer constraints.
func (p Predicate) EffectiveEtherType() uint16 {
	if p.EtherType != 0 {
		return p.EtherType
	}
	if p.IPProtocol != 0 || !p.Src.IsAny() || !p.Dst.IsAny() {
		return EtherTypeIPv4
	}
	return 0
}

func (p Predicate) String() string {
	var parts []string
	if p.EtherType != 0 {
		parts = append(parts, fmt.Sprintf("dl_type=0x%04x", p.EtherType))
	}
	if p.IPProtocol != 0 {
		parts = append(parts, fmt.Sprintf("nw_proto=%d", p.IPProtocol))
	}
	if !p.Src.IsAny() {
		parts = append(parts, "nw_src="+p.Src.String())
	}
	if !p.Dst.IsAny() {
		parts = append(parts, "nw_dst="+p.Dst.String())
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, ",")
}

type PolicyRule struct {
	ID      string
	Source  Address
	Dest    Address
	Traffic TrafficClass
	Action  Action
}

// Predicate converts the rule's classes into a match predicate.
func (r PolicyRule) Predicate() Predicate {
	p := Predicate{Src: r.Source, Dst: r.Dest}
	switch r.Traffic.Kind {
	case TrafficEtherType:
		p.EtherType = r.Traffic.Value
	case TrafficIPProtocol:
		p.EtherType = EtherTypeIPv4
		p.IPProtocol = uint8(r.Traffic.Value)
	}
	return p
}

func (r PolicyRule) IsCatchAll() bool {
	return r.Source.IsAny() && r.Dest.IsAny() && r.Traffic.Kind == TrafficAny
}

// Specificity orders rules lexicographically: constrained field count, traffic class
// field count, source prefix length, destination prefix length.
type Specificity struct {
	Fields        int
	TrafficFields int
	SourceBits    int
	DestBits      int
}

func (r PolicyRule) Specificity() Specificity {
	s := Specificity{
		TrafficFields: r.Traffic.FieldCount(),
		SourceBits:    r.Source.Bits(),
		DestBits:      r.Dest.Bits(),
	}
	// An address already pins the ether type to IPv4.
	if r.Traffic == EtherType(EtherTypeIPv4) && (!r.Source.IsAny() || !r.Dest.IsAny()) {
		s.TrafficFields = 0
	}
	s.Fields = s.TrafficFields
	if !r.Source.IsAny() {
		s.Fields++
	}
	if !r.Dest.IsAny() {
		s.Fields++
	}
	return s
}

// Compare returns -1, 0 or 1.
func (s Specificity) Compare(o Specificity) int {
	for _, d := range [...]int{
		s.Fields - o.Fields,
		s.TrafficFields - o.TrafficFields,
		s.SourceBits - o.SourceBits,
		s.DestBits - o.DestBits,
	} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}

const DefaultRuleID = "default"

type CompiledEntry struct {
	RuleID      string
	Match       Predicate
	Action      Action
	Priority    uint16
	Synthesized bool
}

func (e CompiledEntry) String() string {
	return fmt.Sprintf("priority=%d,%s actions=%s rule=%s", e.Priority, e.Match, e.Action, e.RuleID)
}

// PacketDescriptor carries the header fields policy can reference. Absent fields are
// zero values.
type PacketDescriptor struct {
	EtherType  uint16
	IPProtocol uint8
	Src        netip.Addr
	Dst        netip.Addr
}

// Complete reports whether every field implied by the ether type is present.
func (p PacketDescriptor) Complete() bool {
	if p.EtherType == 0 {
		return false
	}
	if p.EtherType == EtherTypeIPv4 {
		return p.IPProtocol != 0 && p.Src.IsValid() && p.Dst.IsValid()
	}
	return true
}

func (p PacketDescriptor) String() string {
	return fmt.Sprintf("ether_type=0x%04x ip_proto=%d src=%s dst=%s", p.EtherType, p.IPProtocol, addrString(p.Src), addrString(p.Dst))
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return "-"
	}
	return a.String()
}

// SimulationResult is the outcome of evaluating one packet against a compiled table.
type SimulationResult struct {
	Switch        SwitchID
	Role          Role
	Packet        PacketDescriptor
	Decision      string // "ALLOW", "DENY"
	MatchedRuleID string
	Priority      uint16
	Reason        string
}
