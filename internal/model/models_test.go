package model

import (
	"errors"
	"net/netip"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		bits    int
		wantErr bool
	}{
		{"any", "any", 0, false},
		{"", "any", 0, false},
		{"0.0.0.0/0", "any", 0, false},
		{"10.0.1.10", "10.0.1.10/32", 32, false},
		{"10.0.1.77/24", "10.0.1.0/24", 24, false},
		{"2001:db8::1", "", 0, true},
		{"10.0.0.300", "", 0, true},
		{"10.0.0.0/33", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tt.in, err)
			}
			if got.String() != tt.want || got.Bits() != tt.bits {
				t.Fatalf("ParseAddress(%q) = %s/%d bits, want %s/%d", tt.in, got, got.Bits(), tt.want, tt.bits)
			}
		})
	}
}

func TestAddressContainsAndOverlaps(t *testing.T) {
	net24 := MustParseAddress("10.0.1.0/24")
	host := MustParseAddress("10.0.1.10")
	other := MustParseAddress("10.0.2.0/24")

	if !net24.Contains(netip.MustParseAddr("10.0.1.200")) {
		t.Error("expected /24 to contain 10.0.1.200")
	}
	if net24.Contains(netip.Addr{}) {
		t.Error("an absent address must not be contained")
	}
	if !AnyAddress.Contains(netip.Addr{}) {
		t.Error("any contains every address, present or not")
	}
	if !net24.Overlaps(host) || !host.Overlaps(net24) {
		t.Error("expected /24 and its host to overlap")
	}
	if net24.Overlaps(other) {
		t.Error("expected disjoint prefixes not to overlap")
	}
	if !AnyAddress.Overlaps(other) {
		t.Error("expected any to overlap everything")
	}
}

func TestPredicateEffectiveEtherType(t *testing.T) {
	tests := []struct {
		name string
		p    Predicate
		want uint16
	}{
		{"any", Predicate{}, 0},
		{"arp", Predicate{EtherType: EtherTypeARP}, EtherTypeARP},
		{"protocol implies ipv4", Predicate{IPProtocol: ProtoICMP}, EtherTypeIPv4},
		{"address implies ipv4", Predicate{Dst: MustParseAddress("10.0.4.10")}, EtherTypeIPv4},
	}
	for _, tt := range tests {
		if got := tt.p.EffectiveEtherType(); got != tt.want {
			t.Errorf("%s: expected 0x%04x, got 0x%04x", tt.name, tt.want, got)
		}
	}
}

func TestSpecificityOrdering(t *testing.T) {
	untrustedICMP := PolicyRule{Source: MustParseAddress("172.16.10.100"), Traffic: IPProtocol(ProtoICMP)}
	untrustedServer := PolicyRule{Source: MustParseAddress("172.16.10.100"), Dest: MustParseAddress("10.0.4.10")}
	icmp := PolicyRule{Traffic: IPProtocol(ProtoICMP)}
	arp := PolicyRule{Traffic: EtherType(EtherTypeARP)}
	wideSource := PolicyRule{Source: MustParseAddress("172.16.0.0/16")}
	narrowSource := PolicyRule{Source: MustParseAddress("172.16.10.0/24")}
	catchAll := PolicyRule{}

	ordered := []PolicyRule{untrustedICMP, icmp, untrustedServer, arp, narrowSource, wideSource, catchAll}
	for i := 0; i+1 < len(ordered); i++ {
		a, b := ordered[i].Specificity(), ordered[i+1].Specificity()
		if a.Compare(b) != 1 || b.Compare(a) != -1 {
			t.Errorf("expected %+v to outrank %+v", a, b)
		}
	}
	if got := icmp.Specificity(); got != (Specificity{Fields: 2, TrafficFields: 2}) {
		t.Errorf("unexpected ICMP specificity %+v", got)
	}
	if catchAll.Specificity().Compare(Specificity{}) != 0 || !catchAll.IsCatchAll() {
		t.Error("expected the all-any rule to have zero specificity")
	}
}

func TestSpecificityIgnoresImpliedEtherType(t *testing.T) {
	src := MustParseAddress("172.16.10.100")
	implied := PolicyRule{Source: src}
	explicit := PolicyRule{Source: src, Traffic: EtherType(EtherTypeIPv4)}

	if implied.Predicate().EffectiveEtherType() != explicit.Predicate().EffectiveEtherType() {
		t.Fatal("expected both rules to match the same packets")
	}
	if got := explicit.Specificity().Compare(implied.Specificity()); got != 0 {
		t.Errorf("expected equal specificity for identical predicates, got %d", got)
	}
	if got := (PolicyRule{Traffic: EtherType(EtherTypeIPv4)}).Specificity(); got != (Specificity{Fields: 1, TrafficFields: 1}) {
		t.Errorf("unexpected specificity for a bare ipv4 rule %+v", got)
	}
}

func TestPacketDescriptorComplete(t *testing.T) {
	src, dst := netip.MustParseAddr("10.0.1.10"), netip.MustParseAddr("10.0.2.20")
	tests := []struct {
		name string
		pkt  PacketDescriptor
		want bool
	}{
		{"no ether type", PacketDescriptor{}, false},
		{"arp", PacketDescriptor{EtherType: EtherTypeARP}, true},
		{"full ipv4", PacketDescriptor{EtherType: EtherTypeIPv4, IPProtocol: ProtoTCP, Src: src, Dst: dst}, true},
		{"ipv4 without protocol", PacketDescriptor{EtherType: EtherTypeIPv4, Src: src, Dst: dst}, false},
		{"ipv4 without destination", PacketDescriptor{EtherType: EtherTypeIPv4, IPProtocol: ProtoTCP, Src: src}, false},
	}
	for _, tt := range tests {
		if got := tt.pkt.Complete(); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{HostEdgeRole("h10"), AggregationRole(), DatacenterEdgeRole()} {
		got, err := ParseRole(role.String())
		if err != nil || got != role {
			t.Errorf("ParseRole(%q) = %v, %v", role.String(), got, err)
		}
	}
	for _, bad := range []string{"host-edge", "host-edge()", "core", "aggregation(x)"} {
		if _, err := ParseRole(bad); err == nil {
			t.Errorf("expected an error for %q", bad)
		}
	}
	if AggregationRole().DefaultAction() != Permit || HostEdgeRole("h10").DefaultAction() != Deny {
		t.Error("unexpected role default actions")
	}
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{"permit": Permit, "ACCEPT": Permit, "allow": Permit, "deny": Deny, " drop ": Deny} {
		if got, err := ParseAction(in); err != nil || got != want {
			t.Errorf("ParseAction(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseAction("ipsec"); err == nil {
		t.Error("expected an error for an unknown action")
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := errors.New("broken pipe")
	tests := []struct {
		err  error
		want error
	}{
		{&UnknownSwitchError{Switch: "99"}, ErrUnknownSwitch},
		{&AmbiguousPolicyError{Role: AggregationRole(), RuleA: "a", RuleB: "b"}, ErrAmbiguousPolicy},
		{&MalformedPredicateError{Rule: "r", Reason: "x"}, ErrMalformedPredicate},
		{&InstallationFailedError{Role: AggregationRole(), Switch: "21", FailedIndex: 2, Err: cause}, ErrInstallationFailed},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%T: expected errors.Is(%v)", tt.err, tt.want)
		}
	}
	if !errors.Is(tests[3].err, cause) {
		t.Error("expected InstallationFailedError to unwrap to its cause")
	}

	var v ValidationBuilder
	if v.Build() != nil {
		t.Error("expected nil from an empty builder")
	}
	v.AddErrorf("role %s missing", "x").AddErrorf("switch %d duplicated", 1)
	if err := v.Build(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}
