package engine

import (
	"errors"
	"iter"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"

	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/policy"
	"flow-policy-controller/internal/registry"
)

var (
	h10      = model.MustParseAddress("10.0.1.10")
	h20      = model.MustParseAddress("10.0.2.20")
	h30      = model.MustParseAddress("10.0.3.30")
	serv1    = model.MustParseAddress("10.0.4.10")
	hnotrust = model.MustParseAddress("172.16.10.100")
)

func campusRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		[]registry.RoleSpec{
			{Role: model.HostEdgeRole("h10"), Addresses: []model.Address{h10}},
			{Role: model.HostEdgeRole("h20"), Addresses: []model.Address{h20}},
			{Role: model.HostEdgeRole("h30"), Addresses: []model.Address{h30}},
			{Role: model.AggregationRole()},
			{Role: model.DatacenterEdgeRole(), Addresses: []model.Address{serv1}},
		},
		[]registry.SwitchBinding{
			{Switch: "1", Role: model.HostEdgeRole("h10")},
			{Switch: "2", Role: model.HostEdgeRole("h20")},
			{Switch: "3", Role: model.HostEdgeRole("h30")},
			{Switch: "21", Role: model.AggregationRole()},
			{Switch: "31", Role: model.DatacenterEdgeRole()},
		},
	)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func campusRules() []model.PolicyRule {
	return []model.PolicyRule{
		{ID: "permit-arp", Traffic: model.EtherType(model.EtherTypeARP), Action: model.Permit},
		{ID: "permit-ipv4", Traffic: model.EtherType(model.EtherTypeIPv4), Action: model.Permit},
		{ID: "deny-untrusted-icmp", Source: hnotrust, Traffic: model.IPProtocol(model.ProtoICMP), Action: model.Deny},
		{ID: "deny-untrusted-server", Source: hnotrust, Dest: serv1, Action: model.Deny},
	}
}

func newCompiler(t *testing.T, reg *registry.Registry, rules []model.PolicyRule) *Compiler {
	t.Helper()
	pol, err := policy.New(rules)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	return NewCompiler(reg, pol)
}

func ruleIDs(entries []model.CompiledEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.RuleID
	}
	return ids
}

func TestCompileICMPAndARPBeforeDefaultDeny(t *testing.T) {
	compiler := newCompiler(t, campusRegistry(t), []model.PolicyRule{
		{ID: "arp", Traffic: model.EtherType(model.EtherTypeARP), Action: model.Permit},
		{ID: "icmp", Traffic: model.IPProtocol(model.ProtoICMP), Action: model.Permit},
	})

	for _, host := range []string{"h10", "h20", "h30"} {
		t.Run(host, func(t *testing.T) {
			entries, err := compiler.Compile(model.HostEdgeRole(host))
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			want := []model.CompiledEntry{
				{RuleID: "icmp", Match: model.Predicate{EtherType: model.EtherTypeIPv4, IPProtocol: model.ProtoICMP}, Action: model.Permit, Priority: 2},
				{RuleID: "arp", Match: model.Predicate{EtherType: model.EtherTypeARP}, Action: model.Permit, Priority: 1},
				{RuleID: model.DefaultRuleID, Action: model.Deny, Priority: 0, Synthesized: true},
			}
			if diff := cmp.Diff(want, entries); diff != "" {
				t.Fatalf("unexpected entries (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileUntrustedICMPDenyOutranksPermits(t *testing.T) {
	compiler := newCompiler(t, campusRegistry(t), campusRules())

	entries, err := compiler.Compile(model.HostEdgeRole("h10"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	pkt := model.PacketDescriptor{
		EtherType:  model.EtherTypeIPv4,
		IPProtocol: model.ProtoICMP,
		Src:        netip.MustParseAddr("172.16.10.100"),
		Dst:        netip.MustParseAddr("10.0.1.10"),
	}
	hit, ok := NewEvaluator(entries).Match(pkt)
	if !ok {
		t.Fatalf("expected a matching entry for %s", pkt)
	}
	if hit.RuleID != "deny-untrusted-icmp" || hit.Action != model.Deny {
		t.Fatalf("expected deny-untrusted-icmp, got %s", hit)
	}
	for _, e := range entries {
		if e.Action == model.Permit && e.Priority >= hit.Priority {
			t.Fatalf("permit entry %s is not below the untrusted deny (priority %d)", e, hit.Priority)
		}
	}
}

func TestCompileProjection(t *testing.T) {
	compiler := newCompiler(t, campusRegistry(t), campusRules())

	tests := []struct {
		name string
		role model.Role
		want []string
	}{
		{
			name: "host edge drops server-only rule",
			role: model.HostEdgeRole("h10"),
			want: []string{"deny-untrusted-icmp", "permit-arp", "permit-ipv4", model.DefaultRuleID},
		},
		{
			name: "datacenter edge keeps server rule",
			role: model.DatacenterEdgeRole(),
			want: []string{"deny-untrusted-icmp", "deny-untrusted-server", "permit-arp", "permit-ipv4", model.DefaultRuleID},
		},
		{
			name: "aggregation keeps everything",
			role: model.AggregationRole(),
			want: []string{"deny-untrusted-icmp", "deny-untrusted-server", "permit-arp", "permit-ipv4", model.DefaultRuleID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := compiler.Compile(tt.role)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if diff := cmp.Diff(tt.want, ruleIDs(entries)); diff != "" {
				t.Fatalf("unexpected rule order (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileDefaultActionPerRole(t *testing.T) {
	compiler := newCompiler(t, campusRegistry(t), campusRules())

	tests := []struct {
		role model.Role
		want model.Action
	}{
		{model.HostEdgeRole("h20"), model.Deny},
		{model.DatacenterEdgeRole(), model.Deny},
		{model.AggregationRole(), model.Permit},
	}
	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			entries, err := compiler.Compile(tt.role)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			last := entries[len(entries)-1]
			if !last.Synthesized || last.Priority != 0 || last.Action != tt.want {
				t.Fatalf("expected synthesized %s catch-all at priority 0, got %s", tt.want, last)
			}
		})
	}
}

func TestCompileDefaultActionOverride(t *testing.T) {
	reg, err := registry.New(
		[]registry.RoleSpec{{Role: model.AggregationRole(), DefaultAction: model.Deny}},
		nil,
	)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	entries, err := newCompiler(t, reg, nil).Compile(model.AggregationRole())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != model.Deny {
		t.Fatalf("expected a single deny catch-all, got %v", entries)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	rules := campusRules()
	first := newCompiler(t, campusRegistry(t), rules)

	reversed := make([]model.PolicyRule, len(rules))
	for i, r := range rules {
		reversed[len(rules)-1-i] = r
	}
	second := newCompiler(t, campusRegistry(t), reversed)

	for _, role := range campusRegistry(t).Roles() {
		a, err := first.Compile(role)
		if err != nil {
			t.Fatalf("Compile(%s): %v", role, err)
		}
		b, err := first.Compile(role)
		if err != nil {
			t.Fatalf("Compile(%s): %v", role, err)
		}
		c, err := second.Compile(role)
		if err != nil {
			t.Fatalf("Compile(%s): %v", role, err)
		}
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("recompiling %s changed the table:\n%s", role, diff)
		}
		if diff := cmp.Diff(a, c); diff != "" {
			t.Fatalf("input order changed the table for %s:\n%s", role, diff)
		}
	}
}

func TestCompilePrioritiesUniqueAndDescending(t *testing.T) {
	compiler := newCompiler(t, campusRegistry(t), campusRules())
	entries, err := compiler.Compile(model.AggregationRole())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Priority >= entries[i-1].Priority {
			t.Fatalf("entry %d (%s) does not have a lower priority than entry %d (%s)", i, entries[i], i-1, entries[i-1])
		}
	}
}

func TestCompileAmbiguousPolicy(t *testing.T) {
	tests := []struct {
		name  string
		rules []model.PolicyRule
	}{
		{
			name: "same prefix length overlapping sources",
			rules: []model.PolicyRule{
				{ID: "a", Source: model.MustParseAddress("10.0.0.0/8"), Action: model.Permit},
				{ID: "b", Source: model.MustParseAddress("10.0.0.0/8"), Action: model.Deny},
			},
		},
		{
			name: "same action still ambiguous",
			rules: []model.PolicyRule{
				{ID: "a", Dest: h10, Traffic: model.IPProtocol(model.ProtoTCP), Action: model.Deny},
				{ID: "b", Dest: h10, Traffic: model.IPProtocol(model.ProtoTCP), Action: model.Deny},
			},
		},
		{
			name: "explicit ipv4 next to an address",
			rules: []model.PolicyRule{
				{ID: "a", Source: h10, Traffic: model.EtherType(model.EtherTypeIPv4), Action: model.Permit},
				{ID: "b", Source: h10, Action: model.Deny},
			},
		},
		{
			name: "two authored catch-alls",
			rules: []model.PolicyRule{
				{ID: "all-permit", Action: model.Permit},
				{ID: "all-deny", Action: model.Deny},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCompiler(t, campusRegistry(t), tt.rules).Compile(model.AggregationRole())
			if !errors.Is(err, model.ErrAmbiguousPolicy) {
				t.Fatalf("expected ErrAmbiguousPolicy, got %v", err)
			}
			var ambiguous *model.AmbiguousPolicyError
			if !errors.As(err, &ambiguous) || ambiguous.RuleA == ambiguous.RuleB {
				t.Fatalf("expected the two conflicting rules to be named, got %v", err)
			}
		})
	}
}

func TestCompileEqualSpecificityWithoutOverlapIsAccepted(t *testing.T) {
	compiler := newCompiler(t, campusRegistry(t), []model.PolicyRule{
		{ID: "h10-tcp", Source: h10, Traffic: model.IPProtocol(model.ProtoTCP), Action: model.Permit},
		{ID: "h20-tcp", Source: h20, Traffic: model.IPProtocol(model.ProtoTCP), Action: model.Deny},
		{ID: "h10-udp", Source: h10, Traffic: model.IPProtocol(model.ProtoUDP), Action: model.Deny},
	})
	entries, err := compiler.Compile(model.AggregationRole())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []string{"h10-tcp", "h10-udp", "h20-tcp", model.DefaultRuleID}
	if diff := cmp.Diff(want, ruleIDs(entries)); diff != "" {
		t.Fatalf("unexpected rule order (-want +got):\n%s", diff)
	}
}

func TestCompileAuthoredCatchAllReplacesDefault(t *testing.T) {
	compiler := newCompiler(t, campusRegistry(t), []model.PolicyRule{
		{ID: "allow-everything", Action: model.Permit},
		{ID: "deny-untrusted", Source: hnotrust, Action: model.Deny},
	})
	entries, err := compiler.Compile(model.HostEdgeRole("h10"))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []model.CompiledEntry{
		{RuleID: "deny-untrusted", Match: model.Predicate{Src: hnotrust}, Action: model.Deny, Priority: 1},
		{RuleID: "allow-everything", Action: model.Permit, Priority: 0},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%s", diff)
	}
}

func TestCompileMalformedPredicate(t *testing.T) {
	reg := campusRegistry(t)
	rules := staticRules{{ID: "arp-from-host", Source: h10, Traffic: model.EtherType(model.EtherTypeARP), Action: model.Deny}}

	_, err := NewCompiler(reg, rules).Compile(model.HostEdgeRole("h10"))
	if !errors.Is(err, model.ErrMalformedPredicate) {
		t.Fatalf("expected ErrMalformedPredicate, got %v", err)
	}
	var malformed *model.MalformedPredicateError
	if !errors.As(err, &malformed) || malformed.Rule != "arp-from-host" {
		t.Fatalf("expected the malformed rule to be named, got %v", err)
	}
}

func TestCompileTableCompleteness(t *testing.T) {
	reg := campusRegistry(t)
	compiler := newCompiler(t, reg, campusRules())

	hosts := []string{"10.0.1.10", "10.0.2.20", "10.0.3.30", "10.0.4.10", "172.16.10.100", "8.8.8.8"}
	var packets []model.PacketDescriptor
	for _, eth := range []uint16{model.EtherTypeARP, model.EtherTypeIPv6, 0x88cc} {
		packets = append(packets, model.PacketDescriptor{EtherType: eth})
	}
	for _, proto := range []uint8{model.ProtoICMP, model.ProtoTCP, model.ProtoUDP, 47} {
		for _, src := range hosts {
			for _, dst := range hosts {
				packets = append(packets, model.PacketDescriptor{
					EtherType:  model.EtherTypeIPv4,
					IPProtocol: proto,
					Src:        netip.MustParseAddr(src),
					Dst:        netip.MustParseAddr(dst),
				})
			}
		}
	}

	for _, role := range reg.Roles() {
		t.Run(role.String(), func(t *testing.T) {
			entries, err := compiler.Compile(role)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			eval := NewEvaluator(entries)
			for _, pkt := range packets {
				all := eval.MatchAll(pkt)
				if len(all) == 0 {
					t.Fatalf("no entry matches %s", pkt)
				}
				first, ok := eval.Match(pkt)
				if !ok {
					t.Fatalf("Match found nothing for %s", pkt)
				}
				if diff := cmp.Diff(all[0], first); diff != "" {
					t.Fatalf("indexed match differs from table order for %s:\n%s", pkt, diff)
				}
			}
		})
	}
}

// staticRules bypasses policy.New validation.
type staticRules []model.PolicyRule

func (s staticRules) AllRules() iter.Seq[model.PolicyRule] {
	return func(yield func(model.PolicyRule) bool) {
		for _, r := range s {
			if !yield(r) {
				return
			}
		}
	}
}
