package openflow

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/contiv/libOpenflow/openflow13"

	"flow-policy-controller/internal/installer"
	"flow-policy-controller/internal/model"
)

var _ installer.Session = (*Session)(nil)

func matchFields(m openflow13.Match) []uint8 {
	fields := make([]uint8, len(m.Fields))
	for i, f := range m.Fields {
		fields[i] = f.Field
	}
	return fields
}

func TestNewFlowMod(t *testing.T) {
	tests := []struct {
		name         string
		entry        model.CompiledEntry
		fields       []uint8
		instructions int
	}{
		{
			name: "untrusted icmp deny",
			entry: model.CompiledEntry{
				RuleID:   "deny-untrusted-icmp",
				Match:    model.Predicate{EtherType: model.EtherTypeIPv4, IPProtocol: model.ProtoICMP, Src: model.MustParseAddress("172.16.10.100")},
				Action:   model.Deny,
				Priority: 4,
			},
			fields:       []uint8{openflow13.OXM_FIELD_ETH_TYPE, openflow13.OXM_FIELD_IP_PROTO, openflow13.OXM_FIELD_IPV4_SRC},
			instructions: 0,
		},
		{
			name: "address rule gets ether type prerequisite",
			entry: model.CompiledEntry{
				RuleID:   "permit-subnet",
				Match:    model.Predicate{Dst: model.MustParseAddress("10.0.1.0/24")},
				Action:   model.Permit,
				Priority: 2,
			},
			fields:       []uint8{openflow13.OXM_FIELD_ETH_TYPE, openflow13.OXM_FIELD_IPV4_DST},
			instructions: 1,
		},
		{
			name:         "catch-all",
			entry:        model.CompiledEntry{RuleID: model.DefaultRuleID, Action: model.Permit, Synthesized: true},
			fields:       []uint8{},
			instructions: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flowMod := NewFlowMod(tt.entry)
			if flowMod.Priority != tt.entry.Priority {
				t.Fatalf("expected priority %d, got %d", tt.entry.Priority, flowMod.Priority)
			}
			if flowMod.Cookie != Cookie(tt.entry.RuleID) {
				t.Fatalf("expected cookie for %s, got %#x", tt.entry.RuleID, flowMod.Cookie)
			}
			if flowMod.Command != openflow13.FC_ADD || flowMod.TableId != TableID {
				t.Fatalf("expected an add on table %d, got command %d table %d", TableID, flowMod.Command, flowMod.TableId)
			}
			if got := matchFields(flowMod.Match); !bytes.Equal(got, tt.fields) {
				t.Fatalf("expected match fields %v, got %v", tt.fields, got)
			}
			if len(flowMod.Instructions) != tt.instructions {
				t.Fatalf("expected %d instructions, got %d", tt.instructions, len(flowMod.Instructions))
			}
		})
	}
}

func TestNewFlowModMasksPrefixes(t *testing.T) {
	flowMod := NewFlowMod(model.CompiledEntry{
		RuleID: "subnet",
		Match:  model.Predicate{Src: model.MustParseAddress("10.0.0.0/8"), Dst: model.MustParseAddress("10.0.1.10")},
		Action: model.Deny,
	})
	for _, f := range flowMod.Match.Fields {
		switch f.Field {
		case openflow13.OXM_FIELD_IPV4_SRC:
			if !f.HasMask {
				t.Fatal("expected a masked source field for a /8")
			}
		case openflow13.OXM_FIELD_IPV4_DST:
			if f.HasMask {
				t.Fatal("expected an exact destination field for a host address")
			}
		}
	}
}

func TestCookieStable(t *testing.T) {
	if Cookie("permit-arp") != Cookie("permit-arp") {
		t.Fatal("cookie is not deterministic")
	}
	if Cookie("permit-arp") == Cookie("permit-ipv4") {
		t.Fatal("distinct rules share a cookie")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSessionWritesFramedMessages(t *testing.T) {
	var buf bytes.Buffer
	session := NewSession(&buf)
	entries := []model.CompiledEntry{
		{RuleID: "permit-arp", Match: model.Predicate{EtherType: model.EtherTypeARP}, Action: model.Permit, Priority: 1},
		{RuleID: model.DefaultRuleID, Action: model.Deny, Priority: 0, Synthesized: true},
	}
	if err := installer.Install(context.Background(), "1", model.HostEdgeRole("h10"), session, entries); err != nil {
		t.Fatalf("Install: %v", err)
	}

	data := buf.Bytes()
	for i := range entries {
		if len(data) < 8 {
			t.Fatalf("message %d: short buffer (%d bytes)", i, len(data))
		}
		if data[0] != openflow13.VERSION || data[1] != openflow13.Type_FlowMod {
			t.Fatalf("message %d: expected an OpenFlow 1.3 flow-mod header, got version %d type %d", i, data[0], data[1])
		}
		length := int(binary.BigEndian.Uint16(data[2:4]))
		if length < 8 || length > len(data) {
			t.Fatalf("message %d: invalid length %d", i, length)
		}
		data = data[length:]
	}
	if len(data) != 0 {
		t.Fatalf("expected exactly %d messages, %d bytes left over", len(entries), len(data))
	}
}

func TestSessionWriteError(t *testing.T) {
	err := NewSession(failingWriter{}).PushEntry(context.Background(), model.CompiledEntry{RuleID: "x", Action: model.Deny})
	if err == nil {
		t.Fatal("expected a write error")
	}
}
