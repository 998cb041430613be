package redisbus

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"flow-policy-controller/internal/model"
)

type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventPacketIn   EventType = "packet_in"
)

// Event is the JSON message published by the switch agent, e.g.
//
//	{"type":"packet_in","switch":"1","packet":{"ether_type":2048,"ip_proto":1,"src":"172.16.10.100","dst":"10.0.1.10"}}
type Event struct {
	Type   EventType    `json:"type"`
	Switch string       `json:"switch"`
	Packet *PacketEvent `json:"packet,omitempty"`
}

// PacketEvent fields are optional; truncated packets omit what could not be parsed.
type PacketEvent struct {
	EtherType  uint16 `json:"ether_type"`
	IPProtocol uint8  `json:"ip_proto,omitempty"`
	Src        string `json:"src,omitempty"`
	Dst        string `json:"dst,omitempty"`
}

func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Switch == "" {
		return Event{}, fmt.Errorf("event %q without switch id", ev.Type)
	}
	switch ev.Type {
	case EventConnect, EventDisconnect:
	case EventPacketIn:
		if ev.Packet == nil {
			return Event{}, fmt.Errorf("packet_in from switch %q without packet", ev.Switch)
		}
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Descriptor converts the packet. Unparseable addresses are left absent so the
// descriptor reports itself incomplete.
func (p *PacketEvent) Descriptor() model.PacketDescriptor {
	d := model.PacketDescriptor{EtherType: p.EtherType, IPProtocol: p.IPProtocol}
	if addr, err := netip.ParseAddr(p.Src); err == nil && addr.Unmap().Is4() {
		d.Src = addr.Unmap()
	}
	if addr, err := netip.ParseAddr(p.Dst); err == nil && addr.Unmap().Is4() {
		d.Dst = addr.Unmap()
	}
	return d
}
