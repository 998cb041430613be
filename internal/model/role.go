package model

import (
	"fmt"
	"strings"
)

type RoleKind string

const (
	HostEdge       RoleKind = "host-edge"
	Aggregation    RoleKind = "aggregation"
	DatacenterEdge RoleKind = "datacenter-edge"
)

// Role is the network function a switch performs. HostID is only set for HostEdge.
type Role struct {
	Kind   RoleKind
	HostID string
}

func HostEdgeRole(hostID string) Role { return Role{Kind: HostEdge, HostID: hostID} }

func AggregationRole() Role { return Role{Kind: Aggregation} }

func DatacenterEdgeRole() Role { return Role{Kind: DatacenterEdge} }

// ParseRole reads the textual form produced by String: "host-edge(h10)",
// "aggregation" or "datacenter-edge".
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if name, rest, ok := strings.Cut(s, "("); ok {
		if RoleKind(name) != HostEdge || !strings.HasSuffix(rest, ")") {
			return Role{}, fmt.Errorf("invalid role %q", s)
		}
		host := strings.TrimSuffix(rest, ")")
		if host == "" {
			return Role{}, fmt.Errorf("role %q: host id is empty", s)
		}
		return HostEdgeRole(host), nil
	}
	switch RoleKind(s) {
	case Aggregation:
		return AggregationRole(), nil
	case DatacenterEdge:
		return DatacenterEdgeRole(), nil
	case HostEdge:
		return Role{}, fmt.Errorf("role %q requires a host id, e.g. host-edge(h10)", s)
	default:
		return Role{}, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	if r.Kind == HostEdge {
		return fmt.Sprintf("%s(%s)", r.Kind, r.HostID)
	}
	return string(r.Kind)
}

// Transit roles see traffic for any address.
func (r Role) Transit() bool { return r.Kind == Aggregation }

// DefaultAction is used for the synthesized catch-all when configuration does not
// override it: transit roles only flood, edge roles enforce default deny.
func (r Role) DefaultAction() Action {
	if r.Transit() {
		return Permit
	}
	return Deny
}
