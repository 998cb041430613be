package model

import "net/netip"

// Provider-side objects. FortiGate and MariaDB sources describe policy in terms of
// named address and service objects that are flattened into PolicyRules.

type AddressObject struct {
	Name    string
	Type    string // "ipmask", "iprange", "fqdn"
	Prefix  netip.Prefix
	StartIP netip.Addr
	EndIP   netip.Addr
	FQDN    string
}

// ServiceObject lists the traffic classes a named service covers. Empty means any.
type ServiceObject struct {
	Name    string
	Classes []TrafficClass
}

type PolicyObject struct {
	ID              string
	Name            string
	RawSrcAddrNames []string
	RawDstAddrNames []string
	RawSvcNames     []string
	Action          string // "accept", "deny"
	Enabled         bool
}
