package parser

import (
	"fmt"
	"strconv"
	"strings"

	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/utils"
	"flow-policy-controller/pkg/wellknown"
)

// ObjectSet holds the named objects and policies read by a provider, before groups
// are flattened.
type ObjectSet struct {
	Policies       []model.PolicyObject
	AddressObjects map[string]*model.AddressObject
	ServiceObjects map[string]*model.ServiceObject
	AddrGrps       map[string][]string
	SvcGrps        map[string][]string
}

func newObjectSet() ObjectSet {
	return ObjectSet{
		AddressObjects: make(map[string]*model.AddressObject),
		ServiceObjects: make(map[string]*model.ServiceObject),
		AddrGrps:       make(map[string][]string),
		SvcGrps:        make(map[string][]string),
	}
}

// Rules flattens every enabled policy into PolicyRules. A policy naming several
// sources, destinations or services becomes one rule per combination, with IDs
// "<policy>.<n>"; a single combination keeps the policy ID.
func (s *ObjectSet) Rules() ([]model.PolicyRule, error) {
	var rules []model.PolicyRule
	for i := range s.Policies {
		policy := &s.Policies[i]
		if !policy.Enabled {
			continue
		}
		action, err := model.ParseAction(policy.Action)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", policy.ID, err)
		}

		srcs, err := s.resolveAddresses(policy.RawSrcAddrNames)
		if err != nil {
			return nil, fmt.Errorf("policy %s: failed to flatten srcaddr: %w", policy.ID, err)
		}
		dsts, err := s.resolveAddresses(policy.RawDstAddrNames)
		if err != nil {
			return nil, fmt.Errorf("policy %s: failed to flatten dstaddr: %w", policy.ID, err)
		}
		classes, err := s.resolveServices(policy.RawSvcNames)
		if err != nil {
			return nil, fmt.Errorf("policy %s: failed to flatten service: %w", policy.ID, err)
		}

		expanded := make([]model.PolicyRule, 0, len(srcs)*len(dsts)*len(classes))
		for _, src := range srcs {
			for _, dst := range dsts {
				for _, class := range classes {
					expanded = append(expanded, model.PolicyRule{
						Source:  src,
						Dest:    dst,
						Traffic: class,
						Action:  action,
					})
				}
			}
		}
		for n := range expanded {
			if len(expanded) == 1 {
				expanded[n].ID = policy.ID
			} else {
				expanded[n].ID = policy.ID + "." + strconv.Itoa(n+1)
			}
		}
		rules = append(rules, expanded...)
	}
	return rules, nil
}

// resolveAddresses returns the distinct addresses behind names, in first-seen order.
// "all" anywhere collapses the list to any.
func (s *ObjectSet) resolveAddresses(names []string) ([]model.Address, error) {
	if len(names) == 0 {
		return []model.Address{model.AnyAddress}, nil
	}
	var out []model.Address
	seen := make(map[model.Address]bool)
	for _, name := range names {
		objs, err := s.flattenAddrGroup(name, make(map[string]bool))
		if err != nil {
			return nil, err
		}
		if len(objs) == 0 {
			return nil, fmt.Errorf("unknown address object '%s'", name)
		}
		for _, obj := range objs {
			addrs, err := addressesOf(obj)
			if err != nil {
				return nil, err
			}
			for _, a := range addrs {
				if a.IsAny() {
					return []model.Address{model.AnyAddress}, nil
				}
				if !seen[a] {
					seen[a] = true
					out = append(out, a)
				}
			}
		}
	}
	return out, nil
}

func addressesOf(obj *model.AddressObject) ([]model.Address, error) {
	if strings.EqualFold(obj.Name, "all") {
		return []model.Address{model.AnyAddress}, nil
	}
	switch obj.Type {
	case "", "ipmask":
		a, err := model.AddressFromPrefix(obj.Prefix)
		if err != nil {
			return nil, fmt.Errorf("address '%s': %w", obj.Name, err)
		}
		return []model.Address{a}, nil
	case "iprange":
		prefixes := utils.RangeToPrefixes(obj.StartIP, obj.EndIP)
		if len(prefixes) == 0 {
			return nil, fmt.Errorf("address '%s': invalid IPv4 range %s-%s", obj.Name, obj.StartIP, obj.EndIP)
		}
		out := make([]model.Address, 0, len(prefixes))
		for _, p := range prefixes {
			a, err := model.AddressFromPrefix(p)
			if err != nil {
				return nil, fmt.Errorf("address '%s': %w", obj.Name, err)
			}
			out = append(out, a)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("address '%s' of type %s cannot be matched in a flow table", obj.Name, obj.Type)
	}
}

// resolveServices returns the distinct traffic classes behind names. A service
// covering any traffic collapses the list to any.
func (s *ObjectSet) resolveServices(names []string) ([]model.TrafficClass, error) {
	if len(names) == 0 {
		return []model.TrafficClass{model.AnyTraffic()}, nil
	}
	var out []model.TrafficClass
	seen := make(map[model.TrafficClass]bool)
	for _, name := range names {
		svcs, err := s.flattenSvcGroup(name, make(map[string]bool))
		if err != nil {
			return nil, err
		}
		if len(svcs) == 0 {
			return nil, fmt.Errorf("unknown service '%s'", name)
		}
		for _, svc := range svcs {
			if len(svc.Classes) == 0 {
				if strings.EqualFold(svc.Name, "all") {
					return []model.TrafficClass{model.AnyTraffic()}, nil
				}
				return nil, fmt.Errorf("service '%s' matches no traffic class", svc.Name)
			}
			for _, c := range svc.Classes {
				if c.Kind == model.TrafficAny {
					return []model.TrafficClass{model.AnyTraffic()}, nil
				}
				if !seen[c] {
					seen[c] = true
					out = append(out, c)
				}
			}
		}
	}
	return out, nil
}

func (s *ObjectSet) flattenAddrGroup(name string, visited map[string]bool) ([]*model.AddressObject, error) {
	if strings.EqualFold(name, "all") {
		return []*model.AddressObject{{Name: "all"}}, nil
	}

	if visited[name] {
		return nil, fmt.Errorf("circular dependency detected in address group '%s'", name)
	}
	visited[name] = true
	defer func() {
		delete(visited, name)
	}()

	var results []*model.AddressObject

	if addr, ok := s.AddressObjects[name]; ok {
		results = append(results, addr)
	}

	if members, ok := s.AddrGrps[name]; ok {
		for _, memberName := range members {
			memberAddrs, err := s.flattenAddrGroup(memberName, visited)
			if err != nil {
				return nil, err
			}
			results = append(results, memberAddrs...)
		}
	}

	return results, nil
}

func (s *ObjectSet) flattenSvcGroup(name string, visited map[string]bool) ([]*model.ServiceObject, error) {
	if strings.EqualFold(name, "all") {
		return []*model.ServiceObject{{Name: "all"}}, nil
	}

	if visited[name] {
		return nil, fmt.Errorf("circular dependency detected in service group '%s'", name)
	}
	visited[name] = true
	defer func() {
		delete(visited, name)
	}()

	var results []*model.ServiceObject
	found := false

	if svc, ok := s.ServiceObjects[name]; ok {
		results = append(results, svc)
		found = true
	}

	if members, ok := s.SvcGrps[name]; ok {
		for _, memberName := range members {
			memberSvcs, err := s.flattenSvcGroup(memberName, visited)
			if err != nil {
				return nil, err
			}
			results = append(results, memberSvcs...)
		}
		found = true
	}

	// Fall back to the protocol registry: "ALL_ICMP", "PING", "arp", "ip:47".
	if !found {
		if class, err := wellknown.ParseTraffic(name); err == nil {
			results = append(results, &model.ServiceObject{
				Name:    name,
				Classes: []model.TrafficClass{class},
			})
		}
	}

	return results, nil
}
