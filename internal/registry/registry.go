// Package registry maps switch identities to roles and roles to the addresses they
// are authoritative for. It is built once at startup and read-only afterwards.
package registry

import (
	"slices"
	"strings"

	"flow-policy-controller/internal/model"
)

// RoleSpec declares one role: the addresses it fronts and an optional default action
// override for its catch-all entry.
type RoleSpec struct {
	Role          model.Role
	Addresses     []model.Address
	DefaultAction model.Action
}

type SwitchBinding struct {
	Switch model.SwitchID
	Role   model.Role
}

type roleEntry struct {
	addresses     []model.Address
	defaultAction model.Action
}

type Registry struct {
	roles    map[model.Role]roleEntry
	switches map[model.SwitchID]model.Role
}

// New validates the role and switch tables and returns an immutable registry.
func New(roles []RoleSpec, switches []SwitchBinding) (*Registry, error) {
	r := &Registry{
		roles:    make(map[model.Role]roleEntry, len(roles)),
		switches: make(map[model.SwitchID]model.Role, len(switches)),
	}
	var v model.ValidationBuilder

	for _, spec := range roles {
		if spec.Role.Kind == model.HostEdge && spec.Role.HostID == "" {
			v.AddErrorf("role %s: host-edge role requires a host id", spec.Role)
			continue
		}
		if _, dup := r.roles[spec.Role]; dup {
			v.AddErrorf("role %s declared more than once", spec.Role)
			continue
		}
		action := spec.DefaultAction
		if action == "" {
			action = spec.Role.DefaultAction()
		}
		if action != model.Permit && action != model.Deny {
			v.AddErrorf("role %s: invalid default action %q", spec.Role, action)
			continue
		}
		addrs := slices.Clone(spec.Addresses)
		slices.SortFunc(addrs, compareAddress)
		addrs = slices.CompactFunc(addrs, model.Address.Equal)
		r.roles[spec.Role] = roleEntry{addresses: addrs, defaultAction: action}
	}

	for _, b := range switches {
		if b.Switch == "" {
			v.AddErrorf("switch binding with empty id (role %s)", b.Role)
			continue
		}
		if _, dup := r.switches[b.Switch]; dup {
			v.AddErrorf("switch %q bound more than once", b.Switch)
			continue
		}
		if _, ok := r.roles[b.Role]; !ok {
			v.AddErrorf("switch %q references undeclared role %s", b.Switch, b.Role)
			continue
		}
		r.switches[b.Switch] = b.Role
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return r, nil
}

// ResolveRole fails with ErrUnknownSwitch for identities absent from the table.
func (r *Registry) ResolveRole(id model.SwitchID) (model.Role, error) {
	role, ok := r.switches[id]
	if !ok {
		return model.Role{}, &model.UnknownSwitchError{Switch: id}
	}
	return role, nil
}

// AddressesOwnedBy returns a copy of the role's authoritative addresses, sorted.
func (r *Registry) AddressesOwnedBy(role model.Role) []model.Address {
	return slices.Clone(r.roles[role].addresses)
}

// DefaultAction falls back to the role kind's default for undeclared roles.
func (r *Registry) DefaultAction(role model.Role) model.Action {
	if e, ok := r.roles[role]; ok {
		return e.defaultAction
	}
	return role.DefaultAction()
}

// Roles lists every declared role ordered by its textual form.
func (r *Registry) Roles() []model.Role {
	roles := make([]model.Role, 0, len(r.roles))
	for role := range r.roles {
		roles = append(roles, role)
	}
	slices.SortFunc(roles, func(a, b model.Role) int {
		return strings.Compare(a.String(), b.String())
	})
	return roles
}

// Switches lists the switch bindings ordered by switch id.
func (r *Registry) Switches() []SwitchBinding {
	out := make([]SwitchBinding, 0, len(r.switches))
	for id, role := range r.switches {
		out = append(out, SwitchBinding{Switch: id, Role: role})
	}
	slices.SortFunc(out, func(a, b SwitchBinding) int {
		return strings.Compare(string(a.Switch), string(b.Switch))
	})
	return out
}

func compareAddress(a, b model.Address) int {
	if c := a.Prefix().Addr().Compare(b.Prefix().Addr()); c != 0 {
		return c
	}
	return a.Bits() - b.Bits()
}
