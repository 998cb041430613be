package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/registry"
	"flow-policy-controller/pkg/wellknown"
)

// TopologyFile is the YAML layout of the role table. Policy is optional and only
// read by the yaml policy provider.
type TopologyFile struct {
	Hosts    map[string]string `yaml:"hosts"`
	Roles    []RoleConfig      `yaml:"roles"`
	Switches []SwitchConfig    `yaml:"switches"`
	Policy   []RuleConfig      `yaml:"policy"`
}

type RoleConfig struct {
	Role          string   `yaml:"role"`
	Addresses     []string `yaml:"addresses"`
	DefaultAction string   `yaml:"default_action"`
}

type SwitchConfig struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
}

type RuleConfig struct {
	ID      string `yaml:"id"`
	Source  string `yaml:"source"`
	Dest    string `yaml:"destination"`
	Traffic string `yaml:"traffic"`
	Action  string `yaml:"action"`
}

// Topology is a decoded and resolved TopologyFile.
type Topology struct {
	Roles    []registry.RoleSpec
	Switches []registry.SwitchBinding
	Rules    []model.PolicyRule
}

func LoadTopologyFile(path string) (*Topology, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTopology(f)
}

// LoadTopology decodes the YAML document and resolves host names. Every problem in the
// document is reported in one ValidationError.
func LoadTopology(r io.Reader) (*Topology, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file TopologyFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}

	var v model.ValidationBuilder
	hosts := make(map[string]model.Address, len(file.Hosts))
	names := make([]string, 0, len(file.Hosts))
	for name := range file.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		addr, err := model.ParseAddress(file.Hosts[name])
		if err != nil {
			v.AddErrorf("host %s: %v", name, err)
			continue
		}
		if addr.IsAny() {
			v.AddErrorf("host %s: address must not be any", name)
			continue
		}
		hosts[name] = addr
	}
	resolve := func(s string) (model.Address, error) {
		if addr, ok := hosts[s]; ok {
			return addr, nil
		}
		return model.ParseAddress(s)
	}

	topo := &Topology{}
	for i, rc := range file.Roles {
		role, err := model.ParseRole(rc.Role)
		if err != nil {
			v.AddErrorf("roles[%d]: %v", i, err)
			continue
		}
		spec := registry.RoleSpec{Role: role}
		if rc.DefaultAction != "" {
			if spec.DefaultAction, err = model.ParseAction(rc.DefaultAction); err != nil {
				v.AddErrorf("role %s: %v", role, err)
				continue
			}
		}
		for _, a := range rc.Addresses {
			addr, err := resolve(a)
			if err != nil {
				v.AddErrorf("role %s: %v", role, err)
				continue
			}
			spec.Addresses = append(spec.Addresses, addr)
		}
		topo.Roles = append(topo.Roles, spec)
	}

	for i, sc := range file.Switches {
		role, err := model.ParseRole(sc.Role)
		if err != nil {
			v.AddErrorf("switches[%d]: %v", i, err)
			continue
		}
		topo.Switches = append(topo.Switches, registry.SwitchBinding{Switch: model.SwitchID(sc.ID), Role: role})
	}

	for i, rc := range file.Policy {
		rule := model.PolicyRule{ID: rc.ID}
		var err error
		if rule.Source, err = resolve(rc.Source); err != nil {
			v.AddErrorf("policy[%d] %s: source: %v", i, rc.ID, err)
		}
		if rule.Dest, err = resolve(rc.Dest); err != nil {
			v.AddErrorf("policy[%d] %s: destination: %v", i, rc.ID, err)
		}
		if rule.Traffic, err = wellknown.ParseTraffic(rc.Traffic); err != nil {
			v.AddErrorf("policy[%d] %s: %v", i, rc.ID, err)
		}
		if rule.Action, err = model.ParseAction(rc.Action); err != nil {
			v.AddErrorf("policy[%d] %s: %v", i, rc.ID, err)
		}
		topo.Rules = append(topo.Rules, rule)
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return topo, nil
}

// Registry builds the role registry from the resolved role and switch tables.
func (t *Topology) Registry() (*registry.Registry, error) {
	return registry.New(t.Roles, t.Switches)
}
