package parser

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"flow-policy-controller/internal/model"
)

// FortiGateParser reads address, service and policy objects from a FortiGate CLI
// configuration. Policy order is not carried over: rules are ranked by specificity.
type FortiGateParser struct {
	ObjectSet
	scanner *bufio.Scanner

	// protocol of the custom service being parsed
	svcProto string
}

func NewFortiGateParser(reader io.Reader) *FortiGateParser {
	return &FortiGateParser{
		ObjectSet: newObjectSet(),
		scanner:   bufio.NewScanner(reader),
	}
}

func (p *FortiGateParser) Parse() error {
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		switch {
		case strings.HasPrefix(line, "config firewall address"):
			if err := p.parseAddressConfig(); err != nil {
				return fmt.Errorf("failed to parse firewall address config: %w", err)
			}
		case strings.HasPrefix(line, "config firewall addrgrp"):
			if err := p.parseAddrGrpConfig(); err != nil {
				return fmt.Errorf("failed to parse firewall addrgrp config: %w", err)
			}
		case strings.HasPrefix(line, "config firewall service custom"):
			if err := p.parseServiceCustomConfig(); err != nil {
				return fmt.Errorf("failed to parse firewall service custom config: %w", err)
			}
		case strings.HasPrefix(line, "config firewall service group"):
			if err := p.parseServiceGroupConfig(); err != nil {
				return fmt.Errorf("failed to parse firewall service group config: %w", err)
			}
		case strings.HasPrefix(line, "config firewall policy"):
			if err := p.parsePolicyConfig(); err != nil {
				return fmt.Errorf("failed to parse firewall policy config: %w", err)
			}
		}
	}
	if err := p.scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func (p *FortiGateParser) parseAddressConfig() error {
	var currentObject *model.AddressObject
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			name := unquote(parts[1])
			currentObject = &model.AddressObject{Name: name}
			p.AddressObjects[name] = currentObject
		case "set":
			if currentObject == nil {
				continue
			}
			switch parts[1] {
			case "type":
				currentObject.Type = parts[2]
			case "subnet":
				prefix, err := parseSubnet(parts[2:])
				if err != nil {
					return fmt.Errorf("address %s: %w", currentObject.Name, err)
				}
				currentObject.Prefix = prefix
			case "start-ip":
				currentObject.StartIP, _ = netip.ParseAddr(parts[2])
			case "end-ip":
				currentObject.EndIP, _ = netip.ParseAddr(parts[2])
			case "fqdn":
				currentObject.FQDN = unquote(parts[2])
			}
		case "next":
			currentObject = nil
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parseAddrGrpConfig() error {
	var currentGroup string
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			currentGroup = unquote(parts[1])
		case "set":
			if currentGroup != "" && parts[1] == "member" {
				var members []string
				for _, member := range parts[2:] {
					members = append(members, unquote(member))
				}
				p.AddrGrps[currentGroup] = members
			}
		case "next":
			currentGroup = ""
		}
	}
	return io.ErrUnexpectedEOF
}

// parseServiceCustomConfig keeps the IP protocol of each custom service. Port
// ranges and ICMP types cannot be expressed in a flow policy, so only full
// ranges are accepted. A service that maps to no traffic class is an error.
func (p *FortiGateParser) parseServiceCustomConfig() error {
	var currentService *model.ServiceObject
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return p.finishService(currentService)
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			if err := p.finishService(currentService); err != nil {
				return err
			}
			name := unquote(parts[1])
			currentService = &model.ServiceObject{Name: name}
			p.ServiceObjects[name] = currentService
			p.svcProto = ""
		case "set":
			if currentService == nil || len(parts) < 3 {
				continue
			}
			// Handles "set tcp-portrange 8001-8004" and "set tcp-portrange=8001-8004"
			if strings.Contains(line, "portrange") {
				line = strings.Replace(line, "=", " ", -1)
				parts = strings.Fields(line)
			}
			switch {
			case parts[1] == "protocol":
				p.svcProto = strings.ToUpper(unquote(parts[2]))
				switch p.svcProto {
				case "ICMP":
					addClass(currentService, model.IPProtocol(model.ProtoICMP))
				case "IP", "TCP/UDP/SCTP":
				default:
					return fmt.Errorf("service %s: protocol %s cannot be expressed as a flow match", currentService.Name, parts[2])
				}
			case parts[1] == "protocol-number":
				n, err := strconv.ParseUint(parts[2], 10, 8)
				if err != nil {
					return fmt.Errorf("service %s: invalid protocol-number %q", currentService.Name, parts[2])
				}
				if p.svcProto == "IP" && n != 0 {
					addClass(currentService, model.IPProtocol(uint8(n)))
				}
			case parts[1] == "icmptype" || parts[1] == "icmpcode":
				return fmt.Errorf("service %s: %s cannot be expressed as a flow match", currentService.Name, parts[1])
			case strings.HasSuffix(parts[1], "-portrange"):
				proto, ok := portRangeProtocols[strings.TrimSuffix(parts[1], "-portrange")]
				if !ok {
					continue
				}
				for _, r := range parts[2:] {
					if !fullPortRange(r) {
						return fmt.Errorf("service %s: port range %s cannot be expressed as a flow match", currentService.Name, r)
					}
				}
				addClass(currentService, model.IPProtocol(proto))
			}
		case "next":
			if err := p.finishService(currentService); err != nil {
				return err
			}
			currentService = nil
		}
	}
	return io.ErrUnexpectedEOF
}

// finishService closes a custom service. Protocol IP without a number covers
// every IPv4 packet; any other service must have gained a class by now.
func (p *FortiGateParser) finishService(svc *model.ServiceObject) error {
	if svc == nil || len(svc.Classes) > 0 {
		return nil
	}
	if p.svcProto == "IP" {
		addClass(svc, model.EtherType(model.EtherTypeIPv4))
		return nil
	}
	return fmt.Errorf("service %s matches no traffic class", svc.Name)
}

var portRangeProtocols = map[string]uint8{
	"tcp":  model.ProtoTCP,
	"udp":  model.ProtoUDP,
	"sctp": 132,
}

// fullPortRange accepts "1-65535" and "0-65535", optionally with a source range.
func fullPortRange(r string) bool {
	dst, _, _ := strings.Cut(r, ":")
	lo, hi, ok := strings.Cut(dst, "-")
	if !ok {
		return false
	}
	return (lo == "0" || lo == "1") && hi == "65535"
}

func addClass(svc *model.ServiceObject, class model.TrafficClass) {
	for _, c := range svc.Classes {
		if c == class {
			return
		}
	}
	svc.Classes = append(svc.Classes, class)
}

func (p *FortiGateParser) parseServiceGroupConfig() error {
	var currentGroup string
	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			currentGroup = unquote(parts[1])
		case "set":
			if currentGroup != "" && parts[1] == "member" {
				var members []string
				for _, member := range parts[2:] {
					members = append(members, unquote(member))
				}
				p.SvcGrps[currentGroup] = members
			}
		case "next":
			currentGroup = ""
		}
	}
	return io.ErrUnexpectedEOF
}

func (p *FortiGateParser) parsePolicyConfig() error {
	var currentPolicy *model.PolicyObject
	var policyIndex int = -1

	for p.scanner.Scan() {
		line := strings.TrimSpace(p.scanner.Text())
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		switch parts[0] {
		case "edit":
			p.Policies = append(p.Policies, model.PolicyObject{ID: unquote(parts[1]), Enabled: true})
			policyIndex = len(p.Policies) - 1
			currentPolicy = &p.Policies[policyIndex]
		case "set":
			if currentPolicy == nil {
				continue
			}

			// Join parts from index 2 to the end, then split by quotes
			// This handles names with spaces like "My Policy Name"
			rawArgs := strings.TrimSpace(strings.Join(parts[2:], " "))
			args := strings.Split(rawArgs, `" "`)
			for i, arg := range args {
				args[i] = unquote(arg)
			}

			switch parts[1] {
			case "name":
				currentPolicy.Name = unquote(strings.Join(parts[2:], " "))
			case "srcaddr":
				currentPolicy.RawSrcAddrNames = append(currentPolicy.RawSrcAddrNames, args...)
			case "dstaddr":
				currentPolicy.RawDstAddrNames = append(currentPolicy.RawDstAddrNames, args...)
			case "service":
				currentPolicy.RawSvcNames = append(currentPolicy.RawSvcNames, args...)
			case "action":
				currentPolicy.Action = parts[2]
			case "status":
				currentPolicy.Enabled = (parts[2] == "enable")
			}
		case "next":
			if currentPolicy != nil {
				if len(currentPolicy.RawSrcAddrNames) == 0 {
					currentPolicy.RawSrcAddrNames = []string{"all"}
				}
				if len(currentPolicy.RawDstAddrNames) == 0 {
					currentPolicy.RawDstAddrNames = []string{"all"}
				}
				if len(currentPolicy.RawSvcNames) == 0 {
					currentPolicy.RawSvcNames = []string{"all"}
				}
			}
			currentPolicy = nil
			policyIndex = -1
		}
	}
	return io.ErrUnexpectedEOF
}

// parseSubnet accepts "10.0.0.0 255.255.255.0" and "10.0.0.0/24".
func parseSubnet(args []string) (netip.Prefix, error) {
	if len(args) == 0 {
		return netip.Prefix{}, fmt.Errorf("empty subnet")
	}
	if strings.Contains(args[0], "/") {
		return netip.ParsePrefix(args[0])
	}
	addr, err := netip.ParseAddr(args[0])
	if err != nil {
		return netip.Prefix{}, err
	}
	bits := 32
	if len(args) > 1 {
		mask := net.IPMask(net.ParseIP(args[1]).To4())
		ones, size := mask.Size()
		if size != 32 {
			return netip.Prefix{}, fmt.Errorf("invalid netmask %q", args[1])
		}
		bits = ones
	}
	return netip.PrefixFrom(addr, bits).Masked(), nil
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}
