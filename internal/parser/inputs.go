package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/utils"
	"flow-policy-controller/pkg/wellknown"
)

// DefaultExpandLimit caps how many addresses a single src or dst CIDR expands to.
const DefaultExpandLimit = 256

// Probe is one packet to evaluate against the table of one switch.
type Probe struct {
	Line   int
	Switch model.SwitchID
	Packet model.PacketDescriptor
}

// ParseProbes reads a CSV with the columns switch, traffic, src and dst (any order,
// case-insensitive header). src and dst may be addresses or CIDRs; a CIDR expands
// to one probe per address, up to limit addresses. Blank src/dst leave the field
// absent.
func ParseProbes(r io.Reader, limit uint64) ([]Probe, error) {
	if limit == 0 {
		limit = DefaultExpandLimit
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}

	colMap := make(map[string]int)
	for i, colName := range header {
		colMap[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	switchCol, ok := colMap["switch"]
	if !ok {
		return nil, fmt.Errorf("could not find 'switch' column in probe file")
	}
	field := func(record []string, name string) string {
		if i, ok := colMap[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	var probes []Probe
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if switchCol >= len(record) || strings.TrimSpace(record[switchCol]) == "" {
			return nil, fmt.Errorf("line %d: missing switch", line)
		}

		base, err := descriptorFor(field(record, "traffic"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		srcs, err := expandField(field(record, "src"), limit)
		if err != nil {
			return nil, fmt.Errorf("line %d: src: %w", line, err)
		}
		dsts, err := expandField(field(record, "dst"), limit)
		if err != nil {
			return nil, fmt.Errorf("line %d: dst: %w", line, err)
		}

		sw := model.SwitchID(strings.TrimSpace(record[switchCol]))
		for _, src := range srcs {
			for _, dst := range dsts {
				pkt := base
				pkt.Src, pkt.Dst = src, dst
				if pkt.EtherType == 0 && (src.IsValid() || dst.IsValid()) {
					pkt.EtherType = model.EtherTypeIPv4
				}
				probes = append(probes, Probe{Line: line, Switch: sw, Packet: pkt})
			}
		}
	}
	return probes, nil
}

// descriptorFor turns a traffic class name into the header fields it fixes.
func descriptorFor(traffic string) (model.PacketDescriptor, error) {
	class, err := wellknown.ParseTraffic(traffic)
	if err != nil {
		return model.PacketDescriptor{}, err
	}
	var pkt model.PacketDescriptor
	switch class.Kind {
	case model.TrafficEtherType:
		pkt.EtherType = class.Value
	case model.TrafficIPProtocol:
		pkt.EtherType = model.EtherTypeIPv4
		pkt.IPProtocol = uint8(class.Value)
	}
	return pkt, nil
}

// expandField returns a single invalid Addr for a blank field.
func expandField(s string, limit uint64) ([]netip.Addr, error) {
	if s == "" {
		return []netip.Addr{{}}, nil
	}
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, err
		}
		return []netip.Addr{addr}, nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return nil, err
	}
	if size := utils.CIDRSize(prefix); size > limit {
		return nil, fmt.Errorf("%s holds %d addresses, more than the limit of %d", prefix, size, limit)
	}
	return utils.ExpandPrefix(prefix, limit), nil
}
