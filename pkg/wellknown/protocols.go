package wellknown

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	_ "embed"

	"flow-policy-controller/internal/model"
)

//go:embed protocols.csv
var protocolsData string

var (
	trafficRegistry map[string]model.TrafficClass
	canonicalNames  map[model.TrafficClass]string
)

func init() {
	trafficRegistry = make(map[string]model.TrafficClass)
	canonicalNames = make(map[model.TrafficClass]string)
	reader := csv.NewReader(bytes.NewBufferString(protocolsData))
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Fatalf("Failed to read header from embedded protocols.csv: %v", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to parse embedded protocols.csv: %v", err)
		}
		if len(record) < 3 {
			continue
		}

		value, err := strconv.ParseUint(record[2], 0, 16)
		if err != nil {
			continue
		}

		var class model.TrafficClass
		switch record[1] {
		case "any":
			class = model.AnyTraffic()
		case "ether":
			class = model.EtherType(uint16(value))
		case "ip":
			if value > 255 {
				continue
			}
			class = model.IPProtocol(uint8(value))
		default:
			continue
		}

		trafficRegistry[strings.ToUpper(record[0])] = class
		canonicalNames[class] = strings.ToLower(record[0])
		if len(record) > 3 {
			for _, alias := range strings.Fields(record[3]) {
				trafficRegistry[strings.ToUpper(alias)] = class
			}
		}
	}
}

// GetTraffic returns the traffic class registered under a well-known name.
func GetTraffic(name string) (model.TrafficClass, bool) {
	class, ok := trafficRegistry[strings.ToUpper(strings.TrimSpace(name))]
	return class, ok
}

// ParseTraffic resolves a well-known name or a numeric form: "ether:0x0806", "ip:6".
func ParseTraffic(s string) (model.TrafficClass, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.AnyTraffic(), nil
	}
	if class, ok := GetTraffic(s); ok {
		return class, nil
	}

	layer, num, ok := strings.Cut(s, ":")
	if !ok {
		return model.TrafficClass{}, fmt.Errorf("unknown traffic class %q", s)
	}
	switch strings.ToLower(layer) {
	case "ether":
		v, err := strconv.ParseUint(num, 0, 16)
		if err != nil || v == 0 {
			return model.TrafficClass{}, fmt.Errorf("invalid ether type in %q", s)
		}
		return model.EtherType(uint16(v)), nil
	case "ip":
		v, err := strconv.ParseUint(num, 0, 8)
		if err != nil || v == 0 {
			return model.TrafficClass{}, fmt.Errorf("invalid IP protocol in %q", s)
		}
		return model.IPProtocol(uint8(v)), nil
	default:
		return model.TrafficClass{}, fmt.Errorf("unknown traffic layer %q in %q", layer, s)
	}
}

// TrafficName returns the canonical registry name for a class, or its numeric form.
func TrafficName(t model.TrafficClass) string {
	if name, ok := canonicalNames[t]; ok {
		return name
	}
	return t.String()
}
