package parser

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"

	"flow-policy-controller/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

// MariaDBParser loads the same object model as FortiGateParser from the firewall
// management schema: cfg_address, cfg_address_group, cfg_service_group, cfg_policy.
type MariaDBParser struct {
	ObjectSet
	db *sql.DB
}

func NewMariaDBParser(dsn string) (*MariaDBParser, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &MariaDBParser{
		ObjectSet: newObjectSet(),
		db:        db,
	}, nil
}

func (p *MariaDBParser) Close() {
	p.db.Close()
}

func (p *MariaDBParser) Parse() error {
	if err := p.loadAddresses(); err != nil {
		return fmt.Errorf("failed to load addresses: %w", err)
	}
	if err := p.loadAddressGroups(); err != nil {
		return fmt.Errorf("failed to load address groups: %w", err)
	}
	if err := p.loadServiceGroups(); err != nil {
		return fmt.Errorf("failed to load service groups: %w", err)
	}
	if err := p.loadPolicies(); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return nil
}

func (p *MariaDBParser) loadAddresses() error {
	rows, err := p.db.Query("SELECT object_name, address_type, subnet, start_ip, end_ip FROM cfg_address")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, addrType string
		var subnet, startIP, endIP sql.NullString
		if err := rows.Scan(&name, &addrType, &subnet, &startIP, &endIP); err != nil {
			return err
		}

		addr := &model.AddressObject{Name: name, Type: addrType}
		switch addrType {
		case "ipmask":
			if subnet.Valid {
				prefix, err := netip.ParsePrefix(subnet.String)
				if err != nil {
					return fmt.Errorf("address %s: %w", name, err)
				}
				addr.Prefix = prefix
			}
		case "iprange":
			if startIP.Valid {
				addr.StartIP, _ = netip.ParseAddr(startIP.String)
			}
			if endIP.Valid {
				addr.EndIP, _ = netip.ParseAddr(endIP.String)
			}
		}
		p.AddressObjects[name] = addr
	}
	return rows.Err()
}

func (p *MariaDBParser) loadAddressGroups() error {
	groups, err := p.loadGroups("SELECT group_name, members FROM cfg_address_group")
	if err != nil {
		return err
	}
	for name, members := range groups {
		p.AddrGrps[name] = members
	}
	return nil
}

func (p *MariaDBParser) loadServiceGroups() error {
	groups, err := p.loadGroups("SELECT group_name, members FROM cfg_service_group")
	if err != nil {
		return err
	}
	for name, members := range groups {
		p.SvcGrps[name] = members
	}
	return nil
}

// loadGroups reads rows of (name, JSON array of member names).
func (p *MariaDBParser) loadGroups(query string) (map[string][]string, error) {
	rows, err := p.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make(map[string][]string)
	for rows.Next() {
		var groupName, membersJSON string
		if err := rows.Scan(&groupName, &membersJSON); err != nil {
			return nil, err
		}
		var members []string
		if err := json.Unmarshal([]byte(membersJSON), &members); err != nil {
			return nil, fmt.Errorf("group %s: invalid members: %w", groupName, err)
		}
		groups[groupName] = members
	}
	return groups, rows.Err()
}

func (p *MariaDBParser) loadPolicies() error {
	rows, err := p.db.Query("SELECT policy_id, src_objects, dst_objects, service_objects, action, is_enabled FROM cfg_policy ORDER BY priority ASC, policy_id ASC")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var policy model.PolicyObject
		var policyID int
		var srcJSON, dstJSON, svcJSON, isEnabled string

		if err := rows.Scan(&policyID, &srcJSON, &dstJSON, &svcJSON, &policy.Action, &isEnabled); err != nil {
			return err
		}

		policy.ID = strconv.Itoa(policyID)
		policy.Enabled = (isEnabled == "enable")

		for _, field := range []struct {
			raw string
			dst *[]string
		}{
			{srcJSON, &policy.RawSrcAddrNames},
			{dstJSON, &policy.RawDstAddrNames},
			{svcJSON, &policy.RawSvcNames},
		} {
			if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
				return fmt.Errorf("policy %s: invalid object list: %w", policy.ID, err)
			}
			if len(*field.dst) == 0 {
				*field.dst = []string{"all"}
			}
		}

		p.Policies = append(p.Policies, policy)
	}
	return rows.Err()
}
