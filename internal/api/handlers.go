package api

import (
	"errors"
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"

	"flow-policy-controller/internal/engine"
	"flow-policy-controller/internal/model"
	"flow-policy-controller/pkg/wellknown"
)

type EntryView struct {
	Priority    uint16 `json:"priority"`
	RuleID      string `json:"rule_id"`
	Match       string `json:"match"`
	Action      string `json:"action"`
	Synthesized bool   `json:"synthesized,omitempty"`
}

type RoleView struct {
	Role          string   `json:"role"`
	Addresses     []string `json:"addresses"`
	DefaultAction string   `json:"default_action"`
	Entries       int      `json:"entries"`
}

type SimulateRequest struct {
	Switch  string `json:"switch" binding:"required"`
	Traffic string `json:"traffic"`
	Src     string `json:"src"`
	Dst     string `json:"dst"`
}

type SimulateResponse struct {
	Switch   string `json:"switch"`
	Role     string `json:"role"`
	Packet   string `json:"packet"`
	Decision string `json:"decision"`
	RuleID   string `json:"rule_id,omitempty"`
	Priority uint16 `json:"priority"`
	Reason   string `json:"reason"`
}

func entryViews(entries []model.CompiledEntry) []EntryView {
	views := make([]EntryView, len(entries))
	for i, e := range entries {
		views[i] = EntryView{
			Priority:    e.Priority,
			RuleID:      e.RuleID,
			Match:       e.Match.String(),
			Action:      string(e.Action),
			Synthesized: e.Synthesized,
		}
	}
	return views
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "roles": len(s.tables)})
}

func (s *Server) handleListRoles(c *gin.Context) {
	roles := s.topology.Roles()
	views := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		addrs := s.topology.AddressesOwnedBy(role)
		view := RoleView{
			Role:          role.String(),
			Addresses:     make([]string, len(addrs)),
			DefaultAction: string(s.topology.DefaultAction(role)),
			Entries:       len(s.tables[role]),
		}
		for i, a := range addrs {
			view.Addresses[i] = a.String()
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) handleRoleEntries(c *gin.Context) {
	role, err := model.ParseRole(c.Param("role"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, ok := s.tables[role]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "role " + role.String() + " is not declared"})
		return
	}
	c.JSON(http.StatusOK, entryViews(entries))
}

func (s *Server) handleSwitchEntries(c *gin.Context) {
	sw := model.SwitchID(c.Param("id"))
	role, err := s.topology.ResolveRole(sw)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"switch":  sw,
		"role":    role.String(),
		"entries": entryViews(s.tables[role]),
	})
}

func (s *Server) handleSimulate(c *gin.Context) {
	var req SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pkt, err := descriptorFromRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sw := model.SwitchID(req.Switch)
	role, err := s.topology.ResolveRole(sw)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	result := engine.NewEvaluator(s.tables[role]).Evaluate(pkt)
	c.JSON(http.StatusOK, SimulateResponse{
		Switch:   req.Switch,
		Role:     role.String(),
		Packet:   pkt.String(),
		Decision: result.Decision,
		RuleID:   result.MatchedRuleID,
		Priority: result.Priority,
		Reason:   result.Reason,
	})
}

// descriptorFromRequest reads traffic as a class name ("arp", "icmp", "ip:47"). An
// IP protocol implies IPv4; an empty class with addresses means IPv4 with no
// protocol, which evaluates as an incomplete packet.
func descriptorFromRequest(req SimulateRequest) (model.PacketDescriptor, error) {
	traffic, err := wellknown.ParseTraffic(req.Traffic)
	if err != nil {
		return model.PacketDescriptor{}, err
	}
	var pkt model.PacketDescriptor
	switch traffic.Kind {
	case model.TrafficEtherType:
		pkt.EtherType = traffic.Value
	case model.TrafficIPProtocol:
		pkt.EtherType = model.EtherTypeIPv4
		pkt.IPProtocol = uint8(traffic.Value)
	}
	if req.Src != "" {
		if pkt.Src, err = netip.ParseAddr(req.Src); err != nil {
			return model.PacketDescriptor{}, err
		}
	}
	if req.Dst != "" {
		if pkt.Dst, err = netip.ParseAddr(req.Dst); err != nil {
			return model.PacketDescriptor{}, err
		}
	}
	if pkt.EtherType == 0 && (pkt.Src.IsValid() || pkt.Dst.IsValid()) {
		pkt.EtherType = model.EtherTypeIPv4
	}
	return pkt, nil
}

func statusFor(err error) int {
	if errors.Is(err, model.ErrUnknownSwitch) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
