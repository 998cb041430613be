package engine

import (
	"flow-policy-controller/internal/classifier"
	"flow-policy-controller/internal/model"
)

const (
	DecisionAllow = "ALLOW"
	DecisionDeny  = "DENY"
)

// Evaluator answers which entry of one compiled table a packet hits, the way the
// switch would.
type Evaluator struct {
	Entries []model.CompiledEntry

	// Entry indexes keyed by effective ether type; wildcard holds entries that do
	// not constrain it. Both keep table order.
	byEtherType map[uint16][]int
	wildcard    []int
}

// NewEvaluator expects entries in installation order (descending priority).
func NewEvaluator(entries []model.CompiledEntry) *Evaluator {
	e := &Evaluator{
		Entries:     entries,
		byEtherType: make(map[uint16][]int),
	}
	e.buildIndex()
	return e
}

func (e *Evaluator) buildIndex() {
	for i := range e.Entries {
		eth := e.Entries[i].Match.EffectiveEtherType()
		if eth == 0 {
			e.wildcard = append(e.wildcard, i)
			continue
		}
		e.byEtherType[eth] = append(e.byEtherType[eth], i)
	}
}

// Match returns the highest priority entry whose predicate matches pkt.
func (e *Evaluator) Match(pkt model.PacketDescriptor) (model.CompiledEntry, bool) {
	typed := e.byEtherType[pkt.EtherType]
	i, j := 0, 0
	for i < len(typed) || j < len(e.wildcard) {
		var idx int
		if j >= len(e.wildcard) || (i < len(typed) && typed[i] < e.wildcard[j]) {
			idx = typed[i]
			i++
		} else {
			idx = e.wildcard[j]
			j++
		}
		if classifier.Matches(e.Entries[idx].Match, pkt) {
			return e.Entries[idx], true
		}
	}
	return model.CompiledEntry{}, false
}

// MatchAll lists every matching entry in table order. Used to check completeness.
func (e *Evaluator) MatchAll(pkt model.PacketDescriptor) []model.CompiledEntry {
	var out []model.CompiledEntry
	for _, entry := range e.Entries {
		if classifier.Matches(entry.Match, pkt) {
			out = append(out, entry)
		}
	}
	return out
}

func (e *Evaluator) Evaluate(pkt model.PacketDescriptor) model.SimulationResult {
	if !pkt.Complete() {
		return model.SimulationResult{
			Packet:   pkt,
			Decision: DecisionDeny,
			Reason:   "MALFORMED_PACKET",
		}
	}
	entry, ok := e.Match(pkt)
	if !ok {
		return model.SimulationResult{
			Packet:   pkt,
			Decision: DecisionDeny,
			Reason:   "TABLE_MISS",
		}
	}

	decision := DecisionDeny
	reason := "MATCH_RULE_DENY"
	if entry.Action == model.Permit {
		decision = DecisionAllow
		reason = "MATCH_RULE_PERMIT"
	}
	if entry.Synthesized {
		reason = "DEFAULT_" + string(decision)
	}
	return model.SimulationResult{
		Packet:        pkt,
		Decision:      decision,
		MatchedRuleID: entry.RuleID,
		Priority:      entry.Priority,
		Reason:        reason,
	}
}
