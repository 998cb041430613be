package engine

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"

	"flow-policy-controller/internal/classifier"
	"flow-policy-controller/internal/model"
)

// RoleSource is the part of the role registry the compiler reads.
type RoleSource interface {
	AddressesOwnedBy(role model.Role) []model.Address
	DefaultAction(role model.Role) model.Action
}

// RuleSource yields the global policy.
type RuleSource interface {
	AllRules() iter.Seq[model.PolicyRule]
}

// Compiler projects the global policy onto a role. It holds no mutable state and
// may be shared between goroutines.
type Compiler struct {
	roles RoleSource
	rules RuleSource
}

func NewCompiler(roles RoleSource, rules RuleSource) *Compiler {
	return &Compiler{roles: roles, rules: rules}
}

type rankedRule struct {
	rule model.PolicyRule
	spec model.Specificity
	pred model.Predicate
}

// Compile returns the role's entries ordered by descending priority. The last entry
// always matches every packet.
func (c *Compiler) Compile(role model.Role) ([]model.CompiledEntry, error) {
	owned := c.roles.AddressesOwnedBy(role)

	var ranked []rankedRule
	authoredCatchAll := false
	for rule := range c.rules.AllRules() {
		if !appliesTo(role, owned, rule) {
			continue
		}
		pred := rule.Predicate()
		if err := classifier.Validate(pred); err != nil {
			var mp *model.MalformedPredicateError
			if errors.As(err, &mp) {
				mp.Rule = rule.ID
			}
			return nil, err
		}
		if rule.IsCatchAll() {
			authoredCatchAll = true
		}
		ranked = append(ranked, rankedRule{rule: rule, spec: rule.Specificity(), pred: pred})
	}

	slices.SortFunc(ranked, func(a, b rankedRule) int {
		if d := b.spec.Compare(a.spec); d != 0 {
			return d
		}
		return strings.Compare(a.rule.ID, b.rule.ID)
	})

	if err := checkAmbiguity(role, ranked); err != nil {
		return nil, err
	}

	total := len(ranked)
	if !authoredCatchAll {
		total++
	}
	if total-1 > math.MaxUint16 {
		return nil, fmt.Errorf("role %s: %d entries exceed the %d priority levels of a flow table", role, total, math.MaxUint16+1)
	}

	entries := make([]model.CompiledEntry, 0, total)
	for i, r := range ranked {
		entries = append(entries, model.CompiledEntry{
			RuleID:   r.rule.ID,
			Match:    r.pred,
			Action:   r.rule.Action,
			Priority: uint16(total - 1 - i),
		})
	}
	if !authoredCatchAll {
		entries = append(entries, model.CompiledEntry{
			RuleID:      model.DefaultRuleID,
			Action:      c.roles.DefaultAction(role),
			Priority:    0,
			Synthesized: true,
		})
	}
	return entries, nil
}

// appliesTo keeps every rule for transit roles. Edge roles keep rules with at least
// one side that is any or overlaps an owned address.
func appliesTo(role model.Role, owned []model.Address, rule model.PolicyRule) bool {
	if role.Transit() {
		return true
	}
	return touches(owned, rule.Source) || touches(owned, rule.Dest)
}

func touches(owned []model.Address, a model.Address) bool {
	if a.IsAny() {
		return true
	}
	for _, o := range owned {
		if o.Overlaps(a) {
			return true
		}
	}
	return false
}

// checkAmbiguity expects ranked sorted by specificity, so equal specificities are
// adjacent.
func checkAmbiguity(role model.Role, ranked []rankedRule) error {
	for start := 0; start < len(ranked); {
		end := start + 1
		for end < len(ranked) && ranked[end].spec == ranked[start].spec {
			end++
		}
		for i := start; i < end; i++ {
			for j := i + 1; j < end; j++ {
				if classifier.Overlaps(ranked[i].pred, ranked[j].pred) {
					return &model.AmbiguousPolicyError{
						Role:  role,
						RuleA: ranked[i].rule.ID,
						RuleB: ranked[j].rule.ID,
					}
				}
			}
		}
		start = end
	}
	return nil
}
