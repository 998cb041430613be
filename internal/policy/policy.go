// Package policy holds the global, declarative rule set. Rules are loaded once and
// never change for the lifetime of the process.
package policy

import (
	"errors"
	"iter"
	"slices"
	"strings"

	"flow-policy-controller/internal/classifier"
	"flow-policy-controller/internal/model"
)

type Policy struct {
	rules []model.PolicyRule
}

// New validates rules and freezes them ordered by ID. Input order carries no meaning.
func New(rules []model.PolicyRule) (*Policy, error) {
	var v model.ValidationBuilder
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			v.AddErrorf("policy rule with empty id (%s -> %s, %s)", r.Source, r.Dest, r.Traffic)
			continue
		}
		if seen[r.ID] {
			v.AddErrorf("duplicate policy rule id %q", r.ID)
			continue
		}
		seen[r.ID] = true
		if r.Action != model.Permit && r.Action != model.Deny {
			v.AddErrorf("rule %q: invalid action %q", r.ID, r.Action)
		}
	}
	if err := v.Build(); err != nil {
		return nil, err
	}

	for _, r := range rules {
		if err := classifier.Validate(r.Predicate()); err != nil {
			var mp *model.MalformedPredicateError
			if errors.As(err, &mp) {
				mp.Rule = r.ID
			}
			return nil, err
		}
	}

	frozen := slices.Clone(rules)
	slices.SortFunc(frozen, func(a, b model.PolicyRule) int {
		return strings.Compare(a.ID, b.ID)
	})
	return &Policy{rules: frozen}, nil
}

// AllRules yields the rules in ID order. The sequence can be ranged over repeatedly.
func (p *Policy) AllRules() iter.Seq[model.PolicyRule] {
	return func(yield func(model.PolicyRule) bool) {
		for _, r := range p.rules {
			if !yield(r) {
				return
			}
		}
	}
}

func (p *Policy) Len() int { return len(p.rules) }
