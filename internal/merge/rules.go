package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pyxis/internal/field"
	"pyxis/internal/services"
)

// RuleSpec is the configuration form of a rule.
type RuleSpec struct {
	Method string `toml:"method"`
	Round  string `toml:"round"`
}

// Rule is a validated per-attribute merge rule.
type Rule struct {
	Attribute string
	Method    Method
	Round     Rounding
}

// Options tune rule evaluation.
type Options struct {
	// WeightAttribute supplies weights for volume_weighted rules.
	WeightAttribute string
	// CurrentYear pins avg_age; zero means the wall-clock year.
	CurrentYear int
}

// RuleSet is an immutable, validated set of merge rules.
type RuleSet struct {
	rules   []Rule
	options Options
}

// NewRuleSet validates specs against the attribute catalog. Unknown methods,
// unknown rounding modes, rules on the geometry attribute, and numeric methods
// on non-numeric catalog attributes are rejected.
func NewRuleSet(specs map[string]RuleSpec, opts Options) (*RuleSet, error) {
	if strings.TrimSpace(opts.WeightAttribute) == "" {
		opts.WeightAttribute = field.AttrOilProd
	}
	if attr, ok := field.Lookup(opts.WeightAttribute); ok && !attr.Type.Numeric() {
		return nil, &services.ConfigError{Field: "merge.weight_attribute", Reason: fmt.Sprintf("%q is not numeric", opts.WeightAttribute)}
	}

	var errs []error
	rules := make([]Rule, 0, len(specs))
	for name, spec := range specs {
		attribute := strings.TrimSpace(name)
		key := "merge.rules." + attribute
		if attribute == "" {
			errs = append(errs, &services.ConfigError{Field: "merge.rules", Reason: "empty attribute name"})
			continue
		}
		if attribute == field.AttrGeometry {
			errs = append(errs, &services.ConfigError{Field: key, Reason: "geometry is dissolved automatically and cannot carry a rule"})
			continue
		}
		method, err := ParseMethod(spec.Method)
		if err != nil {
			errs = append(errs, &services.ConfigError{Field: key, Reason: err.Error()})
			continue
		}
		round, err := ParseRounding(spec.Round)
		if err != nil {
			errs = append(errs, &services.ConfigError{Field: key, Reason: err.Error()})
			continue
		}
		if attr, ok := field.Lookup(attribute); ok && method.NumericOnly() && !attr.Type.Numeric() {
			errs = append(errs, &services.ConfigError{Field: key, Reason: fmt.Sprintf("method %s requires a numeric attribute, %s is %s", method, attribute, attr.Type)})
			continue
		}
		rules = append(rules, Rule{Attribute: attribute, Method: method, Round: round})
	}
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return nil, errors.Join(errs...)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Attribute < rules[j].Attribute })
	return &RuleSet{rules: rules, options: opts}, nil
}

// Rules returns the rules sorted by attribute name.
func (s *RuleSet) Rules() []Rule {
	if s == nil {
		return nil
	}
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Rule returns the rule for attribute.
func (s *RuleSet) Rule(attribute string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	idx := sort.Search(len(s.rules), func(i int) bool { return s.rules[i].Attribute >= attribute })
	if idx < len(s.rules) && s.rules[idx].Attribute == attribute {
		return s.rules[idx], true
	}
	return Rule{}, false
}

// Options returns the evaluation options.
func (s *RuleSet) Options() Options {
	if s == nil {
		return Options{WeightAttribute: field.AttrOilProd}
	}
	return s.options
}

// Len reports the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
