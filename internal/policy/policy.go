// Package policy loads the traffic classification policy and applies it
// to packets.
//
// The policy file is YAML:
//
//	tc_rules:
//	  - comment: voip
//	    match_type: any
//	    conditions:
//	      - ip_src: 10.1.0.0/24
//	      - tcp_dst: 5060
//	    actions:
//	      qos_treatment: high_priority
package policy

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"grimm.is/flowmeta/internal/classify"
)

// How a rule's conditions combine.
const (
	MatchAny = "any"
	MatchAll = "all"
)

// Policy is an ordered list of rules; the first matching rule wins.
type Policy struct {
	Rules []Rule `yaml:"tc_rules" json:"tc_rules"`
}

// Rule is one classification rule.
type Rule struct {
	Comment    string            `yaml:"comment" json:"comment"`
	MatchType  string            `yaml:"match_type" json:"match_type"`
	Conditions Conditions        `yaml:"conditions" json:"conditions"`
	Actions    map[string]string `yaml:"actions" json:"actions"`
}

// Name identifies the rule in logs and metrics.
func (r Rule) Name(index int) string {
	if r.Comment != "" {
		return r.Comment
	}
	return fmt.Sprintf("rule-%d", index)
}

// Condition is one attribute = value predicate.
type Condition struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// Conditions decodes from a YAML list of single-entry maps. An item with
// several keys contributes one condition per key, in file order.
type Conditions []Condition

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Conditions) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var items []yaml.MapSlice
	if err := unmarshal(&items); err != nil {
		return err
	}
	out := make(Conditions, 0, len(items))
	for i, item := range items {
		if len(item) == 0 {
			return fmt.Errorf("condition %d is empty", i)
		}
		for _, kv := range item {
			key, ok := kv.Key.(string)
			if !ok {
				return fmt.Errorf("condition %d: attribute %v is not a string", i, kv.Key)
			}
			switch v := kv.Value.(type) {
			case nil:
				return fmt.Errorf("condition %d: %s has no value", i, key)
			case yaml.MapSlice, map[interface{}]interface{}, []interface{}:
				return fmt.Errorf("condition %d: %s must be a scalar", i, key)
			default:
				out = append(out, Condition{Attribute: key, Value: fmt.Sprint(v)})
			}
		}
	}
	*c = out
	return nil
}

// Parse decodes a policy document and fills in defaults.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	for i := range p.Rules {
		if p.Rules[i].MatchType == "" {
			p.Rules[i].MatchType = MatchAny
		}
	}
	return &p, nil
}

// Load reads and parses a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks every rule and reports all problems found, not just
// the first.
func (p *Policy) Validate(s *classify.Static) error {
	var errs []error
	for i, r := range p.Rules {
		name := r.Name(i)
		if r.MatchType != MatchAny && r.MatchType != MatchAll {
			errs = append(errs, fmt.Errorf("%s: match_type must be %q or %q, got %q", name, MatchAny, MatchAll, r.MatchType))
		}
		if len(r.Conditions) == 0 {
			errs = append(errs, fmt.Errorf("%s: no conditions", name))
		}
		for _, c := range r.Conditions {
			if err := s.Validate(c.Attribute, c.Value); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
