package property

import (
	"fmt"
	"regexp"
	"slices"
)

// Operator compares a property against a condition value.
type Operator string

const (
	OpEqual        Operator = "EQ"
	OpNotEqual     Operator = "NE"
	OpLess         Operator = "LT"
	OpLessEqual    Operator = "LE"
	OpGreater      Operator = "GT"
	OpGreaterEqual Operator = "GE"
	OpLike         Operator = "LIKE" // regular expression
	OpIn           Operator = "IN"
	OpIsNull       Operator = "IS_NULL"
	OpNotNull      Operator = "NOT_NULL"
)

// MatchCriteria combines the results of several conditions.
type MatchCriteria string

const (
	MatchAll  MatchCriteria = "ALL"
	MatchAny  MatchCriteria = "ANY"
	MatchNone MatchCriteria = "NONE"
)

// Condition is a single predicate over a named property.
type Condition struct {
	Property string   `json:"property"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// Search is a set of conditions joined by a match criteria.
type Search struct {
	Conditions []Condition   `json:"conditions"`
	Match      MatchCriteria `json:"match"`
}

// AnyEqual builds an ANY-match search comparing each named property to value.
func AnyEqual(value string, properties ...string) Search {
	s := Search{Match: MatchAny}
	for _, p := range properties {
		s.Conditions = append(s.Conditions, Condition{Property: p, Operator: OpEqual, Value: String(value)})
	}
	return s
}

// AnyLike builds an ANY-match search applying pattern to each named property.
func AnyLike(pattern string, properties ...string) Search {
	s := Search{Match: MatchAny}
	for _, p := range properties {
		s.Conditions = append(s.Conditions, Condition{Property: p, Operator: OpLike, Value: String(pattern)})
	}
	return s
}

// Matcher is a compiled Search.
type Matcher struct {
	match      MatchCriteria
	conditions []compiledCondition
}

type compiledCondition struct {
	Condition
	re *regexp.Regexp
}

// Compile validates the search and precompiles its regular expressions.
func (s Search) Compile() (*Matcher, error) {
	match := s.Match
	if match == "" {
		match = MatchAll
	}
	switch match {
	case MatchAll, MatchAny, MatchNone:
	default:
		return nil, fmt.Errorf("unknown match criteria %q", s.Match)
	}

	m := &Matcher{match: match}
	for _, c := range s.Conditions {
		if c.Property == "" {
			return nil, fmt.Errorf("condition without property name")
		}
		cc := compiledCondition{Condition: c}
		switch c.Operator {
		case OpLike:
			re, err := regexp.Compile(c.Value.Text())
			if err != nil {
				return nil, fmt.Errorf("invalid pattern for %s: %w", c.Property, err)
			}
			cc.re = re
		case OpIn:
			if c.Value.Type != TypeStringList {
				return nil, fmt.Errorf("IN on %s needs a string list", c.Property)
			}
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIsNull, OpNotNull:
		default:
			return nil, fmt.Errorf("unknown operator %q", c.Operator)
		}
		m.conditions = append(m.conditions, cc)
	}
	return m, nil
}

// Match reports whether the bag satisfies the compiled search. A search
// without conditions matches everything.
func (m *Matcher) Match(b Bag) bool {
	if len(m.conditions) == 0 {
		return true
	}
	for _, c := range m.conditions {
		ok := c.eval(b)
		switch m.match {
		case MatchAny:
			if ok {
				return true
			}
		case MatchAll:
			if !ok {
				return false
			}
		case MatchNone:
			if ok {
				return false
			}
		}
	}
	return m.match != MatchAny
}

func (c compiledCondition) eval(b Bag) bool {
	v, present := b[c.Property]
	switch c.Operator {
	case OpIsNull:
		return !present
	case OpNotNull:
		return present
	}
	if !present {
		return false
	}

	switch c.Operator {
	case OpLike:
		for _, s := range textsOf(v) {
			if c.re.MatchString(s) {
				return true
			}
		}
		return false
	case OpIn:
		for _, s := range textsOf(v) {
			if slices.Contains(c.Value.List, s) {
				return true
			}
		}
		return false
	case OpEqual:
		if v.Type == TypeStringList && c.Value.Type == TypeString {
			return slices.Contains(v.List, c.Value.Str)
		}
		if cmp, ok := v.Compare(c.Value); ok {
			return cmp == 0
		}
		return v.Equal(c.Value)
	case OpNotEqual:
		if cmp, ok := v.Compare(c.Value); ok {
			return cmp != 0
		}
		return !v.Equal(c.Value)
	}

	cmp, ok := v.Compare(c.Value)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	}
	return false
}

func textsOf(v Value) []string {
	if s := v.Strings(); s != nil {
		return s
	}
	return []string{v.Text()}
}
