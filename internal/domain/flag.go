package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Document is a parsed configuration document, keyed by flag key.
type Document map[string]FlagDefinition

// FlagDefinition holds the evaluation rules of a single flag or setting.
type FlagDefinition struct {
	// Value is returned when no targeting rule or percentage variation applies.
	Value any `json:"Value"`

	// RolloutRules are evaluated in order, first match wins.
	RolloutRules []TargetingRule `json:"RolloutRules"`

	// RolloutPercentageItems are only consulted when no rule matched and a user is given.
	RolloutPercentageItems []PercentageVariation `json:"RolloutPercentageItems"`
}

// TargetingRule overrides a flag value based on a user attribute comparison.
type TargetingRule struct {
	ComparisonAttribute string     `json:"ComparisonAttribute"`
	Comparator          Comparator `json:"Comparator"`
	ComparisonValue     string     `json:"ComparisonValue"`
	Value               any        `json:"Value"`
}

// PercentageVariation is one weighted bucket of a percentage rollout.
type PercentageVariation struct {
	Percentage int `json:"Percentage"`
	Value      any `json:"Value"`
}

// UnmarshalJSON accepts any whole JSON number as the percentage, so
// origins that write 50.0 decode the same as 50.
func (p *PercentageVariation) UnmarshalJSON(data []byte) error {
	var wire struct {
		Percentage json.Number `json:"Percentage"`
		Value      any         `json:"Value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	pct, err := wholeNumber(wire.Percentage)
	if err != nil {
		return NewValidationErrorWithCause("percentage must be a whole number", err)
	}

	*p = PercentageVariation{Percentage: pct, Value: wire.Value}
	return nil
}

// wholeNumber converts a JSON number without a fractional part to int.
func wholeNumber(n json.Number) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%s is not a whole number", n)
	}
	return int(f), nil
}

// Comparator is the operator of a targeting rule.
type Comparator int

const (
	ComparatorIn Comparator = iota
	ComparatorNotIn
	ComparatorContains
	ComparatorNotContains
)

// String returns a human-readable name for the comparator
func (c Comparator) String() string {
	switch c {
	case ComparatorIn:
		return "IN"
	case ComparatorNotIn:
		return "NOT IN"
	case ComparatorContains:
		return "CONTAINS"
	case ComparatorNotContains:
		return "NOT CONTAINS"
	default:
		return fmt.Sprintf("Comparator(%d)", int(c))
	}
}

// Valid reports whether c is one of the known comparators.
func (c Comparator) Valid() bool {
	return c >= ComparatorIn && c <= ComparatorNotContains
}

// UnmarshalJSON decodes the numeric wire code (0..3) of a comparator.
func (c *Comparator) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return NewValidationErrorWithCause("comparator must be an integer", err)
	}
	code, err := wholeNumber(n)
	if err != nil {
		return NewValidationErrorWithCause("comparator must be an integer", err)
	}

	cmp := Comparator(code)
	if !cmp.Valid() {
		return NewValidationError(fmt.Sprintf("unknown comparator code %d", code))
	}

	*c = cmp
	return nil
}

// MarshalJSON encodes the comparator as its numeric wire code.
func (c Comparator) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, NewValidationError(fmt.Sprintf("unknown comparator code %d", int(c)))
	}
	return json.Marshal(int(c))
}

// Lookup returns the definition of key and whether it is present.
// Presence is checked on the map itself so a flag whose default is
// false, 0 or "" is still found.
func (d Document) Lookup(key string) (FlagDefinition, bool) {
	def, ok := d[key]
	return def, ok
}

// Keys returns the flag keys of the document in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks the semantic constraints the schema cannot express.
func (f FlagDefinition) Validate() error {
	for i, rule := range f.RolloutRules {
		if rule.ComparisonAttribute == "" {
			return NewValidationError(fmt.Sprintf("rule %d: comparison attribute cannot be empty", i))
		}
		if !rule.Comparator.Valid() {
			return NewValidationError(fmt.Sprintf("rule %d: unknown comparator %d", i, int(rule.Comparator)))
		}
	}

	for i, item := range f.RolloutPercentageItems {
		if item.Percentage < 0 || item.Percentage > 100 {
			return NewValidationError(fmt.Sprintf("percentage item %d: percentage must be between 0 and 100", i))
		}
	}

	return nil
}
