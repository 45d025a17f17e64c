// Package assertion evaluates declarative assertions against the parsed
// output of a scraper execution. Every assertion yields an independent
// pass/fail outcome with a human-readable detail string; evaluation never
// aborts, so a malformed assertion simply fails with its error as detail.
package assertion

import (
	"encoding/json"
	"fmt"
)

// Kind identifies an assertion type.
type Kind string

const (
	KindNotEmpty      Kind = "not_empty"
	KindHasField      Kind = "has_field"
	KindFieldNotEmpty Kind = "field_not_empty"
	KindMinItems      Kind = "min_items"
	KindFieldType     Kind = "field_type"
	KindCustom        Kind = "custom"
)

// Assertion is a single declarative rule supplied by the caller.
// Field is a dotted path into the output; numeric segments index arrays
// (e.g. "items.0.url").
type Assertion struct {
	Kind         Kind   `json:"type"`
	Description  string `json:"description,omitempty"`
	Field        string `json:"field,omitempty"`
	MinCount     int    `json:"min_count,omitempty"`
	ExpectedType string `json:"expected_type,omitempty"` // string|number|boolean|array|object|null
	Expression   string `json:"expression,omitempty"`
}

// Describe returns the caller-supplied description, or a generated one.
func (a Assertion) Describe() string {
	if a.Description != "" {
		return a.Description
	}
	switch a.Kind {
	case KindNotEmpty:
		return "output is not empty"
	case KindHasField:
		return fmt.Sprintf("field %q exists", a.Field)
	case KindFieldNotEmpty:
		return fmt.Sprintf("field %q is not empty", a.Field)
	case KindMinItems:
		return fmt.Sprintf("field %q has at least %d items", a.Field, a.MinCount)
	case KindFieldType:
		return fmt.Sprintf("field %q has type %s", a.Field, a.ExpectedType)
	case KindCustom:
		return fmt.Sprintf("custom expression %q", a.Expression)
	default:
		return string(a.Kind)
	}
}

// Outcome records the result of evaluating one assertion.
type Outcome struct {
	Kind        Kind   `json:"type"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Detail      string `json:"detail"`
}

// Defaults returns the assertion set used when a caller supplies none.
func Defaults() []Assertion {
	return []Assertion{
		{Kind: KindNotEmpty, Description: "extracted data should not be empty"},
		{Kind: KindHasField, Field: "url", Description: "data should include the source URL"},
	}
}

// ParseList decodes a JSON array of assertions. A nil or empty input
// yields nil so the caller can substitute Defaults.
func ParseList(raw []byte) ([]Assertion, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []Assertion
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to parse assertions: %w", err)
	}
	return list, nil
}
