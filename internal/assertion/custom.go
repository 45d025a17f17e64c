package assertion

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
)

// Custom assertions are Go boolean expressions interpreted by yaegi.
// The interpreter is created per evaluation with no stdlib symbols
// loaded, so the expression has no host I/O whatsoever. The output is
// exposed through a small read-only helper surface:
//
//	Data            the parsed output (interface{})
//	Has(path)       true if the dotted path resolves
//	Field(path)     the value at the path, or nil
//	Count(path)     array length at the path, or -1
//	Text(path)      string value at the path, or ""
//
// Any evaluation error counts as a failing assertion, never an abort.

func evalCustom(expression string, data any) (passed bool, detail string) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return false, "custom expression is empty"
	}

	defer func() {
		if r := recover(); r != nil {
			passed = false
			detail = fmt.Sprintf("custom expression panicked: %v", r)
		}
	}()

	// Bind the output through an interface-typed slot so nil and every
	// concrete JSON shape are handled uniformly.
	slot := &data
	exports := interp.Exports{
		"scrapeenv/scrapeenv": {
			"Data": reflect.ValueOf(slot).Elem(),
			"Has": reflect.ValueOf(func(path string) bool {
				_, ok := Resolve(data, path)
				return ok
			}),
			"Field": reflect.ValueOf(func(path string) any {
				v, _ := Resolve(data, path)
				return v
			}),
			"Count": reflect.ValueOf(func(path string) int {
				v, ok := Resolve(data, path)
				if !ok {
					return -1
				}
				if arr, isArr := v.([]any); isArr {
					return len(arr)
				}
				return -1
			}),
			"Text": reflect.ValueOf(func(path string) string {
				v, _ := Resolve(data, path)
				s, _ := v.(string)
				return s
			}),
		},
	}

	i := interp.New(interp.Options{})
	if err := i.Use(exports); err != nil {
		return false, fmt.Sprintf("failed to prepare evaluation context: %v", err)
	}
	if _, err := i.Eval(`import . "scrapeenv"`); err != nil {
		return false, fmt.Sprintf("failed to prepare evaluation context: %v", err)
	}

	v, err := i.Eval(expr)
	if err != nil {
		return false, fmt.Sprintf("custom expression failed: %v", err)
	}
	if !v.IsValid() || v.Kind() != reflect.Bool {
		return false, fmt.Sprintf("custom expression %q did not produce a boolean", expr)
	}
	if v.Bool() {
		return true, fmt.Sprintf("custom expression %q is true", expr)
	}
	return false, fmt.Sprintf("custom expression %q is false", expr)
}
