package assertion

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("bad test fixture: %v", err)
	}
	return v
}

func TestResolve(t *testing.T) {
	data := decode(t, `{"items": [{"url": "https://a", "tags": []}, {"url": "https://b"}], "meta": {"count": 2}}`)

	tests := []struct {
		path    string
		wantOK  bool
		wantVal any
	}{
		{"", true, nil}, // whole document, value checked separately
		{"items", true, nil},
		{"items.0.url", true, "https://a"},
		{"items.1.url", true, "https://b"},
		{"items.2.url", false, nil},
		{"items.x", false, nil},
		{"meta.count", true, float64(2)},
		{"meta.count.deep", false, nil},
		{"missing", false, nil},
		{"missing.nested", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, ok := Resolve(data, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
			if tt.wantVal != nil && v != tt.wantVal {
				t.Errorf("Resolve(%q) = %v, want %v", tt.path, v, tt.wantVal)
			}
		})
	}
}

func TestEvaluate_NotEmpty(t *testing.T) {
	e := NewEngine(nil)

	tests := []struct {
		name string
		data any
		want bool
	}{
		{"object with keys", decode(t, `{"url": "x"}`), true},
		{"non-empty array", decode(t, `[1]`), true},
		{"non-empty string", "hello", true},
		{"empty object", decode(t, `{}`), false},
		{"empty array", decode(t, `[]`), false},
		{"empty string", "", false},
		{"null", nil, false},
		{"number is never empty", float64(0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Evaluate(tt.data, []Assertion{{Kind: KindNotEmpty}})
			if len(out) != 1 {
				t.Fatalf("expected 1 outcome, got %d", len(out))
			}
			if out[0].Passed != tt.want {
				t.Errorf("passed = %v, want %v (detail: %s)", out[0].Passed, tt.want, out[0].Detail)
			}
		})
	}
}

// Scenario: HAS_FIELD("items") passes but MIN_ITEMS("items", 1) fails on
// an empty array, with a detail citing expected vs observed counts.
func TestEvaluate_EmptyItemsArray(t *testing.T) {
	e := NewEngine(nil)
	data := decode(t, `{"items": []}`)

	outcomes := e.Evaluate(data, []Assertion{
		{Kind: KindHasField, Field: "items"},
		{Kind: KindMinItems, Field: "items", MinCount: 1},
	})

	if !outcomes[0].Passed {
		t.Errorf("HAS_FIELD(items) should pass: %s", outcomes[0].Detail)
	}
	if outcomes[1].Passed {
		t.Errorf("MIN_ITEMS(items, 1) should fail on empty array")
	}
	if !strings.Contains(outcomes[1].Detail, ">= 1") || !strings.Contains(outcomes[1].Detail, "got 0") {
		t.Errorf("MIN_ITEMS detail should cite expected >= 1 and got 0, got %q", outcomes[1].Detail)
	}
	if AllPassed(outcomes) {
		t.Error("AllPassed should be false")
	}
}

func TestEvaluate_FieldNotEmpty(t *testing.T) {
	e := NewEngine(nil)
	data := decode(t, `{"title": "ok", "blank": "", "list": [], "n": 0}`)

	tests := []struct {
		field string
		want  bool
	}{
		{"title", true},
		{"blank", false},
		{"list", false},
		{"n", true},
		{"absent", false},
	}

	for _, tt := range tests {
		out := e.Evaluate(data, []Assertion{{Kind: KindFieldNotEmpty, Field: tt.field}})
		if out[0].Passed != tt.want {
			t.Errorf("FIELD_NOT_EMPTY(%q) = %v, want %v (detail: %s)",
				tt.field, out[0].Passed, tt.want, out[0].Detail)
		}
	}
}

func TestEvaluate_FieldType(t *testing.T) {
	e := NewEngine(nil)
	data := decode(t, `{"s": "x", "n": 1.5, "b": true, "a": [], "o": {}, "z": null}`)

	tests := []struct {
		field, typ string
		want       bool
	}{
		{"s", "string", true},
		{"n", "number", true},
		{"b", "boolean", true},
		{"a", "array", true},
		{"o", "object", true},
		{"z", "null", true},
		{"s", "number", false},
		{"a", "object", false},
	}

	for _, tt := range tests {
		out := e.Evaluate(data, []Assertion{{Kind: KindFieldType, Field: tt.field, ExpectedType: tt.typ}})
		if out[0].Passed != tt.want {
			t.Errorf("FIELD_TYPE(%q, %s) = %v, want %v (detail: %s)",
				tt.field, tt.typ, out[0].Passed, tt.want, out[0].Detail)
		}
	}
}

func TestEvaluate_MinItemsOnNonArray(t *testing.T) {
	e := NewEngine(nil)
	data := decode(t, `{"items": "not an array"}`)

	out := e.Evaluate(data, []Assertion{{Kind: KindMinItems, Field: "items", MinCount: 1}})
	if out[0].Passed {
		t.Error("MIN_ITEMS on a string should fail")
	}
	if !strings.Contains(out[0].Detail, "expected an array") {
		t.Errorf("detail should mention the type mismatch, got %q", out[0].Detail)
	}
}

func TestEvaluate_Custom(t *testing.T) {
	e := NewEngine(nil)
	data := decode(t, `{"items": [{"url": "https://a"}], "total": 1}`)

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"count helper", `Count("items") >= 1`, true},
		{"count too strict", `Count("items") >= 5`, false},
		{"has helper", `Has("items.0.url")`, true},
		{"text helper", `Text("items.0.url") == "https://a"`, true},
		{"compound", `Has("total") && Count("items") == 1`, true},
		{"syntax error fails, never aborts", `Count("items" >=`, false},
		{"non-boolean result fails", `Count("items")`, false},
		{"empty expression fails", ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Evaluate(data, []Assertion{{Kind: KindCustom, Expression: tt.expr}})
			if out[0].Passed != tt.want {
				t.Errorf("CUSTOM(%q) = %v, want %v (detail: %s)",
					tt.expr, out[0].Passed, tt.want, out[0].Detail)
			}
		})
	}
}

func TestEvaluate_CustomHasNoHostIO(t *testing.T) {
	e := NewEngine(nil)

	// os is not loaded into the interpreter, so any attempt to reach the
	// host must fail closed.
	out := e.Evaluate(map[string]any{}, []Assertion{
		{Kind: KindCustom, Expression: `os.Getenv("HOME") != ""`},
	})
	if out[0].Passed {
		t.Fatal("expression reaching host I/O must fail")
	}
}

// Determinism: identical input always yields identical outcomes,
// including detail strings.
func TestEvaluate_Deterministic(t *testing.T) {
	e := NewEngine(nil)
	data := decode(t, `{"items": [], "url": "https://example.com"}`)
	assertions := []Assertion{
		{Kind: KindNotEmpty},
		{Kind: KindHasField, Field: "url"},
		{Kind: KindMinItems, Field: "items", MinCount: 2},
		{Kind: KindCustom, Expression: `Count("items") > 0`},
	}

	first := e.Evaluate(data, assertions)
	second := e.Evaluate(data, assertions)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated evaluation differs (-first +second):\n%s", diff)
	}
}

func TestNotEvaluated(t *testing.T) {
	outcomes := NotEvaluated(Defaults(), "output parse error")
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Passed {
			t.Error("not-evaluated outcomes must not pass")
		}
		if !strings.Contains(o.Detail, "not evaluated") {
			t.Errorf("detail should mark the assertion as not evaluated, got %q", o.Detail)
		}
	}
}

func TestParseList(t *testing.T) {
	list, err := ParseList([]byte(`[{"type": "has_field", "field": "items"}, {"type": "min_items", "field": "items", "min_count": 3}]`))
	if err != nil {
		t.Fatalf("ParseList error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 assertions, got %d", len(list))
	}
	if list[0].Kind != KindHasField || list[1].MinCount != 3 {
		t.Errorf("unexpected parse result: %+v", list)
	}

	if _, err := ParseList([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed input")
	}

	empty, err := ParseList(nil)
	if err != nil || empty != nil {
		t.Errorf("nil input should yield nil, nil; got %v, %v", empty, err)
	}
}
