package assertion

import (
	"fmt"

	"go.uber.org/zap"
)

// Engine evaluates assertion lists deterministically: the same assertion
// against the same data always produces the same outcome and detail.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an assertion engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Evaluate runs every assertion against the parsed output. Outcomes are
// returned in input order, one per assertion.
func (e *Engine) Evaluate(data any, assertions []Assertion) []Outcome {
	outcomes := make([]Outcome, 0, len(assertions))
	for _, a := range assertions {
		out := e.evaluateOne(data, a)
		e.logger.Debug("Assertion evaluated",
			zap.String("type", string(a.Kind)),
			zap.Bool("passed", out.Passed),
			zap.String("detail", out.Detail))
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// AllPassed reports whether every outcome passed.
func AllPassed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// NotEvaluated returns outcomes marking every assertion as skipped, used
// when execution itself failed before output could be parsed.
func NotEvaluated(assertions []Assertion, reason string) []Outcome {
	outcomes := make([]Outcome, 0, len(assertions))
	for _, a := range assertions {
		outcomes = append(outcomes, Outcome{
			Kind:        a.Kind,
			Description: a.Describe(),
			Passed:      false,
			Detail:      "not evaluated: " + reason,
		})
	}
	return outcomes
}

func (e *Engine) evaluateOne(data any, a Assertion) Outcome {
	out := Outcome{Kind: a.Kind, Description: a.Describe()}

	switch a.Kind {
	case KindNotEmpty:
		if isEmpty(data) {
			out.Detail = fmt.Sprintf("expected non-empty output, got %s", describeValue(data))
		} else {
			out.Passed = true
			out.Detail = fmt.Sprintf("output is non-empty (%s)", describeValue(data))
		}

	case KindHasField:
		if v, ok := Resolve(data, a.Field); ok {
			out.Passed = true
			out.Detail = fmt.Sprintf("field %q present (%s)", a.Field, describeValue(v))
		} else {
			out.Detail = fmt.Sprintf("field %q not found", a.Field)
		}

	case KindFieldNotEmpty:
		v, ok := Resolve(data, a.Field)
		switch {
		case !ok:
			out.Detail = fmt.Sprintf("field %q not found", a.Field)
		case isEmpty(v):
			out.Detail = fmt.Sprintf("expected non-empty value at %q, got %s", a.Field, describeValue(v))
		default:
			out.Passed = true
			out.Detail = fmt.Sprintf("field %q is non-empty (%s)", a.Field, describeValue(v))
		}

	case KindMinItems:
		min := a.MinCount
		if min <= 0 {
			min = 1
		}
		v, ok := Resolve(data, a.Field)
		if !ok {
			out.Detail = fmt.Sprintf("field %q not found", a.Field)
			break
		}
		items, isArr := v.([]any)
		if !isArr {
			out.Detail = fmt.Sprintf("expected an array at %q, got %s", a.Field, typeName(v))
			break
		}
		if len(items) >= min {
			out.Passed = true
			out.Detail = fmt.Sprintf("field %q has %d items (expected >= %d)", a.Field, len(items), min)
		} else {
			out.Detail = fmt.Sprintf("expected >= %d items at %q, got %d", min, a.Field, len(items))
		}

	case KindFieldType:
		v, ok := Resolve(data, a.Field)
		if !ok {
			out.Detail = fmt.Sprintf("field %q not found", a.Field)
			break
		}
		actual := typeName(v)
		if actual == a.ExpectedType {
			out.Passed = true
			out.Detail = fmt.Sprintf("field %q has type %s", a.Field, actual)
		} else {
			out.Detail = fmt.Sprintf("expected type %s at %q, got %s", a.ExpectedType, a.Field, actual)
		}

	case KindCustom:
		passed, detail := evalCustom(a.Expression, data)
		out.Passed = passed
		out.Detail = detail

	default:
		out.Detail = fmt.Sprintf("unknown assertion type %q", a.Kind)
	}

	return out
}
