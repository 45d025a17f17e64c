package session

import (
	"fmt"
	"strings"

	"scrapeforge/internal/generate"
	"scrapeforge/internal/pipeline"
	"scrapeforge/internal/store"
)

// renderSpecification turns the exploration artifact into the markdown
// specification the reviewer approves before any code is generated.
func renderSpecification(sess *store.Session) string {
	var b strings.Builder
	b.WriteString("# Scraper Specification\n\n")
	fmt.Fprintf(&b, "**Target:** %s\n\n", sess.TargetURL)
	fmt.Fprintf(&b, "**Objective:** %s\n\n", sess.Objective)
	b.WriteString("## Exploration Findings\n\n")
	b.WriteString(strings.TrimSpace(sess.Exploration))
	b.WriteString("\n\n## Approach\n\n")
	b.WriteString("A Go scraper will be generated against the findings above, ")
	b.WriteString("executed in a sandbox against the live target, and refined ")
	b.WriteString("until its output passes the session's assertions or the ")
	b.WriteString("iteration budget is exhausted.\n")
	return b.String()
}

// scraperSummary is the review payload attached to the generation gate:
// what was produced, how testing went, and a code preview.
func scraperSummary(outcome *pipeline.Outcome, sc *store.Scraper, result *store.TestResult) string {
	var b strings.Builder
	b.WriteString("# Generated Scraper\n\n")
	fmt.Fprintf(&b, "**Version:** %d (after %d iteration(s))\n\n", sc.Version, outcome.Iterations)

	if result != nil {
		passed, failed := 0, 0
		for _, o := range result.Outcomes {
			if o.Passed {
				passed++
			} else {
				failed++
			}
		}
		fmt.Fprintf(&b, "**Assertions:** %d passed, %d failed\n\n", passed, failed)
		if result.ErrClass != "" {
			fmt.Fprintf(&b, "**Execution error:** %s: %s\n\n", result.ErrClass, result.ErrDetail)
		}
		for _, o := range result.Outcomes {
			mark := "PASS"
			if !o.Passed {
				mark = "FAIL"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, o.Detail)
		}
		b.WriteString("\n")
	}

	if deps := generate.ExtractDependencies(sc.Source); len(deps) > 0 {
		fmt.Fprintf(&b, "**Dependencies:** %s\n\n", strings.Join(deps, ", "))
	}

	b.WriteString("## Code Preview\n\n```go\n")
	b.WriteString(preview(sc.Source, 40))
	b.WriteString("\n```\n")
	return b.String()
}

// deliverySummary is attached to the delivery gate: the package the
// reviewer is about to release.
func deliverySummary(sc *store.Scraper) string {
	var b strings.Builder
	b.WriteString("# Delivery Package\n\n")
	fmt.Fprintf(&b, "**Version:** %d\n\n", sc.Version)
	b.WriteString("Contents:\n\n")
	b.WriteString("- `scraper.go` (the approved source)\n")
	b.WriteString("- `dependencies.txt` (third-party module manifest)\n")
	b.WriteString("- `README.md` (usage instructions)\n")
	b.WriteString("- `metadata.json` (session and version metadata)\n")
	b.WriteString("- `test_results.json` (the passing test run)\n")
	return b.String()
}

// preview returns at most n lines of source.
func preview(source string, n int) string {
	lines := strings.Split(strings.TrimSpace(source), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n// ..."
}
