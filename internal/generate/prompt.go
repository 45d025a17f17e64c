package generate

import (
	"context"
	"fmt"
	"strings"
)

const systemPrompt = `You are an expert web-scraping engineer. You write complete, ` +
	`production-ready Go scrapers that run in a restricted interpreter.`

// Request carries everything the provider needs for one generation
// attempt. Iterations beyond the first include the previous source and
// its failure details so the model can refine instead of guessing.
type Request struct {
	TargetURL     string
	Objective     string
	Specification string // exploration-derived findings, markdown

	Iteration     int // 1-based
	MaxIterations int

	PreviousSource string
	FailureDetails []string

	AllowedImports []string
}

// BuildPrompt renders the system and user prompts for a request.
func BuildPrompt(req Request) (string, string) {
	var b strings.Builder

	b.WriteString("Generate a complete Go web scraper for the following target.\n\n")
	fmt.Fprintf(&b, "Target URL: %s\n", req.TargetURL)
	fmt.Fprintf(&b, "Objective: %s\n\n", req.Objective)

	if req.Specification != "" {
		b.WriteString("Exploration findings:\n\n")
		b.WriteString(req.Specification)
		b.WriteString("\n\n")
	}

	b.WriteString("Requirements:\n")
	b.WriteString("- Define exactly: func RunScraper(target string) (string, error)\n")
	b.WriteString("- Return the extracted data as a single JSON value (use encoding/json)\n")
	b.WriteString("- Always include the source URL under the key \"url\"\n")
	b.WriteString("- Handle missing elements gracefully and return an error instead of panicking\n")
	if len(req.AllowedImports) > 0 {
		fmt.Fprintf(&b, "- Only these imports are available: %s\n", strings.Join(req.AllowedImports, ", "))
	}
	b.WriteString("- Output only Go code, in a single fenced code block\n")

	if req.Iteration > 1 && req.PreviousSource != "" {
		b.WriteString("\nIMPORTANT: this is a refinement iteration. The previous version failed:\n")
		details := req.FailureDetails
		if len(details) > 3 {
			details = details[len(details)-3:]
		}
		for _, d := range details {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\nPrevious code:\n```go\n")
		b.WriteString(req.PreviousSource)
		b.WriteString("\n```\n\nFix the issues identified above.\n")
	}

	return systemPrompt, b.String()
}

// Generate invokes the capability once and extracts the returned source.
// Provider failures wrap ErrUpstream; the caller treats them as fatal
// for the current loop, never as a test failure.
func Generate(ctx context.Context, client Client, req Request) (string, error) {
	system, user := BuildPrompt(req)
	raw, err := client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	source := ExtractCode(raw)
	if strings.TrimSpace(source) == "" || !looksLikeGo(source) {
		return "", fmt.Errorf("%w: completion contained no usable code", ErrUpstream)
	}
	return source, nil
}
