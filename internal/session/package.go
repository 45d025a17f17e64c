package session

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"scrapeforge/internal/generate"
	"scrapeforge/internal/store"
)

// packageMetadata is the metadata.json entry of a delivery package. Its
// version always matches the bundled source.
type packageMetadata struct {
	SessionID   string    `json:"session_id"`
	TargetURL   string    `json:"target_url"`
	Objective   string    `json:"objective"`
	Version     int       `json:"version"`
	Language    string    `json:"language"`
	Framework   string    `json:"framework"`
	GeneratedAt time.Time `json:"generated_at"`
	PackagedAt  time.Time `json:"packaged_at"`
}

// buildPackage assembles the delivery zip for an approved version.
func buildPackage(sess *store.Session, sc *store.Scraper, result *store.TestResult) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	entries := []struct {
		name string
		body func() ([]byte, error)
	}{
		{"scraper.go", func() ([]byte, error) {
			return []byte(sc.Source), nil
		}},
		{"dependencies.txt", func() ([]byte, error) {
			return []byte(manifest(sc.Source)), nil
		}},
		{"README.md", func() ([]byte, error) {
			return []byte(renderReadme(sess, sc)), nil
		}},
		{"metadata.json", func() ([]byte, error) {
			return json.MarshalIndent(packageMetadata{
				SessionID:   sess.ID,
				TargetURL:   sess.TargetURL,
				Objective:   sess.Objective,
				Version:     sc.Version,
				Language:    sc.Language,
				Framework:   sc.Framework,
				GeneratedAt: sc.CreatedAt,
				PackagedAt:  time.Now().UTC(),
			}, "", "  ")
		}},
		{"test_results.json", func() ([]byte, error) {
			if result == nil {
				return []byte("{}"), nil
			}
			return json.MarshalIndent(result, "", "  ")
		}},
	}

	for _, e := range entries {
		body, err := e.body()
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to render %s: %w", e.name, err)
		}
		f, err := w.Create(e.name)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to add %s: %w", e.name, err)
		}
		if _, err := f.Write(body); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to write %s: %w", e.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize package: %w", err)
	}
	return buf.Bytes(), nil
}

// manifest lists the third-party modules the source imports, one per
// line, or a note when there are none.
func manifest(source string) string {
	deps := generate.ExtractDependencies(source)
	if len(deps) == 0 {
		return "# standard library only\n"
	}
	return strings.Join(deps, "\n") + "\n"
}

func renderReadme(sess *store.Session, sc *store.Scraper) string {
	var b strings.Builder
	b.WriteString("# Generated Scraper\n\n")
	fmt.Fprintf(&b, "Scraper for %s\n\n", sess.TargetURL)
	fmt.Fprintf(&b, "**Objective:** %s\n\n", sess.Objective)
	fmt.Fprintf(&b, "**Version:** %d\n\n", sc.Version)
	b.WriteString("## Usage\n\n")
	b.WriteString("The scraper exposes a single entrypoint:\n\n")
	b.WriteString("```go\nfunc RunScraper(target string) (string, error)\n```\n\n")
	b.WriteString("It returns the extracted data as a JSON string. Wrap it in a\n")
	b.WriteString("`main` that prints the result, or call it from your own code:\n\n")
	b.WriteString("```go\nout, err := RunScraper(\"" + sess.TargetURL + "\")\nif err != nil {\n\tlog.Fatal(err)\n}\nfmt.Println(out)\n```\n\n")
	b.WriteString("## Dependencies\n\n")
	b.WriteString("See `dependencies.txt`. Standard-library imports need no setup;\n")
	b.WriteString("third-party modules go through `go get`.\n\n")
	b.WriteString("## Test Results\n\n")
	b.WriteString("`test_results.json` holds the sandbox run and assertion outcomes\n")
	b.WriteString("this version was approved on.\n")
	return b.String()
}
