package generate

import (
	"go/parser"
	"go/token"
	"sort"
	"strings"
)

// ExtractCode pulls Go source out of a model completion. Fenced code
// blocks take precedence; a reply that is already bare code passes
// through unchanged.
func ExtractCode(completion string) string {
	text := strings.TrimSpace(completion)

	for _, fence := range []string{"```go", "```golang", "```"} {
		start := strings.Index(text, fence)
		if start < 0 {
			continue
		}
		rest := text[start+len(fence):]
		end := strings.Index(rest, "```")
		if end < 0 {
			return strings.TrimSpace(rest)
		}
		return strings.TrimSpace(rest[:end])
	}
	return text
}

// looksLikeGo reports whether the extracted text parses as a Go file,
// tolerating a missing package clause. Prose replies fail here so the
// loop can classify them as provider failures instead of running them.
func looksLikeGo(source string) bool {
	src := source
	if !strings.Contains(src, "package ") {
		src = "package main\n\n" + src
	}
	fset := token.NewFileSet()
	_, err := parser.ParseFile(fset, "scraper.go", src, 0)
	return err == nil
}

// ExtractDependencies parses the source and returns its third-party
// module paths (first path element contains a dot), sorted. Stdlib-only
// scrapers yield an empty manifest.
func ExtractDependencies(source string) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "scraper.go", source, parser.ImportsOnly)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		first := path
		if i := strings.Index(path, "/"); i >= 0 {
			first = path[:i]
		}
		if strings.Contains(first, ".") {
			seen[path] = struct{}{}
		}
	}

	deps := make([]string, 0, len(seen))
	for dep := range seen {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}
