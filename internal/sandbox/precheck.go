package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strings"
)

// Violation describes one issue found by the static pre-check.
type Violation struct {
	Kind        string // forbidden_import, dangerous_call, parse_error
	Location    string
	Description string
}

func (v Violation) String() string {
	if v.Location != "" {
		return fmt.Sprintf("%s at %s: %s", v.Kind, v.Location, v.Description)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Description)
}

// Precheck statically scans generated source before execution. Scrapers
// may reach the network through net/http and parse what they fetch; they
// get no process control, no raw sockets, and no filesystem beyond what
// the runner scopes for them.
type Precheck struct {
	allowed map[string]bool
}

// NewPrecheck builds the checker with the default import allowlist.
func NewPrecheck() *Precheck {
	allowed := map[string]bool{
		"bufio":           true,
		"bytes":           true,
		"context":         true,
		"encoding/base64": true,
		"encoding/csv":    true,
		"encoding/json":   true,
		"encoding/xml":    true,
		"errors":          true,
		"fmt":             true,
		"html":            true,
		"io":              true,
		"math":            true,
		"net/http":        true,
		"net/url":         true,
		"regexp":          true,
		"sort":            true,
		"strconv":         true,
		"strings":         true,
		"time":            true,
		"unicode":         true,
		"unicode/utf8":    true,

		// Blocked by omission: os, os/exec, syscall, net (raw sockets),
		// unsafe, plugin, reflect, runtime, path/filepath.
	}
	return &Precheck{allowed: allowed}
}

// AllowedImports returns the allowlist, sorted, for prompts and errors.
func (p *Precheck) AllowedImports() []string {
	pkgs := make([]string, 0, len(p.allowed))
	for pkg := range p.allowed {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

// Scan parses the source and returns every violation found. A parse
// failure is itself a violation: code we cannot read, we do not run.
func (p *Precheck) Scan(source string) []Violation {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "scraper.go", source, parser.ParseComments)
	if err != nil {
		return []Violation{{
			Kind:        "parse_error",
			Description: fmt.Sprintf("source does not parse: %v", err),
		}}
	}

	var violations []Violation

	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !p.allowed[path] {
			violations = append(violations, Violation{
				Kind:        "forbidden_import",
				Location:    fset.Position(imp.Pos()).String(),
				Description: fmt.Sprintf("import %q is not on the allowlist", path),
			})
		}
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		// Selector-based calls into process-control surfaces, in case an
		// import slipped the list through an alias.
		switch ident.Name {
		case "os", "exec", "syscall", "unsafe", "plugin":
			violations = append(violations, Violation{
				Kind:        "dangerous_call",
				Location:    fset.Position(call.Pos()).String(),
				Description: fmt.Sprintf("call to %s.%s is not permitted", ident.Name, sel.Sel.Name),
			})
		}
		return true
	})

	return violations
}
