// Package container executes tasks inside isolated container environments.
// It resolves abstract input/output targets onto a per-invocation scratch
// directory, renders a structured command template, and publishes outputs
// back to their final locations.
package container

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder kinds accepted in command templates.
const (
	KindInput  = "input"
	KindOutput = "output"
	KindParam  = "param"
)

var placeholderRe = regexp.MustCompile(`\{(input|output|param)\.([A-Za-z0-9_]+)\}`)

// Template is an ordered argument list with named placeholders of the form
// {input.name}, {output.name} or {param.name}. Arguments are passed to the
// container verbatim; no shell ever interprets them, so quoting and
// escaping problems cannot arise.
type Template struct {
	args []string
}

// NewTemplate builds a template from the given argument list.
func NewTemplate(args ...string) *Template {
	return &Template{args: append([]string(nil), args...)}
}

// Args returns a copy of the raw, unrendered argument list.
func (t *Template) Args() []string {
	return append([]string(nil), t.args...)
}

// Placeholders returns the distinct placeholders referenced by the
// template, as "kind.name" strings in sorted order.
func (t *Template) Placeholders() []string {
	seen := make(map[string]struct{})
	for _, arg := range t.args {
		for _, m := range placeholderRe.FindAllStringSubmatch(arg, -1) {
			seen[m[1]+"."+m[2]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ArgPlaceholders returns the placeholders referenced by a single argument
// string, as "kind.name" strings in order of appearance.
func ArgPlaceholders(arg string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(arg, -1) {
		out = append(out, m[1]+"."+m[2])
	}
	return out
}

// Render substitutes placeholders by name and returns the concrete argument
// vector. An argument consisting solely of a placeholder found in lists
// expands into one argument per collection element, which is how fan-in
// tasks receive every per-sample path. Any placeholder left unresolved is a
// configuration error.
func (t *Template) Render(values map[string]string, lists map[string][]string) ([]string, error) {
	var rendered []string
	for _, arg := range t.args {
		if m := placeholderRe.FindStringSubmatch(arg); m != nil && m[0] == arg {
			if items, ok := lists[m[1]+"."+m[2]]; ok {
				rendered = append(rendered, items...)
				continue
			}
		}
		out := placeholderRe.ReplaceAllStringFunc(arg, func(ph string) string {
			key := strings.TrimSuffix(strings.TrimPrefix(ph, "{"), "}")
			if v, ok := values[key]; ok {
				return v
			}
			return ph
		})
		if rest := placeholderRe.FindString(out); rest != "" {
			return nil, fmt.Errorf("unresolved placeholder %s in command argument %q", rest, arg)
		}
		rendered = append(rendered, out)
	}
	return rendered, nil
}
