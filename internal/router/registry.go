package router

import (
	"fmt"
	"strings"
)

// Registry maps normalized path patterns to delegates.  Patterns are
// segment lists where "*" matches exactly one segment, e.g.
// "patients/*" or "localized-charts/*/*/*".  Registration happens once at
// startup; lookups are read-only afterwards.
type Registry struct {
	routes []route
}

type route struct {
	pattern  []string
	delegate Delegate
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a delegate under the given pattern.  Registering the same
// pattern twice panics: the table is assembled once at startup and a
// duplicate is a programming error.
func (r *Registry) Register(pattern string, d Delegate) {
	segs := splitPath(pattern)
	if len(segs) == 0 {
		panic("router: empty pattern")
	}
	for _, existing := range r.routes {
		if patternsEqual(existing.pattern, segs) {
			panic(fmt.Sprintf("router: duplicate pattern %q", pattern))
		}
	}
	r.routes = append(r.routes, route{pattern: segs, delegate: d})
}

// Resolve finds the delegate for a concrete path and returns it together
// with the path's segments.  Literal segments bind tighter than wildcards
// when both could match.
func (r *Registry) Resolve(path string) (Delegate, []string, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return nil, nil, fmt.Errorf("%w: empty path", ErrNoDelegate)
	}

	var wildcard *route
	for i := range r.routes {
		rt := &r.routes[i]
		switch match(rt.pattern, segs) {
		case matchLiteral:
			return rt.delegate, segs, nil
		case matchWildcard:
			if wildcard == nil {
				wildcard = rt
			}
		}
	}
	if wildcard != nil {
		return wildcard.delegate, segs, nil
	}
	return nil, nil, fmt.Errorf("%w for path %q", ErrNoDelegate, path)
}

type matchKind int

const (
	matchNone matchKind = iota
	matchWildcard
	matchLiteral
)

func match(pattern, segs []string) matchKind {
	if len(pattern) != len(segs) {
		return matchNone
	}
	kind := matchLiteral
	for i, p := range pattern {
		if p == "*" {
			kind = matchWildcard
			continue
		}
		if p != segs[i] {
			return matchNone
		}
	}
	return kind
}

func patternsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func joinPath(segs []string) string {
	return strings.Join(segs, "/")
}
