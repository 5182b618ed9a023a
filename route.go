package dhttp

import (
	"regexp"

	"github.com/samber/lo"
)

// RouteTable is an ordered mapping from url pattern to handler reference. It is
// built once at startup and read-only afterwards: Resolve is a pure lookup.
type RouteTable struct {
	entries []routeEntry
}

type routeEntry struct {
	raw     string
	pattern *regexp.Regexp
	handler Handler
	ref     string
}

// Match is the result of a successful route resolution.
type Match struct {
	Pattern  string
	Captures []string          // positional capture groups, in pattern order
	Params   map[string]string // named capture groups

	handler Handler
	ref     string
}

// NewRouteTable inits an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{}
}

// Handle registers an in-process handler for the pattern. Patterns are regular
// expressions anchored to the full request path and are tested in registration
// order; the first match wins. Panics on an invalid pattern.
func (t *RouteTable) Handle(pattern string, handler Handler) {
	t.entries = append(t.entries, routeEntry{
		raw:     pattern,
		pattern: compilePattern(pattern),
		handler: handler,
	})
}

// HandleFunc registers a handler function for the pattern.
func (t *RouteTable) HandleFunc(pattern string, handler HandlerFunc) {
	t.Handle(pattern, handler)
}

// HandleRef registers a named target for the pattern, to be resolved through
// the dispatcher's [TargetLoader] when the route is hit.
func (t *RouteTable) HandleRef(pattern, ref string) {
	t.entries = append(t.entries, routeEntry{
		raw:     pattern,
		pattern: compilePattern(pattern),
		ref:     ref,
	})
}

// Resolve tests the request path against every pattern in registration order
// and returns the first match. There is no specificity ordering: registration
// order is the only tie-break.
func (t *RouteTable) Resolve(urlPath string) (*Match, bool) {
	for _, entry := range t.entries {
		caps := entry.pattern.FindStringSubmatch(urlPath)
		if caps == nil {
			continue
		}

		match := &Match{
			Pattern:  entry.raw,
			Captures: caps[1:],
			Params:   map[string]string{},
			handler:  entry.handler,
			ref:      entry.ref,
		}

		for i, name := range entry.pattern.SubexpNames() {
			if i > 0 && name != "" && i < len(caps) {
				match.Params[name] = caps[i]
			}
		}

		return match, true
	}

	return nil, false
}

// Len returns the number of registered routes.
func (t *RouteTable) Len() int { return len(t.entries) }

// Patterns returns the registered patterns in registration order.
func (t *RouteTable) Patterns() []string {
	return lo.Map(t.entries, func(e routeEntry, _ int) string { return e.raw })
}

// compilePattern anchors the pattern so it matches the whole path, mirroring
// url-template matching rather than substring search.
func compilePattern(pattern string) *regexp.Regexp {
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		panic("dhttp: invalid route pattern " + pattern + ": " + err.Error())
	}

	return re
}
