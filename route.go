// Copyright 2025 The Rivaas Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package forge

import (
	"regexp"
	"strings"
	"sync"
)

// Pattern is a compiled route pattern: either static (verbatim lookup key)
// or dynamic (anchored regex plus the ordered placeholder names matching
// its capture groups).
//
// The teacher's own router (radix.go) compiles patterns into a radix tree
// for O(depth) lookups with a bloom-filter-accelerated static table. That
// design answers a different contract (longest-prefix radix matching) than
// the one fixed here: an unconditional static map plus an ordered list of
// regexes searched in registration order. This file implements that
// simpler, explicitly ordered contract, in the teacher's commenting and
// struct-layout style rather than its algorithm.
type Pattern struct {
	Raw        string
	Static     bool
	Regex      *regexp.Regexp
	ParamNames []string
}

var paramToken = regexp.MustCompile(`:[A-Za-z_][A-Za-z0-9_]*|\*`)

// IsStatic reports whether a raw pattern contains no ':' or '*' — the
// invariant that decides static_map vs dynamic_list placement.
func IsStatic(pattern string) bool {
	return !strings.ContainsAny(pattern, ":*")
}

// CompilePattern tokenizes pattern by '/': each ":name" segment becomes a
// `[^/]+` capture group whose name is appended to ParamNames; a segment
// that is exactly "*" becomes a "(.*)" capture group (named "*" in
// ParamNames), and a "*" inside any other segment becomes a non-capturing
// ".*"; every other character is regex-escaped literally. The
// resulting regex is anchored with ^...$. Static patterns skip regex
// construction entirely.
func CompilePattern(pattern string) *Pattern {
	if IsStatic(pattern) {
		return &Pattern{Raw: pattern, Static: true}
	}

	var names []string
	var b strings.Builder
	b.WriteString("^")

	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("/")
		}
		switch {
		case strings.HasPrefix(seg, ":") && len(seg) > 1:
			names = append(names, seg[1:])
			b.WriteString(`([^/]+)`)
		case seg == "*":
			b.WriteString(`(.*)`)
			names = append(names, "*")
		default:
			b.WriteString(strings.ReplaceAll(regexp.QuoteMeta(seg), `\*`, `.*`))
		}
	}
	b.WriteString("$")

	return &Pattern{
		Raw:        pattern,
		Static:     false,
		Regex:      regexp.MustCompile(b.String()),
		ParamNames: names,
	}
}

// RouteEntry is an immutable record created at registration time: method,
// compiled pattern, the specialized invoker C3 built for it, and the
// middleware specs that apply to this route specifically (global specs are
// prepended at dispatch time, not stored here).
type RouteEntry struct {
	Method     string
	Pattern    *Pattern
	Invoker    Invoker
	MWSpecs    []MiddlewareSpec
	FullPath   string
}

// routeKey returns the "METHOD:path" lookup key used for static_map, and the
// duplicate-registration identity for both containers.
func routeKey(method, path string) string { return method + ":" + path }

// RouteIndex is the two-tier lookup structure from the data model: a
// static_map for O(1) exact matches and an ordered dynamic_list searched in
// registration order. Static always wins over dynamic; within dynamic,
// first registration wins. Both invariants are part of the contract and
// are preserved here rather than reordered for convenience.
type RouteIndex struct {
	mu          sync.RWMutex
	staticMap   map[string]*RouteEntry
	dynamicList []*RouteEntry
	seen        map[string]bool // method:full_path -> registered, for DuplicateRoute
}

// NewRouteIndex constructs an empty index.
func NewRouteIndex() *RouteIndex {
	return &RouteIndex{
		staticMap: make(map[string]*RouteEntry),
		seen:      make(map[string]bool),
	}
}

// Register compiles the joined path into a Pattern, normalizes
// basePath+pattern to exactly one joining '/', and inserts the
// entry into whichever container matches its staticness. It fails with
// ErrDuplicateRoute if (method, fullPath) was already registered; the first
// registration remains authoritative.
func (ri *RouteIndex) Register(method, basePath, pattern string, invoker Invoker, mwSpecs []MiddlewareSpec) (*RouteEntry, error) {
	fullPath := JoinPath(basePath, pattern)
	compiled := CompilePattern(fullPath)

	ri.mu.Lock()
	defer ri.mu.Unlock()

	key := routeKey(method, fullPath)
	if ri.seen[key] {
		return nil, ErrDuplicateRoute
	}

	entry := &RouteEntry{
		Method:   method,
		Pattern:  compiled,
		Invoker:  invoker,
		MWSpecs:  mwSpecs,
		FullPath: fullPath,
	}

	if compiled.Static {
		ri.staticMap[key] = entry
	} else {
		ri.dynamicList = append(ri.dynamicList, entry)
	}
	ri.seen[key] = true
	return entry, nil
}

// JoinPath strips trailing slashes from base and leading slashes from
// pattern, then joins them so exactly one '/' separates them.
func JoinPath(base, pattern string) string {
	base = strings.TrimRight(base, "/")
	pattern = "/" + strings.TrimLeft(pattern, "/")
	return base + pattern
}

// Lookup resolves (method, url-path) to a matching entry and its extracted
// path parameters. static_map is probed first (unconditional static
// priority); on miss, dynamic_list is scanned in registration order and the
// first regex match wins. Returns (nil, nil, false) on no match.
func (ri *RouteIndex) Lookup(method, urlPath string) (*RouteEntry, map[string]string, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	if entry, ok := ri.staticMap[routeKey(method, urlPath)]; ok {
		return entry, map[string]string{}, true
	}

	for _, entry := range ri.dynamicList {
		if entry.Method != method {
			continue
		}
		match := entry.Pattern.Regex.FindStringSubmatch(urlPath)
		if match == nil {
			continue
		}
		params := make(map[string]string, len(entry.Pattern.ParamNames))
		for i, name := range entry.Pattern.ParamNames {
			if name == "*" {
				continue
			}
			params[name] = match[i+1]
		}
		return entry, params, true
	}

	return nil, nil, false
}

// AllowedMethods returns every method registered for urlPath across both
// containers, used to distinguish 404 (no path matches) from 405 (path
// matches, method doesn't).
func (ri *RouteIndex) AllowedMethods(urlPath string) []string {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	seen := make(map[string]bool)
	var methods []string
	addIfPathMatches := func(e *RouteEntry) {
		if e.FullPath == urlPath || (e.Pattern.Regex != nil && e.Pattern.Regex.MatchString(urlPath)) {
			if !seen[e.Method] {
				seen[e.Method] = true
				methods = append(methods, e.Method)
			}
		}
	}
	for _, e := range ri.staticMap {
		addIfPathMatches(e)
	}
	for _, e := range ri.dynamicList {
		addIfPathMatches(e)
	}
	return methods
}

// Clear empties both containers, destroying every Route Entry.
func (ri *RouteIndex) Clear() {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.staticMap = make(map[string]*RouteEntry)
	ri.dynamicList = nil
	ri.seen = make(map[string]bool)
}
