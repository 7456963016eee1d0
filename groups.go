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

// Group is a path-prefixed, middleware-scoped view onto a Router. Grounded
// directly on the teacher's router/groups.go: a Group carries its own
// prefix and middleware list, and route registration on it concatenates
// [global middleware...] + [group middleware...] + [route handlers...],
// matching §4.4's "global_mw ++ route_mw" concatenation order exactly.
type Group struct {
	router     *Router
	prefix     string
	middleware []HandlerFunc
}

// Use appends middleware to this group; it runs after the router's global
// middleware and before any middleware registered on a specific route
// within the group.
func (g *Group) Use(h ...HandlerFunc) {
	g.middleware = append(g.middleware, h...)
}

// Group creates a nested group whose prefix is joined onto this group's
// prefix and whose middleware list extends this group's.
func (g *Group) Group(prefix string) *Group {
	return &Group{
		router:     g.router,
		prefix:     JoinPath(g.prefix, prefix),
		middleware: append([]HandlerFunc(nil), g.middleware...),
	}
}

// Handle registers a route under this group's prefix, with this group's
// middleware applied as route_mw.
func (g *Group) Handle(method, pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return g.router.register(method, JoinPath(g.prefix, pattern), desc, g.middleware, mwSpecs)
}

// GET, POST, PUT, PATCH, DELETE register a route scoped to this group.
func (g *Group) GET(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return g.Handle("GET", pattern, desc, mwSpecs...)
}
func (g *Group) POST(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return g.Handle("POST", pattern, desc, mwSpecs...)
}
func (g *Group) PUT(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return g.Handle("PUT", pattern, desc, mwSpecs...)
}
func (g *Group) PATCH(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return g.Handle("PATCH", pattern, desc, mwSpecs...)
}
func (g *Group) DELETE(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return g.Handle("DELETE", pattern, desc, mwSpecs...)
}
