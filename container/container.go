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

// Package container implements a dependency-injection container that
// resolves string-keyed service identifiers to instances, honoring a
// registered lifetime scope and detecting circular dependencies and
// excessive resolution depth.
package container

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Scope is the lifetime policy of a registered service.
type Scope int

const (
	// Singleton services are constructed once per container and cached
	// for the container's lifetime.
	Singleton Scope = iota
	// Transient services are constructed fresh on every resolve.
	Transient
	// Scoped services are constructed once per resolution root and shared
	// within that root's dependency tree, but not across roots.
	Scoped
)

func (s Scope) String() string {
	switch s {
	case Singleton:
		return "singleton"
	case Transient:
		return "transient"
	case Scoped:
		return "scoped"
	default:
		return "unknown"
	}
}

// Factory constructs a service instance, resolving its own dependencies
// through the Resolver passed to it.
type Factory func(r Resolver) (any, error)

// Resolver is the subset of Container operations available to a factory
// while it is being constructed; passing this instead of *Container keeps
// the resolution-context bookkeeping (path, depth, scoped instances)
// internal to the container.
type Resolver interface {
	Resolve(identifier string) (any, error)
	TryResolve(identifier string) (any, bool, error)
}

// registration is a service's static description, set by Register and
// never mutated afterward (Register replaces it wholesale instead).
type registration struct {
	identifier string
	factory    Factory
	scope      Scope
	deps       []string
	tags       []string
	condition  func() bool
	seq        int64
}

func sortBySeq(regs []*registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
}

// CircularDependencyError carries the cyclic resolution path, e.g.
// [A, B, A].
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %v", e.Path)
}

// DepthExceededError reports that resolution recursed past the configured
// maximum depth.
type DepthExceededError struct {
	Identifier string
	Depth      int
	Max        int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("resolution depth exceeded for %q: depth %d > max %d", e.Identifier, e.Depth, e.Max)
}

// ServiceNotFoundError reports that no registration exists for identifier.
type ServiceNotFoundError struct {
	Identifier string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service not found: %q", e.Identifier)
}

// InvalidRegistrationError reports a malformed Register call.
type InvalidRegistrationError struct {
	Identifier string
	Reason     string
}

func (e *InvalidRegistrationError) Error() string {
	return fmt.Sprintf("invalid registration for %q: %s", e.Identifier, e.Reason)
}

// Option configures a Container at construction time.
type Option func(*Container)

// WithMaxDepth overrides the default resolution-depth bound (50).
func WithMaxDepth(max int) Option {
	return func(c *Container) { c.maxDepth = max }
}

// WithDetectCycles toggles circular-dependency detection. It defaults to
// enabled; disabling it is only useful for diagnosing a known-safe graph
// under constrained resolution budgets.
func WithDetectCycles(enabled bool) Option {
	return func(c *Container) { c.detectCycles = enabled }
}

// WithDebug enables verbose per-resolution logging via logger: every
// Resolve/TryResolve call logs the identifier, its scope, and whether it
// was served from the singleton cache, a scoped cache, or freshly
// constructed. A nil logger falls back to slog.Default().
func WithDebug(enabled bool, logger *slog.Logger) Option {
	return func(c *Container) {
		c.debug = enabled
		if logger != nil {
			c.logger = logger
		}
	}
}

// Container is the canonical service registry. Per the design notes, a
// single container type replaces the legacy pattern of two overlapping
// container surfaces.
type Container struct {
	mu            sync.RWMutex
	registrations map[string]*registration
	singletons    map[string]any
	singletonOnce map[string]*sync.Once
	parent        *Container

	maxDepth     int
	detectCycles bool
	seqCounter   int64

	debug  bool
	logger *slog.Logger
}

// New creates an empty, top-level Container.
func New(opts ...Option) *Container {
	c := &Container{
		registrations: make(map[string]*registration),
		singletons:    make(map[string]any),
		singletonOnce: make(map[string]*sync.Once),
		maxDepth:      50,
		detectCycles:  true,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds or replaces the registration for identifier. Replacing a
// registration clears any cached singleton instance for it, so the next
// Resolve reconstructs it from the new factory.
func (c *Container) Register(identifier string, factory Factory, scope Scope, deps []string, tags []string, condition func() bool) error {
	if identifier == "" {
		return &InvalidRegistrationError{Identifier: identifier, Reason: "identifier must not be empty"}
	}
	if factory == nil {
		return &InvalidRegistrationError{Identifier: identifier, Reason: "factory must not be nil"}
	}
	switch scope {
	case Singleton, Transient, Scoped:
	default:
		return &InvalidRegistrationError{Identifier: identifier, Reason: "scope must be singleton, transient, or scoped"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations[identifier] = &registration{
		identifier: identifier,
		factory:    factory,
		scope:      scope,
		deps:       append([]string(nil), deps...),
		tags:       append([]string(nil), tags...),
		condition:  condition,
		seq:        atomic.AddInt64(&c.seqCounter, 1),
	}
	delete(c.singletons, identifier)
	delete(c.singletonOnce, identifier)
	return nil
}

// resolutionContext carries the state threaded through one root-level
// Resolve call: the in-flight path (for cycle detection), the current
// depth, and the scoped-instance cache for this resolution root.
type resolutionContext struct {
	path            []string
	depth           int
	scopedInstances map[string]any
}

// scopedResolver is the Resolver handed to factories; it closes over the
// container and the resolution context so nested Resolve calls extend the
// same path/depth bookkeeping.
type scopedResolver struct {
	c   *Container
	ctx *resolutionContext
}

func (s *scopedResolver) Resolve(identifier string) (any, error) {
	return s.c.resolveWithContext(identifier, s.ctx)
}

func (s *scopedResolver) TryResolve(identifier string) (any, bool, error) {
	return s.c.tryResolveWithContext(identifier, s.ctx)
}

// Resolve returns an instance for identifier, obeying its registered scope.
// It fails with ServiceNotFoundError if unknown, *CircularDependencyError
// if identifier appears in the current resolution path, or
// *DepthExceededError past the configured max depth.
func (c *Container) Resolve(identifier string) (any, error) {
	ctx := &resolutionContext{scopedInstances: make(map[string]any)}
	return c.resolveWithContext(identifier, ctx)
}

// TryResolve behaves like Resolve but never raises on ServiceNotFoundError;
// it returns (nil, false, nil) for that case instead. All other failures
// (circular dependency, depth exceeded, a factory's own error) propagate.
func (c *Container) TryResolve(identifier string) (any, bool, error) {
	ctx := &resolutionContext{scopedInstances: make(map[string]any)}
	return c.tryResolveWithContext(identifier, ctx)
}

func (c *Container) tryResolveWithContext(identifier string, ctx *resolutionContext) (any, bool, error) {
	instance, err := c.resolveWithContext(identifier, ctx)
	if err != nil {
		var notFound *ServiceNotFoundError
		if isServiceNotFound(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return instance, true, nil
}

func isServiceNotFound(err error, target **ServiceNotFoundError) bool {
	if nf, ok := err.(*ServiceNotFoundError); ok {
		*target = nf
		return true
	}
	return false
}

func (c *Container) lookup(identifier string) (*registration, *Container, bool) {
	c.mu.RLock()
	reg, ok := c.registrations[identifier]
	c.mu.RUnlock()
	if ok {
		return reg, c, true
	}
	if c.parent != nil {
		return c.parent.lookup(identifier)
	}
	return nil, nil, false
}

func (c *Container) resolveWithContext(identifier string, ctx *resolutionContext) (any, error) {
	reg, owner, ok := c.lookup(identifier)
	if !ok {
		return nil, &ServiceNotFoundError{Identifier: identifier}
	}
	if reg.condition != nil && !reg.condition() {
		return nil, &ServiceNotFoundError{Identifier: identifier}
	}

	if c.detectCycles {
		for _, p := range ctx.path {
			if p == identifier {
				return nil, &CircularDependencyError{Path: append(append([]string(nil), ctx.path...), identifier)}
			}
		}
	}
	if ctx.depth >= c.maxDepth {
		return nil, &DepthExceededError{Identifier: identifier, Depth: ctx.depth + 1, Max: c.maxDepth}
	}

	if c.debug {
		c.logger.Debug("container: resolving", "identifier", identifier, "scope", reg.scope.String(), "depth", ctx.depth)
	}

	switch reg.scope {
	case Singleton:
		return owner.resolveSingleton(reg, ctx)
	case Scoped:
		return owner.resolveScoped(reg, ctx)
	default: // Transient
		return owner.construct(reg, ctx)
	}
}

func (c *Container) resolveSingleton(reg *registration, ctx *resolutionContext) (any, error) {
	c.mu.RLock()
	if v, ok := c.singletons[reg.identifier]; ok {
		c.mu.RUnlock()
		if c.debug {
			c.logger.Debug("container: singleton cache hit", "identifier", reg.identifier)
		}
		return v, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	once, ok := c.singletonOnce[reg.identifier]
	if !ok {
		once = &sync.Once{}
		c.singletonOnce[reg.identifier] = once
	}
	c.mu.Unlock()

	var instance any
	var constructErr error
	once.Do(func() {
		instance, constructErr = c.construct(reg, ctx)
		if constructErr == nil {
			c.mu.Lock()
			c.singletons[reg.identifier] = instance
			c.mu.Unlock()
		}
	})
	if constructErr != nil {
		// A failed construction must not leave behind a poisoned Once: the
		// next caller should get a chance to retry.
		c.mu.Lock()
		delete(c.singletonOnce, reg.identifier)
		c.mu.Unlock()
		return nil, constructErr
	}
	c.mu.RLock()
	v, ok := c.singletons[reg.identifier]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	return instance, nil
}

func (c *Container) resolveScoped(reg *registration, ctx *resolutionContext) (any, error) {
	if v, ok := ctx.scopedInstances[reg.identifier]; ok {
		if c.debug {
			c.logger.Debug("container: scoped cache hit", "identifier", reg.identifier)
		}
		return v, nil
	}
	instance, err := c.construct(reg, ctx)
	if err != nil {
		return nil, err
	}
	ctx.scopedInstances[reg.identifier] = instance
	return instance, nil
}

// construct invokes reg's factory with a Resolver scoped to an extended
// resolution path/depth, per the "appending to [path] before recursing and
// popping on return" contract.
func (c *Container) construct(reg *registration, ctx *resolutionContext) (any, error) {
	if c.debug {
		c.logger.Debug("container: constructing", "identifier", reg.identifier)
	}
	childCtx := &resolutionContext{
		path:            append(append([]string(nil), ctx.path...), reg.identifier),
		depth:           ctx.depth + 1,
		scopedInstances: ctx.scopedInstances,
	}
	resolver := &scopedResolver{c: c, ctx: childCtx}
	return reg.factory(resolver)
}

// ResolveByTag returns every instance whose registration tag set contains
// tag, in registration order.
func (c *Container) ResolveByTag(tag string) ([]any, error) {
	c.mu.RLock()
	var ordered []*registration
	for _, reg := range c.registrations {
		for _, t := range reg.tags {
			if t == tag {
				ordered = append(ordered, reg)
				break
			}
		}
	}
	c.mu.RUnlock()

	// Registration order is not recoverable from a map, so ResolveByTag
	// sorts by the monotonic sequence number stamped on each registration
	// at Register time (registration.seq, above).
	sortBySeq(ordered)

	instances := make([]any, 0, len(ordered))
	for _, reg := range ordered {
		ctx := &resolutionContext{scopedInstances: make(map[string]any)}
		v, err := c.resolveWithContext(reg.identifier, ctx)
		if err != nil {
			return nil, err
		}
		instances = append(instances, v)
	}
	return instances, nil
}

// Child creates a derived Container with copied registrations but an
// independent singleton cache: singletons constructed in the parent are not
// visible to the child, and vice versa, but both see the same factories.
func (c *Container) Child() *Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	child := New(WithMaxDepth(c.maxDepth), WithDetectCycles(c.detectCycles), WithDebug(c.debug, c.logger))
	for id, reg := range c.registrations {
		copied := *reg
		child.registrations[id] = &copied
	}
	return child
}
