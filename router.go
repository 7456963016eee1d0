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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgehttp/forge/cache"
	"github.com/forgehttp/forge/container"
	"github.com/forgehttp/forge/metrics"
)

// Router is the thin transport adapter described in §2: it accepts
// method+url+body-stream from net/http, hands the lookup to the Route
// Index (C2), and dispatches through the middleware/guard pipeline (C4) to
// the route's Specialized Invoker (C3). The container (C1) and the cache/
// metrics providers (C5) are wired in as sideband dependencies resolved
// through it, matching §2's "metrics and cache providers are sideband
// dependencies resolved via the container."
//
// Grounded in the teacher's router/router.go Router struct and ServeHTTP,
// adapted from its radix-tree lookup to the static_map+dynamic_list
// contract this spec requires.
type Router struct {
	cfg *config

	index       *RouteIndex
	specializer *Specializer

	globalMW []HandlerFunc
	guards   []GuardFunc

	container *container.Container
	cache     cache.Provider
	metrics   metrics.Provider
	logger    *slog.Logger

	notFound         HandlerFunc
	methodNotAllowed HandlerFunc

	routeMiddlewareMu sync.RWMutex
	routeMiddleware   map[string][]HandlerFunc

	stopSystemMetrics chan struct{}
	closeOnce         sync.Once
}

// New constructs a Router. Errors from internal setup are returned rather
// than panicking, matching idiomatic Go constructor conventions; see
// MustNew for the panic-on-error convenience the teacher also provides.
func New(opts ...Option) (*Router, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	ct := cfg.container
	if ct == nil {
		ct = NewContainer()
	}

	cacheProvider := cfg.cache
	if cacheProvider == nil {
		cacheProvider = cache.New()
	}
	metricsProvider := cfg.metrics
	if metricsProvider == nil {
		metricsProvider = metrics.New()
	}

	// Register the cache/metrics providers as container singletons so
	// handlers resolving "cache"/"metrics" by identifier get the same
	// instances the router itself uses — the "sideband dependencies
	// resolved via the container" wiring from §2.
	_ = ct.Register("cache", func(container.Resolver) (any, error) { return cacheProvider, nil }, container.Singleton, nil, nil, nil)
	_ = ct.Register("metrics", func(container.Resolver) (any, error) { return metricsProvider, nil }, container.Singleton, nil, nil, nil)

	r := &Router{
		cfg:               cfg,
		index:             NewRouteIndex(),
		specializer:       NewSpecializer(),
		container:         ct,
		cache:             cacheProvider,
		metrics:           metricsProvider,
		logger:            cfg.logger,
		stopSystemMetrics: make(chan struct{}),
	}

	if cfg.cors != nil {
		r.globalMW = append(r.globalMW, BuildCORS(*cfg.cors))
	}
	if cfg.enableLogging {
		r.globalMW = append(r.globalMW, BuildLogging(LoggingOptions{LogRequests: true, LogResponses: true}, r.logger))
	}

	r.notFound = defaultNotFound
	r.methodNotAllowed = defaultMethodNotAllowed

	go collectSystemMetrics(metricsProvider, 60*time.Second, r.stopSystemMetrics)

	return r, nil
}

// Close stops the router's background system-metrics collector. Safe to
// call more than once.
func (r *Router) Close() error {
	r.closeOnce.Do(func() { close(r.stopSystemMetrics) })
	return nil
}

// MustNew is New, panicking on error; for call sites (like package-level
// var initialization) where a constructor error has no sensible recovery.
func MustNew(opts ...Option) *Router {
	r, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Container returns the router's dependency-injection container, so
// application code can Register additional services before serving.
func (r *Router) Container() *container.Container { return r.container }

// Cache returns the router's cache provider.
func (r *Router) Cache() cache.Provider { return r.cache }

// Metrics returns the router's metrics provider.
func (r *Router) Metrics() metrics.Provider { return r.metrics }

// Use appends global middleware, applied to every route ahead of any
// route-specific middleware.
func (r *Router) Use(h ...HandlerFunc) {
	r.globalMW = append(r.globalMW, h...)
}

// UseGuard appends a guard, run in registration order after all
// middleware, before the route handler.
func (r *Router) UseGuard(g GuardFunc) {
	r.guards = append(r.guards, g)
}

// NoRoute overrides the handler invoked when no route matches (404).
func (r *Router) NoRoute(h HandlerFunc) { r.notFound = h }

// Group creates a path-prefixed, middleware-scoped view onto the router.
func (r *Router) Group(prefix string) *Group {
	return &Group{router: r, prefix: prefix}
}

// Handle registers a route directly on the router (no group prefix or
// group middleware).
func (r *Router) Handle(method, pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return r.register(method, pattern, desc, nil, mwSpecs)
}

func (r *Router) GET(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return r.Handle("GET", pattern, desc, mwSpecs...)
}
func (r *Router) POST(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return r.Handle("POST", pattern, desc, mwSpecs...)
}
func (r *Router) PUT(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return r.Handle("PUT", pattern, desc, mwSpecs...)
}
func (r *Router) PATCH(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return r.Handle("PATCH", pattern, desc, mwSpecs...)
}
func (r *Router) DELETE(pattern string, desc Description, mwSpecs ...MiddlewareSpec) error {
	return r.Handle("DELETE", pattern, desc, mwSpecs...)
}

// register compiles desc into an Invoker via the Specializer, resolves
// groupMW+mwSpecs into HandlerFuncs, and inserts the resulting Route Entry
// into the index. groupMW is nil for router-level Handle calls.
func (r *Router) register(method, pattern string, desc Description, groupMW []HandlerFunc, mwSpecs []MiddlewareSpec) error {
	invoker := r.specializer.Specialize(method, pattern, desc)

	routeMW := make([]HandlerFunc, 0, len(groupMW)+len(mwSpecs))
	routeMW = append(routeMW, groupMW...)
	for _, spec := range mwSpecs {
		h, err := buildFromSpec(spec, r.logger)
		if err != nil {
			return err
		}
		routeMW = append(routeMW, h)
	}

	_, err := r.index.Register(method, "", pattern, Invoker(invoker), mwSpecs)
	if err != nil {
		return err
	}

	// Stash the resolved route middleware alongside the entry so ServeHTTP
	// doesn't rebuild it per request; looked up by the same key the index
	// uses internally.
	r.routeMiddlewareMu.Lock()
	if r.routeMiddleware == nil {
		r.routeMiddleware = make(map[string][]HandlerFunc)
	}
	r.routeMiddleware[routeKey(method, JoinPath("", pattern))] = routeMW
	r.routeMiddlewareMu.Unlock()

	return nil
}

// buildFromSpec resolves a MiddlewareSpec into a HandlerFunc by dispatching
// on its Type tag, per the recognized types table in §4.4.
func buildFromSpec(spec MiddlewareSpec, logger *slog.Logger) (HandlerFunc, error) {
	switch spec.Type {
	case "cors":
		o, _ := spec.Options.(CORSOptions)
		return BuildCORS(o), nil
	case "logging":
		o, _ := spec.Options.(LoggingOptions)
		return BuildLogging(o, logger), nil
	case "auth":
		opts, ok := spec.Options.(AuthMiddlewareOptions)
		if !ok {
			return nil, &Error{Kind: KindInternal, Code: "INVALID_MIDDLEWARE_OPTIONS", Message: "auth middleware requires AuthMiddlewareOptions"}
		}
		return BuildAuth(opts.AuthOptions, opts.Verifier), nil
	case "validate":
		o, _ := spec.Options.(ValidateOptions)
		return BuildValidate(o), nil
	case "rate_limit":
		o, _ := spec.Options.(RateLimitOptions)
		return BuildRateLimit(o), nil
	case "custom":
		o, _ := spec.Options.(CustomOptions)
		return BuildCustom(o), nil
	default:
		return nil, Wrap(KindInternal, "UNKNOWN_MIDDLEWARE_TYPE", spec.Type, ErrUnknownMiddlewareType)
	}
}

// AuthMiddlewareOptions bundles AuthOptions with the TokenVerifier the
// auth middleware should use, since the verifier is a collaborator rather
// than a pure options value.
type AuthMiddlewareOptions struct {
	AuthOptions
	Verifier TokenVerifier
}

// ServeHTTP implements http.Handler: the transport adapter's single entry
// point. It enforces body_max_bytes, builds a per-request cancellation
// context bounded by request_timeout_ms, and runs global middleware ahead
// of route dispatch so things like CORS preflight run even for a method/path
// that matches no registered route. Route lookup, route middleware, guards,
// and the invoker all run as the final step of that global chain, appended
// to it once the lookup succeeds.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.cfg.bodyMaxBytes > 0 && req.Body != nil {
		req.Body = http.MaxBytesReader(w, req.Body, r.cfg.bodyMaxBytes)
	}
	if r.cfg.bodyTimeout > 0 && req.Body != nil {
		req.Body = newTimeoutReadCloser(req.Body, r.cfg.bodyTimeout)
	}

	ctx, cancel := deadlineContext(req.Context(), r.cfg.requestTimeout)
	defer cancel()
	req = req.WithContext(ctx)

	c := newContext(w, req, nil, r.logger)
	c.RequestID = uuid.NewString()

	dispatch := HandlerFunc(func(c *Context) {
		entry, params, found := r.index.Lookup(req.Method, req.URL.Path)
		if !found {
			allowed := r.index.AllowedMethods(req.URL.Path)
			if len(allowed) > 0 {
				r.methodNotAllowed(c)
			} else {
				r.notFound(c)
			}
			return
		}

		c.PathParams = params
		c.RoutePattern = entry.FullPath

		r.routeMiddlewareMu.RLock()
		routeMW := r.routeMiddleware[routeKey(entry.Method, entry.FullPath)]
		r.routeMiddlewareMu.RUnlock()

		for _, h := range routeMW {
			c.handlers = append(c.handlers, recoveringStep(h))
		}
		for _, g := range r.guards {
			c.handlers = append(c.handlers, recoveringStep(guardStep(g)))
		}
		c.handlers = append(c.handlers, HandlerFunc(entry.Invoker))
		c.Next()
	})

	globalSteps := make([]HandlerFunc, 0, len(r.globalMW)+1)
	for _, h := range r.globalMW {
		globalSteps = append(globalSteps, recoveringStep(h))
	}
	c.handlers = append(globalSteps, dispatch)
	c.index = -1

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Next()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// The cooperative model checks the abort flag between steps, not
		// mid-step, so a handler already in flight may still complete (and
		// its write will be a no-op once the timeout response below has
		// been written, per responseWriter's "only the first write wins").
		c.Abort()
		if !c.Writer.Written() {
			c.WriteError(NewError(KindTimeout, "REQUEST_TIMEOUT", "request timed out"))
		}
	}
}

func defaultNotFound(c *Context) {
	c.WriteError(NewError(KindNotFound, "ROUTE_NOT_FOUND", "no route matched"))
}

func defaultMethodNotAllowed(c *Context) {
	c.Writer.WriteHeader(http.StatusMethodNotAllowed)
}

var _ http.Handler = (*Router)(nil)
