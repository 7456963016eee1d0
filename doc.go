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

// Package forge implements a high-throughput HTTP routing and request
// processing core: a two-tier route index (static map + ordered dynamic
// regex list), an ahead-of-time handler specializer, an ordered
// middleware/guard pipeline with explicit short-circuit and error
// semantics, and the dependency-injection container, cache, and metrics
// providers the handlers and middleware depend on.
//
// # Quick start
//
//	r := forge.MustNew(
//		forge.WithCORS(forge.CORSOptions{AllowAllOrigins: true}),
//	)
//	body, _ := forge.ConstJSON(map[string]string{"message": "Hello World"})
//	r.GET("/api/hello", body)
//	http.ListenAndServe(":8080", r)
//
// # Route registration
//
// A route is registered with a Description — ConstString, ConstJSON,
// StaticFn, or DynamicFn — plus zero or more MiddlewareSpecs:
//
//	r.GET("/user/:id/posts/:postId", forge.DynamicFn(func(c *forge.Context, params map[string]string) (any, error) {
//		return map[string]string{"userId": params["id"], "postId": params["postId"]}, nil
//	}))
//
// # Middleware and guards
//
// Global middleware runs before any route-specific middleware; guards run
// after all middleware and before the route's invoker:
//
//	r.Use(forge.BuildLogging(forge.LoggingOptions{LogRequests: true}, slog.Default()))
//	r.UseGuard(func(c *forge.Context) forge.Verdict {
//		if c.User == nil {
//			return forge.Deny(403, nil)
//		}
//		return forge.Allow
//	})
//
// # Dependency injection
//
// The container resolves services by string identifier rather than type,
// with singleton/transient/scoped lifetimes and circular-dependency
// detection:
//
//	r.Container().Register("db", func(c container.Resolver) (any, error) {
//		return openDB()
//	}, container.Singleton, nil, nil, nil)
package forge
