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

// MiddlewareSpec is the (type_tag, options_bag) pair from the data model.
// Recognized Type values and their Options shapes are documented on the
// builder functions in middleware_builtin.go (cors, logging, validate,
// rate_limit, custom) and auth.go (auth).
type MiddlewareSpec struct {
	Type    string
	Options any
}

// Verdict is a guard's decision: Allow lets the pipeline continue to the
// next guard (or the handler, if this was the last one); a zero Verdict
// with Allow=false denies with the given status and body.
type Verdict struct {
	Allow  bool
	Status int
	Body   []byte
}

// Deny builds a denial Verdict. An empty body defaults to a minimal JSON
// AUTHORIZATION error at the given status (403 by default, per "any guard
// returning deny short-circuits with the guard's own denial response
// (default 403)").
func Deny(status int, body []byte) Verdict {
	return Verdict{Allow: false, Status: status, Body: body}
}

// Allow is the affirmative Verdict.
var Allow = Verdict{Allow: true}

// GuardFunc inspects the context and returns a Verdict. Unlike middleware,
// a guard never calls Next itself — the pipeline advances past it
// automatically on Allow, and finalizes the denial response automatically
// on Deny. This is a supplemented, narrower type: spec.md gives guards a
// behavior contract but no shape distinct from middleware's (type_tag,
// options_bag); see SPEC_FULL.md §3.
type GuardFunc func(*Context) Verdict

func defaultDenyBody() []byte {
	return []byte(`{"success":false,"error":{"type":"AUTHORIZATION","code":"GUARD_DENIED","message":"access denied"}}`)
}

// guardStep adapts a GuardFunc into a HandlerFunc step: on Allow it calls
// Next so later steps run; on Deny it writes the denial response once and
// does not call Next, which is exactly the "zero calls to next" short-
// circuit contract middleware steps use.
func guardStep(g GuardFunc) HandlerFunc {
	return func(c *Context) {
		v := g(c)
		if v.Allow {
			c.Next()
			return
		}
		if !c.Writer.Written() {
			status := v.Status
			if status == 0 {
				status = 403
			}
			body := v.Body
			if body == nil {
				body = defaultDenyBody()
			}
			c.Header("Content-Type", "application/json; charset=utf-8")
			c.Writer.WriteHeader(status)
			_, _ = c.Writer.Write(body)
		}
		c.Abort()
	}
}

// recoveringStep wraps a middleware/guard step so a panic inside it is
// treated as "a middleware that throws": the pipeline emits 500 (if the
// response isn't already finalized) and halts — subsequent middleware,
// guards, and the handler are NOT run. This does not apply to the handler
// invoker itself, which has its own recovery path in handler.go's
// invokeUserFn, because a handler's error is routed through the error
// normalizer rather than treated as a pipeline fault.
func recoveringStep(h HandlerFunc) HandlerFunc {
	return func(c *Context) {
		defer func() {
			if r := recover(); r != nil {
				c.Abort()
				if !c.Writer.Written() {
					c.WriteError(AsError(Wrap(KindInternal, "MIDDLEWARE_PANIC", "middleware panicked", panicToError(r))))
				}
			}
		}()
		h(c)
	}
}

// BuildChain concatenates global middleware, then route-specific
// middleware, then guards (adapted to steps), then the route's Specialized
// Invoker, per §4.4's execution model:
//
//  1. Concatenate global_mw ++ route_mw.
//  2. Run each step with (context, next); a step may call next zero or one
//     times.
//  3. After middleware pass control through, run guards in registration
//     order.
//  4. After guards, invoke the route's Specialized Invoker.
func BuildChain(global []HandlerFunc, route []HandlerFunc, guards []GuardFunc, invoker Invoker) []HandlerFunc {
	chain := make([]HandlerFunc, 0, len(global)+len(route)+len(guards)+1)
	for _, h := range global {
		chain = append(chain, recoveringStep(h))
	}
	for _, h := range route {
		chain = append(chain, recoveringStep(h))
	}
	for _, g := range guards {
		chain = append(chain, recoveringStep(guardStep(g)))
	}
	chain = append(chain, HandlerFunc(invoker))
	return chain
}
