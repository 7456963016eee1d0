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
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// HandlerFunc is the signature every middleware, guard adapter, and user
// handler closure is built from. Grounded in the teacher's own
// router.HandlerFunc/Context.Next idiom (context.go): a chain advances by
// calling c.Next(), and a step that never calls it short-circuits.
type HandlerFunc func(*Context)

// Context is the mutable request-scoped bag threaded through the pipeline.
// Ownership: created by the transport adapter on request arrival, owned
// exclusively by that request's pipeline, and discarded when the response
// is finalized or the request is aborted. Extension fields live under Data,
// keyed by caller-chosen strings, per the design notes ("a concrete struct
// with typed fields; extension fields live under a data map").
type Context struct {
	Request  *http.Request
	Response http.ResponseWriter
	Writer   *responseWriter

	Method      string
	URL         string
	PathParams  map[string]string
	RoutePattern string

	User any
	Data map[string]any

	RequestID string
	StartTime time.Time

	Logger *slog.Logger

	handlers []HandlerFunc
	index    int32
	aborted  atomic.Bool

	errors []error
}

// newContext builds a Context for one inbound request. chain is the fully
// concatenated, already-ordered list of steps (global middleware ++ route
// middleware ++ guards-as-steps ++ the specialized invoker), per §4.4's
// execution model.
func newContext(w http.ResponseWriter, r *http.Request, chain []HandlerFunc, logger *slog.Logger) *Context {
	return &Context{
		Request:   r,
		Response:  w,
		Writer:    newResponseWriter(w),
		Method:    r.Method,
		URL:       r.URL.Path,
		Data:      make(map[string]any),
		StartTime: time.Now(),
		Logger:    logger,
		handlers:  chain,
		index:     -1,
	}
}

// Next advances the chain by exactly one step and runs it. A step that
// itself calls Next recurses forward into the rest of the chain and regains
// control once everything below it has returned, giving middleware its
// before/after shape; a step that returns without calling Next leaves
// everything after it un-run — that is the short-circuit the pipeline
// relies on (CORS preflight, guard denial, rate-limit rejection all stop
// this way, without needing Abort).
func (c *Context) Next() {
	c.index++
	if c.index >= int32(len(c.handlers)) {
		return
	}
	if c.aborted.Load() {
		return
	}
	h := c.handlers[c.index]
	h(c)
}

// Abort flips the cancellation flag checked after every step. Once set, no
// further step in this request's chain runs, matching the abort-hook
// design in §5 ("after every await, the pipeline checks the flag and exits
// if set").
func (c *Context) Abort() {
	c.aborted.Store(true)
}

// IsAborted reports whether Abort has been called for this request.
func (c *Context) IsAborted() bool {
	return c.aborted.Load()
}

// Param returns a path parameter extracted by the route index, or "" if
// absent.
func (c *Context) Param(name string) string {
	return c.PathParams[name]
}

// Query returns a single query-string value.
func (c *Context) Query(name string) string {
	return c.Request.URL.Query().Get(name)
}

// Header sets a response header. A no-op once the response has been
// finalized (WriteHeader already called).
func (c *Context) Header(key, value string) {
	c.Writer.Header().Set(key, value)
}

// Status writes the response status line if not already written.
func (c *Context) Status(code int) {
	c.Writer.WriteHeader(code)
}

// JSON writes v as application/json with the given status.
func (c *Context) JSON(status int, v any) {
	if c.Writer.Written() {
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		c.WriteError(AsError(Wrap(KindInternal, "JSON_ENCODE_FAILED", "failed to encode response", err)))
		return
	}
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Writer.WriteHeader(status)
	_, _ = c.Writer.Write(body)
}

// String writes s as text/plain with the given status.
func (c *Context) String(status int, s string) {
	if c.Writer.Written() {
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Writer.WriteHeader(status)
	_, _ = c.Writer.Write([]byte(s))
}

// WriteError writes the canonical JSON error body for a typed *Error. If
// the response has already been finalized, per §7 ("if the response is
// already finalized, the normalizer logs and drops"), this only logs.
func (c *Context) WriteError(err *Error) {
	if c.Writer.Written() {
		if c.Logger != nil {
			c.Logger.Warn("dropping error response: already finalized", "kind", err.Kind, "code", err.Code)
		}
		return
	}
	body := errorBody{}
	body.Success = false
	body.Error.Type = string(err.Kind)
	body.Error.Code = err.Code
	body.Error.Message = err.Message
	body.Error.Timestamp = err.Timestamp.Format(time.RFC3339)

	encoded, encErr := json.Marshal(body)
	if encErr != nil {
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Writer.WriteHeader(http.StatusInternalServerError)
		_, _ = c.Writer.Write([]byte(`{"success":false,"error":{"type":"INTERNAL","code":"ENCODE_FAILED","message":"internal server error"}}`))
		return
	}
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Writer.WriteHeader(err.Kind.Status())
	_, _ = c.Writer.Write(encoded)
}

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Type      string `json:"type"`
		Code      string `json:"code"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	} `json:"error"`
}

// AddError records a non-fatal error on the request (e.g. a validation
// failure collected before deciding whether to abort early).
func (c *Context) AddError(err error) {
	c.errors = append(c.errors, err)
}

// Errors returns every error recorded via AddError.
func (c *Context) Errors() []error {
	return c.errors
}

// deadlineContext wraps the request's context.Context with the request-wide
// timeout set by WithRequestTimeout, used by the transport adapter.
func deadlineContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}

// timeoutReadCloser bounds every Read against an absolute deadline measured
// from wrap time, rejecting with ErrBodyReadTimeout once it passes. Each
// Read races the underlying reader against a timer in a background
// goroutine; like the request-timeout handling in ServeHTTP, a Read already
// in flight when the deadline fires may keep running after timeoutReadCloser
// has already returned the timeout error to its caller.
type timeoutReadCloser struct {
	rc       io.ReadCloser
	deadline time.Time
}

func newTimeoutReadCloser(rc io.ReadCloser, timeout time.Duration) *timeoutReadCloser {
	return &timeoutReadCloser{rc: rc, deadline: time.Now().Add(timeout)}
}

func (t *timeoutReadCloser) Read(p []byte) (int, error) {
	remaining := time.Until(t.deadline)
	if remaining <= 0 {
		return 0, ErrBodyReadTimeout
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.rc.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(remaining):
		return 0, ErrBodyReadTimeout
	}
}

func (t *timeoutReadCloser) Close() error { return t.rc.Close() }

// responseWriter wraps http.ResponseWriter to track whether the status line
// has already been written, so handlers/middleware/the normalizer can all
// observe "already finalized" without racing on the underlying writer.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written atomic.Bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w}
}

func (w *responseWriter) WriteHeader(status int) {
	if w.written.Swap(true) {
		return
	}
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written.Swap(true) {
		w.status = http.StatusOK
		w.ResponseWriter.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Written reports whether the status line has already been sent.
func (w *responseWriter) Written() bool { return w.written.Load() }

// Status returns the status code written, or 0 if none yet.
func (w *responseWriter) Status() int { return w.status }
