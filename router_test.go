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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehttp/forge/container"
)

func newTestRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	r, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestServeHTTPStaticRouteHit(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.GET("/api/hello", ConstString("hello")))

	req := httptest.NewRequest(http.MethodGet, "/api/hello", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestServeHTTPParameterExtraction(t *testing.T) {
	r := newTestRouter(t)
	desc := DynamicFn(func(c *Context, params map[string]string) (any, error) {
		return map[string]string{"id": params["id"]}, nil
	})
	require.NoError(t, r.GET("/user/:id", desc))

	req := httptest.NewRequest(http.MethodGet, "/user/42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"42"}`, rec.Body.String())
}

func TestServeHTTPNotFoundForUnknownRoute(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.GET("/known", ConstString("ok")))

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTPMethodNotAllowedWhenPathMatchesOtherMethod(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.GET("/thing", ConstString("ok")))

	req := httptest.NewRequest(http.MethodPost, "/thing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type countingVerifier struct{ calls int }

func (v *countingVerifier) Verify(token string) (Principal, error) {
	v.calls++
	if token == "good" {
		return Principal{Subject: "u1", Roles: []string{"admin"}}, nil
	}
	return Principal{}, NewError(KindAuthentication, "MALFORMED_TOKEN", "bad token")
}

func TestServeHTTPAuthShortCircuitsBeforeHandler(t *testing.T) {
	r := newTestRouter(t)
	verifier := &countingVerifier{}
	handlerRan := false
	desc := StaticFn(func(c *Context) (any, error) { handlerRan = true; return "reached", nil })

	require.NoError(t, r.GET("/secure", desc, MiddlewareSpec{
		Type:    "auth",
		Options: AuthMiddlewareOptions{AuthOptions: AuthOptions{Required: true}, Verifier: verifier},
	}))

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, handlerRan)
	assert.Equal(t, 0, verifier.calls) // missing header never reaches the verifier

	req2 := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req2.Header.Set("Authorization", "Bearer good")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.True(t, handlerRan)
	assert.Equal(t, 1, verifier.calls)
}

func TestServeHTTPRateLimitRejectsOverflow(t *testing.T) {
	r := newTestRouter(t)
	require.NoError(t, r.GET("/limited", ConstString("ok"), MiddlewareSpec{
		Type: "rate_limit",
		Options: RateLimitOptions{
			Max:    2,
			Window: time.Second,
			KeyFunc: func(c *Context) string { return "fixed" },
		},
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServeHTTPBodyTooLargeRejected(t *testing.T) {
	r := newTestRouter(t, WithBodyMaxBytes(4))
	require.NoError(t, r.POST("/upload", StaticFn(func(c *Context) (any, error) {
		buf := make([]byte, 1024)
		_, err := c.Request.Body.Read(buf)
		return nil, err
	})))

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("this body is way too long"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
}

// slowBody is an io.ReadCloser that blocks past any reasonable test timeout,
// simulating a client that stalls mid-upload.
type slowBody struct{}

func (slowBody) Read(p []byte) (int, error) {
	select {}
}

func (slowBody) Close() error { return nil }

func TestServeHTTPBodyReadTimeoutRejected(t *testing.T) {
	r := newTestRouter(t, WithBodyTimeout(10*time.Millisecond))
	require.NoError(t, r.POST("/upload", StaticFn(func(c *Context) (any, error) {
		buf := make([]byte, 1024)
		_, err := c.Request.Body.Read(buf)
		return nil, err
	})))

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	req.Body = slowBody{}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "BODY_READ_TIMEOUT")
}

func TestServeHTTPCircularDependencyViaContainer(t *testing.T) {
	r := newTestRouter(t)
	c := r.Container()

	require.NoError(t, c.Register("a", func(res container.Resolver) (any, error) {
		return res.Resolve("b")
	}, container.Singleton, nil, nil, nil))
	require.NoError(t, c.Register("b", func(res container.Resolver) (any, error) {
		return res.Resolve("a")
	}, container.Singleton, nil, nil, nil))

	_, err := c.Resolve("a")
	require.Error(t, err)
	var cycleErr *container.CircularDependencyError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestServeHTTPGuardDenyShortCircuits(t *testing.T) {
	r := newTestRouter(t)
	handlerRan := false
	r.UseGuard(func(c *Context) Verdict { return Deny(http.StatusForbidden, nil) })
	require.NoError(t, r.GET("/guarded", StaticFn(func(c *Context) (any, error) {
		handlerRan = true
		return "nope", nil
	})))

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, handlerRan)
}

func TestServeHTTPCORSPreflightShortCircuitsBeforeHandler(t *testing.T) {
	r := newTestRouter(t, WithCORS(CORSOptions{AllowAllOrigins: true, Methods: []string{"GET"}}))
	handlerRan := false
	require.NoError(t, r.GET("/cors", StaticFn(func(c *Context) (any, error) {
		handlerRan = true
		return "ok", nil
	})))

	req := httptest.NewRequest(http.MethodOptions, "/cors", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, handlerRan)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
