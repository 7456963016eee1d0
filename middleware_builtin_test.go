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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLikeReturnsDistinctInstancePerCall(t *testing.T) {
	type schema struct {
		Name string `json:"name"`
	}
	template := &schema{}

	a := newLike(template)
	b := newLike(template)

	assert.NotSame(t, template, a)
	assert.NotSame(t, template, b)
	assert.NotSame(t, a, b)

	a.(*schema).Name = "alice"
	assert.Empty(t, b.(*schema).Name)
	assert.Empty(t, template.Name)
}

func TestNewLikeNonPointerTemplateReturnsAsIs(t *testing.T) {
	assert.Equal(t, 42, newLike(42))
}

// TestBuildValidateDoesNotLeakFieldsAcrossConcurrentRequests pins the bug
// the maintainer flagged: a shared decode target meant a partial body on
// one request could inherit a previous request's leftover field values,
// and concurrent requests raced on the same struct.
func TestBuildValidateDoesNotLeakFieldsAcrossConcurrentRequests(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
		Age  int    `json:"age" validate:"omitempty"`
	}
	mw := BuildValidate(ValidateOptions{Schema: &payload{}, Body: true})

	bodies := []string{
		`{"name":"alice","age":30}`,
		`{"name":"bob"}`,
		`{"name":"carol","age":12}`,
	}

	wantAges := []int{30, 0, 12}

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, len(bodies))
	contexts := make([]*Context, len(bodies))
	for i, body := range bodies {
		wg.Add(1)
		go func(i int, body string) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			chain := []HandlerFunc{mw, func(c *Context) { c.String(http.StatusOK, "ok") }}
			c := newContext(rec, req, chain, nil)
			c.Next()
			results[i] = rec
			contexts[i] = c
		}(i, body)
	}
	wg.Wait()

	for i, rec := range results {
		require.Equal(t, http.StatusOK, rec.Code, "body %d", i)
		got, ok := contexts[i].Data["validated"].(*payload)
		require.True(t, ok, "body %d", i)
		assert.Equal(t, wantAges[i], got.Age, "body %d", i)
	}
}
