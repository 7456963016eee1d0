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

package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingletonConstructOnce(t *testing.T) {
	c := New()
	calls := 0
	require.NoError(t, c.Register("svc", func(r Resolver) (any, error) {
		calls++
		return calls, nil
	}, Singleton, nil, nil, nil))

	v1, err := c.Resolve("svc")
	require.NoError(t, err)
	v2, err := c.Resolve("svc")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestTransientConstructsEveryResolve(t *testing.T) {
	c := New()
	calls := 0
	require.NoError(t, c.Register("svc", func(r Resolver) (any, error) {
		calls++
		return calls, nil
	}, Transient, nil, nil, nil))

	v1, _ := c.Resolve("svc")
	v2, _ := c.Resolve("svc")

	assert.NotEqual(t, v1, v2)
	assert.Equal(t, 2, calls)
}

func TestScopedSharedWithinRootNotAcrossRoots(t *testing.T) {
	c := New()
	calls := 0
	require.NoError(t, c.Register("scoped", func(r Resolver) (any, error) {
		calls++
		return calls, nil
	}, Scoped, nil, nil, nil))
	require.NoError(t, c.Register("root", func(r Resolver) (any, error) {
		a, err := r.Resolve("scoped")
		if err != nil {
			return nil, err
		}
		b, err := r.Resolve("scoped")
		if err != nil {
			return nil, err
		}
		return [2]any{a, b}, nil
	}, Transient, []string{"scoped"}, nil, nil))

	result, err := c.Resolve("root")
	require.NoError(t, err)
	pair := result.([2]any)
	assert.Equal(t, pair[0], pair[1], "scoped instance shared within one resolution root")
	assert.Equal(t, 1, calls)

	_, err = c.Resolve("root")
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "scoped instance not shared across roots")
}

func TestCircularDependencyDetection(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("A", func(r Resolver) (any, error) {
		return r.Resolve("B")
	}, Transient, []string{"B"}, nil, nil))
	require.NoError(t, c.Register("B", func(r Resolver) (any, error) {
		return r.Resolve("A")
	}, Transient, []string{"A"}, nil, nil))

	_, err := c.Resolve("A")
	require.Error(t, err)
	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"A", "B", "A"}, cycleErr.Path)
}

func TestDepthExceeded(t *testing.T) {
	c := New(WithMaxDepth(2))
	require.NoError(t, c.Register("A", func(r Resolver) (any, error) { return r.Resolve("B") }, Transient, nil, nil, nil))
	require.NoError(t, c.Register("B", func(r Resolver) (any, error) { return r.Resolve("C") }, Transient, nil, nil, nil))
	require.NoError(t, c.Register("C", func(r Resolver) (any, error) { return "leaf", nil }, Transient, nil, nil, nil))

	_, err := c.Resolve("A")
	require.Error(t, err)
	var depthErr *DepthExceededError
	require.ErrorAs(t, err, &depthErr)
}

func TestServiceNotFound(t *testing.T) {
	c := New()
	_, err := c.Resolve("missing")
	require.Error(t, err)
	var nf *ServiceNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestTryResolveAbsorbsNotFound(t *testing.T) {
	c := New()
	v, ok, err := c.TryResolve("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestTryResolvePropagatesOtherFailures(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("A", func(r Resolver) (any, error) { return r.Resolve("A") }, Transient, nil, nil, nil))
	_, _, err := c.TryResolve("A")
	require.Error(t, err)
	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
}

func TestFailedConstructionNotCached(t *testing.T) {
	c := New()
	attempts := 0
	require.NoError(t, c.Register("flaky", func(r Resolver) (any, error) {
		attempts++
		if attempts == 1 {
			return nil, assertErr
		}
		return "ok", nil
	}, Singleton, nil, nil, nil))

	_, err := c.Resolve("flaky")
	require.Error(t, err)

	v, err := c.Resolve("flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, attempts)
}

var assertErr = &ServiceNotFoundError{Identifier: "simulated"}

func TestResolveByTagOrdersByRegistration(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("b", func(r Resolver) (any, error) { return "b", nil }, Singleton, nil, []string{"handler"}, nil))
	require.NoError(t, c.Register("a", func(r Resolver) (any, error) { return "a", nil }, Singleton, nil, []string{"handler"}, nil))

	instances, err := c.ResolveByTag("handler")
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "a"}, instances)
}

func TestInvalidRegistration(t *testing.T) {
	c := New()
	err := c.Register("x", nil, Singleton, nil, nil, nil)
	require.Error(t, err)
	var invalid *InvalidRegistrationError
	require.ErrorAs(t, err, &invalid)

	err = c.Register("x", func(r Resolver) (any, error) { return nil, nil }, Scope(99), nil, nil, nil)
	require.Error(t, err)
	require.ErrorAs(t, err, &invalid)
}

func TestChildIndependentSingletonCache(t *testing.T) {
	c := New()
	calls := 0
	require.NoError(t, c.Register("svc", func(r Resolver) (any, error) {
		calls++
		return calls, nil
	}, Singleton, nil, nil, nil))

	parentVal, _ := c.Resolve("svc")
	child := c.Child()
	childVal, _ := child.Resolve("svc")

	assert.NotEqual(t, parentVal, childVal)
	assert.Equal(t, 2, calls)
}

func TestRegisterOverwriteClearsCachedSingleton(t *testing.T) {
	c := New()
	require.NoError(t, c.Register("svc", func(r Resolver) (any, error) { return "v1", nil }, Singleton, nil, nil, nil))
	v1, _ := c.Resolve("svc")
	assert.Equal(t, "v1", v1)

	require.NoError(t, c.Register("svc", func(r Resolver) (any, error) { return "v2", nil }, Singleton, nil, nil, nil))
	v2, _ := c.Resolve("svc")
	assert.Equal(t, "v2", v2)
}

func TestConditionGatesVisibility(t *testing.T) {
	c := New()
	enabled := false
	require.NoError(t, c.Register("feature", func(r Resolver) (any, error) { return "on", nil }, Singleton, nil, nil, func() bool { return enabled }))

	_, ok, _ := c.TryResolve("feature")
	assert.False(t, ok)

	enabled = true
	_, ok, _ = c.TryResolve("feature")
	assert.True(t, ok)
}
