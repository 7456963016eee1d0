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
	"time"

	"github.com/forgehttp/forge/cache"
	"github.com/forgehttp/forge/container"
	"github.com/forgehttp/forge/metrics"
)

// Option configures a Router at construction time, following the
// teacher's WithXxx functional-options convention (router/options.go).
type Option func(*config)

// config holds the Router's enumerated configuration, per §6: "The router
// accepts: {cors, enable_logging, request_timeout_ms, body_max_bytes,
// body_timeout_ms}."
type config struct {
	cors           *CORSOptions
	enableLogging  bool
	requestTimeout time.Duration
	bodyMaxBytes   int64
	bodyTimeout    time.Duration

	logger    *slog.Logger
	container *container.Container
	cache     cache.Provider
	metrics   metrics.Provider
}

func defaultConfig() *config {
	return &config{
		enableLogging:  true,
		requestTimeout: 30 * time.Second,
		bodyMaxBytes:   10 << 20, // 10MiB
		bodyTimeout:    30 * time.Second,
		logger:         slog.Default(),
	}
}

// WithCORS enables the cors middleware globally with the given options.
func WithCORS(o CORSOptions) Option {
	return func(c *config) { c.cors = &o }
}

// WithLogging toggles the enable_logging flag.
func WithLogging(enabled bool) Option {
	return func(c *config) { c.enableLogging = enabled }
}

// WithRequestTimeout sets the request-wide timeout (default 30s) that
// wraps the handler; on expiry the response is finalized with 408 if not
// already sent.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) { c.requestTimeout = d }
}

// WithBodyMaxBytes bounds request body size; bodies over the limit fail
// with PayloadTooLarge (413).
func WithBodyMaxBytes(n int64) Option {
	return func(c *config) { c.bodyMaxBytes = n }
}

// WithBodyTimeout sets the body-read timeout (default 30s); once it has
// passed, reads of the request body fail with ErrBodyReadTimeout.
func WithBodyTimeout(d time.Duration) Option {
	return func(c *config) { c.bodyTimeout = d }
}

// WithLogger overrides the default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithContainer supplies a pre-configured container, e.g. one built with
// ContainerOptions from the application's own startup code.
func WithContainer(ct *container.Container) Option {
	return func(c *config) { c.container = ct }
}

// WithCache supplies the cache.Provider services resolved from the
// container should use; Router also registers it under the "cache"
// identifier for handlers that resolve it directly.
func WithCache(p cache.Provider) Option {
	return func(c *config) { c.cache = p }
}

// WithMetrics supplies the metrics.Provider registered under the
// "metrics" identifier.
func WithMetrics(p metrics.Provider) Option {
	return func(c *config) { c.metrics = p }
}

// ContainerOption configures container construction, per §6: "The
// container accepts: {enable_debug, max_resolution_depth, detect_cycles}."
type ContainerOption func(*containerConfig)

type containerConfig struct {
	enableDebug        bool
	maxResolutionDepth int
	detectCycles       bool
}

func defaultContainerConfig() *containerConfig {
	return &containerConfig{
		maxResolutionDepth: 50,
		detectCycles:       true,
	}
}

// WithDebug toggles verbose container logging.
func WithDebug(enabled bool) ContainerOption {
	return func(c *containerConfig) { c.enableDebug = enabled }
}

// WithMaxResolutionDepth overrides the default depth bound (50).
func WithMaxResolutionDepth(n int) ContainerOption {
	return func(c *containerConfig) { c.maxResolutionDepth = n }
}

// WithDetectCycles toggles circular-dependency detection.
func WithDetectCycles(enabled bool) ContainerOption {
	return func(c *containerConfig) { c.detectCycles = enabled }
}

// NewContainer builds a container.Container configured per opts.
func NewContainer(opts ...ContainerOption) *container.Container {
	cc := defaultContainerConfig()
	for _, opt := range opts {
		opt(cc)
	}
	var containerOpts []container.Option
	containerOpts = append(containerOpts, container.WithMaxDepth(cc.maxResolutionDepth))
	containerOpts = append(containerOpts, container.WithDetectCycles(cc.detectCycles))
	containerOpts = append(containerOpts, container.WithDebug(cc.enableDebug, nil))
	return container.New(containerOpts...)
}
