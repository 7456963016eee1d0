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
	"runtime"
	"time"

	"github.com/forgehttp/forge/metrics"
)

var processStart = time.Now()

// collectSystemMetrics samples process RSS (approximated via
// runtime.MemStats.Sys), heap, goroutine count (standing in for the
// source's "event-loop lag approximation" in a goroutine-scheduled
// runtime), and uptime every interval, recording each as a gauge on p.
// This supplements spec.md's C5 interface description, which names the
// collector but leaves its concrete signals unspecified for a systems
// language; see SPEC_FULL.md §3.
func collectSystemMetrics(p metrics.Provider, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)

			p.Gauge("system.memory.rss_bytes", float64(ms.Sys), nil)
			p.Gauge("system.memory.heap_alloc_bytes", float64(ms.HeapAlloc), nil)
			p.Gauge("system.cpu.gc_pause_total_ns", float64(ms.PauseTotalNs), nil)
			p.Gauge("system.goroutines", float64(runtime.NumGoroutine()), nil)
			p.Gauge("system.uptime_seconds", time.Since(processStart).Seconds(), nil)
		case <-stop:
			return
		}
	}
}
