// Copyright 2026 TaskMesh
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

package gateway

import (
	"log"
	"math"
	"os"
	"sort"
	"sync"
	"time"
)

// Optimizer tuning constants.
const (
	// latencyWindowSize bounds the rolling latency window per provider.
	latencyWindowSize = 10

	// Score blend weights: success rate, normalized inverse latency, and
	// the provider's static cost-efficiency constant.
	scoreSuccessWeight = 0.5
	scoreLatencyWeight = 0.3
	scoreCostWeight    = 0.2

	// latencyNormCeilingMs is the mean latency at which the normalized
	// inverse-latency term bottoms out at zero.
	latencyNormCeilingMs = 10000.0

	// Adaptive timeout = 1.5x rolling mean latency, clamped to this range.
	adaptiveTimeoutFactor = 1.5
	minAdaptiveTimeout    = 4 * time.Second
	maxAdaptiveTimeout    = 12 * time.Second

	// scoreEventDelta is the absolute score change that triggers an event
	// publish; smaller drift stays quiet to avoid flooding observers.
	scoreEventDelta = 0.1
)

// PerformanceRecord holds the rolling statistics for one provider. Score
// and AdaptiveTimeout are pure functions of the current window and
// counters: they are recomputed on every observation, never cached stale.
type PerformanceRecord struct {
	Window          []int64       `json:"latency_window_ms"`
	SuccessCount    int64         `json:"success_count"`
	TotalCount      int64         `json:"total_count"`
	Score           float64       `json:"score"`
	AdaptiveTimeout time.Duration `json:"adaptive_timeout"`

	costEfficiency float64
	order          int
}

// Optimizer maintains per-provider performance records and computes the
// ranking used by the orchestrator's provider-fallback loop.
type Optimizer struct {
	events  *EventStream
	plugins *PluginManager
	logger  *log.Logger

	mu      sync.Mutex
	records map[string]*PerformanceRecord
	order   []string
}

// OptimizerOption configures the optimizer during creation.
type OptimizerOption func(*Optimizer)

// WithOptimizerEvents wires the optimizer to the event stream.
func WithOptimizerEvents(events *EventStream) OptimizerOption {
	return func(o *Optimizer) {
		o.events = events
	}
}

// WithOptimizerPlugins wires the optimizerUpdate extension point.
func WithOptimizerPlugins(plugins *PluginManager) OptimizerOption {
	return func(o *Optimizer) {
		o.plugins = plugins
	}
}

// NewOptimizer creates an optimizer with no tracked providers.
func NewOptimizer(opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{
		logger:  log.New(os.Stdout, "[OPTIMIZER] ", log.LstdFlags),
		records: make(map[string]*PerformanceRecord),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Track registers a provider with its static cost-efficiency constant.
// Tracking order is the stable tie-break when scores are equal. Tracking
// an already-tracked provider is a no-op.
func (o *Optimizer) Track(provider string, costEfficiency float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.records[provider]; exists {
		return
	}
	rec := &PerformanceRecord{
		costEfficiency: clamp01(costEfficiency),
		order:          len(o.order),
	}
	recompute(rec)
	o.records[provider] = rec
	o.order = append(o.order, provider)
}

// RecordPerformance appends an observation to the provider's rolling
// window (FIFO eviction beyond 10 entries), bumps the counters, and
// recomputes score and adaptive timeout. A score move of 0.1 or more
// publishes an event and fires the optimizerUpdate hooks.
func (o *Optimizer) RecordPerformance(provider string, latencyMs int64, success bool, requestID string) {
	o.mu.Lock()
	rec, exists := o.records[provider]
	if !exists {
		rec = &PerformanceRecord{order: len(o.order)}
		o.records[provider] = rec
		o.order = append(o.order, provider)
	}

	rec.Window = append(rec.Window, latencyMs)
	if len(rec.Window) > latencyWindowSize {
		rec.Window = rec.Window[len(rec.Window)-latencyWindowSize:]
	}
	rec.TotalCount++
	if success {
		rec.SuccessCount++
	}

	previous := rec.Score
	recompute(rec)
	current := rec.Score
	o.mu.Unlock()

	if math.Abs(current-previous) >= scoreEventDelta {
		o.events.Emit("optimizer.score_changed", map[string]interface{}{
			"provider":   provider,
			"score":      current,
			"previous":   previous,
			"request_id": requestID,
		})
		o.plugins.RunHooks(HookOptimizerUpdate, map[string]interface{}{
			"provider": provider,
			"score":    current,
			"previous": previous,
		})
	}
}

// recompute derives score and adaptive timeout from the current window and
// counters. Deterministic: identical histories always produce identical
// values, and recomputing without new observations is idempotent.
func recompute(rec *PerformanceRecord) {
	successRate := 1.0
	if rec.TotalCount > 0 {
		successRate = float64(rec.SuccessCount) / float64(rec.TotalCount)
	}

	mean := meanLatency(rec.Window)
	latencyNorm := 1.0 - math.Min(mean, latencyNormCeilingMs)/latencyNormCeilingMs

	rec.Score = scoreSuccessWeight*successRate +
		scoreLatencyWeight*latencyNorm +
		scoreCostWeight*rec.costEfficiency

	if len(rec.Window) == 0 {
		// No observations yet: grant the widest timeout rather than the
		// clamp floor, so cold providers are not penalized.
		rec.AdaptiveTimeout = maxAdaptiveTimeout
		return
	}
	timeout := time.Duration(adaptiveTimeoutFactor * mean * float64(time.Millisecond))
	if timeout < minAdaptiveTimeout {
		timeout = minAdaptiveTimeout
	}
	if timeout > maxAdaptiveTimeout {
		timeout = maxAdaptiveTimeout
	}
	rec.AdaptiveTimeout = timeout
}

func meanLatency(window []int64) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum int64
	for _, v := range window {
		sum += v
	}
	return float64(sum) / float64(len(window))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RankedProviders returns every tracked provider exactly once, sorted by
// descending score. Ties break on tracking order, keeping the sort stable
// across recomputations.
func (o *Optimizer) RankedProviders() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	names := make([]string, len(o.order))
	copy(names, o.order)

	sort.SliceStable(names, func(i, j int) bool {
		ri, rj := o.records[names[i]], o.records[names[j]]
		if ri.Score != rj.Score {
			return ri.Score > rj.Score
		}
		return ri.order < rj.order
	})
	return names
}

// AdaptiveTimeout returns the current adaptive timeout for a provider,
// or the maximum timeout if the provider is unknown.
func (o *Optimizer) AdaptiveTimeout(provider string) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rec, ok := o.records[provider]; ok {
		return rec.AdaptiveTimeout
	}
	return maxAdaptiveTimeout
}

// SuccessRate returns the provider's empirical success rate, or 1.0 for a
// provider with no observations. The digital twin uses this as the
// Bernoulli probability for synthetic calls.
func (o *Optimizer) SuccessRate(provider string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.records[provider]
	if !ok || rec.TotalCount == 0 {
		return 1.0
	}
	return float64(rec.SuccessCount) / float64(rec.TotalCount)
}

// Score returns the provider's current ranking score.
func (o *Optimizer) Score(provider string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rec, ok := o.records[provider]; ok {
		return rec.Score
	}
	return 0
}

// Snapshot returns a copy of every performance record keyed by provider,
// for the metrics accessor.
func (o *Optimizer) Snapshot() map[string]PerformanceRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]PerformanceRecord, len(o.records))
	for name, rec := range o.records {
		copied := *rec
		copied.Window = append([]int64(nil), rec.Window...)
		out[name] = copied
	}
	return out
}
