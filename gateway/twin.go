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
	"math/rand"
	"sync"
	"time"
)

// SimulationReport aggregates one digital-twin run. It is transient:
// published to the event stream and returned to the caller, never
// persisted.
type SimulationReport struct {
	BatchSize            int            `json:"batch_size"`
	ProviderDistribution map[string]int `json:"provider_distribution"`
	PredictedFailures    int            `json:"predicted_failures"`
	PriorityPercent      float64        `json:"priority_percent"`
	EstimatedCostCents   int64          `json:"estimated_cost_cents"`
	ImprovementScore     float64        `json:"improvement_score"`
}

// PolicyOverrides lets an operator test a prospective policy change
// against synthetic traffic before it touches real requests. Nil fields
// keep the live value.
type PolicyOverrides struct {
	// SoftLimitFraction overrides the soft-budget fraction.
	SoftLimitFraction *float64 `json:"soft_limit_fraction,omitempty"`

	// PriorityMix overrides the fraction of synthetic requests classified
	// as priority traffic (default 0.2).
	PriorityMix *float64 `json:"priority_mix,omitempty"`

	// SuccessRates overrides the empirical per-provider success rate used
	// as the Bernoulli probability of synthetic success.
	SuccessRates map[string]float64 `json:"success_rates,omitempty"`

	// Blacklist overrides the active blacklist.
	Blacklist []string `json:"blacklist,omitempty"`
}

// simTokensPerRequest is the synthetic token spend assumed per served
// request when estimating cost impact.
const simTokensPerRequest = 500

// defaultPriorityMix is the default share of synthetic priority traffic.
const defaultPriorityMix = 0.2

// DigitalTwin replays the orchestrator's decision function against
// synthetic traffic. Real provider calls are replaced with Bernoulli
// draws using each provider's current empirical success rate, so a run
// spends no budget and risks no traffic.
//
// The decision sequence is the orchestrator's own buildRoutePlan followed
// by the same first-success-wins candidate loop; the structures cannot
// diverge because they share the code path.
type DigitalTwin struct {
	optimizer *Optimizer
	policy    *PolicyEngine
	costs     *CostTracker
	events    *EventStream

	premium           map[string]bool
	softLimitFraction float64

	mu  sync.Mutex
	rng *rand.Rand
}

// DigitalTwinConfig wires the twin to the live components it mirrors.
type DigitalTwinConfig struct {
	Optimizer *Optimizer
	Policy    *PolicyEngine
	Costs     *CostTracker
	Events    *EventStream

	PremiumProviders  []string
	SoftLimitFraction float64

	// Seed fixes the random source for reproducible runs; zero seeds
	// from the clock.
	Seed int64
}

// NewDigitalTwin creates a simulation engine over the live gateway state.
func NewDigitalTwin(config DigitalTwinConfig) *DigitalTwin {
	if config.SoftLimitFraction <= 0 || config.SoftLimitFraction > 1 {
		config.SoftLimitFraction = DefaultSoftLimitFraction
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	premium := make(map[string]bool, len(config.PremiumProviders))
	for _, p := range config.PremiumProviders {
		premium[p] = true
	}

	return &DigitalTwin{
		optimizer:         config.Optimizer,
		policy:            config.Policy,
		costs:             config.Costs,
		events:            config.Events,
		premium:           premium,
		softLimitFraction: config.SoftLimitFraction,
		rng:               rand.New(rand.NewSource(seed)),
	}
}

// RunSimulation generates batchSize synthetic requests and independently
// re-derives the orchestrator's decision sequence for each: policy, budget
// check, ranked candidate loop, fallback on exhaustion.
func (t *DigitalTwin) RunSimulation(batchSize int, overrides *PolicyOverrides) *SimulationReport {
	if batchSize <= 0 {
		batchSize = 100
	}

	softLimit := t.softLimitFraction
	priorityMix := defaultPriorityMix
	var rateOverrides map[string]float64
	var blacklistOverride map[string]bool
	if overrides != nil {
		if overrides.SoftLimitFraction != nil {
			softLimit = *overrides.SoftLimitFraction
		}
		if overrides.PriorityMix != nil {
			priorityMix = *overrides.PriorityMix
		}
		rateOverrides = overrides.SuccessRates
		if overrides.Blacklist != nil {
			blacklistOverride = make(map[string]bool, len(overrides.Blacklist))
			for _, p := range overrides.Blacklist {
				blacklistOverride[p] = true
			}
		}
	}

	budget := t.costs.Metrics()
	ranked := t.optimizer.RankedProviders()

	activeBlacklist := blacklistOverride
	if activeBlacklist == nil {
		activeBlacklist = make(map[string]bool)
		for _, p := range t.policy.ActiveBlacklist() {
			activeBlacklist[p] = true
		}
	}

	report := &SimulationReport{
		BatchSize:            batchSize,
		ProviderDistribution: make(map[string]int),
	}

	priorityCount := 0
	for i := 0; i < batchSize; i++ {
		class := TrafficStandard
		if t.draw() < priorityMix {
			class = TrafficPriority
			priorityCount++
		}

		policy := RoutingPolicy{
			TrafficClass: class,
			Blacklist:    activeBlacklist,
			TenantID:     t.syntheticTenant(),
		}

		plan := buildRoutePlan(ranked, policy, budget, t.premium, softLimit)

		served := ""
		if !plan.OverBudget {
			for _, provider := range plan.Candidates {
				if t.draw() < t.successRate(provider, rateOverrides) {
					served = provider
					break
				}
			}
		}

		if served == "" {
			report.ProviderDistribution[FallbackProviderName]++
			report.PredictedFailures++
			continue
		}
		report.ProviderDistribution[served]++
		report.EstimatedCostCents += int64(simTokensPerRequest) * int64(CentsPer1K(served)) / 1000
	}

	report.PriorityPercent = float64(priorityCount) / float64(batchSize)
	failureRate := float64(report.PredictedFailures) / float64(batchSize)
	report.ImprovementScore = 1.0 - failureRate

	t.events.Emit("twin.simulation_complete", map[string]interface{}{
		"batch_size":         report.BatchSize,
		"predicted_failures": report.PredictedFailures,
		"improvement_score":  report.ImprovementScore,
	})
	return report
}

// successRate resolves the Bernoulli probability for a synthetic call.
func (t *DigitalTwin) successRate(provider string, overrides map[string]float64) float64 {
	if overrides != nil {
		if rate, ok := overrides[provider]; ok {
			return rate
		}
	}
	return t.optimizer.SuccessRate(provider)
}

// syntheticTenant picks a tenant label for a synthetic request.
func (t *DigitalTwin) syntheticTenant() string {
	tenants := []string{DefaultTenant, "acme", "initech", "umbrella"}
	return tenants[t.intn(len(tenants))]
}

func (t *DigitalTwin) draw() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Float64()
}

func (t *DigitalTwin) intn(n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Intn(n)
}
