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
	"sync"
)

// Prices stored in cents per 1K tokens to avoid floating point issues.
// Flat per-provider rates; per-model pricing lives in common/usage.
var providerCentsPer1K = map[string]int{
	"openai":             200,
	"gemini":             100,
	"bedrock":            300,
	FallbackProviderName: 0,
}

// defaultCentsPer1K is the conservative rate for unknown providers.
const defaultCentsPer1K = 100

// ProviderUsage is the per-provider slice of the budget ledger.
type ProviderUsage struct {
	Requests  int64 `json:"requests"`
	Tokens    int64 `json:"tokens"`
	CostCents int64 `json:"cost_cents"`
}

// BudgetMetrics is a snapshot of the process-wide budget ledger.
type BudgetMetrics struct {
	TotalRequests  int64                    `json:"total_requests"`
	TotalTokens    int64                    `json:"total_tokens"`
	TotalCostCents int64                    `json:"total_cost_cents"`
	Ceiling        int64                    `json:"monthly_token_ceiling"`
	UsagePercent   float64                  `json:"usage_percent"`
	Providers      map[string]ProviderUsage `json:"providers"`
}

// OverBudget reports whether the hard budget limit has been reached.
func (m BudgetMetrics) OverBudget() bool {
	return m.Ceiling > 0 && m.TotalTokens >= m.Ceiling
}

// SoftLimited reports whether usage has crossed the given fraction of the
// ceiling.
func (m BudgetMetrics) SoftLimited(fraction float64) bool {
	return m.Ceiling > 0 && float64(m.TotalTokens) >= float64(m.Ceiling)*fraction
}

// CostTracker is the append-only usage/cost ledger for the process
// lifetime. No mutation ever decreases a counter; totals reset only on
// process restart.
type CostTracker struct {
	mu             sync.Mutex
	totalRequests  int64
	totalTokens    int64
	totalCostCents int64
	providers      map[string]*ProviderUsage
	ceiling        int64
}

// NewCostTracker creates a tracker with the given monthly token ceiling.
// A ceiling of zero disables budget enforcement.
func NewCostTracker(monthlyTokenCeiling int64) *CostTracker {
	return &CostTracker{
		providers: make(map[string]*ProviderUsage),
		ceiling:   monthlyTokenCeiling,
	}
}

// RecordUsage accumulates request, token, and cost counters globally and
// per provider using the static price table.
func (c *CostTracker) RecordUsage(provider string, tokens int, requestID string) {
	rate, ok := providerCentsPer1K[provider]
	if !ok {
		rate = defaultCentsPer1K
	}
	costCents := int64(tokens) * int64(rate) / 1000

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	c.totalTokens += int64(tokens)
	c.totalCostCents += costCents

	usage, exists := c.providers[provider]
	if !exists {
		usage = &ProviderUsage{}
		c.providers[provider] = usage
	}
	usage.Requests++
	usage.Tokens += int64(tokens)
	usage.CostCents += costCents
}

// Metrics returns the current ledger snapshot including usage percent
// against the monthly ceiling.
func (c *CostTracker) Metrics() BudgetMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	providers := make(map[string]ProviderUsage, len(c.providers))
	for name, usage := range c.providers {
		providers[name] = *usage
	}

	usagePercent := 0.0
	if c.ceiling > 0 {
		usagePercent = float64(c.totalTokens) / float64(c.ceiling)
	}

	return BudgetMetrics{
		TotalRequests:  c.totalRequests,
		TotalTokens:    c.totalTokens,
		TotalCostCents: c.totalCostCents,
		Ceiling:        c.ceiling,
		UsagePercent:   usagePercent,
		Providers:      providers,
	}
}

// CentsPer1K returns the flat per-1K-token rate used for a provider.
func CentsPer1K(provider string) int {
	if rate, ok := providerCentsPer1K[provider]; ok {
		return rate
	}
	return defaultCentsPer1K
}
