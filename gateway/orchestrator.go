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
	"context"
	"sync"
	"time"

	"taskmesh/platform/common/usage"
	"taskmesh/platform/shared/logger"
)

// Orchestrator routing constants.
const (
	// DefaultSoftLimitFraction is the budget fraction at which standard
	// traffic stops being routed to premium-tier providers.
	DefaultSoftLimitFraction = 0.8

	// priorityTimeoutFloor is the minimum effective timeout granted to
	// priority traffic regardless of the adaptive value.
	priorityTimeoutFloor = 10 * time.Second
)

// RouteRequest is a single AI-completion request entering the gateway.
type RouteRequest struct {
	Payload   string            `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	RequestID string            `json:"request_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RouteResponse is the structured response every call resolves with.
// Individual provider failures are never surfaced: the Fallback flag
// distinguishes real provider output from the synthetic local response.
type RouteResponse struct {
	Success       bool                   `json:"success"`
	AIProvider    string                 `json:"ai_provider"`
	Fallback      bool                   `json:"fallback"`
	TrafficClass  TrafficClass           `json:"traffic_class"`
	ProviderScore float64                `json:"provider_score"`
	LatencyMs     int64                  `json:"latency_ms"`
	TokensUsed    int                    `json:"tokens_used"`
	RequestID     string                 `json:"request_id"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// OrchestratorConfig wires the orchestrator's collaborators. Registry,
// Optimizer, PolicyEngine and CostTracker are required; everything else
// is optional.
type OrchestratorConfig struct {
	Registry  *Registry
	Optimizer *Optimizer
	Policy    *PolicyEngine
	Costs     *CostTracker
	Events    *EventStream
	Plugins   *PluginManager

	// UsageRecorder persists usage events fire-and-forget. Nil disables
	// persistence.
	UsageRecorder *usage.Recorder

	// PremiumProviders is the cost tier excluded for standard traffic
	// once the soft budget limit is crossed.
	PremiumProviders []string

	// SoftLimitFraction defaults to 0.8.
	SoftLimitFraction float64

	// Breaker settings applied to every per-provider circuit.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	Logger *logger.Logger
}

// Orchestrator composes policy, budget, ranking, circuit breaking and
// adapters into the per-request routing algorithm. It is the only
// component that touches all of them.
type Orchestrator struct {
	registry  *Registry
	optimizer *Optimizer
	policy    *PolicyEngine
	costs     *CostTracker
	events    *EventStream
	plugins   *PluginManager
	recorder  *usage.Recorder
	log       *logger.Logger

	premium           map[string]bool
	softLimitFraction float64

	breakerThreshold int
	breakerRecovery  time.Duration
	breakersMu       sync.Mutex
	breakers         map[string]*CircuitBreaker
}

// NewOrchestrator creates the gateway orchestrator.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	if config.SoftLimitFraction <= 0 || config.SoftLimitFraction > 1 {
		config.SoftLimitFraction = DefaultSoftLimitFraction
	}
	if config.Logger == nil {
		config.Logger = logger.New("gateway")
	}

	premium := make(map[string]bool, len(config.PremiumProviders))
	for _, p := range config.PremiumProviders {
		premium[p] = true
	}

	return &Orchestrator{
		registry:          config.Registry,
		optimizer:         config.Optimizer,
		policy:            config.Policy,
		costs:             config.Costs,
		events:            config.Events,
		plugins:           config.Plugins,
		recorder:          config.UsageRecorder,
		log:               config.Logger,
		premium:           premium,
		softLimitFraction: config.SoftLimitFraction,
		breakerThreshold:  config.BreakerFailureThreshold,
		breakerRecovery:   config.BreakerRecoveryTimeout,
		breakers:          make(map[string]*CircuitBreaker),
	}
}

// routePlan is the per-request routing decision sequence. It is built by
// buildRoutePlan for both the live orchestrator and the digital twin so
// the two cannot drift structurally.
type routePlan struct {
	OverBudget  bool
	SoftLimited bool
	Candidates  []string
}

// buildRoutePlan derives the ordered candidate list from the ranked
// providers, the policy decision, and the budget snapshot:
//
//  1. hard limit: totalTokens >= ceiling forces the synthetic fallback,
//  2. blacklisted providers are skipped,
//  3. premium-tier providers are skipped for standard traffic once usage
//     crosses ceiling*softLimitFraction,
//  4. the fallback pseudo-provider never appears as a ranked candidate.
func buildRoutePlan(ranked []string, policy RoutingPolicy, budget BudgetMetrics, premium map[string]bool, softLimitFraction float64) routePlan {
	plan := routePlan{
		OverBudget:  budget.OverBudget(),
		SoftLimited: budget.SoftLimited(softLimitFraction),
	}
	if plan.OverBudget {
		return plan
	}

	for _, provider := range ranked {
		if provider == FallbackProviderName {
			continue
		}
		if policy.Blacklisted(provider) {
			continue
		}
		if plan.SoftLimited && premium[provider] && policy.TrafficClass != TrafficPriority {
			continue
		}
		plan.Candidates = append(plan.Candidates, provider)
	}
	return plan
}

// Route executes the routing algorithm for one request. The function is
// total: it always returns a response unless the mandatory fallback
// adapter is missing, which is a structural deployment defect.
func (g *Orchestrator) Route(ctx context.Context, req RouteRequest) (*RouteResponse, error) {
	meta := g.resolveMetadata(req)
	started := time.Now()

	g.plugins.RunHooks(HookBeforeRoute, map[string]interface{}{
		"request_id": req.RequestID,
		"tenant_id":  meta.TenantID,
	})

	policy := g.policy.RoutingPolicy(req.RequestID, meta)
	budget := g.costs.Metrics()
	ranked := g.optimizer.RankedProviders()
	plan := buildRoutePlan(ranked, policy, budget, g.premium, g.softLimitFraction)

	if plan.OverBudget {
		g.log.Warn(meta.TenantID, req.RequestID, "budget hard limit reached, serving fallback", map[string]interface{}{
			"total_tokens": budget.TotalTokens,
			"ceiling":      budget.Ceiling,
		})
		g.events.Emit("route.budget_exhausted", map[string]interface{}{
			"request_id":   req.RequestID,
			"total_tokens": budget.TotalTokens,
		})
		return g.serveFallback(ctx, req, meta, policy)
	}

	for _, providerName := range plan.Candidates {
		adapter, err := g.registry.Get(providerName)
		if err != nil {
			// Ranked but unregistered: a configuration defect, not a
			// runtime provider failure.
			return nil, err
		}

		timeout := g.optimizer.AdaptiveTimeout(providerName)
		if policy.TrafficClass == TrafficPriority && timeout < priorityTimeoutFloor {
			timeout = priorityTimeoutFloor
		}

		breaker := g.breakerFor(providerName)
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := breaker.Execute(callCtx, func(c context.Context) (*InvokeResult, error) {
			return adapter.Invoke(c, req.Payload, timeout, req.RequestID)
		}, nil)
		cancel()

		if err != nil {
			g.reportFailure(providerName, req.RequestID, NormalizeError(err))
			continue
		}
		if result.Status == StatusCapacityLimited {
			// The transport call succeeded but the provider signalled
			// overload: a routing failure, logged distinctly.
			g.log.Warn(meta.TenantID, req.RequestID, "provider capacity limited", map[string]interface{}{
				"provider": providerName,
			})
			g.policy.ReportFailure(providerName, req.RequestID)
			g.optimizer.RecordPerformance(providerName, result.LatencyMs, false, req.RequestID)
			continue
		}
		if !result.Success {
			g.reportFailure(providerName, req.RequestID, result.Status)
			continue
		}

		return g.serveSuccess(req, meta, policy, providerName, result, started), nil
	}

	g.log.Info(meta.TenantID, req.RequestID, "all providers exhausted, serving fallback", nil)
	return g.serveFallback(ctx, req, meta, policy)
}

// reportFailure feeds a failed candidate into the policy engine and the
// optimizer (latency 0) before the loop advances.
func (g *Orchestrator) reportFailure(provider, requestID string, status NormalizedStatus) {
	g.policy.ReportFailure(provider, requestID)
	g.optimizer.RecordPerformance(provider, 0, false, requestID)
	g.events.Emit("route.provider_failed", map[string]interface{}{
		"provider":   provider,
		"status":     string(status),
		"request_id": requestID,
	})
}

// serveSuccess records stats and usage for a served request and builds the
// annotated response.
func (g *Orchestrator) serveSuccess(req RouteRequest, meta RequestMetadata, policy RoutingPolicy, providerName string, result *InvokeResult, started time.Time) *RouteResponse {
	g.policy.ReportSuccess(providerName)
	g.optimizer.RecordPerformance(providerName, result.LatencyMs, true, req.RequestID)
	g.costs.RecordUsage(providerName, result.TokensUsed, req.RequestID)

	g.recordUsage(meta, req, providerName, result, false)

	score := g.optimizer.Score(providerName)
	response := &RouteResponse{
		Success:       true,
		AIProvider:    providerName,
		Fallback:      false,
		TrafficClass:  policy.TrafficClass,
		ProviderScore: score,
		LatencyMs:     result.LatencyMs,
		TokensUsed:    result.TokensUsed,
		RequestID:     req.RequestID,
		Data:          result.Data,
	}

	g.plugins.RunHooks(HookAfterRoute, map[string]interface{}{
		"request_id": req.RequestID,
		"provider":   providerName,
		"fallback":   false,
	})
	g.events.Emit("route.served", map[string]interface{}{
		"request_id":    req.RequestID,
		"provider":      providerName,
		"score":         score,
		"traffic_class": string(policy.TrafficClass),
		"latency_ms":    result.LatencyMs,
	})
	g.log.InfoWithDuration(meta.TenantID, req.RequestID, "request served", float64(time.Since(started).Milliseconds()), map[string]interface{}{
		"provider": providerName,
	})
	return response
}

// recordUsage persists a usage event fire-and-forget when a recorder is
// configured.
func (g *Orchestrator) recordUsage(meta RequestMetadata, req RouteRequest, providerName string, result *InvokeResult, fallback bool) {
	if g.recorder == nil {
		return
	}

	model, _ := result.Data["model"].(string)
	event := usage.RouteEvent{
		TenantID:   meta.TenantID,
		UserID:     meta.UserID,
		Provider:   providerName,
		Model:      model,
		TokensUsed: result.TokensUsed,
		LatencyMs:  result.LatencyMs,
		RequestID:  req.RequestID,
		Fallback:   fallback,
	}
	go func() {
		if err := g.recorder.RecordRoute(event); err != nil {
			g.log.Warn(meta.TenantID, req.RequestID, "usage persistence failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

// serveFallback invokes the mandatory local fallback adapter. Its absence
// is the one structural error the gateway propagates.
func (g *Orchestrator) serveFallback(ctx context.Context, req RouteRequest, meta RequestMetadata, policy RoutingPolicy) (*RouteResponse, error) {
	adapter, err := g.registry.Get(FallbackProviderName)
	if err != nil {
		return nil, err
	}

	// The fallback adapter cannot fail by contract.
	result, _ := adapter.Invoke(ctx, req.Payload, 0, req.RequestID)
	g.recordUsage(meta, req, FallbackProviderName, result, true)

	response := &RouteResponse{
		Success:      true,
		AIProvider:   FallbackProviderName,
		Fallback:     true,
		TrafficClass: policy.TrafficClass,
		RequestID:    req.RequestID,
		Data:         result.Data,
	}

	g.plugins.RunHooks(HookAfterRoute, map[string]interface{}{
		"request_id": req.RequestID,
		"provider":   FallbackProviderName,
		"fallback":   true,
	})
	g.events.Emit("route.fallback", map[string]interface{}{
		"request_id": req.RequestID,
	})
	return response, nil
}

// resolveMetadata extracts tenant and user identity from the request,
// defaulting the tenant to "global".
func (g *Orchestrator) resolveMetadata(req RouteRequest) RequestMetadata {
	meta := RequestMetadata{
		TenantID: req.Metadata["tenant_id"],
		UserID:   req.Metadata["user_id"],
		Extra:    req.Metadata,
	}
	if meta.TenantID == "" {
		meta.TenantID = TenantFromHeaders(req.Headers)
	}
	if meta.TenantID == "" {
		meta.TenantID = DefaultTenant
	}
	if meta.UserID == "" {
		meta.UserID = UserFromHeaders(req.Headers)
	}
	return meta
}

// breakerFor lazily creates the per-provider circuit breaker. Transitions
// are published to the event stream.
func (g *Orchestrator) breakerFor(provider string) *CircuitBreaker {
	g.breakersMu.Lock()
	defer g.breakersMu.Unlock()

	if breaker, ok := g.breakers[provider]; ok {
		return breaker
	}
	breaker := NewCircuitBreaker(provider, CircuitBreakerConfig{
		FailureThreshold: g.breakerThreshold,
		RecoveryTimeout:  g.breakerRecovery,
		OnTransition: func(name string, from, to CircuitState) {
			g.events.Emit("circuit.transition", map[string]interface{}{
				"provider": name,
				"from":     string(from),
				"to":       string(to),
			})
		},
	})
	g.breakers[provider] = breaker
	return breaker
}

// BreakerStates returns the current circuit state per provider, for the
// metrics accessor.
func (g *Orchestrator) BreakerStates() map[string]CircuitState {
	g.breakersMu.Lock()
	defer g.breakersMu.Unlock()

	states := make(map[string]CircuitState, len(g.breakers))
	for name, breaker := range g.breakers {
		states[name] = breaker.State()
	}
	return states
}
