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
	"os"
	"sort"
	"sync"
	"time"
)

// TrafficClass is the governance classification of a request.
type TrafficClass string

const (
	// TrafficPriority gets wider timeouts and soft-budget exemption.
	TrafficPriority TrafficClass = "priority"

	// TrafficStandard is the default class.
	TrafficStandard TrafficClass = "standard"
)

// RequestMetadata is the opaque key-value metadata accompanying a request.
// The policy engine reads tenant and user identity from it.
type RequestMetadata struct {
	TenantID string
	UserID   string
	Extra    map[string]string
}

// RoutingPolicy is the ephemeral per-request policy decision. It is
// recomputed from governance state on every request, never persisted.
type RoutingPolicy struct {
	TrafficClass TrafficClass    `json:"traffic_class"`
	MaxTimeout   time.Duration   `json:"max_timeout"`
	Blacklist    map[string]bool `json:"blacklist"`
	TenantID     string          `json:"tenant_id"`
	Ruleset      string          `json:"ruleset"`
}

// Blacklisted reports whether a provider is excluded by this decision.
func (p RoutingPolicy) Blacklisted(provider string) bool {
	return p.Blacklist[provider]
}

// TenantProfile holds per-tenant governance parameters. Unknown tenants
// fall back to the global default profile.
type TenantProfile struct {
	Name       string        `json:"name"`
	MaxTimeout time.Duration `json:"max_timeout"`
}

// Governance defaults.
const (
	DefaultTenant            = "global"
	DefaultFailureThreshold  = 5
	DefaultBlacklistCooldown = 60 * time.Second
	DefaultPriorityTimeout   = 10 * time.Second
	DefaultStandardTimeout   = 8 * time.Second
)

// PolicyEngine classifies traffic and tracks consecutive-failure
// blacklisting. The blacklist lives a layer above the circuit breaker: it
// removes a provider from routing consideration entirely, while breakers
// guard the individual transport calls.
type PolicyEngine struct {
	events  *EventStream
	plugins *PluginManager
	logger  *log.Logger
	now     func() time.Time

	mu               sync.Mutex
	priorityUsers    map[string]bool
	failureThreshold int
	cooldown         time.Duration
	tenants          map[string]TenantProfile
	blacklist        map[string]time.Time
	failures         map[string]int
}

// PolicyEngineConfig holds the static governance parameters.
type PolicyEngineConfig struct {
	// PriorityUsers is the allow-list of caller identities classified as
	// priority traffic.
	PriorityUsers []string

	// FailureThreshold is the consecutive-failure count that blacklists a
	// provider. Defaults to 5.
	FailureThreshold int

	// BlacklistCooldown is how long a blacklisted provider stays excluded.
	// Defaults to 60 seconds.
	BlacklistCooldown time.Duration

	// Tenants maps tenant ids to their profiles. The DefaultTenant entry
	// is the fallback profile.
	Tenants map[string]TenantProfile

	// Events receives governance decision events.
	Events *EventStream

	// Plugins receives governanceDecision hook invocations.
	Plugins *PluginManager

	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewPolicyEngine creates an engine with the given governance parameters,
// filling defaults for anything unset.
func NewPolicyEngine(config PolicyEngineConfig) *PolicyEngine {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.BlacklistCooldown <= 0 {
		config.BlacklistCooldown = DefaultBlacklistCooldown
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	priority := make(map[string]bool, len(config.PriorityUsers))
	for _, u := range config.PriorityUsers {
		priority[u] = true
	}

	tenants := make(map[string]TenantProfile, len(config.Tenants)+1)
	for id, profile := range config.Tenants {
		tenants[id] = profile
	}
	if _, ok := tenants[DefaultTenant]; !ok {
		tenants[DefaultTenant] = TenantProfile{Name: DefaultTenant, MaxTimeout: DefaultStandardTimeout}
	}

	return &PolicyEngine{
		events:           config.Events,
		plugins:          config.Plugins,
		logger:           log.New(os.Stdout, "[POLICY_ENGINE] ", log.LstdFlags),
		now:              config.Clock,
		priorityUsers:    priority,
		failureThreshold: config.FailureThreshold,
		cooldown:         config.BlacklistCooldown,
		tenants:          tenants,
		blacklist:        make(map[string]time.Time),
		failures:         make(map[string]int),
	}
}

// RoutingPolicy classifies a request into a traffic policy. The call is
// side-effect-free on governance state; it only emits a decision event and
// fires the governanceDecision hooks.
func (p *PolicyEngine) RoutingPolicy(requestID string, meta RequestMetadata) RoutingPolicy {
	p.mu.Lock()

	tenantID := meta.TenantID
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	profile, ok := p.tenants[tenantID]
	ruleset := "tenant:" + tenantID
	if !ok {
		profile = p.tenants[DefaultTenant]
		ruleset = "default"
	}

	class := TrafficStandard
	if p.priorityUsers[meta.UserID] {
		class = TrafficPriority
	}

	maxTimeout := profile.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = DefaultStandardTimeout
	}
	if class == TrafficPriority && maxTimeout < DefaultPriorityTimeout {
		maxTimeout = DefaultPriorityTimeout
	}

	active := p.activeBlacklistLocked()
	p.mu.Unlock()

	decision := RoutingPolicy{
		TrafficClass: class,
		MaxTimeout:   maxTimeout,
		Blacklist:    active,
		TenantID:     tenantID,
		Ruleset:      ruleset,
	}

	p.events.Emit("governance.decision", map[string]interface{}{
		"request_id":    requestID,
		"tenant_id":     tenantID,
		"traffic_class": string(class),
		"ruleset":       ruleset,
		"blacklisted":   blacklistNames(active),
	})
	p.plugins.RunHooks(HookGovernanceDecision, map[string]interface{}{
		"request_id":    requestID,
		"tenant_id":     tenantID,
		"traffic_class": string(class),
	})

	return decision
}

// activeBlacklistLocked filters the blacklist map to non-expired entries.
// Entries self-expire by timestamp comparison; no background sweep exists.
// Caller must hold p.mu.
func (p *PolicyEngine) activeBlacklistLocked() map[string]bool {
	now := p.now()
	active := make(map[string]bool)
	for provider, expiry := range p.blacklist {
		if now.Before(expiry) {
			active[provider] = true
		} else {
			delete(p.blacklist, provider)
		}
	}
	return active
}

// ReportFailure increments the provider's consecutive-failure counter.
// Reaching the threshold blacklists the provider for the cooldown window
// and resets the counter: blacklisting is edge-triggered, not continuous.
func (p *PolicyEngine) ReportFailure(provider, requestID string) {
	p.mu.Lock()
	p.failures[provider]++
	count := p.failures[provider]
	tripped := count >= p.failureThreshold
	var expiry time.Time
	if tripped {
		expiry = p.now().Add(p.cooldown)
		p.blacklist[provider] = expiry
		p.failures[provider] = 0
	}
	p.mu.Unlock()

	if tripped {
		p.logger.Printf("Provider %s blacklisted until %s after %d consecutive failures", provider, expiry.Format(time.RFC3339), count)
		p.events.Emit("governance.blacklisted", map[string]interface{}{
			"provider":   provider,
			"expiry":     expiry,
			"request_id": requestID,
		})
	}
}

// ReportSuccess resets the provider's consecutive-failure counter.
// Recovery erases failure history at the routing-policy layer, mirroring a
// circuit-breaker reset one level up from the transport.
func (p *PolicyEngine) ReportSuccess(provider string) {
	p.mu.Lock()
	p.failures[provider] = 0
	p.mu.Unlock()
}

// ActiveBlacklist returns the currently excluded providers, sorted.
func (p *PolicyEngine) ActiveBlacklist() []string {
	p.mu.Lock()
	active := p.activeBlacklistLocked()
	p.mu.Unlock()
	return blacklistNames(active)
}

func blacklistNames(active map[string]bool) []string {
	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GovernanceUpdate carries runtime mutations for the dev-only policy
// mutation entrypoint. Nil fields leave the current value untouched.
type GovernanceUpdate struct {
	PriorityUsers    []string `json:"priority_users,omitempty"`
	FailureThreshold *int     `json:"failure_threshold,omitempty"`
	CooldownSeconds  *int     `json:"cooldown_seconds,omitempty"`
	ClearBlacklist   bool     `json:"clear_blacklist,omitempty"`
}

// Update applies a runtime governance mutation. Exposed only on
// non-production deployments.
func (p *PolicyEngine) Update(update GovernanceUpdate) {
	p.mu.Lock()
	if update.PriorityUsers != nil {
		p.priorityUsers = make(map[string]bool, len(update.PriorityUsers))
		for _, u := range update.PriorityUsers {
			p.priorityUsers[u] = true
		}
	}
	if update.FailureThreshold != nil && *update.FailureThreshold > 0 {
		p.failureThreshold = *update.FailureThreshold
	}
	if update.CooldownSeconds != nil && *update.CooldownSeconds > 0 {
		p.cooldown = time.Duration(*update.CooldownSeconds) * time.Second
	}
	if update.ClearBlacklist {
		p.blacklist = make(map[string]time.Time)
		p.failures = make(map[string]int)
	}
	p.mu.Unlock()

	p.events.Emit("governance.updated", map[string]interface{}{
		"cleared_blacklist": update.ClearBlacklist,
	})
}
