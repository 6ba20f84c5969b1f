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
	"strings"
	"time"
)

// NormalizedStatus is the small status vocabulary every provider error is
// mapped onto. Routing logic never inspects raw provider errors; it only
// branches on these values.
type NormalizedStatus string

const (
	// StatusSuccess indicates the provider returned a usable completion.
	StatusSuccess NormalizedStatus = "success"

	// StatusCapacityLimited indicates the provider is rate-limited or
	// overloaded. Treated as a routing failure, but logged distinctly since
	// near-term recovery is likely.
	StatusCapacityLimited NormalizedStatus = "capacity_limited"

	// StatusUnavailable indicates the provider could not be reached or
	// timed out.
	StatusUnavailable NormalizedStatus = "unavailable"

	// StatusDegraded indicates the provider responded but reported reduced
	// quality of service.
	StatusDegraded NormalizedStatus = "degraded"

	// StatusError is the catch-all for unclassified provider failures.
	StatusError NormalizedStatus = "error"

	// StatusFallback marks a synthetic response from the local fallback
	// adapter.
	StatusFallback NormalizedStatus = "fallback"
)

// InvokeResult is the normalized outcome of a single provider invocation.
type InvokeResult struct {
	Success    bool                   `json:"success"`
	Provider   string                 `json:"provider"`
	LatencyMs  int64                  `json:"latency_ms"`
	TokensUsed int                    `json:"tokens_used"`
	Status     NormalizedStatus       `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Adapter is the uniform invocation contract for AI completion providers.
// Implementations must be safe for concurrent use and must normalize
// provider-specific failures into the NormalizedStatus vocabulary.
type Adapter interface {
	// Name returns the provider identity used as the key for all
	// per-provider state (e.g. "openai", "gemini", "fallback").
	Name() string

	// Invoke executes a completion request against the provider. The
	// timeout applies to this single call; exceeding it is reported the
	// same as any other provider failure.
	Invoke(ctx context.Context, payload string, timeout time.Duration, requestID string) (*InvokeResult, error)

	// CostEfficiency returns a static constant in [0,1] expressing how
	// cheap this provider is relative to the fleet (1 = free). It feeds
	// the optimizer's score blend.
	CostEfficiency() float64
}

// capacitySignatures are substrings that identify rate-limit/overload
// responses across providers.
var capacitySignatures = []string{
	"429",
	"rate limit",
	"rate_limit",
	"capacity",
	"overloaded",
	"quota",
	"throttl",
	"too many requests",
}

// unavailableSignatures identify connectivity and timeout failures.
var unavailableSignatures = []string{
	"503",
	"502",
	"unavailable",
	"connection refused",
	"no such host",
	"timeout",
	"timed out",
	"deadline exceeded",
	"context canceled",
}

// NormalizeError maps a raw provider error message onto the normalized
// status vocabulary. This is the seam that keeps routing provider-agnostic:
// new providers only need their failure text to match these signatures.
func NormalizeError(err error) NormalizedStatus {
	if err == nil {
		return StatusSuccess
	}
	msg := strings.ToLower(err.Error())

	for _, sig := range capacitySignatures {
		if strings.Contains(msg, sig) {
			return StatusCapacityLimited
		}
	}
	for _, sig := range unavailableSignatures {
		if strings.Contains(msg, sig) {
			return StatusUnavailable
		}
	}
	if strings.Contains(msg, "degraded") || strings.Contains(msg, "partial") {
		return StatusDegraded
	}
	return StatusError
}

// FallbackProviderName is the identity of the mandatory local fallback
// adapter. Registration of an adapter under this name is required before
// the orchestrator will serve traffic.
const FallbackProviderName = "fallback"

// LocalFallbackAdapter is the always-succeeding synthetic provider used
// when every real provider is exhausted or the budget hard limit is hit.
// By contract it cannot fail.
type LocalFallbackAdapter struct {
	// Message is the canned completion text. If empty, a generic notice
	// is returned.
	Message string
}

// NewLocalFallbackAdapter creates the mandatory fallback adapter.
func NewLocalFallbackAdapter() *LocalFallbackAdapter {
	return &LocalFallbackAdapter{}
}

// Name implements Adapter.
func (a *LocalFallbackAdapter) Name() string { return FallbackProviderName }

// CostEfficiency implements Adapter. The fallback is free.
func (a *LocalFallbackAdapter) CostEfficiency() float64 { return 1.0 }

// Invoke implements Adapter. It never returns an error and ignores the
// timeout: the response is synthesized locally.
func (a *LocalFallbackAdapter) Invoke(ctx context.Context, payload string, timeout time.Duration, requestID string) (*InvokeResult, error) {
	msg := a.Message
	if msg == "" {
		msg = "All AI providers are currently unavailable. This is a locally generated response; please retry later for a full answer."
	}
	return &InvokeResult{
		Success:    true,
		Provider:   FallbackProviderName,
		LatencyMs:  0,
		TokensUsed: 0,
		Status:     StatusFallback,
		Data: map[string]interface{}{
			"content":    msg,
			"request_id": requestID,
			"synthetic":  true,
		},
	}, nil
}
