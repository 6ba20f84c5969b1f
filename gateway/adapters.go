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
	"time"

	"taskmesh/platform/gateway/gemini"
	"taskmesh/platform/gateway/openai"
)

// costEfficiencyFor derives the static [0,1] cost-efficiency constant from
// the flat price table. A free provider scores 1.0; more expensive
// providers score lower.
func costEfficiencyFor(provider string) float64 {
	rate := CentsPer1K(provider)
	if rate <= 0 {
		return 1.0
	}
	return 100.0 / (100.0 + float64(rate))
}

// OpenAIAdapter adapts the OpenAI client to the gateway Adapter contract.
type OpenAIAdapter struct {
	provider *openai.Provider
}

// NewOpenAIAdapter creates the OpenAI adapter.
func NewOpenAIAdapter(apiKey string) (*OpenAIAdapter, error) {
	provider, err := openai.NewProvider(openai.Config{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return &OpenAIAdapter{provider: provider}, nil
}

// Name implements Adapter.
func (a *OpenAIAdapter) Name() string { return "openai" }

// CostEfficiency implements Adapter.
func (a *OpenAIAdapter) CostEfficiency() float64 { return costEfficiencyFor("openai") }

// Invoke implements Adapter.
func (a *OpenAIAdapter) Invoke(ctx context.Context, payload string, timeout time.Duration, requestID string) (*InvokeResult, error) {
	start := time.Now()
	resp, err := a.provider.Complete(ctx, openai.CompletionRequest{Prompt: payload})
	if err != nil {
		return nil, err
	}
	return &InvokeResult{
		Success:    true,
		Provider:   a.Name(),
		LatencyMs:  time.Since(start).Milliseconds(),
		TokensUsed: resp.TokensUsed,
		Status:     StatusSuccess,
		Data: map[string]interface{}{
			"content":    resp.Content,
			"model":      resp.Model,
			"request_id": requestID,
		},
	}, nil
}

// GeminiAdapter adapts the Gemini client to the gateway Adapter contract.
type GeminiAdapter struct {
	provider *gemini.Provider
}

// NewGeminiAdapter creates the Gemini adapter.
func NewGeminiAdapter(apiKey string) (*GeminiAdapter, error) {
	provider, err := gemini.NewProvider(gemini.Config{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{provider: provider}, nil
}

// Name implements Adapter.
func (a *GeminiAdapter) Name() string { return "gemini" }

// CostEfficiency implements Adapter.
func (a *GeminiAdapter) CostEfficiency() float64 { return costEfficiencyFor("gemini") }

// Invoke implements Adapter.
func (a *GeminiAdapter) Invoke(ctx context.Context, payload string, timeout time.Duration, requestID string) (*InvokeResult, error) {
	start := time.Now()
	resp, err := a.provider.Complete(ctx, gemini.CompletionRequest{Prompt: payload})
	if err != nil {
		return nil, err
	}
	return &InvokeResult{
		Success:    true,
		Provider:   a.Name(),
		LatencyMs:  time.Since(start).Milliseconds(),
		TokensUsed: resp.TokensUsed,
		Status:     StatusSuccess,
		Data: map[string]interface{}{
			"content":    resp.Content,
			"model":      resp.Model,
			"request_id": requestID,
		},
	}, nil
}
