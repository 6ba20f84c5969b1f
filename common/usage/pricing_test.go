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

package usage

import (
	"testing"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name          string
		provider      string
		model         string
		tokensUsed    int
		expectedCents int
	}{
		{
			name:          "OpenAI GPT-4o-mini basic",
			provider:      "openai",
			model:         "gpt-4o-mini",
			tokensUsed:    300,
			expectedCents: 300 * 100 / 1000, // 30 cents
		},
		{
			name:          "Gemini 1.5 Flash",
			provider:      "gemini",
			model:         "gemini-1.5-flash",
			tokensUsed:    1000,
			expectedCents: 1000 * 50 / 1000, // 50 cents
		},
		{
			name:          "Bedrock Claude 3 Sonnet",
			provider:      "bedrock",
			model:         "claude-3-sonnet",
			tokensUsed:    800,
			expectedCents: 800 * 300 / 1000, // 240 cents
		},
		{
			name:          "Unknown model falls back to provider rate",
			provider:      "openai",
			model:         "experimental-model",
			tokensUsed:    500,
			expectedCents: 500 * 200 / 1000, // 100 cents
		},
		{
			name:          "Fallback provider costs nothing",
			provider:      "fallback",
			model:         "",
			tokensUsed:    1000,
			expectedCents: 0,
		},
		{
			name:          "Unknown provider defaults to conservative rate",
			provider:      "unknown",
			model:         "unknown-model",
			tokensUsed:    200,
			expectedCents: 200 * 100 / 1000, // 20 cents
		},
		{
			name:          "Zero tokens",
			provider:      "openai",
			model:         "gpt-4o",
			tokensUsed:    0,
			expectedCents: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost := CalculateCost(tt.provider, tt.model, tt.tokensUsed)
			if cost != tt.expectedCents {
				t.Errorf("CalculateCost() = %d cents, want %d cents", cost, tt.expectedCents)
			}
		})
	}
}

func TestProviderRate(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		wantOk   bool
	}{
		{"OpenAI GPT-4o", "openai", "gpt-4o", true},
		{"Bedrock Claude 3 Haiku", "bedrock", "claude-3-haiku", true},
		{"Unknown provider", "unknown", "model", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ProviderRate(tt.provider, tt.model)
			if ok != tt.wantOk {
				t.Errorf("ProviderRate() ok = %v, want %v", ok, tt.wantOk)
			}
		})
	}
}

func TestFormatCostToDollars(t *testing.T) {
	tests := []struct {
		name  string
		cents int
		want  string
	}{
		{"Zero cents", 0, "$0.00"},
		{"One dollar", 100, "$1.00"},
		{"One cent", 1, "$0.01"},
		{"Complex amount", 1234, "$12.34"},
		{"Large amount", 123456, "$1234.56"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatCostToDollars(tt.cents)
			if got != tt.want {
				t.Errorf("FormatCostToDollars(%d) = %q, want %q", tt.cents, got, tt.want)
			}
		})
	}
}

// Benchmark tests
func BenchmarkCalculateCost(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CalculateCost("openai", "gpt-4o-mini", 450)
	}
}
