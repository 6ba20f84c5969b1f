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

import "fmt"

// AI provider pricing as of mid 2026
// Prices stored in cents per 1K tokens to avoid floating point issues
// All prices are USD

// providerPricing maps provider-model combinations to cents per 1K tokens
var providerPricing = map[string]int{
	// OpenAI pricing
	"openai-gpt-4o":      500,
	"openai-gpt-4o-mini": 100,

	// Google Gemini pricing
	"gemini-gemini-1.5-pro":   300,
	"gemini-gemini-1.5-flash": 50,

	// AWS Bedrock pricing (Anthropic models)
	"bedrock-claude-3-sonnet": 300,
	"bedrock-claude-3-haiku":  100,
}

// providerDefaults covers events recorded without a model identifier
var providerDefaults = map[string]int{
	"openai":   200,
	"gemini":   100,
	"bedrock":  300,
	"fallback": 0,
}

// defaultCentsPer1K is the conservative estimate for unknown providers
const defaultCentsPer1K = 100

// CalculateCost calculates the cost in cents for a routed request
// Returns cost in cents (integer) to avoid floating point precision issues
func CalculateCost(provider, model string, tokensUsed int) int {
	per1K, ok := providerPricing[provider+"-"+model]
	if !ok {
		per1K, ok = providerDefaults[provider]
	}
	if !ok {
		per1K = defaultCentsPer1K
	}

	return (tokensUsed * per1K) / 1000
}

// ProviderRate returns the cents-per-1K rate for a provider-model
// combination, and whether an exact entry exists
func ProviderRate(provider, model string) (int, bool) {
	rate, ok := providerPricing[provider+"-"+model]
	return rate, ok
}

// FormatCostToDollars converts cents to dollar string (e.g., 135 cents -> "$1.35")
func FormatCostToDollars(cents int) string {
	dollars := float64(cents) / 100.0
	return fmt.Sprintf("$%.2f", dollars)
}
