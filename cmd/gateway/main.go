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

// Package main is the entry point for the TaskMesh Gateway service.
//
// The Gateway is an AI request orchestration layer that:
// - Routes completion requests across OpenAI, Gemini and Bedrock
// - Scores providers adaptively on success rate, latency and cost
// - Enforces budget governance and consecutive-failure blacklisting
// - Guards every provider call with a circuit breaker
// - Serves a synthetic local fallback when all providers are exhausted
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8084)
//	OPENAI_API_KEY / GEMINI_API_KEY - provider credentials
//	BEDROCK_REGION - enables the AWS Bedrock provider
//	MONTHLY_TOKEN_CEILING - hard budget limit in tokens
//	DATABASE_URL - PostgreSQL connection string for the usage ledger
//	REDIS_URL - event broadcast transport
package main

import (
	"taskmesh/platform/gateway"
)

func main() {
	gateway.Run()
}
