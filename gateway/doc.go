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

/*
Package gateway provides the TaskMesh Gateway service - the AI request
orchestration layer that routes completion requests across external AI
providers.

# Overview

The gateway sits between client applications and AI providers (OpenAI,
Gemini, AWS Bedrock), handling:

  - Provider registration behind a uniform adapter contract
  - Adaptive provider ranking on success rate, latency, and cost
  - Traffic classification and consecutive-failure blacklisting
  - Token budget governance with hard and soft limits
  - Per-provider circuit breaking
  - A mandatory local fallback so every request resolves

# Routing algorithm

Each request walks the same decision sequence:

 1. The policy engine classifies the request (priority or standard)
    and attaches the active provider blacklist.
 2. The budget ledger is checked: at the hard ceiling the request goes
    straight to the local fallback without touching any provider; past
    the soft fraction, standard traffic loses the premium tier.
 3. Remaining providers are tried in descending optimizer score, each
    under its adaptive timeout and circuit breaker.
 4. The first success is served; total exhaustion serves the fallback.

Provider failures never surface to callers as errors. The only error the
gateway propagates is structural: a ranked provider, or the fallback
itself, missing from the registry.

# Extension points

Plugins register hooks at four points (beforeAIRoute, afterAIRoute,
governanceDecision, optimizerUpdate). Hooks run with a hard 50ms budget
and full panic isolation, so plugin misbehavior cannot change a routing
outcome.

# Digital twin

The DigitalTwin replays the orchestrator's decision function against
synthetic traffic, replacing provider calls with Bernoulli draws on the
observed success rates. Operators use it to test policy changes (soft
limit, blacklist, priority mix) before they touch real requests.
*/
package gateway
