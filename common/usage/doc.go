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
Package usage provides usage metering and billing support for TaskMesh.

# Overview

The usage package records routing events to PostgreSQL for billing and
analytics. Each served request is persisted with its tenant, the provider
that served it, token usage, and the estimated cost in cents.

# Usage Recording

Create a recorder with a database connection:

	recorder := usage.NewRecorder(db)

Record served routes with automatic cost calculation:

	err := recorder.RecordRoute(usage.RouteEvent{
	    TenantID:   "tenant-123",
	    Provider:   "openai",
	    Model:      "gpt-4o-mini",
	    TokensUsed: 350,
	    LatencyMs:  1200,
	    RequestID:  "req-456",
	})

# Cost Calculation

Costs are calculated automatically based on the pricing module:

	costCents := usage.CalculateCost("openai", "gpt-4o-mini", tokensUsed)

Supported providers and their pricing are defined in pricing.go.

# Database Schema

Events are stored in the route_events table with columns for:
  - Tenant and user identification
  - AI provider and model
  - Token usage and estimated cost in cents
  - Latency and request correlation ID
  - Fallback flag (synthetic local responses)

# Thread Safety

Recorder is safe for concurrent use. Recording methods can be called
from multiple goroutines simultaneously.

# Best Practices

Record usage asynchronously to avoid blocking request processing:

	go func() {
	    if err := recorder.RecordRoute(event); err != nil {
	        log.Printf("Failed to record usage: %v", err)
	    }
	}()
*/
package usage
