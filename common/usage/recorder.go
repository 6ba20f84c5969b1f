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
	"database/sql"
	"log"
)

// Recorder handles recording route usage events to the database
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a new usage recorder with a database connection
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RouteEvent represents a served routing request to be recorded
type RouteEvent struct {
	TenantID   string
	UserID     string // Optional: resolved from request metadata
	Provider   string // "openai", "gemini", "bedrock", "fallback"
	Model      string // Optional: provider model identifier
	TokensUsed int
	LatencyMs  int64
	RequestID  string
	Fallback   bool
}

// RecordRoute records a served routing request to the database
// Uses goroutine-safe async pattern - errors are logged but don't block responses
func (r *Recorder) RecordRoute(event RouteEvent) error {
	// Calculate cost based on provider pricing
	costCents := CalculateCost(event.Provider, event.Model, event.TokensUsed)

	_, err := r.db.Exec(`
		INSERT INTO route_events (
			tenant_id, user_id, event_type, ai_provider, model,
			tokens_used, estimated_cost_cents, latency_ms, request_id, fallback
		) VALUES ($1, $2, 'route', $3, $4, $5, $6, $7, $8, $9)
	`, event.TenantID, nullString(event.UserID), event.Provider,
		nullString(event.Model), event.TokensUsed, costCents,
		event.LatencyMs, event.RequestID, event.Fallback)

	if err != nil {
		log.Printf("[USAGE] Failed to record route event: %v", err)
	}

	return err
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
