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
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"taskmesh/platform/common/usage"
	"taskmesh/platform/shared/logger"
)

// TaskMesh Gateway - AI request orchestration layer
// Routes completion requests across providers with adaptive scoring,
// circuit breaking, and budget governance.

// Prometheus metrics
var (
	promRoutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_gateway_routes_total",
			Help: "Total number of routing requests served by the gateway",
		},
		[]string{"provider", "traffic_class"},
	)
	promRouteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskmesh_gateway_route_duration_milliseconds",
			Help:    "End-to-end routing duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"traffic_class"},
	)
	promFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskmesh_gateway_fallbacks_total",
			Help: "Total number of requests served by the synthetic local fallback",
		},
	)
	promTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskmesh_gateway_tokens_total",
			Help: "Total tokens consumed per provider",
		},
		[]string{"provider"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRoutesTotal)
	prometheus.MustRegister(promRouteDuration)
	prometheus.MustRegister(promFallbacksTotal)
	prometheus.MustRegister(promTokensTotal)
}

// Service bundles the gateway components behind the HTTP surface. All
// external dependencies are injected through NewService so handlers stay
// testable.
type Service struct {
	config       Config
	registry     *Registry
	optimizer    *Optimizer
	policy       *PolicyEngine
	costs        *CostTracker
	events       *EventStream
	plugins      *PluginManager
	orchestrator *Orchestrator
	twin         *DigitalTwin
	log          *logger.Logger

	usageDB   *sql.DB
	redisSink *RedisSink
}

// NewService wires every gateway component from the configuration. The
// mandatory local fallback adapter is always registered; real providers
// are registered only when their credentials resolve.
func NewService(ctx context.Context, config Config) (*Service, error) {
	svc := &Service{
		config:  config,
		log:     logger.New("gateway"),
		plugins: NewPluginManager(),
	}

	// Event stream, optionally broadcasting to Redis.
	var sinks []EventSink
	if config.RedisURL != "" {
		sink, err := NewRedisSink(config.RedisURL, config.EventChannel)
		if err != nil {
			log.Printf("[GATEWAY] WARNING: Redis event sink unavailable: %v", err)
			log.Println("[GATEWAY] Events will be kept in the in-memory ring only")
		} else {
			svc.redisSink = sink
			sinks = append(sinks, sink)
			log.Println("[GATEWAY] Redis event broadcasting enabled")
		}
	}
	svc.events = NewEventStream(sinks...)

	svc.optimizer = NewOptimizer(
		WithOptimizerEvents(svc.events),
		WithOptimizerPlugins(svc.plugins),
	)
	svc.policy = NewPolicyEngine(PolicyEngineConfig{
		PriorityUsers:     config.PriorityUsers,
		FailureThreshold:  config.FailureThreshold,
		BlacklistCooldown: config.BlacklistCooldown,
		Tenants:           config.Tenants,
		Events:            svc.events,
		Plugins:           svc.plugins,
	})
	svc.costs = NewCostTracker(config.MonthlyTokenCeiling)
	svc.registry = NewRegistry()

	if err := svc.registerProviders(ctx); err != nil {
		return nil, err
	}

	// Usage ledger, optional.
	var recorder *usage.Recorder
	if config.DatabaseURL != "" {
		db, err := sql.Open("postgres", config.DatabaseURL)
		if err != nil {
			log.Printf("[GATEWAY] WARNING: usage database unavailable: %v", err)
		} else if err := db.Ping(); err != nil {
			log.Printf("[GATEWAY] WARNING: usage database ping failed: %v", err)
			_ = db.Close()
		} else {
			svc.usageDB = db
			recorder = usage.NewRecorder(db)
			log.Println("[GATEWAY] Usage metering database connected")
		}
	}

	svc.orchestrator = NewOrchestrator(OrchestratorConfig{
		Registry:                svc.registry,
		Optimizer:               svc.optimizer,
		Policy:                  svc.policy,
		Costs:                   svc.costs,
		Events:                  svc.events,
		Plugins:                 svc.plugins,
		UsageRecorder:           recorder,
		PremiumProviders:        config.PremiumProviders,
		SoftLimitFraction:       config.SoftLimitFraction,
		BreakerFailureThreshold: config.BreakerFailureThreshold,
		BreakerRecoveryTimeout:  config.BreakerRecoveryTimeout,
		Logger:                  svc.log,
	})
	svc.twin = NewDigitalTwin(DigitalTwinConfig{
		Optimizer:         svc.optimizer,
		Policy:            svc.policy,
		Costs:             svc.costs,
		Events:            svc.events,
		PremiumProviders:  config.PremiumProviders,
		SoftLimitFraction: config.SoftLimitFraction,
	})

	return svc, nil
}

// registerProviders builds and registers every adapter whose credentials
// resolve, plus the mandatory fallback. Each registered adapter is tracked
// by the optimizer with its cost-efficiency constant.
func (s *Service) registerProviders(ctx context.Context) error {
	var configured, available, failed []string

	var resolver *SecretResolver
	if s.config.OpenAIKeySecretARN != "" || s.config.GeminiKeySecretARN != "" {
		r, err := NewSecretResolver(ctx, s.config.BedrockRegion)
		if err != nil {
			log.Printf("[GATEWAY] WARNING: secrets manager unavailable: %v", err)
		} else {
			resolver = r
		}
	}

	openAIKey := resolver.ResolveAPIKey(ctx, s.config.OpenAIKey, s.config.OpenAIKeySecretARN)
	if openAIKey != "" {
		configured = append(configured, "openai")
		adapter, err := NewOpenAIAdapter(openAIKey)
		if err != nil {
			log.Printf("[GATEWAY] ERROR: failed to initialize OpenAI adapter: %v", err)
			failed = append(failed, "openai")
		} else if err := s.register(adapter); err != nil {
			return err
		} else {
			available = append(available, "openai")
		}
	}

	geminiKey := resolver.ResolveAPIKey(ctx, s.config.GeminiKey, s.config.GeminiKeySecretARN)
	if geminiKey != "" {
		configured = append(configured, "gemini")
		adapter, err := NewGeminiAdapter(geminiKey)
		if err != nil {
			log.Printf("[GATEWAY] ERROR: failed to initialize Gemini adapter: %v", err)
			failed = append(failed, "gemini")
		} else if err := s.register(adapter); err != nil {
			return err
		} else {
			available = append(available, "gemini")
		}
	}

	if s.config.BedrockRegion != "" {
		configured = append(configured, fmt.Sprintf("bedrock(%s)", s.config.BedrockRegion))
		adapter, err := NewBedrockAdapter(ctx, s.config.BedrockRegion, s.config.BedrockModel)
		if err != nil {
			log.Printf("[GATEWAY] ERROR: failed to initialize Bedrock adapter: %v", err)
			failed = append(failed, "bedrock")
		} else if err := s.register(adapter); err != nil {
			return err
		} else {
			available = append(available, "bedrock")
		}
	}

	// The fallback adapter is mandatory: routing refuses to start without it.
	if err := s.register(NewLocalFallbackAdapter()); err != nil {
		return err
	}

	log.Printf("[GATEWAY] ========== Provider Status ==========")
	log.Printf("[GATEWAY] Configured: %s", joinOrNone(configured))
	log.Printf("[GATEWAY] Available:  %s", joinOrNone(available))
	if len(failed) > 0 {
		log.Printf("[GATEWAY] FAILED:     %s", strings.Join(failed, ", "))
	}
	if len(available) == 0 {
		log.Printf("[GATEWAY] WARNING: no real providers available - all traffic will be served by the local fallback")
	}
	log.Printf("[GATEWAY] =====================================")

	return nil
}

// register adds an adapter to the registry and tracks it in the optimizer.
func (s *Service) register(adapter Adapter) error {
	if err := s.registry.Register(adapter); err != nil {
		return err
	}
	s.optimizer.Track(adapter.Name(), adapter.CostEfficiency())
	return nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

// RegisterPlugin exposes plugin registration on the service for embedders.
func (s *Service) RegisterPlugin(plugin Plugin) error {
	return s.plugins.Register(plugin)
}

// Router builds the gateway HTTP routes.
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/api/v1/ai/route", s.handleRoute).Methods("POST")
	router.HandleFunc("/api/v1/ai/metrics", s.handleMetrics).Methods("GET")
	router.HandleFunc("/api/v1/ai/simulate", s.handleSimulate).Methods("POST")

	// Runtime governance mutation is a development convenience only.
	if s.config.DevMode {
		router.HandleFunc("/api/v1/ai/governance", s.handleGovernance).Methods("PUT")
	}

	return router
}

// Close releases external connections held by the service.
func (s *Service) Close() {
	if s.usageDB != nil {
		_ = s.usageDB.Close()
	}
	if s.redisSink != nil {
		_ = s.redisSink.Close()
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"service":   "taskmesh-gateway",
		"providers": s.registry.Names(),
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// handleRoute is the main completion entrypoint. Provider failures never
// surface as HTTP errors; only malformed requests and structural defects
// do.
func (s *Service) handleRoute(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Payload == "" {
		s.sendError(w, "payload is required", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	// Promote transport headers relevant to routing into the request.
	for _, h := range []string{"X-Tenant-ID", "Authorization", "X-User-ID"} {
		if v := r.Header.Get(h); v != "" && req.Headers[h] == "" {
			req.Headers[h] = v
		}
	}

	resp, err := s.orchestrator.Route(r.Context(), req)
	if err != nil {
		s.log.ErrorWithCode("", req.RequestID, "routing failed structurally", http.StatusInternalServerError, err, nil)
		s.sendError(w, "Routing error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	promRoutesTotal.WithLabelValues(resp.AIProvider, string(resp.TrafficClass)).Inc()
	promRouteDuration.WithLabelValues(string(resp.TrafficClass)).Observe(float64(time.Since(started).Milliseconds()))
	promTokensTotal.WithLabelValues(resp.AIProvider).Add(float64(resp.TokensUsed))
	if resp.Fallback {
		promFallbacksTotal.Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding route response: %v", err)
	}
}

// handleMetrics returns the JSON operational snapshot: provider scores,
// budget ledger, circuit states, blacklist, and recent events.
func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]interface{}{
		"providers":      s.optimizer.Snapshot(),
		"ranking":        s.optimizer.RankedProviders(),
		"budget":         s.costs.Metrics(),
		"circuit_states": s.orchestrator.BreakerStates(),
		"blacklist":      s.policy.ActiveBlacklist(),
		"recent_events":  s.events.Recent(),
		"registered":     s.registry.Names(),
		"timestamp":      time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		log.Printf("Error encoding metrics response: %v", err)
	}
}

// simulateRequest is the wire shape of the digital-twin endpoint.
type simulateRequest struct {
	BatchSize int              `json:"batch_size"`
	Overrides *PolicyOverrides `json:"overrides,omitempty"`
}

func (s *Service) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	report := s.twin.RunSimulation(req.BatchSize, req.Overrides)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Printf("Error encoding simulation response: %v", err)
	}
}

func (s *Service) handleGovernance(w http.ResponseWriter, r *http.Request) {
	var update GovernanceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.policy.Update(update)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"blacklist": s.policy.ActiveBlacklist(),
	}); err != nil {
		log.Printf("Error encoding governance response: %v", err)
	}
}

func (s *Service) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	}); err != nil {
		log.Printf("Error encoding error response: %v", err)
	}
}

// Run is the exported entry point for the gateway service.
func Run() {
	config := LoadConfig()

	ctx := context.Background()
	service, err := NewService(ctx, config)
	if err != nil {
		log.Fatalf("Failed to initialize gateway: %v", err)
	}
	defer service.Close()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := corsHandler.Handler(service.Router())
	log.Printf("[GATEWAY] TaskMesh Gateway starting on port %s", config.Port)
	if err := http.ListenAndServe(":"+config.Port, handler); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
