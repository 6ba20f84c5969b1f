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
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway service configuration, loaded from environment
// variables with an optional YAML governance file layered on top.
type Config struct {
	Port string

	// Provider credentials. Empty keys disable the provider.
	OpenAIKey          string
	OpenAIKeySecretARN string
	GeminiKey          string
	GeminiKeySecretARN string
	BedrockRegion      string
	BedrockModel       string

	// Budget governance.
	MonthlyTokenCeiling int64
	SoftLimitFraction   float64
	PremiumProviders    []string

	// Routing governance.
	PriorityUsers     []string
	FailureThreshold  int
	BlacklistCooldown time.Duration
	Tenants           map[string]TenantProfile

	// Circuit breaker settings.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// Observability.
	RedisURL     string
	EventChannel string
	DatabaseURL  string

	// DevMode enables the runtime governance mutation endpoint.
	DevMode bool
}

// governanceFile is the YAML shape of the optional governance config file
// (GOVERNANCE_CONFIG env var points at it).
type governanceFile struct {
	PriorityUsers     []string `yaml:"priority_users"`
	FailureThreshold  int      `yaml:"failure_threshold"`
	CooldownSeconds   int      `yaml:"blacklist_cooldown_seconds"`
	SoftLimitFraction float64  `yaml:"soft_limit_fraction"`
	PremiumProviders  []string `yaml:"premium_providers"`
	Tenants           []struct {
		ID             string `yaml:"id"`
		Name           string `yaml:"name"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"tenants"`
}

// LoadConfig loads configuration from the environment, then overlays the
// governance YAML file if GOVERNANCE_CONFIG is set.
//
// Environment variables:
//   - PORT: HTTP server port (default: 8084)
//   - OPENAI_API_KEY / OPENAI_API_KEY_SECRET_ARN
//   - GEMINI_API_KEY / GEMINI_API_KEY_SECRET_ARN
//   - BEDROCK_REGION, BEDROCK_MODEL
//   - MONTHLY_TOKEN_CEILING: hard budget limit in tokens (default: 1000000)
//   - SOFT_LIMIT_FRACTION: soft budget fraction (default: 0.8)
//   - REDIS_URL: event broadcast transport (optional)
//   - DATABASE_URL: usage ledger Postgres (optional)
//   - GOVERNANCE_CONFIG: path to governance YAML (optional)
//   - DEV_MODE: "true" enables runtime governance mutation
func LoadConfig() Config {
	config := Config{
		Port:                    getEnv("PORT", "8084"),
		OpenAIKey:               os.Getenv("OPENAI_API_KEY"),
		OpenAIKeySecretARN:      os.Getenv("OPENAI_API_KEY_SECRET_ARN"),
		GeminiKey:               os.Getenv("GEMINI_API_KEY"),
		GeminiKeySecretARN:      os.Getenv("GEMINI_API_KEY_SECRET_ARN"),
		BedrockRegion:           os.Getenv("BEDROCK_REGION"),
		BedrockModel:            os.Getenv("BEDROCK_MODEL"),
		MonthlyTokenCeiling:     getEnvInt64("MONTHLY_TOKEN_CEILING", 1_000_000),
		SoftLimitFraction:       getEnvFloat("SOFT_LIMIT_FRACTION", DefaultSoftLimitFraction),
		PremiumProviders:        []string{"bedrock"},
		FailureThreshold:        DefaultFailureThreshold,
		BlacklistCooldown:       DefaultBlacklistCooldown,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  30 * time.Second,
		RedisURL:                os.Getenv("REDIS_URL"),
		EventChannel:            getEnv("EVENT_CHANNEL", DefaultEventChannel),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		DevMode:                 os.Getenv("DEV_MODE") == "true",
		Tenants:                 make(map[string]TenantProfile),
	}

	if path := os.Getenv("GOVERNANCE_CONFIG"); path != "" {
		if err := config.applyGovernanceFile(path); err != nil {
			log.Printf("[GATEWAY_CONFIG] WARNING: failed to load governance file %s: %v", path, err)
		} else {
			log.Printf("[GATEWAY_CONFIG] Loaded governance config from %s", path)
		}
	}

	return config
}

// applyGovernanceFile overlays governance parameters from a YAML file.
func (c *Config) applyGovernanceFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file governanceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid governance YAML: %w", err)
	}

	if len(file.PriorityUsers) > 0 {
		c.PriorityUsers = file.PriorityUsers
	}
	if file.FailureThreshold > 0 {
		c.FailureThreshold = file.FailureThreshold
	}
	if file.CooldownSeconds > 0 {
		c.BlacklistCooldown = time.Duration(file.CooldownSeconds) * time.Second
	}
	if file.SoftLimitFraction > 0 && file.SoftLimitFraction <= 1 {
		c.SoftLimitFraction = file.SoftLimitFraction
	}
	if len(file.PremiumProviders) > 0 {
		c.PremiumProviders = file.PremiumProviders
	}
	for _, tenant := range file.Tenants {
		if tenant.ID == "" {
			continue
		}
		profile := TenantProfile{Name: tenant.Name}
		if tenant.TimeoutSeconds > 0 {
			profile.MaxTimeout = time.Duration(tenant.TimeoutSeconds) * time.Second
		}
		c.Tenants[tenant.ID] = profile
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("[GATEWAY_CONFIG] WARNING: invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("[GATEWAY_CONFIG] WARNING: invalid %s=%q, using %g", key, value, fallback)
		return fallback
	}
	return parsed
}
