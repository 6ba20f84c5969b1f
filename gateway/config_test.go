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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "OPENAI_API_KEY", "GEMINI_API_KEY", "BEDROCK_REGION",
		"MONTHLY_TOKEN_CEILING", "SOFT_LIMIT_FRACTION", "REDIS_URL",
		"DATABASE_URL", "GOVERNANCE_CONFIG", "DEV_MODE", "EVENT_CHANNEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearGatewayEnv(t)

	config := LoadConfig()

	assert.Equal(t, "8084", config.Port)
	assert.Equal(t, int64(1_000_000), config.MonthlyTokenCeiling)
	assert.Equal(t, 0.8, config.SoftLimitFraction)
	assert.Equal(t, []string{"bedrock"}, config.PremiumProviders)
	assert.Equal(t, DefaultFailureThreshold, config.FailureThreshold)
	assert.Equal(t, DefaultBlacklistCooldown, config.BlacklistCooldown)
	assert.Equal(t, DefaultEventChannel, config.EventChannel)
	assert.False(t, config.DevMode)
	assert.Empty(t, config.PriorityUsers)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MONTHLY_TOKEN_CEILING", "5000")
	t.Setenv("SOFT_LIMIT_FRACTION", "0.5")
	t.Setenv("DEV_MODE", "true")

	config := LoadConfig()

	assert.Equal(t, "9090", config.Port)
	assert.Equal(t, "sk-test", config.OpenAIKey)
	assert.Equal(t, int64(5000), config.MonthlyTokenCeiling)
	assert.Equal(t, 0.5, config.SoftLimitFraction)
	assert.True(t, config.DevMode)
}

func TestLoadConfigInvalidNumbersFallBack(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("MONTHLY_TOKEN_CEILING", "lots")
	t.Setenv("SOFT_LIMIT_FRACTION", "most")

	config := LoadConfig()

	assert.Equal(t, int64(1_000_000), config.MonthlyTokenCeiling)
	assert.Equal(t, 0.8, config.SoftLimitFraction)
}

func TestLoadConfigGovernanceOverlay(t *testing.T) {
	clearGatewayEnv(t)

	yaml := `
priority_users:
  - vip@acme.example
  - oncall@acme.example
failure_threshold: 3
blacklist_cooldown_seconds: 120
soft_limit_fraction: 0.7
premium_providers:
  - bedrock
  - openai
tenants:
  - id: acme
    name: Acme Corp
    timeout_seconds: 6
  - id: ""
    name: ignored
`
	path := filepath.Join(t.TempDir(), "governance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("GOVERNANCE_CONFIG", path)

	config := LoadConfig()

	assert.Equal(t, []string{"vip@acme.example", "oncall@acme.example"}, config.PriorityUsers)
	assert.Equal(t, 3, config.FailureThreshold)
	assert.Equal(t, 120*time.Second, config.BlacklistCooldown)
	assert.Equal(t, 0.7, config.SoftLimitFraction)
	assert.Equal(t, []string{"bedrock", "openai"}, config.PremiumProviders)

	require.Contains(t, config.Tenants, "acme")
	assert.Equal(t, "Acme Corp", config.Tenants["acme"].Name)
	assert.Equal(t, 6*time.Second, config.Tenants["acme"].MaxTimeout)
	assert.NotContains(t, config.Tenants, "")
}

func TestLoadConfigBadGovernanceFileIsIgnored(t *testing.T) {
	clearGatewayEnv(t)

	path := filepath.Join(t.TempDir(), "governance.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	t.Setenv("GOVERNANCE_CONFIG", path)

	// A broken overlay must not take the gateway down; defaults survive.
	config := LoadConfig()
	assert.Equal(t, DefaultFailureThreshold, config.FailureThreshold)
	assert.Equal(t, 0.8, config.SoftLimitFraction)
}
