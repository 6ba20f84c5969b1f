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
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretResolver resolves provider API keys from AWS Secrets Manager so
// production deployments never carry keys in plain environment variables.
// Resolved values are cached with a TTL.
type SecretResolver struct {
	client *secretsmanager.Client
	logger *log.Logger
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]secretEntry
}

type secretEntry struct {
	value     string
	expiresAt time.Time
}

// NewSecretResolver creates a resolver using the default AWS credential
// chain.
func NewSecretResolver(ctx context.Context, region string) (*SecretResolver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SecretResolver{
		client: secretsmanager.NewFromConfig(cfg),
		logger: log.New(os.Stdout, "[SECRET_RESOLVER] ", log.LstdFlags),
		ttl:    5 * time.Minute,
		cache:  make(map[string]secretEntry),
	}, nil
}

// Resolve fetches the secret string for an ARN, serving from cache within
// the TTL.
func (r *SecretResolver) Resolve(ctx context.Context, arn string) (string, error) {
	r.mu.Lock()
	if entry, ok := r.cache[arn]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.value, nil
	}
	r.mu.Unlock()

	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(arn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret %s: %w", arn, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}

	r.mu.Lock()
	r.cache[arn] = secretEntry{value: *out.SecretString, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return *out.SecretString, nil
}

// ResolveAPIKey picks the effective API key for a provider: the plain env
// value wins, then the Secrets Manager ARN. An empty result disables the
// provider.
func (r *SecretResolver) ResolveAPIKey(ctx context.Context, envValue, secretARN string) string {
	if envValue != "" {
		return envValue
	}
	if secretARN == "" {
		return ""
	}
	if r == nil {
		log.Printf("[SECRET_RESOLVER] WARNING: secret ARN configured but resolver unavailable")
		return ""
	}
	value, err := r.Resolve(ctx, secretARN)
	if err != nil {
		r.logger.Printf("failed to resolve API key: %v", err)
		return ""
	}
	return value
}
