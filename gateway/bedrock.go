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
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	defaultBedrockModel     = "anthropic.claude-3-haiku-20240307-v1:0"
	defaultBedrockMaxTokens = 1024
)

// BedrockAdapter invokes Anthropic models on AWS Bedrock using the AWS SDK
// v2. Authentication uses AWS Signature V4 via the default credential chain,
// so no API key is handled by the gateway.
type BedrockAdapter struct {
	client *bedrockruntime.Client
	region string
	model  string
}

// NewBedrockAdapter creates the Bedrock adapter. Returns an error if AWS
// config loading fails - callers should disable the provider rather than
// register a broken adapter.
func NewBedrockAdapter(ctx context.Context, region, model string) (*BedrockAdapter, error) {
	if region == "" {
		region = "us-east-1"
	}
	if model == "" {
		model = defaultBedrockModel
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &BedrockAdapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
		model:  model,
	}, nil
}

// Name implements Adapter.
func (a *BedrockAdapter) Name() string { return "bedrock" }

// CostEfficiency implements Adapter.
func (a *BedrockAdapter) CostEfficiency() float64 { return costEfficiencyFor("bedrock") }

// Invoke implements Adapter.
func (a *BedrockAdapter) Invoke(ctx context.Context, payload string, timeout time.Duration, requestID string) (*InvokeResult, error) {
	start := time.Now()

	requestJSON, err := json.Marshal(map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        defaultBedrockMaxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": payload},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock API error: %w", err)
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	content := ""
	if len(parsed.Content) > 0 {
		content = parsed.Content[0].Text
	}

	return &InvokeResult{
		Success:    true,
		Provider:   a.Name(),
		LatencyMs:  time.Since(start).Milliseconds(),
		TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		Status:     StatusSuccess,
		Data: map[string]interface{}{
			"content":    content,
			"model":      a.model,
			"region":     a.region,
			"request_id": requestID,
		},
	}, nil
}
