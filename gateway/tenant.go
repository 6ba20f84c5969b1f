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
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// TenantFromHeaders resolves a tenant identity from request headers.
//
// Resolution order:
//  1. X-Tenant-ID header,
//  2. the "tenant_id" claim of a bearer token in Authorization.
//
// Token signature verification belongs to the session layer upstream of
// this gateway; the claim is parsed unverified and used only as a routing
// hint, never as an authorization decision.
func TenantFromHeaders(headers map[string]string) string {
	if headers == nil {
		return ""
	}

	if tenant := headerValue(headers, "X-Tenant-ID"); tenant != "" {
		return tenant
	}

	return bearerClaim(headers, "tenant_id")
}

// UserFromHeaders resolves a caller identity from request headers, used
// by the policy engine for priority-traffic classification.
//
// Resolution order:
//  1. X-User-ID header,
//  2. the "user_id" claim of a bearer token in Authorization.
//
// Like the tenant hint, the identity is unverified and never used as an
// authorization decision.
func UserFromHeaders(headers map[string]string) string {
	if headers == nil {
		return ""
	}

	if user := headerValue(headers, "X-User-ID"); user != "" {
		return user
	}

	return bearerClaim(headers, "user_id")
}

// bearerClaim extracts a string claim from the Authorization bearer token
// without verifying the signature.
func bearerClaim(headers map[string]string, claim string) string {
	auth := headerValue(headers, "Authorization")
	if auth == "" {
		return ""
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer"))
	if token == "" || token == auth {
		return ""
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	if value, ok := claims[claim].(string); ok {
		return value
	}
	return ""
}

// headerValue performs a case-insensitive header lookup over a plain map.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	lower := strings.ToLower(key)
	for k, v := range headers {
		if strings.ToLower(k) == lower {
			return v
		}
	}
	return ""
}
