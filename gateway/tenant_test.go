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
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestTenantFromHeaders(t *testing.T) {
	withTenant := signedToken(t, jwt.MapClaims{"tenant_id": "acme", "sub": "user-1"})
	withoutTenant := signedToken(t, jwt.MapClaims{"sub": "user-1"})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"nil headers", nil, ""},
		{"no identity", map[string]string{"Content-Type": "application/json"}, ""},
		{"explicit header", map[string]string{"X-Tenant-ID": "initech"}, "initech"},
		{"case insensitive header", map[string]string{"x-tenant-id": "initech"}, "initech"},
		{"bearer token claim", map[string]string{"Authorization": "Bearer " + withTenant}, "acme"},
		{"token without claim", map[string]string{"Authorization": "Bearer " + withoutTenant}, ""},
		{"malformed token", map[string]string{"Authorization": "Bearer not.a.jwt"}, ""},
		{"non bearer auth", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, ""},
		{
			"header wins over token",
			map[string]string{"X-Tenant-ID": "umbrella", "Authorization": "Bearer " + withTenant},
			"umbrella",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TenantFromHeaders(tt.headers))
		})
	}
}

func TestUserFromHeaders(t *testing.T) {
	withUser := signedToken(t, jwt.MapClaims{"tenant_id": "acme", "user_id": "user-1"})
	withoutUser := signedToken(t, jwt.MapClaims{"tenant_id": "acme"})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"nil headers", nil, ""},
		{"no identity", map[string]string{"Content-Type": "application/json"}, ""},
		{"explicit header", map[string]string{"X-User-ID": "vip"}, "vip"},
		{"case insensitive header", map[string]string{"x-user-id": "vip"}, "vip"},
		{"bearer token claim", map[string]string{"Authorization": "Bearer " + withUser}, "user-1"},
		{"token without claim", map[string]string{"Authorization": "Bearer " + withoutUser}, ""},
		{"malformed token", map[string]string{"Authorization": "Bearer not.a.jwt"}, ""},
		{
			"header wins over token",
			map[string]string{"X-User-ID": "vip", "Authorization": "Bearer " + withUser},
			"vip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserFromHeaders(tt.headers))
		})
	}
}
