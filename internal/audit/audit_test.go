// Copyright 2026 The OpenTrusty Authors
//
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

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that sensitive keys are correctly identified as secrets to prevent them from being logged in plaintext.
// Scope: Unit Test
// Security: Data Masking and Leakage Prevention (CWE-532)
// Expected: Returns true for keys containing 'password', 'token', 'secret', etc., and false for non-sensitive keys.
// Test Case ID: AUD-01
func TestAudit_IsSecret(t *testing.T) {
	tests := []struct {
		key      string
		isSecret bool
	}{
		{"password", true},
		{"Password", true},
		{"db_password", true},
		{"token", true},
		{"session_token", true},
		{"secret", true},
		{"api_key", true},
		{"credential", true},
		{"db_user", false},
		{"tenant_id", false},
		{"phase", false},
		{"self_hosted", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.isSecret, isSecret(tt.key))
		})
	}
}

func TestSlogLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	logger.Log(context.Background(), Event{
		Type:     TypeTenantProvisioned,
		TenantID: "0190f3c2-7a1b-7cde-8f00-112233445566",
		ActorID:  "user-1",
		Flow:     "managed",
		Metadata: map[string]any{
			"db_user":     "tenant_0190f3c27a1b7cde8f00112233445566",
			"db_password": "supersecret",
		},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "AUDIT_EVENT", entry["msg"])
	assert.Equal(t, string(TypeTenantProvisioned), entry["audit_type"])
	assert.Equal(t, "managed", entry["flow"])
	assert.NotContains(t, entry, "phase")
	assert.Equal(t, "audit", entry["component"])

	meta, ok := entry["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", meta["db_password"])
	assert.Equal(t, "tenant_0190f3c27a1b7cde8f00112233445566", meta["db_user"])
	assert.NotContains(t, buf.String(), "supersecret")
}
