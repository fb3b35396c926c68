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

// Package audit records tenant lifecycle events for later review.
package audit

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/opentrusty/tenancy/internal/observability/logger"
)

// Type names an auditable tenant lifecycle event
type Type string

const (
	TypeTenantProvisioned        Type = "tenant_provisioned"
	TypeTenantProvisioningFailed Type = "tenant_provisioning_failed"
	TypeTenantResumed            Type = "tenant_provisioning_resumed"
	TypeTenantActivated          Type = "tenant_activated"
	TypeTenantAccessDenied       Type = "tenant_access_denied"
)

// Event is one audit record. Flow and Phase are set for provisioning events.
type Event struct {
	Type      Type
	TenantID  string
	ActorID   string
	Flow      string
	Phase     string
	Metadata  map[string]any
	Timestamp time.Time
}

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger writes audit events as "AUDIT_EVENT" log records
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a new audit logger. A nil logger falls back to slog.Default.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: l}
}

// Log writes event. Metadata values under secret-looking keys are redacted.
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		logger.Component("audit"),
		slog.String("audit_type", string(event.Type)),
		logger.TenantID(event.TenantID),
		slog.String("actor_id", event.ActorID),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.Flow != "" {
		attrs = append(attrs, logger.Flow(event.Flow))
	}
	if event.Phase != "" {
		attrs = append(attrs, logger.Phase(event.Phase))
	}
	if meta := metadataAttrs(event.Metadata); len(meta) > 0 {
		attrs = append(attrs, slog.Group("metadata", meta...))
	}

	out := l.logger
	if out == nil {
		out = slog.Default()
	}
	out.InfoContext(ctx, "AUDIT_EVENT", attrs...)
}

func metadataAttrs(md map[string]any) []any {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		v := md[k]
		if isSecret(k) {
			v = "[REDACTED]"
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

var secretMarkers = []string{"password", "secret", "token", "key", "credential", "authorization"}

func isSecret(key string) bool {
	k := strings.ToLower(key)
	return slices.ContainsFunc(secretMarkers, func(m string) bool {
		return strings.Contains(k, m)
	})
}
