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

package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/tenant"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request",
					logger.HTTPRequest(middleware.GetReqID(r.Context()), r.Method, r.URL.Path, r.RemoteAddr),
					logger.StatusCode(ww.Status()),
					logger.Elapsed(time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware verifies the bearer session token and puts its claims and
// subject into the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		claims, err := h.tokens.Parse(raw)
		if err != nil {
			slog.DebugContext(r.Context(), "rejected session token", logger.Error(err))
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		userID, err := claims.Subject()
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		ctx = context.WithValue(ctx, userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantPoolMiddleware resolves the pool of the session's active tenant for
// tenant-scoped routes. Sessions without an active tenant, and tenants this
// process holds no pool for, get 409 so the client activates first.
func (h *Handler) TenantPoolMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		active, err := GetClaims(r.Context()).ActiveTenant()
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		if active == nil {
			respondError(w, http.StatusConflict, "no active tenant")
			return
		}

		pool, err := h.pools.GetTenantPool(*active)
		if err != nil {
			if errors.Is(err, tenant.ErrPoolNotFound) {
				respondError(w, http.StatusConflict, "tenant not activated")
				return
			}
			slog.ErrorContext(r.Context(), "tenant pool lookup failed",
				logger.TenantID(active.String()),
				logger.Error(err),
			)
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx := context.WithValue(r.Context(), tenantIDKey, *active)
		ctx = context.WithValue(ctx, tenantPoolKey, pool)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
