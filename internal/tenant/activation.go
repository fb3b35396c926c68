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

package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ActivateRequest selects the tenant a session should operate on
type ActivateRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

// Activator switches the active tenant of a session
type Activator struct {
	memberships MembershipRepository
	repo        Repository
	registry    PoolRegistry
	signer      TokenSigner
	auditLogger audit.Logger
	recorder    Recorder
	tracer      trace.Tracer
	now         func() time.Time
}

// NewActivator creates a new activator
func NewActivator(memberships MembershipRepository, repo Repository, registry PoolRegistry, signer TokenSigner, auditLogger audit.Logger) *Activator {
	return &Activator{
		memberships: memberships,
		repo:        repo,
		registry:    registry,
		signer:      signer,
		auditLogger: auditLogger,
		recorder:    noopRecorder{},
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
}

// WithRecorder sets the outcome recorder
func (a *Activator) WithRecorder(r Recorder) *Activator {
	if r != nil {
		a.recorder = r
	}
	return a
}

// Activate checks that the session subject is a member of the tenant and
// returns a token whose active tenant claim is that tenant. A missing
// membership is ErrAccessDenied, never ErrTenantNotFound.
func (a *Activator) Activate(ctx context.Context, claims session.Claims, req ActivateRequest) (string, error) {
	ctx, span := a.tracer.Start(ctx, "tenant.Activate",
		trace.WithAttributes(attribute.String("tenant.id", req.TenantID.String())))
	defer span.End()

	token, err := a.activate(ctx, claims, req)
	a.recorder.ActivationFinished(ctx, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
	}
	return token, err
}

func (a *Activator) activate(ctx context.Context, claims session.Claims, req ActivateRequest) (string, error) {
	userID, err := claims.Subject()
	if err != nil {
		return "", a.denied(ctx, "", req.TenantID, err)
	}

	if _, err := a.memberships.Get(ctx, userID, req.TenantID); err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return "", a.denied(ctx, userID.String(), req.TenantID, err)
		}
		return "", &ProvisioningError{TenantID: req.TenantID, Phase: PhaseActivating, Kind: ErrPersistence, Err: err}
	}

	if err := a.ensurePool(ctx, req.TenantID); err != nil {
		return "", err
	}

	if err := a.memberships.TouchLastActivated(ctx, userID, req.TenantID, a.now()); err != nil {
		return "", &ProvisioningError{TenantID: req.TenantID, Phase: PhaseActivating, Kind: ErrPersistence, Err: err}
	}

	token, err := a.signer.Sign(claims.WithActiveTenant(req.TenantID))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantActivated,
		TenantID: req.TenantID.String(),
		ActorID:  userID.String(),
	})
	return token, nil
}

// ensurePool registers the tenant pool from stored config when this process
// has not served the tenant yet. Tenants that are not ready are rejected so
// no token ever points at a half-provisioned database.
func (a *Activator) ensurePool(ctx context.Context, tenantID uuid.UUID) error {
	_, err := a.registry.GetTenantPool(tenantID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPoolNotFound) {
		return &ProvisioningError{TenantID: tenantID, Phase: PhaseActivating, Kind: ErrRegistry, Err: err}
	}

	t, err := a.repo.GetByID(ctx, tenantID)
	if err != nil {
		return &ProvisioningError{TenantID: tenantID, Phase: PhaseActivating, Kind: classify(err, ErrPersistence), Err: err}
	}
	if !t.Ready() {
		slog.WarnContext(ctx, "refusing to activate tenant that is not provisioned",
			logger.TenantID(tenantID.String()),
			logger.ProvisioningState(string(t.ProvisioningState)),
		)
		return &ProvisioningError{
			TenantID: tenantID,
			Phase:    PhaseActivating,
			Kind:     ErrProvisioning,
			Err:      fmt.Errorf("%w: state %s", ErrTenantNotReady, t.ProvisioningState),
		}
	}
	if err := a.registry.AddTenantPool(ctx, tenantID, t.Database); err != nil {
		return &ProvisioningError{TenantID: tenantID, Phase: PhaseRegisteringPool, Kind: ErrRegistry, Err: err}
	}
	return nil
}

func (a *Activator) denied(ctx context.Context, userID string, tenantID uuid.UUID, cause error) error {
	a.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantAccessDenied,
		TenantID: tenantID.String(),
		ActorID:  userID,
	})
	slog.InfoContext(ctx, "tenant activation denied",
		logger.UserID(userID),
		logger.TenantID(tenantID.String()),
	)
	return fmt.Errorf("%w: %w", ErrAccessDenied, cause)
}
