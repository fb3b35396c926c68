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
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/tenancy/internal/audit"
	"github.com/opentrusty/tenancy/internal/dbident"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

const tracerName = "github.com/opentrusty/tenancy/internal/tenant"

// MaxNameLength bounds tenant display names
const MaxNameLength = 255

// ServiceConfig holds the deployment-wide provisioning settings
type ServiceConfig struct {
	// Managed tenants are created on this server
	ManagedHost     dbident.Host
	ManagedPort     dbident.Port
	ManagedSSLMode  dbident.SSLMode
	ManagedPoolSize int32
	// ServiceAccount is granted every managed tenant role
	ServiceAccount dbident.DBUser

	// SelfHostedRequiredSSLMode is the minimum TLS mode for customer databases
	SelfHostedRequiredSSLMode dbident.SSLMode
	SelfHostedPoolSize        int32

	Recorder Recorder
}

// SelfHostedRequest asks for a tenant backed by a customer supplied database
type SelfHostedRequest struct {
	Name          string `json:"name"`
	DBHost        string `json:"db_host"`
	DBPort        int    `json:"db_port"`
	DBName        string `json:"db_name"`
	DBUser        string `json:"db_user"`
	DBPassword    string `json:"db_password"`
	DBSSLMode     string `json:"db_ssl_mode"`
	DBMaxPoolSize int32  `json:"db_max_pool_size"`
}

// ManagedRequest asks for a tenant whose database is created by this system
type ManagedRequest struct {
	Name string `json:"name"`
}

// Service provisions tenants.
//
// Provisioning is a saga over a transactional metadata write and DDL that
// cannot run in a transaction. Phases that completed are never rolled back,
// including when ctx is cancelled; the tenant row keeps a provisioning state
// and the last error so ResumeProvisioning can finish the job.
//
// Two callers provisioning self-hosted tenants against the same external
// database are not serialized. IsEmptyDatabase is a best-effort guard and
// both calls may pass it.
type Service struct {
	repo        Repository
	memberships MembershipRepository
	registry    PoolRegistry
	tester      ConnectionTester
	migrator    Migrator
	auditLogger audit.Logger
	cfg         ServiceConfig
	recorder    Recorder
	tracer      trace.Tracer

	now              func() time.Time
	newID            func() (uuid.UUID, error)
	generatePassword func() (dbident.DBPassword, error)
}

// NewService creates a new provisioning service
func NewService(
	repo Repository,
	memberships MembershipRepository,
	registry PoolRegistry,
	tester ConnectionTester,
	migrator Migrator,
	auditLogger audit.Logger,
	cfg ServiceConfig,
) *Service {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Service{
		repo:             repo,
		memberships:      memberships,
		registry:         registry,
		tester:           tester,
		migrator:         migrator,
		auditLogger:      auditLogger,
		cfg:              cfg,
		recorder:         recorder,
		tracer:           otel.Tracer(tracerName),
		now:              time.Now,
		newID:            uuid.NewV7,
		generatePassword: dbident.GeneratePassword,
	}
}

// CreateSelfHosted provisions a tenant on a database supplied by the caller.
// Nothing is written unless the database is reachable with the required TLS
// mode and has no tables.
func (s *Service) CreateSelfHosted(ctx context.Context, claims session.Claims, req SelfHostedRequest) (*Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.CreateSelfHosted")
	defer span.End()

	started := s.now()
	sg := newSaga(FlowSelfHosted, selfHostedPhases)

	var (
		owner     uuid.UUID
		name      string
		cfg       DatabaseConfig
		candidate *pgxpool.Pool
		t         *Tenant
	)
	defer func() {
		if candidate != nil {
			candidate.Close()
		}
	}()

	err := sg.execute(ctx, []step{
		{phase: PhaseValidating, kind: ErrValidation, run: func(ctx context.Context) error {
			var err error
			if owner, err = claims.Subject(); err != nil {
				return fmt.Errorf("%w: %w", ErrAccessDenied, err)
			}
			name, cfg, err = s.selfHostedConfig(req)
			return err
		}},
		{phase: PhaseTestingConnection, kind: ErrConnection, run: func(ctx context.Context) error {
			var err error
			candidate, err = s.tester.TestConnect(ctx, cfg, s.cfg.SelfHostedRequiredSSLMode)
			return err
		}},
		{phase: PhaseCheckingEmpty, kind: ErrConnection, run: func(ctx context.Context) error {
			return s.tester.IsEmptyDatabase(ctx, candidate)
		}},
		{phase: PhasePersisting, kind: ErrPersistence, run: func(ctx context.Context) error {
			if candidate != nil {
				candidate.Close()
				candidate = nil
			}
			id, err := s.newID()
			if err != nil {
				return fmt.Errorf("%w: failed to generate tenant id: %w", ErrPersistence, err)
			}
			sg.tenantID = id
			now := s.now()
			// effective TLS mode is what gets stored and used from now on
			cfg.SSLMode = cfg.SSLMode.AtLeast(s.cfg.SelfHostedRequiredSSLMode)
			candidate := &Tenant{
				ID:                id,
				Name:              name,
				SelfHosted:        true,
				Database:          cfg,
				ProvisioningState: StatePendingMigration,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			if err := s.repo.SetupSelfHosted(ctx, candidate, owner); err != nil {
				return err
			}
			t = candidate
			return nil
		}},
		{phase: PhaseRegisteringPool, kind: ErrRegistry, run: func(ctx context.Context) error {
			return s.registry.AddTenantPool(ctx, t.ID, t.Database)
		}},
		{phase: PhaseMigrating, kind: ErrMigration, run: func(ctx context.Context) error {
			return s.migrateAndMarkReady(ctx, t)
		}},
	})

	s.finish(ctx, span, sg, owner, t, err, started)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateManaged provisions a tenant on a database created by this system.
// If CREATE DATABASE fails the tenant row, membership and role stay behind
// in state pending_ddl and the returned error names the tenant id.
func (s *Service) CreateManaged(ctx context.Context, claims session.Claims, req ManagedRequest) (*Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.CreateManaged")
	defer span.End()

	started := s.now()
	sg := newSaga(FlowManaged, managedPhases)

	var (
		owner uuid.UUID
		t     *Tenant
	)

	err := sg.execute(ctx, []step{
		// nothing is written before PhasePersisting, so failures here are as
		// safe to retry as a rolled back transaction
		{phase: PhaseGeneratingCredentials, kind: ErrPersistence, run: func(ctx context.Context) error {
			var err error
			if owner, err = claims.Subject(); err != nil {
				return fmt.Errorf("%w: %w", ErrAccessDenied, err)
			}
			name, err := validateName(req.Name)
			if err != nil {
				return err
			}
			if t, err = s.newManagedTenant(name); err != nil {
				return err
			}
			sg.tenantID = t.ID
			return nil
		}},
		{phase: PhasePersisting, kind: ErrPersistence, run: func(ctx context.Context) error {
			return s.repo.SetupManaged(ctx, t, owner, s.cfg.ServiceAccount)
		}},
		{phase: PhaseCreatingDBObjects, kind: ErrProvisioning, run: func(ctx context.Context) error {
			return s.createDatabase(ctx, t)
		}},
		{phase: PhaseRegisteringPool, kind: ErrRegistry, run: func(ctx context.Context) error {
			return s.registry.AddTenantPool(ctx, t.ID, t.Database)
		}},
		{phase: PhaseMigrating, kind: ErrMigration, run: func(ctx context.Context) error {
			return s.migrateAndMarkReady(ctx, t)
		}},
	})

	s.finish(ctx, span, sg, owner, t, err, started)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ResumeProvisioning finishes a tenant left in pending_ddl or
// pending_migration. It is only ever run on operator request. CREATE DATABASE
// is skipped when the database already exists, so resuming twice is safe.
func (s *Service) ResumeProvisioning(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.ResumeProvisioning")
	defer span.End()

	started := s.now()

	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	var phases []Phase
	switch t.ProvisioningState {
	case StateReady:
		return t, nil
	case StatePendingDDL:
		if t.SelfHosted {
			return nil, fmt.Errorf("%w: self-hosted tenant %s cannot be in state %s", ErrProvisioning, t.ID, t.ProvisioningState)
		}
		phases = []Phase{PhaseCreatingDBObjects, PhaseRegisteringPool, PhaseMigrating}
	case StatePendingMigration:
		phases = []Phase{PhaseRegisteringPool, PhaseMigrating}
	default:
		return nil, fmt.Errorf("%w: tenant %s has unknown provisioning state %q", ErrProvisioning, t.ID, t.ProvisioningState)
	}

	sg := newSaga(FlowResume, phases)
	sg.tenantID = t.ID

	steps := []step{
		{phase: PhaseCreatingDBObjects, kind: ErrProvisioning, run: func(ctx context.Context) error {
			exists, err := s.repo.DatabaseExists(ctx, t.Database.Name)
			if err != nil {
				return fmt.Errorf("%w: failed to look up database: %w", ErrProvisioning, err)
			}
			if exists {
				return s.markState(ctx, t, StatePendingMigration)
			}
			return s.createDatabase(ctx, t)
		}},
		{phase: PhaseRegisteringPool, kind: ErrRegistry, run: func(ctx context.Context) error {
			return s.registry.AddTenantPool(ctx, t.ID, t.Database)
		}},
		{phase: PhaseMigrating, kind: ErrMigration, run: func(ctx context.Context) error {
			return s.migrateAndMarkReady(ctx, t)
		}},
	}
	if phases[0] != PhaseCreatingDBObjects {
		steps = steps[1:]
	}

	err = sg.execute(ctx, steps)
	s.finish(ctx, span, sg, uuid.Nil, t, err, started)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTenantsForUser returns a page of the tenants userID is a member of
func (s *Service) ListTenantsForUser(ctx context.Context, userID uuid.UUID, q ListQuery) (*Page, error) {
	page, err := s.repo.ListForUser(ctx, userID, q.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return page, nil
}

func (s *Service) newManagedTenant(name string) (*Tenant, error) {
	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant id: %w", err)
	}
	password, err := s.generatePassword()
	if err != nil {
		return nil, fmt.Errorf("failed to generate database password: %w", err)
	}
	dbName, dbUser := dbident.ManagedNames(id)
	now := s.now()
	return &Tenant{
		ID:   id,
		Name: name,
		Database: DatabaseConfig{
			Host:        s.cfg.ManagedHost,
			Port:        s.cfg.ManagedPort,
			Name:        dbName,
			User:        dbUser,
			Password:    password,
			MaxPoolSize: s.cfg.ManagedPoolSize,
			SSLMode:     s.cfg.ManagedSSLMode,
		},
		ProvisioningState: StatePendingDDL,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (s *Service) createDatabase(ctx context.Context, t *Tenant) error {
	if err := s.repo.CreateDatabase(ctx, t.Database.Name, t.Database.User); err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	return s.markState(ctx, t, StatePendingMigration)
}

func (s *Service) migrateAndMarkReady(ctx context.Context, t *Tenant) error {
	pool, err := s.registry.GetTenantPool(t.ID)
	if err != nil {
		return err
	}
	if err := s.migrator.MigrateTenantDB(ctx, pool); err != nil {
		return err
	}
	return s.markState(ctx, t, StateReady)
}

func (s *Service) markState(ctx context.Context, t *Tenant, state ProvisioningState) error {
	if err := s.repo.UpdateProvisioningState(ctx, t.ID, state, ""); err != nil {
		return fmt.Errorf("%w: failed to record state %s: %w", ErrProvisioning, state, err)
	}
	t.ProvisioningState = state
	t.LastError = ""
	t.UpdatedAt = s.now()
	return nil
}

// finish records the outcome of a saga: last_error on the row when metadata
// was already committed, logs, audit, span status and metrics.
func (s *Service) finish(ctx context.Context, span trace.Span, sg *saga, actor uuid.UUID, t *Tenant, err error, started time.Time) {
	elapsed := s.now().Sub(started)

	var pe *ProvisioningError
	errors.As(err, &pe)

	phase := PhaseDone
	if pe != nil {
		phase = pe.Phase
	} else if err != nil {
		phase = sg.Phase()
	}
	s.recorder.ProvisioningFinished(ctx, sg.flow, phase, err, elapsed)

	span.SetAttributes(
		attribute.String("tenant.flow", sg.flow),
		attribute.String("tenant.id", sg.tenantID.String()),
		attribute.String("tenant.phase", string(phase)),
	)

	actorID := ""
	if actor != uuid.Nil {
		actorID = actor.String()
	}

	if err == nil {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "tenant provisioned",
			logger.Flow(sg.flow),
			logger.TenantID(t.ID.String()),
			logger.DBTarget(t.Database.Host.String(), t.Database.Name.String()),
			logger.Elapsed(elapsed),
		)
		eventType := audit.TypeTenantProvisioned
		if sg.flow == FlowResume {
			eventType = audit.TypeTenantResumed
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:     eventType,
			TenantID: t.ID.String(),
			ActorID:  actorID,
			Flow:     sg.flow,
			Metadata: map[string]any{"db_name": t.Database.Name.String()},
		})
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, string(phase))

	// Phases that committed stay committed, also on cancellation, so the
	// failure is recorded on the row with a context that outlives the caller.
	// A persistence failure left no row behind.
	if t != nil && pe != nil && pe.Committed() {
		bg := context.WithoutCancel(ctx)
		if uerr := s.repo.UpdateProvisioningState(bg, t.ID, t.ProvisioningState, err.Error()); uerr != nil {
			slog.ErrorContext(ctx, "failed to record provisioning failure",
				logger.TenantID(t.ID.String()),
				logger.Phase(string(phase)),
				logger.Error(uerr),
			)
		} else {
			t.LastError = err.Error()
		}
	}

	level := slog.LevelWarn
	if pe != nil && pe.Committed() {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "tenant provisioning failed",
		logger.Flow(sg.flow),
		logger.TenantID(sg.tenantID.String()),
		logger.Phase(string(phase)),
		logger.Error(err),
	)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantProvisioningFailed,
		TenantID: sg.tenantID.String(),
		ActorID:  actorID,
		Flow:     sg.flow,
		Phase:    string(phase),
	})
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return "", &FieldError{Field: "name", Err: errors.New("is required")}
	case utf8.RuneCountInString(name) > MaxNameLength:
		return "", &FieldError{Field: "name", Err: fmt.Errorf("must be at most %d characters", MaxNameLength)}
	}
	return name, nil
}

// selfHostedConfig validates every caller supplied field and reports all
// failures at once.
func (s *Service) selfHostedConfig(req SelfHostedRequest) (string, DatabaseConfig, error) {
	var (
		cfg  DatabaseConfig
		errs error
		err  error
	)
	field := func(name string, err error) {
		if err != nil {
			errs = multierr.Append(errs, &FieldError{Field: name, Err: err})
		}
	}

	name, err := validateName(req.Name)
	if err != nil {
		errs = multierr.Append(errs, err)
	}

	cfg.Host, err = dbident.ParseHost(req.DBHost)
	field("db_host", err)
	cfg.Port, err = dbident.PortFrom(req.DBPort)
	field("db_port", err)
	cfg.Name, err = dbident.ParseDBName(req.DBName)
	field("db_name", err)
	cfg.User, err = dbident.ParseDBUser(req.DBUser)
	field("db_user", err)
	cfg.Password, err = dbident.ParseDBPassword(req.DBPassword)
	field("db_password", err)

	cfg.SSLMode = s.cfg.SelfHostedRequiredSSLMode
	if req.DBSSLMode != "" {
		cfg.SSLMode, err = dbident.ParseSSLMode(req.DBSSLMode)
		field("db_ssl_mode", err)
	}

	cfg.MaxPoolSize = s.cfg.SelfHostedPoolSize
	if req.DBMaxPoolSize != 0 {
		if req.DBMaxPoolSize < 1 || req.DBMaxPoolSize > 100 {
			field("db_max_pool_size", errors.New("must be between 1 and 100"))
		} else {
			cfg.MaxPoolSize = req.DBMaxPoolSize
		}
	}

	if errs != nil {
		return "", DatabaseConfig{}, errs
	}
	return name, cfg, nil
}
