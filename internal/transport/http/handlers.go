package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/session"
	"github.com/opentrusty/tenancy/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provisioner creates and lists tenants
type Provisioner interface {
	CreateSelfHosted(ctx context.Context, claims session.Claims, req tenant.SelfHostedRequest) (*tenant.Tenant, error)
	CreateManaged(ctx context.Context, claims session.Claims, req tenant.ManagedRequest) (*tenant.Tenant, error)
	ListTenantsForUser(ctx context.Context, userID uuid.UUID, q tenant.ListQuery) (*tenant.Page, error)
}

// Activator switches the active tenant of a session
type Activator interface {
	Activate(ctx context.Context, claims session.Claims, req tenant.ActivateRequest) (string, error)
}

// TokenParser verifies session tokens
type TokenParser interface {
	Parse(token string) (session.Claims, error)
}

// PoolResolver looks up the pool of an activated tenant
type PoolResolver interface {
	GetTenantPool(id uuid.UUID) (*pgxpool.Pool, error)
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	provisioner Provisioner
	activator   Activator
	tokens      TokenParser
	pools       PoolResolver
}

// NewHandler creates a new HTTP handler
func NewHandler(provisioner Provisioner, activator Activator, tokens TokenParser, pools PoolResolver) *Handler {
	return &Handler{
		provisioner: provisioner,
		activator:   activator,
		tokens:      tokens,
		pools:       pools,
	}
}

// RouterConfig holds the router's ambient settings
type RouterConfig struct {
	RequestTimeout time.Duration
	// Metrics serves /metrics when set
	Metrics http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Use(middleware.RequestID)
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", h.HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/", h.ListTenants)

			// provisioning opens connections to arbitrary hosts; keep it scarce
			r.Group(func(r chi.Router) {
				r.Use(RateLimitMiddleware(rateLimiter))
				r.Post("/self-hosted", h.CreateSelfHostedTenant)
				r.Post("/managed", h.CreateManagedTenant)
			})

			r.Post("/{tenantID}/activate", h.ActivateTenant)
		})

		// routes below operate on the active tenant's database
		r.Route("/tenant", func(r chi.Router) {
			r.Use(h.TenantPoolMiddleware)
			r.Get("/status", h.ActiveTenantStatus)
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "tenancy",
	})
}

// respondServiceError maps the tenancy error taxonomy onto HTTP statuses.
// Anything unclassified is logged with its tenant and phase and reported as
// a bare 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrValidation):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": tenant.FieldErrors(err),
		})
	case errors.Is(err, tenant.ErrConnection):
		respondError(w, http.StatusUnprocessableEntity, "could not connect to database")
	case errors.Is(err, tenant.ErrNotEmpty):
		respondError(w, http.StatusConflict, "database not empty")
	case errors.Is(err, tenant.ErrAccessDenied):
		respondError(w, http.StatusUnauthorized, "access denied")
	case errors.Is(err, tenant.ErrTenantNotReady):
		respondError(w, http.StatusConflict, "tenant is not ready")
	default:
		attrs := []any{logger.Error(err), logger.ErrorKind(tenant.KindName(err))}
		var perr *tenant.ProvisioningError
		if errors.As(err, &perr) {
			attrs = append(attrs, logger.TenantID(perr.TenantID.String()), logger.Phase(string(perr.Phase)))
		}
		slog.ErrorContext(r.Context(), "tenant request failed", attrs...)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
