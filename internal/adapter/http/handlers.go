package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/audit"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/domain/provisioning"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/middleware"
	"github.com/Strob0t/TenantForge/internal/service"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 255
)

// Provisioner runs the tenant provisioning saga.
type Provisioner interface {
	ProvisionTenant(ctx context.Context, req service.ProvisionRequest) (*service.ProvisionResponse, error)
}

// Rotator changes tenant-owner credentials.
type Rotator interface {
	RotateOwnerCredential(ctx context.Context, req service.RotateRequest) (*service.RotateResult, error)
}

// TenantReader serves the read side of tenants, the ledger and the audit log,
// plus the soft delete.
type TenantReader interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
	SoftDelete(ctx context.Context, id, actorID string) (string, error)
	GetProvisioningRequest(ctx context.Context, key string) (*provisioning.Request, error)
	ListAudit(ctx context.Context, correlationID string) ([]audit.Entry, error)
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Provisioning Provisioner
	Rotation     Rotator
	Tenants      TenantReader
	// Ping checks the datastore for /health. Nil reports ok.
	Ping func(ctx context.Context) error
}

type provisionBody struct {
	TenantName string `json:"tenant_name"`
	TenantSlug string `json:"tenant_slug"`
	OwnerEmail string `json:"owner_email"`
}

type rotateBody struct {
	Field    identity.Field `json:"field"`
	NewValue string         `json:"new_value"` //nolint:gosec // request field, never logged
}

// ProvisionTenant handles POST /api/v1/tenants
func (h *Handlers) ProvisionTenant(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if !requireField(w, key, headerIdempotencyKey+" header") {
		return
	}
	if len(key) > maxIdempotencyKeyLen {
		writeErrorCode(w, http.StatusBadRequest, headerIdempotencyKey+" header is too long", domain.CauseInvalidInput)
		return
	}
	body, ok := readJSON[provisionBody](w, r)
	if !ok {
		return
	}

	resp, err := h.Provisioning.ProvisionTenant(r.Context(), service.ProvisionRequest{
		IdempotencyKey: key,
		ActorID:        actorID(r),
		TenantName:     body.TenantName,
		TenantSlug:     body.TenantSlug,
		OwnerEmail:     body.OwnerEmail,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set(headerCorrelationID, key)
	status := http.StatusCreated
	if resp.Replayed {
		w.Header().Set(headerReplayed, "true")
		status = http.StatusOK
	}
	writeRawJSON(w, status, resp.Body)
}

// GetProvisioningRequest handles GET /api/v1/provisioning/{key}
func (h *Handlers) GetProvisioningRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Tenants.GetProvisioningRequest(r.Context(), urlParam(r, "key"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// RotateOwnerCredential handles POST /api/v1/tenants/{id}/owner/credentials
func (h *Handlers) RotateOwnerCredential(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[rotateBody](w, r)
	if !ok {
		return
	}
	res, err := h.Rotation.RotateOwnerCredential(r.Context(), service.RotateRequest{
		TenantID: urlParam(r, "id"),
		Field:    body.Field,
		NewValue: body.NewValue,
		ActorID:  actorID(r),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set(headerCorrelationID, res.CorrelationID)
	writeJSON(w, http.StatusOK, res)
}

// GetTenant handles GET /api/v1/tenants/{id}
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tenants.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTenant handles DELETE /api/v1/tenants/{id}
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	corr, err := h.Tenants.SoftDelete(r.Context(), urlParam(r, "id"), actorID(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set(headerCorrelationID, corr)
	w.WriteHeader(http.StatusNoContent)
}

// ListAudit handles GET /api/v1/audit/{correlationID}
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Tenants.ListAudit(r.Context(), urlParam(r, "correlationID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
	}
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "degraded", Postgres: "unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok", Postgres: "ok"})
}

func actorID(r *http.Request) string {
	if a := middleware.ActorFromContext(r.Context()); a != nil {
		return a.ID
	}
	return ""
}
