// Package api is the HTTP surface of the orchestrator: tenant registration, the
// provisioning status poll and a few admin actions.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/beesaferoot/gorm-tenancy/internal/catalog"
	"github.com/beesaferoot/gorm-tenancy/internal/queue"
	"github.com/beesaferoot/gorm-tenancy/internal/saga"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// DefaultPlan is used when a registration names no plan.
const DefaultPlan = "basic"

// PlanLookup checks that a plan exists.
type PlanLookup interface {
	Plan(code string) (*catalog.Plan, error)
}

// Settings are the public facts the handler reports to callers.
type Settings struct {
	BaseDomain   string
	SupportEmail string
}

type Handler struct {
	registry tenant.Registry
	enqueuer queue.Enqueuer
	plans    PlanLookup
	settings Settings
	logger   *zap.Logger
}

func NewHandler(registry tenant.Registry, enqueuer queue.Enqueuer, plans PlanLookup, settings Settings, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		enqueuer: enqueuer,
		plans:    plans,
		settings: settings,
		logger:   logger,
	}
}

// RegisterRequest is the registration form.
type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Subdomain string `json:"subdomain"`
	Plan      string `json:"plan"`
}

// StatusResponse is the provisioning poll body.
type StatusResponse struct {
	TenantID         string `json:"tenant_id,omitempty"`
	Status           string `json:"status"`
	ProvisioningStep string `json:"provisioning_step,omitempty"`
	IsReady          bool   `json:"is_ready"`
	LoginURL         string `json:"login_url,omitempty"`
	Error            string `json:"error,omitempty"`
	Support          string `json:"support,omitempty"`
}

func (r *RegisterRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Subdomain = strings.ToLower(strings.TrimSpace(r.Subdomain))
	r.Plan = strings.TrimSpace(r.Plan)
	if r.Plan == "" {
		r.Plan = DefaultPlan
	}
}

func (h *Handler) validate(r RegisterRequest) error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("a valid email is required")
	}
	if err := tenant.ValidateSubdomain(r.Subdomain); err != nil {
		return err
	}
	if _, err := h.plans.Plan(r.Plan); err != nil {
		return err
	}
	return nil
}

// Register creates a pending tenant, binds its domain and enqueues provisioning.
func (h *Handler) Register(c echo.Context) error {
	log := loggerFrom(c, h.logger)
	ctx := c.Request().Context()

	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}
	req.normalize()
	if err := h.validate(req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	t := &tenant.Tenant{Name: req.Name, Email: req.Email, Subdomain: req.Subdomain, PlanCode: req.Plan}
	id, err := h.registry.Create(ctx, t)
	switch {
	case errors.Is(err, tenant.ErrSubdomainTaken), errors.Is(err, tenant.ErrEmailTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, tenant.ErrInvalidSubdomain):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case err != nil:
		log.Error("failed to register tenant", zap.String("subdomain", req.Subdomain), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to register tenant"})
	}
	log = log.With(zap.String("tenant_id", id))

	if err := h.registry.BindDomain(ctx, id, h.domain(t.Subdomain)); err != nil {
		log.Error("failed to bind tenant domain", zap.Error(err))
		// release the subdomain and email for the next attempt
		if delErr := h.registry.Delete(ctx, id, true); delErr != nil {
			log.Error("failed to remove unbound tenant", zap.Error(delErr))
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to register tenant"})
	}

	// a tenant left pending here is picked up by retry or by the startup sweep
	if err := h.enqueuer.Enqueue(ctx, id); err != nil {
		log.Error("failed to enqueue provisioning", zap.Error(err))
	}

	log.Info("tenant registered", zap.String("subdomain", t.Subdomain), zap.String("plan", t.PlanCode))
	return c.JSON(http.StatusAccepted, StatusResponse{
		TenantID: id,
		Status:   string(tenant.StatusPending),
	})
}

// Status reports provisioning progress. A tenant that no longer exists was rolled
// back, so the caller gets a failed status and the support contact.
func (h *Handler) Status(c echo.Context) error {
	id := c.Param("id")
	t, err := h.registry.Get(c.Request().Context(), id)
	if errors.Is(err, tenant.ErrNotFound) {
		return c.JSON(http.StatusNotFound, StatusResponse{
			Status:  string(tenant.StatusFailed),
			Error:   saga.FailureMessage,
			Support: h.settings.SupportEmail,
		})
	}
	if err != nil {
		loggerFrom(c, h.logger).Error("failed to load tenant", zap.String("tenant_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Failed to load tenant"})
	}

	resp := StatusResponse{
		TenantID:         t.ID,
		Status:           string(t.Status),
		ProvisioningStep: string(t.Checkpoint()),
		IsReady:          t.Status == tenant.StatusActive,
	}
	switch t.Status {
	case tenant.StatusActive:
		resp.LoginURL = h.loginURL(t.Subdomain)
	case tenant.StatusFailed:
		resp.Error = saga.FailureMessage
		resp.Support = h.settings.SupportEmail
	}
	return c.JSON(http.StatusOK, resp)
}

// Retry re-enqueues a failed or pending tenant.
func (h *Handler) Retry(c echo.Context) error {
	log := loggerFrom(c, h.logger)
	ctx := c.Request().Context()
	id := c.Param("id")

	t, err := h.registry.Get(ctx, id)
	if err != nil {
		return h.writeError(c, err)
	}
	switch t.Status {
	case tenant.StatusFailed:
		if err := h.registry.SetStatus(ctx, id, tenant.StatusPending); err != nil {
			return h.writeError(c, err)
		}
	case tenant.StatusPending:
	default:
		return c.JSON(http.StatusConflict, echo.Map{"error": fmt.Sprintf("tenant is %s", t.Status)})
	}

	if err := h.enqueuer.Enqueue(ctx, id); err != nil {
		log.Error("failed to enqueue provisioning", zap.String("tenant_id", id), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "Provisioning queue unavailable"})
	}
	log.Info("provisioning retry enqueued", zap.String("tenant_id", id))
	return c.JSON(http.StatusAccepted, StatusResponse{TenantID: id, Status: string(tenant.StatusPending)})
}

func (h *Handler) Suspend(c echo.Context) error {
	return h.transition(c, tenant.StatusActive, tenant.StatusSuspended)
}

func (h *Handler) Activate(c echo.Context) error {
	return h.transition(c, tenant.StatusSuspended, tenant.StatusActive)
}

// transition is an admin status change that only applies from one status.
func (h *Handler) transition(c echo.Context, from, to tenant.Status) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	t, err := h.registry.Get(ctx, id)
	if err != nil {
		return h.writeError(c, err)
	}
	if t.Status != from {
		return c.JSON(http.StatusConflict, echo.Map{"error": fmt.Sprintf("tenant is %s", t.Status)})
	}
	if err := h.registry.SetStatus(ctx, id, to); err != nil {
		return h.writeError(c, err)
	}
	loggerFrom(c, h.logger).Info("tenant status changed", zap.String("tenant_id", id), zap.String("status", string(to)))
	return c.JSON(http.StatusOK, StatusResponse{TenantID: id, Status: string(to), IsReady: to == tenant.StatusActive})
}

// Delete soft-deletes a tenant. Its subdomain stays reserved.
func (h *Handler) Delete(c echo.Context) error {
	id := c.Param("id")
	if err := h.registry.Delete(c.Request().Context(), id, false); err != nil {
		return h.writeError(c, err)
	}
	loggerFrom(c, h.logger).Info("tenant deleted", zap.String("tenant_id", id))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "Tenant not found"})
	case errors.Is(err, tenant.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	loggerFrom(c, h.logger).Error("tenant request failed", zap.String("tenant_id", c.Param("id")), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error"})
}

func (h *Handler) domain(subdomain string) string {
	return subdomain + "." + h.settings.BaseDomain
}

func (h *Handler) loginURL(subdomain string) string {
	return "https://" + h.domain(subdomain) + "/login"
}
