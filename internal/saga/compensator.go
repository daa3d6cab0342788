package saga

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/beesaferoot/gorm-tenancy/internal/metrics"
	"github.com/beesaferoot/gorm-tenancy/internal/notify"
	"github.com/beesaferoot/gorm-tenancy/internal/provision"
	"github.com/beesaferoot/gorm-tenancy/internal/store"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// Outcome of a rollback.
type Outcome string

const (
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomePartial    Outcome = "rollback_partial"
	OutcomeAbsent     Outcome = "already_absent"
	OutcomeRefused    Outcome = "refused"
)

// FailureMessage is the only failure text a tenant contact ever sees.
const FailureMessage = "We could not finish setting up your workspace. Please try again or contact support."

// Compensator undoes a failed provisioning.
type Compensator struct {
	registry    tenant.Registry
	provisioner store.Provisioner
	reporter    *notify.Reporter
	logger      *zap.Logger
}

func NewCompensator(registry tenant.Registry, provisioner store.Provisioner, reporter *notify.Reporter, logger *zap.Logger) *Compensator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = notify.NewReporter(nil, nil, logger)
	}
	return &Compensator{
		registry:    registry,
		provisioner: provisioner,
		reporter:    reporter,
		logger:      logger,
	}
}

// Rollback drops the tenant's store, removes its domain bindings, hard-deletes the
// tenant and notifies the contact. Steps run independently; the tenant row is only
// deleted when the store and the bindings are gone. If anything is left behind, or
// rollback itself panics, the tenant is marked failed with its checkpoint intact.
//
// Active and suspended tenants are refused and left untouched. A NameCollision
// cause means the store belongs to someone else, so it is never dropped.
func (c *Compensator) Rollback(ctx context.Context, tenantID string, cause error) (outcome Outcome, err error) {
	log := c.logger.With(zap.String("tenant_id", tenantID))

	t, err := c.registry.Get(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		log.Info("tenant already removed, nothing to roll back")
		return OutcomeAbsent, nil
	}
	if err != nil {
		err = &provision.Error{Kind: provision.KindRollbackPartialFailure, Err: err}
		log.Error("rollback could not load tenant", zap.String("severity", "critical"), zap.Error(err))
		metrics.RecordRollback(string(OutcomePartial))
		return OutcomePartial, err
	}
	if t.Status == tenant.StatusActive || t.Status == tenant.StatusSuspended {
		log.Warn("refusing to roll back a provisioned tenant", zap.String("status", string(t.Status)))
		metrics.RecordRollback(string(OutcomeRefused))
		return OutcomeRefused, fmt.Errorf("%w: tenant is %s and cannot be rolled back", tenant.ErrInvalidTransition, t.Status)
	}

	defer func() {
		if rec := recover(); rec != nil {
			outcome = OutcomePartial
			err = &provision.Error{
				Kind:  provision.KindRollbackPartialFailure,
				Store: t.StoreName,
				Err:   fmt.Errorf("rollback panicked: %v", rec),
			}
			c.abandon(ctx, t, cause, err, log)
		}
	}()

	var errs error
	if t.StoreName != "" && !provision.IsKind(cause, provision.KindNameCollision) {
		if dropErr := c.provisioner.DropStore(ctx, t.StoreName); dropErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("drop store %s: %w", t.StoreName, dropErr))
		}
	}
	if _, bindErr := c.registry.DeleteDomainBindings(ctx, t.ID); bindErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("delete domain bindings: %w", bindErr))
	}
	if errs == nil {
		if delErr := c.registry.Delete(ctx, t.ID, true); delErr != nil && !errors.Is(delErr, tenant.ErrNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("delete tenant: %w", delErr))
		}
	}

	c.reporter.Failed(ctx, t, FailureMessage)

	if errs != nil {
		err = &provision.Error{Kind: provision.KindRollbackPartialFailure, Store: t.StoreName, Err: errs}
		c.abandon(ctx, t, cause, err, log)
		return OutcomePartial, err
	}

	c.audit(ctx, t, cause, OutcomeRolledBack, log)
	metrics.RecordRollback(string(OutcomeRolledBack))
	log.Info("tenant rolled back", zap.String("store", t.StoreName))
	return OutcomeRolledBack, nil
}

// abandon leaves the tenant for an operator.
func (c *Compensator) abandon(ctx context.Context, t *tenant.Tenant, cause, err error, log *zap.Logger) {
	log.Error("rollback incomplete, tenant left for manual remediation",
		zap.String("severity", "critical"),
		zap.String("store", t.StoreName),
		zap.String("checkpoint", string(t.Checkpoint())),
		zap.NamedError("cause", cause),
		zap.Error(err))

	if markErr := c.registry.MarkFailed(ctx, t.ID, err.Error()); markErr != nil {
		log.Error("failed to mark tenant failed", zap.String("severity", "critical"), zap.Error(markErr))
	}
	c.audit(ctx, t, cause, OutcomePartial, log)
	metrics.RecordRollback(string(OutcomePartial))
}

// audit appends to the failure log, since the tenant row may be gone.
func (c *Compensator) audit(ctx context.Context, t *tenant.Tenant, cause error, outcome Outcome, log *zap.Logger) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	record := &tenant.FailureRecord{
		TenantID:  t.ID,
		Name:      t.Name,
		Email:     t.Email,
		Subdomain: t.Subdomain,
		Step:      string(t.Checkpoint()),
		StoreName: t.StoreName,
		Reason:    reason,
		Outcome:   string(outcome),
	}
	if err := c.registry.RecordFailure(ctx, record); err != nil {
		log.Warn("failed to append failure audit record", zap.Error(err))
	}
}
