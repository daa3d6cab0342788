// Package saga turns a registered tenant into a working workspace, one checkpointed
// stage at a time, and undoes partial work when provisioning cannot finish.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/beesaferoot/gorm-tenancy/internal/metrics"
	"github.com/beesaferoot/gorm-tenancy/internal/notify"
	"github.com/beesaferoot/gorm-tenancy/internal/provision"
	"github.com/beesaferoot/gorm-tenancy/internal/queue"
	"github.com/beesaferoot/gorm-tenancy/internal/store"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
	"github.com/beesaferoot/gorm-tenancy/migration"
)

// Migrator applies script sets to a tenant store.
type Migrator interface {
	Apply(ctx context.Context, db *gorm.DB, sets []string) (*migration.Report, error)
}

// Seeder fills a migrated store with reference data.
type Seeder interface {
	SyncModules(ctx context.Context, db *gorm.DB, modules []string, fresh bool) error
	SeedRoles(ctx context.Context, db *gorm.DB) error
}

// Plans maps a plan code to its ordered module codes.
type Plans interface {
	ModulesFor(planCode string) []string
}

type Deps struct {
	Registry    tenant.Registry
	Provisioner store.Provisioner
	Migrator    Migrator
	Seeder      Seeder
	Plans       Plans
	Reporter    *notify.Reporter
	Logger      *zap.Logger
}

// Saga is the provisioning task handler. It is the only place that decides between
// retrying and rolling back.
type Saga struct {
	registry    tenant.Registry
	provisioner store.Provisioner
	migrator    Migrator
	seeder      Seeder
	plans       Plans
	reporter    *notify.Reporter
	compensator *Compensator
	logger      *zap.Logger
}

func New(deps Deps) *Saga {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Reporter == nil {
		deps.Reporter = notify.NewReporter(nil, nil, deps.Logger)
	}
	return &Saga{
		registry:    deps.Registry,
		provisioner: deps.Provisioner,
		migrator:    deps.Migrator,
		seeder:      deps.Seeder,
		plans:       deps.Plans,
		reporter:    deps.Reporter,
		compensator: NewCompensator(deps.Registry, deps.Provisioner, deps.Reporter, deps.Logger),
		logger:      deps.Logger,
	}
}

type stage struct {
	step tenant.Step
	run  func(ctx context.Context) error
}

// Handle runs one attempt of the saga. It is safe to run again from the top for the
// same tenant: store creation is collision checked, migrations are ledger checked and
// seeding is idempotent.
//
// A NameCollision is rolled back immediately and returned as a permanent error. Other
// failures are recorded on the tenant and returned so the queue can retry; once
// retries run out the queue calls Fail.
func (s *Saga) Handle(ctx context.Context, task queue.Task) error {
	log := s.logger.With(zap.String("tenant_id", task.TenantID), zap.Int("attempt", task.Attempt))

	t, err := s.registry.Get(ctx, task.TenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		log.Warn("tenant no longer exists, nothing to provision")
		return queue.Permanent(err)
	}
	if err != nil {
		return err
	}
	if t.Status == tenant.StatusActive || t.Status == tenant.StatusSuspended {
		log.Info("tenant already provisioned", zap.String("status", string(t.Status)))
		return nil
	}

	if err := s.registry.SetStatus(ctx, t.ID, tenant.StatusProvisioning); err != nil {
		if errors.Is(err, tenant.ErrInvalidTransition) || errors.Is(err, tenant.ErrNotFound) {
			return queue.Permanent(err)
		}
		return err
	}
	t.Status = tenant.StatusProvisioning

	log.Info("provisioning tenant", zap.String("subdomain", t.Subdomain), zap.String("resume_from", string(t.Checkpoint())))
	if err := s.run(ctx, t, log); err != nil {
		return s.onFailure(ctx, t, err, log)
	}

	metrics.RecordProvisioning("completed")
	log.Info("tenant provisioned", zap.String("store", t.StoreName))
	return nil
}

// Fail is called by the queue when retries are exhausted. It rolls the tenant back.
func (s *Saga) Fail(ctx context.Context, task queue.Task, cause error) {
	outcome, err := s.compensator.Rollback(ctx, task.TenantID, cause)
	metrics.RecordProvisioning(string(outcome))
	if err != nil {
		s.logger.Error("provisioning failed and rollback is incomplete",
			zap.String("tenant_id", task.TenantID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.logger.Warn("provisioning failed, tenant rolled back",
		zap.String("tenant_id", task.TenantID),
		zap.String("outcome", string(outcome)),
		zap.NamedError("cause", cause))
}

// Provision runs the saga synchronously as a single attempt, rolling back on failure.
func (s *Saga) Provision(ctx context.Context, tenantID string) error {
	task := queue.Task{TenantID: tenantID, Attempt: 1, MaxAttempts: 1}
	err := s.Handle(ctx, task)
	if err != nil && !queue.IsPermanent(err) {
		s.Fail(ctx, task, err)
	}
	return err
}

// Rollback compensates a tenant on operator request.
func (s *Saga) Rollback(ctx context.Context, tenantID, reason string) (Outcome, error) {
	return s.compensator.Rollback(ctx, tenantID, errors.New(reason))
}

func (s *Saga) run(ctx context.Context, t *tenant.Tenant, log *zap.Logger) error {
	modules := s.plans.ModulesFor(t.PlanCode)

	var handle *store.Handle
	defer func() {
		if handle == nil {
			return
		}
		if err := handle.Close(); err != nil {
			log.Warn("failed to release store handle", zap.Error(err))
		}
	}()

	stages := []stage{
		{tenant.StepCreatingStore, func(ctx context.Context) error {
			name := store.NameFor(t.Subdomain)
			if t.StoreName != name {
				// claimed before the store exists so a crash mid-creation is still ours
				if err := s.registry.SetStoreName(ctx, t.ID, name); err != nil {
					return &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
				}
				t.StoreName = name
			}
			if _, err := s.provisioner.CreateStore(ctx, t); err != nil {
				if provision.IsKind(err, provision.KindNameCollision) {
					s.releaseStoreName(ctx, t, log)
				}
				return err
			}
			var err error
			handle, err = s.provisioner.Open(ctx, name)
			if err != nil {
				return &provision.Error{Kind: provision.KindStoreCreationFailed, Store: name, Err: err}
			}
			return nil
		}},
		{tenant.StepMigrating, func(ctx context.Context) error {
			report, err := s.migrator.Apply(ctx, handle.DB, migration.SetsFor(modules))
			if report != nil {
				metrics.MigrationsApplied.Add(float64(len(report.Applied)))
			}
			return err
		}},
		{tenant.StepSyncingModules, func(ctx context.Context) error {
			return s.seeder.SyncModules(ctx, handle.DB, modules, false)
		}},
		{tenant.StepSeedingRoles, func(ctx context.Context) error {
			return s.seeder.SeedRoles(ctx, handle.DB)
		}},
	}

	for _, st := range stages {
		step := st.step
		if err := s.registry.SetCheckpoint(ctx, t.ID, &step); err != nil {
			return fmt.Errorf("failed to persist checkpoint %s: %w", step, err)
		}
		t.ProvisioningStep = &step
		s.reporter.Step(ctx, t.ID, step)

		track := metrics.TrackStage(string(step))
		start := time.Now()
		err := st.run(ctx)
		track(start)
		if err != nil {
			log.Warn("provisioning stage failed", zap.String("step", string(step)), zap.Error(err))
			return fmt.Errorf("stage %s: %w", step, err)
		}
		log.Debug("provisioning stage completed", zap.String("step", string(step)))
	}

	if err := s.registry.Activate(ctx, t.ID); err != nil {
		return fmt.Errorf("failed to activate tenant: %w", err)
	}
	t.Status = tenant.StatusActive
	t.ProvisioningStep = nil

	s.reporter.Step(ctx, t.ID, tenant.StepCompleted)
	s.reporter.Completed(ctx, t)
	return nil
}

// releaseStoreName forgets a store name that turned out to belong to someone else.
func (s *Saga) releaseStoreName(ctx context.Context, t *tenant.Tenant, log *zap.Logger) {
	if err := s.registry.SetStoreName(ctx, t.ID, ""); err != nil {
		log.Warn("failed to release colliding store name", zap.String("store", t.StoreName), zap.Error(err))
		return
	}
	t.StoreName = ""
}

func (s *Saga) onFailure(ctx context.Context, t *tenant.Tenant, err error, log *zap.Logger) error {
	if recErr := s.registry.SetLastError(ctx, t.ID, err.Error()); recErr != nil {
		log.Warn("failed to record provisioning error", zap.Error(recErr))
	}

	if provision.IsKind(err, provision.KindNameCollision) {
		outcome, rbErr := s.compensator.Rollback(ctx, t.ID, err)
		metrics.RecordProvisioning(string(outcome))
		if rbErr != nil {
			log.Error("rollback after name collision is incomplete", zap.Error(rbErr))
		}
		return queue.Permanent(err)
	}

	metrics.RecordProvisioning("attempt_failed")
	return err
}
