package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Registry is the durable store of tenant records. Every write touches a single
// tenant row.
type Registry interface {
	Create(ctx context.Context, t *Tenant) (string, error)
	SetStatus(ctx context.Context, id string, status Status) error
	SetCheckpoint(ctx context.Context, id string, step *Step) error
	SetStoreName(ctx context.Context, id, name string) error
	SetLastError(ctx context.Context, id, message string) error
	Activate(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Get(ctx context.Context, id string) (*Tenant, error)
	Delete(ctx context.Context, id string, hard bool) error
	List(ctx context.Context, filter Filter) ([]Tenant, error)

	BindDomain(ctx context.Context, id, domain string) error
	DeleteDomainBindings(ctx context.Context, id string) (int64, error)

	RecordFailure(ctx context.Context, record *FailureRecord) error
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Limit  int
}

// GormRegistry implements Registry on gorm.
type GormRegistry struct {
	db *gorm.DB
}

func NewGormRegistry(db *gorm.DB) *GormRegistry {
	return &GormRegistry{db: db}
}

// Migrate creates or updates the platform tables.
func (r *GormRegistry) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Tenant{}, &DomainBinding{}, &FailureRecord{}); err != nil {
		return fmt.Errorf("failed to migrate tenant tables: %w", err)
	}
	return nil
}

// Create validates and inserts a tenant in pending status. A missing ID is generated.
func (r *GormRegistry) Create(ctx context.Context, t *Tenant) (string, error) {
	if err := ValidateSubdomain(t.Subdomain); err != nil {
		return "", err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = StatusPending
	t.ProvisioningStep = nil
	t.StoreName = ""

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// soft-deleted tenants keep their subdomain and store
		var count int64
		if err := tx.Unscoped().Model(&Tenant{}).Where("subdomain = ?", t.Subdomain).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSubdomainTaken
		}
		if err := tx.Unscoped().Model(&Tenant{}).Where("email = ?", t.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}
		return tx.Create(t).Error
	})
	if err != nil {
		if errors.Is(err, ErrSubdomainTaken) || errors.Is(err, ErrEmailTaken) {
			return "", err
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", ErrSubdomainTaken
		}
		return "", fmt.Errorf("failed to create tenant: %w", err)
	}
	return t.ID, nil
}

// SetStatus moves a tenant to status. The allowed source statuses are part of the
// UPDATE so that the check and the write are one atomic statement.
func (r *GormRegistry) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	result := r.db.WithContext(ctx).Model(&Tenant{}).
		Where("id = ? AND status IN ?", id, sourcesOf(status)).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update tenant status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainNoop(ctx, id, status)
	}
	return nil
}

// explainNoop tells a missing tenant apart from a refused transition.
func (r *GormRegistry) explainNoop(ctx context.Context, id string, to Status) error {
	t, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
}

func (r *GormRegistry) SetCheckpoint(ctx context.Context, id string, step *Step) error {
	var value interface{}
	if step != nil {
		value = string(*step)
	}
	return r.updateColumn(ctx, id, "provisioning_step", value)
}

func (r *GormRegistry) SetStoreName(ctx context.Context, id, name string) error {
	return r.updateColumn(ctx, id, "store_name", name)
}

func (r *GormRegistry) SetLastError(ctx context.Context, id, message string) error {
	return r.updateColumn(ctx, id, "last_error", message)
}

func (r *GormRegistry) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	result := r.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update tenant %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Activate marks a provisioning tenant active and clears its checkpoint in one write.
func (r *GormRegistry) Activate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Tenant{}).
		Where("id = ? AND status = ?", id, StatusProvisioning).
		Updates(map[string]interface{}{
			"status":            StatusActive,
			"provisioning_step": nil,
			"last_error":        "",
		})
	if result.Error != nil {
		return fmt.Errorf("failed to activate tenant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainNoop(ctx, id, StatusActive)
	}
	return nil
}

// MarkFailed leaves the tenant in failed status with its checkpoint intact, for
// manual remediation.
func (r *GormRegistry) MarkFailed(ctx context.Context, id, reason string) error {
	result := r.db.WithContext(ctx).Model(&Tenant{}).
		Where("id = ? AND status IN ?", id, []Status{StatusPending, StatusProvisioning, StatusFailed}).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"last_error": reason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark tenant failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainNoop(ctx, id, StatusFailed)
	}
	return nil
}

func (r *GormRegistry) Get(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// Delete soft-deletes a tenant, or removes the row entirely when hard is set so that
// its subdomain and email can be registered again.
func (r *GormRegistry) Delete(ctx context.Context, id string, hard bool) error {
	db := r.db.WithContext(ctx)
	if hard {
		db = db.Unscoped()
	}
	result := db.Delete(&Tenant{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete tenant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRegistry) List(ctx context.Context, filter Filter) ([]Tenant, error) {
	query := r.db.WithContext(ctx).Order("created_at")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var tenants []Tenant
	if err := query.Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

func (r *GormRegistry) BindDomain(ctx context.Context, id, domain string) error {
	binding := DomainBinding{TenantID: id, Domain: domain}
	if err := r.db.WithContext(ctx).Create(&binding).Error; err != nil {
		return fmt.Errorf("failed to bind domain %s: %w", domain, err)
	}
	return nil
}

// DeleteDomainBindings removes every binding of the tenant and returns how many
// there were.
func (r *GormRegistry) DeleteDomainBindings(ctx context.Context, id string) (int64, error) {
	result := r.db.WithContext(ctx).Where("tenant_id = ?", id).Delete(&DomainBinding{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete domain bindings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *GormRegistry) RecordFailure(ctx context.Context, record *FailureRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to record provisioning failure: %w", err)
	}
	return nil
}
