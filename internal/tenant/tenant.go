// Package tenant is the durable registry of tenants, their provisioning checkpoints and
// their domain bindings.
package tenant

import (
	"errors"
	"regexp"
	"time"

	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("tenant not found")
	ErrSubdomainTaken    = errors.New("subdomain already taken")
	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidSubdomain  = errors.New("invalid subdomain")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Tenant struct {
	ID               string         `gorm:"primaryKey;size:36"`
	Name             string         `gorm:"size:255;not null"`
	Email            string         `gorm:"size:255;not null;uniqueIndex"`
	Subdomain        string         `gorm:"size:63;not null;uniqueIndex"`
	PlanCode         string         `gorm:"size:64"`
	Status           Status         `gorm:"size:16;not null;index"`
	ProvisioningStep *Step          `gorm:"size:32"`
	StoreName        string         `gorm:"size:128"`
	LastError        string         `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index"`
}

// Checkpoint returns the provisioning step, or "" when none is set.
func (t *Tenant) Checkpoint() Step {
	if t.ProvisioningStep == nil {
		return ""
	}
	return *t.ProvisioningStep
}

// DomainBinding maps a host name to a tenant.
type DomainBinding struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  string `gorm:"size:36;not null;index"`
	Domain    string `gorm:"size:255;not null;uniqueIndex"`
	CreatedAt time.Time
}

// FailureRecord is an append-only audit row written for every terminal provisioning
// failure, since the tenant row itself is hard-deleted.
type FailureRecord struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  string `gorm:"size:36;not null;index"`
	Name      string `gorm:"size:255"`
	Email     string `gorm:"size:255"`
	Subdomain string `gorm:"size:63;index"`
	Step      string `gorm:"size:32"`
	StoreName string `gorm:"size:128"`
	Reason    string `gorm:"type:text"`
	Outcome   string `gorm:"size:32"`
	CreatedAt time.Time
}

func (FailureRecord) TableName() string {
	return "provisioning_failures"
}

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

var reservedSubdomains = map[string]bool{
	"www": true, "admin": true, "api": true, "app": true, "mail": true,
	"ftp": true, "smtp": true, "static": true, "support": true, "status": true,
}

// ValidateSubdomain checks that s is a lowercase DNS label of 3 to 63 characters
// that isn't reserved by the platform.
func ValidateSubdomain(s string) error {
	if len(s) < 3 || len(s) > 63 || !subdomainPattern.MatchString(s) {
		return ErrInvalidSubdomain
	}
	if reservedSubdomains[s] {
		return ErrInvalidSubdomain
	}
	return nil
}
