package seed

import "time"

// GuardWeb is the guard the default roles are created under.
const GuardWeb = "web"

// DefaultRoles are created in every tenant store, without permissions.
var DefaultRoles = []string{"Super Administrator", "Administrator", "HR Manager", "Employee"}

// Role lives in the tenant store. The table comes from the core change-scripts.
type Role struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"size:255;not null"`
	GuardName string `gorm:"size:255;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Role) TableName() string {
	return "roles"
}

// Module is a tenant-local copy of a catalog entry.
type Module struct {
	Code       string  `gorm:"primaryKey;size:255"`
	ParentCode *string `gorm:"size:255"`
	Kind       string  `gorm:"size:32;not null"`
	Name       string  `gorm:"size:255;not null"`
	Position   int     `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Module) TableName() string {
	return "tenant_modules"
}
