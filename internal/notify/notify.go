// Package notify reports provisioning progress to realtime consumers and sends the
// final outcome to the tenant's contact address. Every send is best-effort.
package notify

import (
	"context"
	"time"

	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// Event is a transient progress notification. It is never persisted.
type Event struct {
	TenantID  string    `json:"tenant_id"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster publishes progress events, e.g. to a stream a UI subscribes to.
type Broadcaster interface {
	Publish(ctx context.Context, event Event) error
}

// Mailer delivers the outcome of provisioning to the tenant contact.
type Mailer interface {
	SendProvisioningComplete(ctx context.Context, t *tenant.Tenant) error
	SendProvisioningFailed(ctx context.Context, t *tenant.Tenant, reason string) error
}

// NopBroadcaster is used when no realtime transport is configured.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(context.Context, Event) error {
	return nil
}

var stepMessages = map[tenant.Step]string{
	tenant.StepCreatingStore:  "Creating your workspace database",
	tenant.StepMigrating:      "Setting up your workspace schema",
	tenant.StepSyncingModules: "Enabling the modules of your plan",
	tenant.StepSeedingRoles:   "Creating default roles",
	tenant.StepCompleted:      "Your workspace is ready",
}

// StepMessage is the human readable text of a checkpoint.
func StepMessage(step tenant.Step) string {
	if msg, ok := stepMessages[step]; ok {
		return msg
	}
	return string(step)
}
