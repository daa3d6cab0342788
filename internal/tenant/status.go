package tenant

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusFailed       Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:      {StatusProvisioning, StatusFailed},
	StatusProvisioning: {StatusProvisioning, StatusActive, StatusFailed},
	StatusFailed:       {StatusPending, StatusProvisioning},
	StatusActive:       {StatusSuspended},
	StatusSuspended:    {StatusActive},
}

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether a tenant in status s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to next.
func sourcesOf(next Status) []Status {
	var sources []Status
	for _, from := range []Status{StatusPending, StatusProvisioning, StatusActive, StatusSuspended, StatusFailed} {
		if from.CanTransitionTo(next) {
			sources = append(sources, from)
		}
	}
	return sources
}

// Step is a provisioning checkpoint.
type Step string

const (
	StepCreatingStore  Step = "creating_store"
	StepMigrating      Step = "migrating"
	StepSyncingModules Step = "syncing_modules"
	StepSeedingRoles   Step = "seeding_roles"
	StepCompleted      Step = "completed"
)

// Steps lists the checkpoints in execution order.
var Steps = []Step{StepCreatingStore, StepMigrating, StepSyncingModules, StepSeedingRoles, StepCompleted}

func (s Step) IsValid() bool {
	for _, step := range Steps {
		if s == step {
			return true
		}
	}
	return false
}

// StepPtr returns a pointer to s, for checkpoint writes.
func StepPtr(s Step) *Step {
	return &s
}
