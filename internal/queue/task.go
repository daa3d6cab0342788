// Package queue runs provisioning tasks on a bounded worker pool with retries.
package queue

import (
	"context"
	"errors"
	"time"
)

// Task asks for one tenant to be provisioned. Attempt starts at 1.
type Task struct {
	TenantID    string `json:"tenant_id"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}

// LastAttempt reports whether a failure of this attempt exhausts the retries.
func (t Task) LastAttempt() bool {
	return t.Attempt >= t.MaxAttempts
}

// Handler processes tasks. Fail is called once retries are exhausted or the
// handler panicked more often than the policy tolerates.
type Handler interface {
	Handle(ctx context.Context, task Task) error
	Fail(ctx context.Context, task Task, err error)
}

// Enqueuer schedules provisioning of a tenant.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID string) error
}

// Policy bounds retries of a task.
type Policy struct {
	MaxAttempts   int
	Backoff       []time.Duration
	MaxExceptions int
}

// DefaultPolicy allows three attempts with escalating backoff and one panic.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		Backoff:       []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second},
		MaxExceptions: 1,
	}
}

// Delay is the wait before the attempt that follows attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

// NewTask returns the first attempt of a tenant's provisioning task.
func (p Policy) NewTask(tenantID string) Task {
	return Task{TenantID: tenantID, Attempt: 1, MaxAttempts: p.MaxAttempts}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The handler is expected to have dealt
// with the failure itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
