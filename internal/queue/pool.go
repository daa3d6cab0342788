package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beesaferoot/gorm-tenancy/internal/metrics"
)

// ErrPanic wraps a recovered handler panic.
var ErrPanic = errors.New("handler panicked")

// Pool runs tasks on a fixed number of workers. Tasks of different tenants run in
// parallel; the pool shares nothing between them.
type Pool struct {
	handler Handler
	policy  Policy
	workers int
	logger  *zap.Logger

	tasks chan Task

	mu     sync.Mutex
	panics map[string]int
}

func NewPool(handler Handler, policy Policy, workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		handler: handler,
		policy:  policy,
		workers: workers,
		logger:  logger,
		tasks:   make(chan Task, workers*16),
		panics:  make(map[string]int),
	}
}

// Enqueue schedules the first attempt for a tenant. It blocks while the buffer is full.
func (p *Pool) Enqueue(ctx context.Context, tenantID string) error {
	return p.Submit(ctx, p.policy.NewTask(tenantID))
}

// Submit queues a task as is, e.g. one received from a broker.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task.MaxAttempts == 0 {
		task.MaxAttempts = p.policy.MaxAttempts
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to enqueue tenant %s: %w", task.TenantID, ctx.Err())
	}
}

// Run starts the workers and blocks until ctx is cancelled. Pending retries are
// dropped on cancellation.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.logger.Debug("worker started", zap.Int("worker", worker))
			for {
				select {
				case <-gctx.Done():
					return nil
				case task := <-p.tasks:
					p.process(gctx, task)
				}
			}
		})
	}
	return g.Wait()
}

func (p *Pool) process(ctx context.Context, task Task) {
	log := p.logger.With(
		zap.String("tenant_id", task.TenantID),
		zap.Int("attempt", task.Attempt),
		zap.Int("max_attempts", task.MaxAttempts))

	panicked, err := p.call(ctx, task)
	if err == nil {
		p.clearPanics(task.TenantID)
		return
	}

	switch {
	case panicked && p.recordPanic(task.TenantID) > p.policy.MaxExceptions:
		log.Error("handler panicked too often, giving up", zap.Error(err))
		p.fail(ctx, task, err)
	case IsPermanent(err):
		log.Warn("task failed permanently", zap.Error(err))
		p.clearPanics(task.TenantID)
	case task.LastAttempt():
		log.Error("task failed, retries exhausted", zap.Error(err))
		p.fail(ctx, task, err)
	default:
		delay := p.policy.Delay(task.Attempt)
		log.Warn("task failed, retrying", zap.Duration("backoff", delay), zap.Error(err))
		metrics.QueueRetries.Inc()
		p.retry(ctx, task, delay)
	}
}

// call runs the handler, turning a panic into an error.
func (p *Pool) call(ctx context.Context, task Task) (panicked bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
			panicked = true
		}
	}()
	return false, p.handler.Handle(ctx, task)
}

func (p *Pool) fail(ctx context.Context, task Task, err error) {
	p.clearPanics(task.TenantID)
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("failure handler panicked", zap.String("tenant_id", task.TenantID), zap.Any("panic", rec))
		}
	}()
	p.handler.Fail(ctx, task, err)
}

func (p *Pool) retry(ctx context.Context, task Task, delay time.Duration) {
	next := task
	next.Attempt++

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			p.logger.Warn("pool stopped, dropping retry", zap.String("tenant_id", task.TenantID))
			return
		case <-timer.C:
		}

		select {
		case p.tasks <- next:
		case <-ctx.Done():
		}
	}()
}

func (p *Pool) recordPanic(tenantID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panics[tenantID]++
	return p.panics[tenantID]
}

func (p *Pool) clearPanics(tenantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.panics, tenantID)
}
