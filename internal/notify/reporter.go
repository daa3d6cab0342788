package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beesaferoot/gorm-tenancy/internal/provision"
	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// DefaultSendTimeout bounds a single broadcast or notification.
const DefaultSendTimeout = 5 * time.Second

// Reporter is what the saga uses to report. It never returns an error: broadcast and
// notification failures, including panics and timeouts, are logged and dropped.
type Reporter struct {
	broadcaster Broadcaster
	mailer      Mailer
	logger      *zap.Logger
	timeout     time.Duration
	now         func() time.Time
}

// NewReporter accepts nil for either transport.
func NewReporter(broadcaster Broadcaster, mailer Mailer, logger *zap.Logger) *Reporter {
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}
	return &Reporter{
		broadcaster: broadcaster,
		mailer:      mailer,
		logger:      logger,
		timeout:     DefaultSendTimeout,
		now:         time.Now,
	}
}

// Step publishes a progress event for the tenant.
func (r *Reporter) Step(ctx context.Context, tenantID string, step tenant.Step) {
	r.publish(ctx, Event{
		TenantID:  tenantID,
		Step:      string(step),
		Message:   StepMessage(step),
		Timestamp: r.now(),
	})
}

// Failed publishes a "failed" event and tells the contact that setup failed.
func (r *Reporter) Failed(ctx context.Context, t *tenant.Tenant, reason string) {
	r.publish(ctx, Event{
		TenantID:  t.ID,
		Step:      "failed",
		Message:   "Workspace setup failed",
		Timestamp: r.now(),
	})
	r.guard(ctx, provision.KindNotificationFailed, t.ID, func(ctx context.Context) error {
		return r.mailer.SendProvisioningFailed(ctx, t, reason)
	})
}

// Completed tells the contact their workspace is ready.
func (r *Reporter) Completed(ctx context.Context, t *tenant.Tenant) {
	r.guard(ctx, provision.KindNotificationFailed, t.ID, func(ctx context.Context) error {
		return r.mailer.SendProvisioningComplete(ctx, t)
	})
}

func (r *Reporter) publish(ctx context.Context, event Event) {
	r.guard(ctx, provision.KindBroadcastFailed, event.TenantID, func(ctx context.Context) error {
		return r.broadcaster.Publish(ctx, event)
	})
}

func (r *Reporter) guard(ctx context.Context, kind provision.Kind, tenantID string, send func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("notification panicked",
				zap.String("kind", string(kind)),
				zap.String("tenant_id", tenantID),
				zap.Any("panic", rec))
		}
	}()

	if err := send(ctx); err != nil {
		r.logger.Warn("notification failed",
			zap.String("tenant_id", tenantID),
			zap.Error(provision.Wrap(kind, fmt.Errorf("best-effort send: %w", err))))
	}
}
