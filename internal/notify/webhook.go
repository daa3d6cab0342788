package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/beesaferoot/gorm-tenancy/internal/tenant"
)

// webhookPayload is what the delivery service receives. Rendering and transport of
// the actual email are its concern.
type webhookPayload struct {
	Event     string `json:"event"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Subdomain string `json:"subdomain"`
	Reason    string `json:"reason,omitempty"`
}

// WebhookMailer hands contact notifications to an external delivery service.
type WebhookMailer struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewWebhookMailer(url string, logger *zap.Logger) *WebhookMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json")

	return &WebhookMailer{client: client, url: url, logger: logger}
}

func (m *WebhookMailer) SendProvisioningComplete(ctx context.Context, t *tenant.Tenant) error {
	return m.post(ctx, webhookPayload{
		Event:     "provisioning.completed",
		TenantID:  t.ID,
		Name:      t.Name,
		Email:     t.Email,
		Subdomain: t.Subdomain,
	})
}

func (m *WebhookMailer) SendProvisioningFailed(ctx context.Context, t *tenant.Tenant, reason string) error {
	return m.post(ctx, webhookPayload{
		Event:     "provisioning.failed",
		TenantID:  t.ID,
		Name:      t.Name,
		Email:     t.Email,
		Subdomain: t.Subdomain,
		Reason:    reason,
	})
}

func (m *WebhookMailer) post(ctx context.Context, payload webhookPayload) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(m.url)
	if err != nil {
		return fmt.Errorf("failed to call notification webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode())
	}

	m.logger.Debug("notification delivered", zap.String("event", payload.Event), zap.String("tenant_id", payload.TenantID))
	return nil
}

// LogMailer only logs; used when no webhook is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendProvisioningComplete(_ context.Context, t *tenant.Tenant) error {
	m.logger.Info("provisioning complete notification", zap.String("tenant_id", t.ID), zap.String("email", t.Email))
	return nil
}

func (m *LogMailer) SendProvisioningFailed(_ context.Context, t *tenant.Tenant, reason string) error {
	m.logger.Info("provisioning failed notification", zap.String("tenant_id", t.ID), zap.String("email", t.Email), zap.String("reason", reason))
	return nil
}
