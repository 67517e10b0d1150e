package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/citewatch/citewatch/internal/metrics"
)

// WebhookService posts message cards to per-tenant chat webhooks.
type WebhookService struct {
	client *resty.Client
}

var _ ChatSender = (*WebhookService)(nil)

// NewWebhookService creates the chat webhook sender.
func NewWebhookService() *WebhookService {
	return &WebhookService{
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// Post sends one card to the tenant's webhook URL.
func (s *WebhookService) Post(ctx context.Context, webhookURL string, card MessageCard) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(card).
		Post(webhookURL)

	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("chat", "error").Inc()
		return fmt.Errorf("post webhook message: %w", err)
	}

	if resp.StatusCode() != 200 {
		metrics.NotificationsTotal.WithLabelValues("chat", "error").Inc()
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	metrics.NotificationsTotal.WithLabelValues("chat", "sent").Inc()
	return nil
}
