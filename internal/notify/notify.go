package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/betbot/stockpilot/internal/events"
	"github.com/betbot/stockpilot/internal/ports"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "notify")

// LogNotifier 告警写日志
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, a events.Alert) error {
	log.WithFields(logrus.Fields{
		"ticker":  a.Ticker,
		"type":    a.Type,
		"payload": a.Payload,
	}).Warn("alert")
	return nil
}

// WebhookNotifier 把告警以 JSON POST 到 webhook
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "stockpilot")
	return &WebhookNotifier{client: client, url: strings.TrimSpace(url)}
}

func (w *WebhookNotifier) Notify(ctx context.Context, a events.Alert) error {
	resp, err := w.client.R().SetContext(ctx).SetBody(a).Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// Multi 依次投递到所有 notifier，错误合并返回（单个失败不影响其他）
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, a events.Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
