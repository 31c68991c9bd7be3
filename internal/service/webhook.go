// internal/service/webhook.go
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danmuigai/waflow-backend/internal/model"
)

// WebhookCaller delivers rule-configured webhooks. Delivery is best-effort:
// a bounded number of attempts with backoff, then the failure is the
// caller's to log.
type WebhookCaller struct {
	Client *http.Client
	Log    *logrus.Logger
}

func NewWebhookCaller(log *logrus.Logger) *WebhookCaller {
	return &WebhookCaller{
		Client: &http.Client{Timeout: 7 * time.Second},
		Log:    log,
	}
}

// Call posts the configured body (plus the trigger payload under "event")
// to the operator's URL.
func (w *WebhookCaller) Call(ctx context.Context, cfg *model.WebhookActionConfig, eventData map[string]any) error {
	payload := map[string]any{}
	for k, v := range cfg.Body {
		payload[k] = v
	}
	if eventData != nil {
		payload["event"] = eventData
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := w.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			lastErr = fmt.Errorf("webhook non-2xx: %d", resp.StatusCode)
		}

		select {
		case <-time.After(time.Duration(250*(1<<i)) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
