package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloo-solutions/kbbot/internal/logger"
)

// LogNotifier writes summary messages to the log
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier creates a new LogNotifier instance
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs the message
func (n *LogNotifier) Notify(_ context.Context, text string) error {
	n.log.Info("summary ready for review", "message", text)
	return nil
}

// WebhookNotifier posts summary messages as {"text": ...} to a URL
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	maxTries   uint64
	backoff    func() backoff.BackOff
}

// NewWebhookNotifier creates a new WebhookNotifier instance
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

type webhookPayload struct {
	Text string `json:"text"`
}

// Notify posts the message, retrying on transport errors and 5xx responses
func (n *WebhookNotifier) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookPayload{Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(n.backoff(), n.maxTries-1), ctx)
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		return nil
	}, b)
}
