package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/djlord-it/easy-post/internal/domain"
)

const (
	HeaderJobID     = "X-Easypost-Job-Id"
	HeaderSignature = "X-Easypost-Signature"
)

// WebhookConfig configures the webhook forwarder.
type WebhookConfig struct {
	URL    string
	Secret string
	// Timeout bounds a single request. Default: 10s.
	Timeout time.Duration
	// MaxElapsed bounds all retries of one event. Default: 1m.
	MaxElapsed time.Duration
}

// WebhookForwarder POSTs events as signed JSON. Network errors, 429 and 5xx
// responses are retried with exponential backoff.
type WebhookForwarder struct {
	config     WebhookConfig
	client     *http.Client
	newBackOff func() backoff.BackOff
}

func NewWebhookForwarder(config WebhookConfig) *WebhookForwarder {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = time.Minute
	}
	w := &WebhookForwarder{
		config: config,
		client: &http.Client{},
	}
	w.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = w.config.MaxElapsed
		return b
	}
	return w
}

func (w *WebhookForwarder) Publish(ctx context.Context, event domain.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	signature := Sign(w.config.Secret, body)

	op := func() error {
		return w.send(ctx, event, body, signature)
	}
	return backoff.Retry(op, backoff.WithContext(w.newBackOff(), ctx))
}

func (w *WebhookForwarder) send(ctx context.Context, event domain.JobEvent, body []byte, signature string) error {
	reqCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderJobID, event.JobID.String())
	req.Header.Set(HeaderSignature, signature)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("webhook status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
