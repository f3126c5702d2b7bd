package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookChannel POSTs alerts as JSON signed with HMAC-SHA256 in the
// X-Signature-256 header.
type WebhookChannel struct {
	url    string
	secret []byte
	client *http.Client
}

func NewWebhookChannel(url, secret string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookChannel{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookChannel) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Action", string(ev.Action))
	req.Header.Set("X-Signature-256", "sha256="+Sign(c.secret, payload))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// LogChannel writes alerts to the operational log. Used when no webhook is
// configured.
type LogChannel struct {
	log *zap.Logger
}

func NewLogChannel(log *zap.Logger) *LogChannel {
	return &LogChannel{log: log}
}

func (c *LogChannel) Send(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("action", string(ev.Action)),
		zap.String("actor_id", ev.Actor.String()),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.Target != nil {
		fields = append(fields, zap.String("target_id", *ev.Target))
	}
	if ev.TargetName != nil {
		fields = append(fields, zap.String("target_name", *ev.TargetName))
	}
	c.log.Warn("CRITICAL admin action", fields...)
	return nil
}
