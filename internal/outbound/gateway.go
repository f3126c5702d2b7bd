package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GatewayClient talks to an HTTP messaging gateway (SMS or WhatsApp).
type GatewayClient struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewGatewayClient(name, baseURL, token string, log *zap.Logger) *GatewayClient {
	return &GatewayClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *GatewayClient) Name() string { return c.name }

func (c *GatewayClient) IsConfigured() bool { return c.baseURL != "" }

type gatewayMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (c *GatewayClient) Send(ctx context.Context, to, text string) error {
	body, _ := json.Marshal(gatewayMessage{To: to, Text: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway unavailable: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s gateway returned %d: %s", c.name, resp.StatusCode, string(respBody))
	}
	c.log.Debug("gateway message sent", zap.String("gateway", c.name))
	return nil
}
