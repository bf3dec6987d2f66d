package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers user-facing messages. Delivery is best effort: the
// engine's state machine never depends on a notification landing.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// BridgeClient talks to the messaging front-end's internal API.
type BridgeClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBridgeClient(baseURL, token string, log *zap.Logger) *BridgeClient {
	return &BridgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *BridgeClient) Notify(ctx context.Context, userID int64, text string) {
	body, _ := json.Marshal(map[string]any{
		"user_id": userID,
		"text":    text,
	})

	url := fmt.Sprintf("%s/internal/notify", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		c.log.Warn("build notify request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("notify bridge unavailable", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("notify bridge rejected message",
			zap.Int64("user_id", userID),
			zap.Int("status", resp.StatusCode))
	}
}

// NopNotifier discards notifications; used when no bridge is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, int64, string) {}
