package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SlackClient pushes messages to incoming webhooks (Slack-compatible).
type SlackClient struct {
	client *http.Client
	logger zerolog.Logger
}

// NewSlackClient constructs a webhook sender.
func NewSlackClient(timeout time.Duration, logger zerolog.Logger) *SlackClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackClient{
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "slack_sender").Logger(),
	}
}

// Send posts a rendered message to the given webhook URL.
func (s *SlackClient) Send(ctx context.Context, webhookURL string, msg Message) error {
	text := fmt.Sprintf("*%s*", msg.Title)
	if msg.Body != "" {
		text += "\n" + msg.Body
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	s.logger.Debug().Str("title", msg.Title).Msg("webhook message delivered")
	return nil
}
