package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ResendConfig holds Resend configuration
type ResendConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// ResendClient sends emails via the Resend API
type ResendClient struct {
	config     ResendConfig
	httpClient *http.Client
}

// NewResendClient creates a new Resend email client
func NewResendClient(config ResendConfig) *ResendClient {
	return &ResendClient{
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send sends an email via Resend
func (c *ResendClient) Send(ctx context.Context, msg *Message) error {
	request := resendRequest{
		From:    fmt.Sprintf("%s <%s>", c.config.FromName, c.config.FromEmail),
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTMLContent,
		Text:    msg.TextContent,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.resend.com/emails", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		var parsed resendError
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Message != "" {
			return fmt.Errorf("resend returned status %d: %s", resp.StatusCode, parsed.Message)
		}
		return fmt.Errorf("resend returned status %d", resp.StatusCode)
	}

	return nil
}
