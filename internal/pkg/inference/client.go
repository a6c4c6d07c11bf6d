package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds inference provider configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the external AI upscaling provider
type Client struct {
	httpClient *http.Client
	config     Config
}

// UpscaleRequest is the provider-facing upscale request
type UpscaleRequest struct {
	SourceURL   string `json:"source_url"`
	Mode        string `json:"mode"`
	Scale       int    `json:"scale"`
	FaceEnhance bool   `json:"face_enhance,omitempty"`
	Denoise     bool   `json:"denoise,omitempty"`
}

// UpscaleResult holds the upscaled image returned by the provider
type UpscaleResult struct {
	Image       []byte
	ContentType string
}

type upscaleResponse struct {
	ImageB64    string `json:"image"`
	ContentType string `json:"content_type"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient creates a new inference provider client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
	}
}

// Upscale submits an upscale job and waits for the result. The provider
// is synchronous; long jobs are bounded by the client timeout and the
// caller's context deadline.
func (c *Client) Upscale(ctx context.Context, req UpscaleRequest) (*UpscaleResult, error) {
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, fmt.Errorf("validation error: source_url must be non-empty")
	}
	if strings.TrimSpace(c.config.BaseURL) == "" {
		return nil, fmt.Errorf("inference config error: base_url is empty")
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upscale request: %w", err)
	}

	base := strings.TrimRight(c.config.BaseURL, "/")
	url := base + "/v1/upscale"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create upscale request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Context deadline and transport failures surface here
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upscale response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseVendorError(resp.StatusCode, body)
	}

	var out upscaleResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode upscale response: %w", err)
	}

	image, err := base64.StdEncoding.DecodeString(out.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode upscale image payload: %w", err)
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = "image/png"
	}

	return &UpscaleResult{Image: image, ContentType: contentType}, nil
}

func parseVendorError(status int, body []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)

	code := parsed.Error.Code
	message := parsed.Error.Message
	if message == "" {
		message = fmt.Sprintf("inference provider returned status %d", status)
	}

	kind := KindUnavailable
	switch {
	case status == http.StatusTooManyRequests || code == "rate_limited":
		kind = KindRateLimited
	case code == "content_policy_violation" || code == "nsfw_detected":
		kind = KindContentRejected
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// Credential failures are a provider-side misconfiguration,
		// not something the caller's input can fix.
		kind = KindUnavailable
	case status >= 400 && status < 500:
		kind = KindInvalidInput
	}

	return &VendorError{Kind: kind, VendorCode: code, Message: message}
}
