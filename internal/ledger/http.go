package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"licensetrust/internal/security"
)

// HTTPConfig configures the JSON ledger endpoint.
type HTTPConfig struct {
	URL       string
	APIKey    string
	Retries   int
	UserAgent string
	// AllowInsecure permits plain http to non-loopback hosts.
	AllowInsecure bool
}

// HTTPClient talks to a ledger exposed as a single JSON endpoint. Every call
// is a POST of {"action": ..., ...}; the response carries the same shape as
// the Go types of this package.
type HTTPClient struct {
	endpoint string
	apiKey   string
	agent    string
	client   *retryablehttp.Client
}

type httpRequest struct {
	Action     string                     `json:"action"`
	LicenseKey string                     `json:"license_key,omitempty"`
	Hardware   *security.HardwareSnapshot `json:"hardware,omitempty"`
	HWID       string                     `json:"hwid,omitempty"`
	Event      *ActivationEvent           `json:"event,omitempty"`
}

type httpListResponse struct {
	Licenses []Entry `json:"licenses"`
}

type httpError struct {
	Error string `json:"error"`
}

// NewHTTPClient validates the endpoint and builds the retrying client.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) (*HTTPClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid ledger URL %q", ErrUnavailable, cfg.URL)
	}
	isLocalhost := strings.EqualFold(u.Hostname(), "localhost") ||
		u.Hostname() == "127.0.0.1" ||
		u.Hostname() == "::1"
	if !strings.EqualFold(u.Scheme, "https") && !isLocalhost && !cfg.AllowInsecure {
		return nil, errors.New("HTTPS scheme is required for the license ledger")
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 3 * time.Second
	retryClient.Logger = nil
	if logger != nil {
		retryClient.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.DebugContext(req.Context(), "retrying ledger request",
					slog.String("url", req.URL.Redacted()),
					slog.Int("attempt", attempt))
			}
		}
	}

	agent := cfg.UserAgent
	if agent == "" {
		agent = "licensetrust/1.0"
	}
	return &HTTPClient{endpoint: u.String(), apiKey: cfg.APIKey, agent: agent, client: retryClient}, nil
}

// Validate implements Client.
func (c *HTTPClient) Validate(ctx context.Context, key string, hw security.HardwareSnapshot) (ValidateResponse, error) {
	var resp ValidateResponse
	err := c.post(ctx, httpRequest{Action: "validate", LicenseKey: key, Hardware: &hw, HWID: hw.HWID()}, &resp)
	if err != nil {
		return ValidateResponse{}, err
	}
	resp.Status = NormalizeStatus(resp.Status)
	if resp.Valid {
		resp.Status = StatusActive
	}
	return resp, nil
}

// GetAllLicenses implements Client.
func (c *HTTPClient) GetAllLicenses(ctx context.Context) ([]Entry, error) {
	var resp httpListResponse
	if err := c.post(ctx, httpRequest{Action: "list"}, &resp); err != nil {
		return nil, err
	}
	for i := range resp.Licenses {
		resp.Licenses[i].Status = NormalizeStatus(resp.Licenses[i].Status)
	}
	return resp.Licenses, nil
}

// SyncActivation implements Client.
func (c *HTTPClient) SyncActivation(ctx context.Context, ev ActivationEvent) error {
	return c.post(ctx, httpRequest{Action: "sync", LicenseKey: ev.LicenseKey, Event: &ev}, nil)
}

func (c *HTTPClient) post(ctx context.Context, body httpRequest, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal ledger request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.agent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger %s request failed: %w", body.Action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read ledger response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var he httpError
		if json.Unmarshal(data, &he) == nil && he.Error != "" {
			return fmt.Errorf("ledger %s failed with status %d: %s", body.Action, resp.StatusCode, he.Error)
		}
		return fmt.Errorf("ledger %s failed with status: %d", body.Action, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid ledger response: %w", err)
	}
	return nil
}
