// Package remote implements the gateway against the provisioning backend's HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qrdia/dpp-provisioner/internal/gateway"
	"github.com/qrdia/dpp-provisioner/internal/model"
)

var _ gateway.Gateway = (*Client)(nil)

// envelope lets do() inspect any APIResponse instantiation.
type envelope interface {
	Succeeded() bool
	ErrorMessage() string
}

// maxErrorBody bounds how much of a non-JSON error body ends up in a message.
const maxErrorBody = 512

// Client is a thin wrapper over the backend HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// New creates a backend API client. timeout bounds every request.
func New(rawURL, token string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("base url must include scheme")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return &Client{
		baseURL: parsed,
		token:   token,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Ping checks backend health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/healthz"), nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed: %s", resp.Status)
	}
	return nil
}

// ListDevices fetches every device record the backend knows.
func (c *Client) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	var payload model.APIResponse[[]model.DeviceRecord]
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &payload); err != nil {
		if errors.Is(err, gateway.ErrTransient) {
			return nil, fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
		}
		return nil, err
	}
	return payload.Data, nil
}

// CreateDevice asks the backend to provision one device.
func (c *Client) CreateDevice(ctx context.Context, req model.CreateDeviceRequest) (model.CreateDeviceResult, error) {
	var payload model.APIResponse[model.CreateDeviceResult]
	if err := c.do(ctx, http.MethodPost, "/devices/new", req, &payload); err != nil {
		return model.CreateDeviceResult{}, err
	}
	return payload.Data, nil
}

// UpdateDevice sends a partial update for the device with the given id.
func (c *Client) UpdateDevice(ctx context.Context, id int64, patch model.DevicePatch) (model.DeviceRecord, error) {
	var payload model.APIResponse[model.DeviceRecord]
	p := "/devices/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, http.MethodPut, p, patch, &payload); err != nil {
		return model.DeviceRecord{}, err
	}
	return payload.Data, nil
}

// do performs one round trip and decodes the envelope into out. The
// returned error always wraps one of the gateway sentinels.
func (c *Client) do(ctx context.Context, method, p string, body any, out envelope) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", gateway.ErrValidation, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(p), reader)
	if err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", gateway.ErrTransient, method, p, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", gateway.ErrTransient, err)
	}
	decodeErr := json.Unmarshal(raw, out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := resp.Status
		if decodeErr == nil && out.ErrorMessage() != "" {
			msg = out.ErrorMessage()
		} else if decodeErr != nil && len(raw) > 0 {
			msg = fmt.Sprintf("%s: %s", resp.Status, truncate(string(raw), maxErrorBody))
		}
		return fmt.Errorf("%w: %s", classify(resp.StatusCode), msg)
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode response: %v", gateway.ErrTransient, decodeErr)
	}
	if !out.Succeeded() {
		msg := out.ErrorMessage()
		if msg == "" {
			msg = "backend reported failure"
		}
		return fmt.Errorf("%w: %s", gateway.ErrValidation, msg)
	}
	return nil
}

func classify(status int) error {
	switch {
	case status == http.StatusNotFound:
		return gateway.ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return gateway.ErrTransient
	default:
		return gateway.ErrValidation
	}
}

func (c *Client) resolve(p string) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	return u.String()
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("API-TOKEN", c.token)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
