// Package remote implements the HTTP adapter for the remote data source.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"

	"github.com/roamio/venuesync/internal/domain"
	"github.com/roamio/venuesync/internal/ports"
	"github.com/roamio/venuesync/pkg/log"
)

const venuesEndpoint = "/v1/venues"

// Client talks to the venue service over HTTP. Failures are classified
// into transient and permanent RemoteErrors: transport errors, timeouts,
// 408, 429 and 5xx responses are transient; any other 4xx is permanent.
type Client struct {
	baseURL string
	authKey string
	client  ports.HTTPClient
	logger  log.Logger
}

// New creates a client for the service at baseURL.
func New(baseURL, authKey string, client ports.HTTPClient, logger log.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		authKey: authKey,
		client:  client,
		logger:  logger,
	}
}

// List fetches all venues matching the filter.
func (c *Client) List(ctx context.Context, filter domain.Filter) ([]domain.Venue, error) {
	endpoint := c.baseURL + venuesEndpoint
	if filter.Category != "" {
		endpoint += "?category=" + url.QueryEscape(filter.Category)
	}

	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var venues []domain.Venue
	if err := json.NewDecoder(resp.Body).Decode(&venues); err != nil {
		return nil, &domain.RemoteError{Message: fmt.Sprintf("decode listing: %v", err)}
	}
	return venues, nil
}

// Create submits a new venue.
func (c *Client) Create(ctx context.Context, record domain.Venue) error {
	return c.send(ctx, http.MethodPost, c.baseURL+venuesEndpoint, record)
}

// Update submits a changed venue.
func (c *Client) Update(ctx context.Context, record domain.Venue) error {
	endpoint := c.baseURL + venuesEndpoint + "/" + url.PathEscape(record.ID)
	return c.send(ctx, http.MethodPut, endpoint, record)
}

func (c *Client) send(ctx context.Context, method, endpoint string, record domain.Venue) error {
	body, err := json.Marshal(record)
	if err != nil {
		return &domain.RemoteError{Message: fmt.Sprintf("marshal record: %v", err), Permanent: true}
	}

	req, err := c.newRequest(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &domain.RemoteError{Message: fmt.Sprintf("create request: %v", err), Permanent: true}
	}
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}
	req.Header.Set("X-Agent-Hostname", hostname())
	req.Header.Set("X-Agent-OSArch", runtime.GOOS+"/"+runtime.GOARCH)
	return req, nil
}

// checkResponse maps an HTTP status to the error taxonomy.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.RemoteError{
		Code:      resp.StatusCode,
		Message:   string(bytes.TrimSpace(body)),
		Permanent: isPermanentStatus(resp.StatusCode),
	}
}

// isPermanentStatus reports whether a status should never be retried.
// Request timeouts (408) and throttling (429) stay transient.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func transportError(err error) error {
	return &domain.RemoteError{Message: err.Error()}
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
