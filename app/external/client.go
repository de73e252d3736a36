package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API is the worker side of the protocol.
type API interface {
	Claim(ctx context.Context) (*ClaimedTask, error)
	Submit(ctx context.Context, req SubmitRequest) error
}

type claimResponse struct {
	Success bool         `json:"success"`
	Task    *ClaimedTask `json:"task"`
	Error   string       `json:"error,omitempty"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client talks to the external worker endpoints with a bearer worker token.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

func NewClient(baseURL, token, userAgent string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Claim asks the server for one item. It returns nil when there is no work.
func (c *Client) Claim(ctx context.Context) (*ClaimedTask, error) {
	var resp claimResponse
	if err := c.post(ctx, "/api/external-workers/claim", struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("failed to claim task: %s", resp.Error)
	}
	return resp.Task, nil
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) error {
	var resp submitResponse
	if err := c.post(ctx, "/api/external-workers/submit", req, &resp); err != nil {
		return fmt.Errorf("failed to submit result: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("failed to submit result: %s", resp.Error)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrStaleClaim
	case resp.StatusCode != http.StatusOK:
		reason := resp.Status
		var failure submitResponse
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			reason = failure.Error
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: HTTP error: %d %s", ErrRejected, resp.StatusCode, reason)
		}
		return fmt.Errorf("HTTP error: %d %s", resp.StatusCode, reason)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var _ API = (*Client)(nil)
