// Package gateway is the HTTP client of the remote parking service that owns
// sessions, stats and fee settlement.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Stats fetches the aggregate lot counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	const op = "get stats"
	var resp statsResponse
	if err := c.do(ctx, op, http.MethodGet, "/parking/stats", &resp); err != nil {
		return Stats{}, err
	}
	if resp.Success == nil || !*resp.Success {
		return Stats{}, rejected(op, 0, resp.Success, resp.Error)
	}
	if resp.Data == nil {
		return Stats{}, &MalformedResponseError{Op: op, Err: errors.New("missing data")}
	}
	return *resp.Data, nil
}

// ListActive fetches every currently open session.
func (c *Client) ListActive(ctx context.Context) ([]Session, error) {
	const op = "list active"
	var resp activeResponse
	if err := c.do(ctx, op, http.MethodGet, "/parking/active", &resp); err != nil {
		return nil, err
	}
	if resp.Success == nil || !*resp.Success {
		return nil, rejected(op, 0, resp.Success, resp.Error)
	}
	sessions := make([]Session, 0, len(resp.Data))
	for _, w := range resp.Data {
		s, err := w.toSession()
		if err != nil {
			return nil, &MalformedResponseError{Op: op, Err: err}
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Release ends a session and returns the fee settled by the gateway.
func (c *Client) Release(ctx context.Context, id SessionID) (float64, error) {
	const op = "release"
	var resp releaseResponse
	path := "/parking/release/" + url.PathEscape(string(id))
	if err := c.do(ctx, op, http.MethodPost, path, &resp); err != nil {
		return 0, err
	}
	if resp.Success == nil || !*resp.Success {
		return 0, rejected(op, 0, resp.Success, resp.Error)
	}
	if resp.Fee == nil {
		return 0, &MalformedResponseError{Op: op, Err: errors.New("missing fee")}
	}
	return *resp.Fee, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	log.WithFields(log.Fields{
		"op":       op,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("gateway call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env struct {
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return &MalformedResponseError{Op: op, Err: fmt.Errorf("status %d with undecodable body: %w", resp.StatusCode, err)}
		}
		return &RejectedError{Op: op, StatusCode: resp.StatusCode, Reason: errorReason(env.Error)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &MalformedResponseError{Op: op, Err: fmt.Errorf("failed to decode body: %w", err)}
	}
	return nil
}

func rejected(op string, status int, success *bool, raw json.RawMessage) error {
	if success == nil {
		return &MalformedResponseError{Op: op, Err: errors.New("missing success flag")}
	}
	return &RejectedError{Op: op, StatusCode: status, Reason: errorReason(raw)}
}
