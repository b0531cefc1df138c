// Package client provides the HTTP client the benchmark drives boxbase with.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/boxbase/boxbase/pkg/benchmark/types"
)

// HTTPClient implements types.Client over the REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// NewHTTPClient creates a new HTTP client.
func NewHTTPClient(baseURL string, token string) (*HTTPClient, error) {
	if _, err := ParseURL(baseURL); err != nil {
		return nil, err
	}

	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		token: token,
	}, nil
}

type writeResponse struct {
	Revisions map[string]int64 `json:"revisions"`
}

// Write submits one transaction.
func (c *HTTPClient) Write(ctx context.Context, base string, boxes map[string]types.Box) (map[string]int64, error) {
	var res writeResponse
	if err := c.doRequest(ctx, http.MethodPost, c.url(base), boxes, &res); err != nil {
		return nil, err
	}
	return res.Revisions, nil
}

// Get returns the boxes for ids, with empty boxes for misses.
func (c *HTTPClient) Get(ctx context.Context, base string, ids []string) ([]types.Box, error) {
	var res []types.Box
	if err := c.doRequest(ctx, http.MethodPost, c.url(base, "_get"), ids, &res); err != nil {
		return nil, err
	}
	return res, nil
}

type queryResult struct {
	Total int `json:"_total"`
}

// Query runs templates as a single named query and returns the hit count.
func (c *HTTPClient) Query(ctx context.Context, base string, templates []types.Box) (int, error) {
	body := map[string]any{"q": map[string]any{"_templates": templates, "_count": 1}}
	var res map[string]queryResult
	if err := c.doRequest(ctx, http.MethodPost, c.url(base, "_query"), body, &res); err != nil {
		return 0, err
	}
	return res["q"].Total, nil
}

// Close closes idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) url(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *HTTPClient) doRequest(ctx context.Context, method, urlStr string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s: %s", e.Status, strings.TrimSpace(e.Body))
}

// GetHTTPError returns the HTTPError in err's chain, if any.
func GetHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	ok := errors.As(err, &httpErr)
	return httpErr, ok
}

// IsConflict reports whether err is a rejected revision check.
func IsConflict(err error) bool {
	httpErr, ok := GetHTTPError(err)
	return ok && httpErr.StatusCode == http.StatusConflict
}

// ParseURL validates a server URL.
func ParseURL(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("baseURL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid URL scheme: %s (must be http or https)", u.Scheme)
	}
	return rawURL, nil
}
