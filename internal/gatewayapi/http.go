package gatewayapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient talks to an Evolution-style gateway REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a gateway client. timeout <= 0 picks CallTimeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = CallTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateInstance(ctx context.Context, agentID, label string) (string, error) {
	var out struct {
		InstanceName string `json:"instance_name"`
	}
	payload := map[string]any{"agent_id": agentID, "label": label}
	if err := c.do(ctx, http.MethodPost, "/instances", payload, &out); err != nil {
		return "", err
	}
	if out.InstanceName == "" {
		return "", fmt.Errorf("gateway returned empty instance name")
	}
	return out.InstanceName, nil
}

func (c *HTTPClient) FetchStatus(ctx context.Context, instanceName string) (Status, error) {
	var out Status
	path := "/instances/" + url.PathEscape(instanceName) + "/status"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

func (c *HTTPClient) DeleteInstance(ctx context.Context, instanceName string) error {
	path := "/instances/" + url.PathEscape(instanceName)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if isNotFound(err) {
		// Nothing to clean up; the record may already be gone remotely.
		return nil
	}
	return err
}

func (c *HTTPClient) SendText(ctx context.Context, instanceName, to, text string) error {
	path := "/instances/" + url.PathEscape(instanceName) + "/messages"
	payload := map[string]any{"to": to, "text": text}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode gateway request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
