package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError is a non-2xx response from a platform service. Code carries the
// machine-readable error string from the JSON body when one is present.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// BaseClient is the shared HTTP plumbing for the platform's REST services.
type BaseClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewBaseClient(baseURL string) *BaseClient {
	return &BaseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func (c *BaseClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// MakeRequest issues the request and returns the response body. Non-2xx
// responses come back as *APIError with the service's error code decoded
// from the body when possible.
func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body io.Reader, extraHeaders map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	for key, value := range extraHeaders {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(responseBody)}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(responseBody, &payload) == nil {
			apiErr.Code = payload.Error
		}
		return nil, apiErr
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodGet, endpoint, nil, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body io.Reader, extraHeaders map[string]string) ([]byte, error) {
	return c.MakeRequest(ctx, http.MethodPost, endpoint, body, extraHeaders)
}
