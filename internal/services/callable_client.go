package services

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

// Callable error statuses, as carried in {"error":{"status":...}}
const (
	StatusInvalidArgument    = "INVALID_ARGUMENT"
	StatusUnauthenticated    = "UNAUTHENTICATED"
	StatusNotFound           = "NOT_FOUND"
	StatusFailedPrecondition = "FAILED_PRECONDITION"
	StatusResourceExhausted  = "RESOURCE_EXHAUSTED"
	StatusInternal           = "INTERNAL"
)

// CallableError is an application-level error returned by a callable
type CallableError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *CallableError) Error() string {
	return fmt.Sprintf("%s: %s", strings.ToLower(strings.ReplaceAll(e.Status, "_", "-")), e.Message)
}

// HTTPStatus maps the callable status to an HTTP status code
func (e *CallableError) HTTPStatus() int {
	switch e.Status {
	case StatusInvalidArgument, StatusFailedPrecondition:
		return http.StatusBadRequest
	case StatusUnauthenticated:
		return http.StatusUnauthorized
	case StatusNotFound:
		return http.StatusNotFound
	case StatusResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type callableRequest struct {
	Data interface{} `json:"data"`
}

type callableResponse struct {
	Result map[string]interface{} `json:"result"`
	Error  *CallableError         `json:"error"`
}

// HTTPCallableClient speaks the callable protocol: POST {base}/{name} with
// {"data": payload}, answered by {"result": ...} or {"error": ...}
type HTTPCallableClient struct {
	baseURL    string
	bearer     BearerSource
	httpClient *http.Client
}

// NewHTTPCallableClient creates a client for callables under baseURL
func NewHTTPCallableClient(baseURL string, bearer BearerSource, timeout time.Duration) *HTTPCallableClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPCallableClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bearer:     bearer,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Call invokes name. Application errors come back as *CallableError.
func (c *HTTPCallableClient) Call(ctx context.Context, name string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(callableRequest{Data: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != nil {
		if token := c.bearer.BearerToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded callableResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("callable %s returned status %d (%s)", name, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return nil, fmt.Errorf("unexpected response: %w", err)
	}
	if decoded.Error != nil {
		return nil, decoded.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("callable %s returned status %d", name, resp.StatusCode)
	}
	if decoded.Result == nil {
		return nil, fmt.Errorf("callable %s returned no result", name)
	}
	return decoded.Result, nil
}
