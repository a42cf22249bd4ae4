package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxPayloadBytes bounds how much of a health response body is read
const maxPayloadBytes = 64 * 1024

// Payload is the health document an application returns, e.g. {"status":"healthy"}
type Payload struct {
	Status string `json:"status"`
}

// HTTPChecker performs HTTP-based health checks. A response is healthy only
// when the status code is in range and the JSON payload asserts the expected
// status; a bare 200 is not enough.
type HTTPChecker struct {
	// URL is the full HTTP URL to check (e.g., "http://127.0.0.1:8001/api/health/")
	URL string

	// Method is the HTTP method to use (default: GET)
	Method string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// ExpectedStatusMin is the minimum acceptable HTTP status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable HTTP status code (default: 299)
	ExpectedStatusMax int

	// ExpectedPayload is the status string the payload must carry (default: "healthy").
	// Empty disables payload validation, which smoke checks use for plain API routes.
	ExpectedPayload string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Method:            http.MethodGet,
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 299,
		ExpectedPayload:   StatusHealthy,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Check performs the HTTP health check
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return failed(start, fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode < h.ExpectedStatusMin || resp.StatusCode > h.ExpectedStatusMax {
		return failed(start, fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax))
	}

	if h.ExpectedPayload != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
		if err != nil {
			return failed(start, fmt.Sprintf("%s, failed to read payload: %v", message, err))
		}

		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			return failed(start, fmt.Sprintf("%s, payload is not a health document: %v", message, err))
		}
		if !strings.EqualFold(strings.TrimSpace(payload.Status), h.ExpectedPayload) {
			return failed(start, fmt.Sprintf("%s, status %q (expected %q)", message, payload.Status, h.ExpectedPayload))
		}
		message = fmt.Sprintf("%s, status %q", message, payload.Status)
	}

	return Result{
		Healthy:   true,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithHeader adds a custom HTTP header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithStatusRange sets the expected status code range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}

// WithExpectedPayload sets the status string the payload must report
func (h *HTTPChecker) WithExpectedPayload(status string) *HTTPChecker {
	h.ExpectedPayload = status
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
