package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// maxErrorBody bounds how much of a failed response is read
const maxErrorBody = 64 << 10

// RemoteError is a non-2xx answer of the control plane
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.Status, e.Message)
}

// HTTPClient wraps http.Client with context-aware helpers
// It automatically extracts metadata from context and adds appropriate headers
type HTTPClient struct {
	client        *http.Client
	logger        Logger
	defaultUserID string
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, logger Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
	}
}

// DoRequest creates and executes an HTTP request, extracting metadata from context
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	return c.DoRequestWithType(ctx, method, url, body, "")
}

// DoRequestWithType is DoRequest with an explicit Content-Type
// This is the central method that handles context-to-header conversion
func (c *HTTPClient) DoRequestWithType(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if userID, ok := GetUserID(ctx); ok {
		req.Header.Set("X-User-ID", userID)
		c.logger.Debug("added X-User-ID header from context", "user_id", userID)
	} else if c.defaultUserID != "" {
		req.Header.Set("X-User-ID", c.defaultUserID)
	}
	if sessionID, ok := GetSessionID(ctx); ok {
		req.Header.Set("X-Session-ID", sessionID)
	}

	return c.client.Do(req)
}

// DoJSON sends in as a JSON body (nil for none) and decodes the answer into out (nil to discard)
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.DoRequestWithType(ctx, method, url, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		c.logger.Debug("control plane request failed", "method", method, "url", url, "error", err)
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CheckResponse turns a non-2xx response into a *RemoteError carrying the server's message
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RemoteError{Status: resp.StatusCode, Message: errorMessage(body)}
}

// errorMessage pulls the message out of an echo style {"message": ...} body,
// falling back to the raw text
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error", "error.message"} {
			if r := gjson.GetBytes(body, path); r.Type == gjson.String {
				return r.String()
			}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "empty error response"
	}
	return msg
}
