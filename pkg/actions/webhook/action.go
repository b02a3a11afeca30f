// Package webhook implements the webhook_call action: an HTTP request built
// from the rendered node configuration.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/autoflow/pkg/protocol"
)

const (
	Subtype        = "webhook_call"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	// ErrWebhookURLInvalid is returned when the node has no usable url.
	ErrWebhookURLInvalid = errors.New("invalid webhook url")
	// ErrWebhookMethodInvalid is returned for an unsupported HTTP method.
	ErrWebhookMethodInvalid = errors.New("invalid webhook method")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Executor performs webhook calls. Retries are left to the engine, so each
// call makes exactly one request and reports a retry category on failure.
type Executor struct {
	logger *slog.Logger
	client *http.Client
}

type Option func(*Executor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) {
		e.client = client
	}
}

func NewExecutor(logger *slog.Logger, opts ...Option) *Executor {
	executor := &Executor{
		logger: logger.With("module", "webhook_action"),
		client: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

type request struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
}

func parseRequest(config map[string]any) (*request, error) {
	url, _ := config["url"].(string)
	if url == "" || !(strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) {
		return nil, fmt.Errorf("%w: %q", ErrWebhookURLInvalid, url)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrWebhookMethodInvalid, method)
	}

	req := &request{method: method, url: url, headers: map[string]string{}}

	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if str, ok := value.(string); ok {
				req.headers[key] = str
			}
		}
	}

	switch body := config["body"].(type) {
	case nil:
	case string:
		req.body = []byte(body)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}

		req.body = encoded
		if _, ok := req.headers["Content-Type"]; !ok {
			req.headers["Content-Type"] = "application/json"
		}
	}

	if raw, ok := config["timeout"].(string); ok && raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("invalid webhook timeout %q", raw)
		}

		req.timeout = timeout
	}

	return req, nil
}

func (e *Executor) Execute(ctx context.Context, actionRequest protocol.ActionRequest) (protocol.ActionResult, error) {
	logger := e.logger.With("execution_id", actionRequest.ExecutionID, "node_id", actionRequest.NodeID)

	req, err := parseRequest(actionRequest.Config)
	if err != nil {
		return protocol.ActionResult{}, protocol.NewConfigurationError(actionRequest.NodeID, "invalid webhook configuration", err)
	}

	if req.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, req.timeout)
		defer cancel()
	}

	httpRequest, err := http.NewRequestWithContext(ctx, req.method, req.url, bytes.NewReader(req.body))
	if err != nil {
		return protocol.ActionResult{}, protocol.NewConfigurationError(actionRequest.NodeID, "failed to create http request", err)
	}

	for key, value := range req.headers {
		httpRequest.Header.Set(key, value)
	}

	logger.DebugContext(ctx, "Calling webhook", "method", req.method, "url", req.url)

	resp, err := e.client.Do(httpRequest)
	if err != nil {
		hint := "connection_error"
		if errors.Is(err, context.DeadlineExceeded) {
			hint = "timeout"
		}

		return protocol.ActionResult{RetryableHint: hint}, fmt.Errorf("webhook request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return protocol.ActionResult{RetryableHint: "connection_error"}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		logger.WarnContext(ctx, "Webhook returned error status", "status", resp.StatusCode)

		return protocol.ActionResult{
			Error:         fmt.Sprintf("webhook returned status %d", resp.StatusCode),
			RetryableHint: hintForStatus(resp.StatusCode),
		}, nil
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "Webhook completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	return protocol.ActionResult{Output: map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	}}, nil
}

// hintForStatus maps an HTTP error status to a retry category. Other 4xx
// statuses carry no hint and fall through to the keyword classifier.
func hintForStatus(status int) string {
	switch {
	case status == http.StatusRequestTimeout:
		return "timeout"
	case status == http.StatusTooManyRequests:
		return "rate_limit"
	case status >= http.StatusInternalServerError:
		return "server_error"
	default:
		return ""
	}
}
