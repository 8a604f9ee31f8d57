// Package webhook provides the reference task kind: a task whose Data is a
// JSON-encoded HTTP request description, executed by firing that request.
// It is the one concrete chrono.Handler implementation the program ships
// with, grounded on the reference project's job executor.
package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/neofinancial/chrono/internal/chrono"
	"github.com/neofinancial/chrono/internal/requestid"
)

// Kind is the task kind registered for webhook tasks.
const Kind = "webhook"

// Payload is the JSON shape expected in Task.Data.
type Payload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Executor fires the HTTP request described by a task's payload. A non-2xx
// response is treated as a handler failure so the processor retries it.
type Executor struct {
	client *http.Client
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		logger: logger.With("component", "webhook_executor"),
	}
}

// Handler adapts Run to chrono.Handler so it can be registered directly
// with Chrono.RegisterTaskHandler.
func (e *Executor) Handler() chrono.Handler {
	return func(ctx context.Context, task *chrono.Task) error {
		return e.Run(ctx, task)
	}
}

func (e *Executor) Run(ctx context.Context, task *chrono.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Data, &payload); err != nil {
		return fmt.Errorf("webhook: decode payload: %w", err)
	}
	if payload.Method == "" {
		payload.Method = http.MethodPost
	}

	var bodyReader io.Reader
	if payload.Body != "" {
		bodyReader = bytes.NewReader([]byte(payload.Body))
	}

	req, err := http.NewRequestWithContext(ctx, payload.Method, payload.URL, bodyReader)
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	for k, v := range payload.Headers {
		req.Header.Set(k, v)
	}

	reqID := requestid.New()
	req.Header.Set("X-Request-ID", reqID)
	ctx = requestid.WithRequestID(ctx, reqID)

	start := time.Now()
	e.logger.InfoContext(ctx, "sending webhook request", "task_id", task.ID, "method", payload.Method, "url", payload.URL)

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.ErrorContext(ctx, "webhook request failed", "task_id", task.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("webhook: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	e.logger.InfoContext(ctx, "received webhook response", "task_id", task.ID, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
