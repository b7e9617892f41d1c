// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client talks to the local control API of restraintd.
package client

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"
)

const (
	DefaultURL = "http://localhost:8081"

	// URLEnv is exported to every task by the daemon.
	URLEnv = "RSTRNT_URL"
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("server error: status=%d, message=%s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	http    *resty.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		klog.Warning("baseURL is empty, using default")
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// URLFromEnv returns the control URL exported to tasks, falling back to
// DefaultURL outside of a task.
func URLFromEnv() string {
	if v := os.Getenv(URLEnv); v != "" {
		return v
	}
	return DefaultURL
}

// ServerURL resolves the daemon address from the common CLI options: an
// explicit server wins, then a local port, then the environment.
func ServerURL(server string, port int) string {
	if server != "" {
		return server
	}
	if port > 0 {
		return fmt.Sprintf("http://localhost:%d", port)
	}
	return URLFromEnv()
}

func (c *Client) Run(ctx context.Context, recipeURL string) error {
	return c.post(ctx, "/run", RunRequest{RecipeURL: recipeURL})
}

func (c *Client) Abort(ctx context.Context, reason string) error {
	return c.post(ctx, "/abort", AbortRequest{Reason: reason})
}

func (c *Client) Cancel(ctx context.Context) error {
	return c.post(ctx, "/cancel", nil)
}

func (c *Client) AdjustWatchdog(ctx context.Context, seconds int64) error {
	return c.post(ctx, "/watchdog", WatchdogRequest{Seconds: seconds})
}

func (c *Client) ReportResult(ctx context.Context, req ResultRequest) error {
	return c.post(ctx, "/results", req)
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	var apiErr ErrorResponse
	r := c.http.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		r.SetBody(body)
	}
	if out != nil {
		r.SetResult(out)
	}

	resp, err := r.Execute(method, c.baseURL+path)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: apiErr.Message}
	}
	return nil
}
