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

package recipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/restraint-harness/restraint/internal/types"
)

// DefaultBackoff bounds recipe download retries.
var DefaultBackoff = wait.Backoff{
	Duration: 2 * time.Second,
	Factor:   2,
	Jitter:   0.1,
	Steps:    5,
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// HTTPSource downloads recipes over HTTP, or reads them from file:// URLs.
type HTTPSource struct {
	client   *resty.Client
	basePath string
	backoff  wait.Backoff
}

func NewHTTPSource(basePath string, timeout time.Duration, backoff wait.Backoff) *HTTPSource {
	c := resty.New()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPSource{client: c, basePath: basePath, backoff: backoff}
}

// Load downloads and parses the recipe, retrying transient failures.
func (s *HTTPSource) Load(ctx context.Context, rawURL string) (*types.Recipe, error) {
	var (
		rec     *types.Recipe
		lastErr error
		attempt int
	)
	err := wait.ExponentialBackoffWithContext(ctx, s.backoff, func(ctx context.Context) (bool, error) {
		attempt++
		r, err := s.fetch(ctx, rawURL)
		if err == nil {
			rec = r
			return true, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return false, perm.err
		}
		lastErr = err
		klog.ErrorS(err, "failed to load recipe, retrying", "url", rawURL, "attempt", attempt)
		return false, nil
	})
	if err != nil {
		if lastErr != nil && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("failed to load recipe after %d attempts: %w", attempt, lastErr)
		}
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	klog.InfoS("recipe loaded", "url", rawURL, "recipe", rec.ID, "tasks", len(rec.Tasks))
	return rec, nil
}

// Refresh makes a single attempt.
func (s *HTTPSource) Refresh(ctx context.Context, rawURL string) (*types.Recipe, error) {
	rec, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh recipe: %w", err)
	}
	return rec, nil
}

func (s *HTTPSource) fetch(ctx context.Context, rawURL string) (*types.Recipe, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("invalid recipe url %q: %w", rawURL, err)}
	}

	var body []byte
	if u.Scheme == "file" {
		if body, err = os.ReadFile(u.Path); err != nil {
			return nil, &permanentError{fmt.Errorf("failed to read recipe: %w", err)}
		}
	} else {
		resp, err := s.client.R().SetContext(ctx).Get(rawURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download recipe: %w", err)
		}
		switch code := resp.StatusCode(); {
		case code >= 400 && code < 500:
			return nil, &permanentError{fmt.Errorf("failed to download recipe: status %d", code)}
		case code >= 300:
			return nil, fmt.Errorf("failed to download recipe: status %d", code)
		}
		body = resp.Body()
	}

	rec, err := Parse(bytes.NewReader(body), rawURL, s.basePath)
	if err != nil {
		return nil, &permanentError{err}
	}
	return rec, nil
}
