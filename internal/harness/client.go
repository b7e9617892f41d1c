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

// Package harness talks to the lab harness server: status, results, the
// external watchdog and log uploads.
package harness

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"

	"github.com/restraint-harness/restraint/internal/delivery"
	"github.com/restraint-harness/restraint/internal/types"
)

// EWDTime is added to the local budget when arming the external watchdog so
// the server never gives up on a host whose local watchdog is still running.
const EWDTime int64 = 300

// Client sends delivery requests with resty. It implements delivery.Sender.
type Client struct {
	http *resty.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "restraintd")
	return &Client{http: c}
}

func (c *Client) Send(ctx context.Context, req *delivery.Request) (int, error) {
	if req == nil {
		return 0, fmt.Errorf("request cannot be nil")
	}

	r := c.http.R().SetContext(ctx)
	for k, v := range req.Header {
		r.SetHeader(k, v)
	}
	if req.Form != nil {
		r.SetFormDataFromValues(req.Form)
	} else if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	klog.V(2).InfoS("harness response", "method", req.Method, "url", req.URL, "status", resp.StatusCode())
	return resp.StatusCode(), nil
}

// Version is the daemon version sent with every task status.
var Version = "0.1.0"

// StatusRequest reports Running, Completed or Aborted for a task with its
// start and end times. An error is carried in the message field.
func StatusRequest(task *types.Task, status string, taskErr error) *delivery.Request {
	form := url.Values{}
	form.Set("status", status)
	form.Set("version", Version)
	if task.StartedAt != nil {
		form.Set("start_time", task.StartedAt.UTC().Format(time.RFC3339))
	}
	if task.FinishedAt != nil {
		form.Set("end_time", task.FinishedAt.UTC().Format(time.RFC3339))
	}
	if taskErr != nil {
		form.Set("message", taskErr.Error())
	}
	return &delivery.Request{
		Method: http.MethodPost,
		URL:    task.URI + "status",
		Form:   form,
	}
}

// ResultRequest reports one result of a task.
func ResultRequest(task *types.Task, result types.Result, path string, score int, message string) *delivery.Request {
	form := url.Values{}
	form.Set("result", result.String())
	form.Set("path", path)
	form.Set("score", strconv.Itoa(score))
	if message != "" {
		form.Set("message", message)
	}
	return &delivery.Request{
		Method: http.MethodPost,
		URL:    task.URI + "results/",
		Form:   form,
	}
}

// WatchdogRequest moves the external watchdog to remaining+EWDTime seconds
// from now.
func WatchdogRequest(recipeURI string, remaining int64) *delivery.Request {
	form := url.Values{}
	form.Set("seconds", strconv.FormatInt(remaining+EWDTime, 10))
	return &delivery.Request{
		Method: http.MethodPost,
		URL:    recipeURI + "watchdog",
		Form:   form,
	}
}

// LogChunkRequest uploads data as bytes [offset, offset+len(data)) of a log
// whose current size is total.
func LogChunkRequest(task *types.Task, name string, data []byte, offset, total int64) *delivery.Request {
	return &delivery.Request{
		Method: http.MethodPut,
		URL:    task.URI + "logs/" + name,
		Body:   data,
		Header: map[string]string{
			"Content-Type":  "text/plain",
			"Content-Range": fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(data))-1, total),
		},
	}
}
