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

package harness

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restraint-harness/restraint/internal/types"
)

func testTask(uri string) *types.Task {
	recipe := &types.Recipe{ID: "1", URI: uri + "/recipes/1/"}
	return types.NewTask("10", recipe, types.URLFetch{URL: "http://example.com/t.tgz"})
}

func TestClient_SendsFormRequests(t *testing.T) {
	type call struct {
		method, path string
		form         map[string]string
	}
	calls := make(chan call, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		calls <- call{method: r.Method, path: r.URL.Path, form: form}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	task := testTask(srv.URL)

	_, err := c.Send(context.Background(), StatusRequest(task, types.StatusRunning, nil))
	require.NoError(t, err)
	got := <-calls
	assert.Equal(t, map[string]string{"status": "Running", "version": Version}, got.form)

	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	task.StartedAt, task.FinishedAt = &started, &finished
	code, err := c.Send(context.Background(), StatusRequest(task, types.StatusAborted, errors.New("boom")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)
	got = <-calls
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/recipes/1/tasks/10/status", got.path)
	assert.Equal(t, map[string]string{
		"status":     "Aborted",
		"message":    "boom",
		"version":    Version,
		"start_time": "2025-03-01T10:00:00Z",
		"end_time":   "2025-03-01T10:01:30Z",
	}, got.form)

	_, err = c.Send(context.Background(), ResultRequest(task, types.ResultPass, "/distribution/check", 0, ""))
	require.NoError(t, err)
	got = <-calls
	assert.Equal(t, "/recipes/1/tasks/10/results/", got.path)
	assert.Equal(t, map[string]string{"result": "PASS", "path": "/distribution/check", "score": "0"}, got.form)

	_, err = c.Send(context.Background(), WatchdogRequest(task.Recipe.URI, 600))
	require.NoError(t, err)
	got = <-calls
	assert.Equal(t, "/recipes/1/watchdog", got.path)
	assert.Equal(t, "900", got.form["seconds"])
}

func TestClient_SendsLogChunk(t *testing.T) {
	var (
		gotRange string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/recipes/1/tasks/10/logs/taskout.log", r.URL.Path)
		gotRange = r.Header.Get("Content-Range")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer srv.Close()

	c := NewClient(0)
	task := testTask(srv.URL)
	code, err := c.Send(context.Background(), LogChunkRequest(task, "taskout.log", []byte("hello"), 10, 20))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bytes 10-14/20", gotRange)
	assert.Equal(t, "hello", gotBody)
}

func TestClient_ReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	code, err := c.Send(context.Background(), WatchdogRequest(srv.URL+"/", 1))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	srv.Close()
	_, err = c.Send(context.Background(), WatchdogRequest(srv.URL+"/", 1))
	assert.Error(t, err)
}
