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

package client

import "time"

type RunRequest struct {
	RecipeURL string `json:"recipe_url"`
}

type AbortRequest struct {
	Reason string `json:"reason,omitempty"`
}

type WatchdogRequest struct {
	Seconds int64 `json:"seconds"`
}

// ResultRequest is a result reported by the running task. An empty Path
// defaults to the task name.
type ResultRequest struct {
	Result  string `json:"result"`
	Path    string `json:"path,omitempty"`
	Score   int    `json:"score,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status describes the recipe the daemon is running, or the last one it
// completed.
type Status struct {
	State     string       `json:"state"`
	RecipeURL string       `json:"recipe_url,omitempty"`
	RecipeID  string       `json:"recipe_id,omitempty"`
	Current   *TaskStatus  `json:"current,omitempty"`
	Tasks     []TaskStatus `json:"tasks,omitempty"`
	Summary   []string     `json:"summary,omitempty"`
}

type TaskStatus struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	State         string     `json:"state"`
	Status        string     `json:"status,omitempty"`
	Result        string     `json:"result,omitempty"`
	Error         string     `json:"error,omitempty"`
	RemainingTime int64      `json:"remaining_time"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
