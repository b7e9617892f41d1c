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

package manager

import (
	"context"
	"errors"
	"time"

	"github.com/restraint-harness/restraint/internal/types"
)

// ErrTasksFailed is the recipe outcome when at least one task ended with an
// error or a FAIL result.
var ErrTasksFailed = errors.New("one or more tasks failed")

//go:generate mockgen -destination=../server/mock_recipe_manager_test.go -package=server github.com/restraint-harness/restraint/internal/manager RecipeManager

// RecipeManager runs one recipe at a time. It is safe for concurrent use;
// every call is serialized onto the event loop.
type RecipeManager interface {
	// Run starts the recipe at url. It returns types.ErrBusy while another
	// recipe is active.
	Run(ctx context.Context, url string) error
	// Abort stops the active recipe and reports the running task as aborted
	// with reason.
	Abort(ctx context.Context, reason string) error
	// Cancel stops the active recipe without marking the task as failed.
	Cancel(ctx context.Context) error
	// AdjustWatchdog resets the remaining time of the running task to
	// seconds and moves the external watchdog accordingly.
	AdjustWatchdog(ctx context.Context, seconds int64) error
	// ReportResult forwards a result reported by the running task.
	ReportResult(ctx context.Context, report ResultReport) error

	Status(ctx context.Context) (*Status, error)

	// Start resumes a recipe left active by a previous daemon process.
	Start(ctx context.Context)

	Stop()
}

// ResultReport is one result posted by a task through the control API.
type ResultReport struct {
	Result  types.Result
	Path    string
	Score   int
	Message string
}

type RecipeState string

const (
	RecipeStateIdle     RecipeState = "Idle"
	RecipeStateFetch    RecipeState = "Fetch"
	RecipeStateParse    RecipeState = "Parse"
	RecipeStateRun      RecipeState = "Run"
	RecipeStateRunning  RecipeState = "Running"
	RecipeStateComplete RecipeState = "Complete"
)

// Status is a snapshot of the driver.
type Status struct {
	State     RecipeState
	RecipeURL string
	RecipeID  string
	Current   *TaskStatus
	Tasks     []TaskStatus
	// Summary holds the result lines of the last completed recipe.
	Summary []string
}

type TaskStatus struct {
	ID            string
	Name          string
	State         types.TaskState
	Status        string
	Result        types.Result
	Error         string
	RemainingTime int64
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

func taskStatus(t *types.Task) TaskStatus {
	s := TaskStatus{
		ID:            t.ID,
		Name:          t.Name,
		State:         t.State,
		Status:        t.StatusString(),
		Result:        t.Result,
		RemainingTime: t.RemainingTime,
		StartedAt:     t.StartedAt,
		FinishedAt:    t.FinishedAt,
	}
	if t.Err != nil {
		s.Error = t.Err.Error()
	}
	return s
}
