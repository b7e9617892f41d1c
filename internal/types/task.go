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

package types

import (
	"fmt"
	"strings"
	"time"
)

type TaskState string

const (
	TaskStateIdle          TaskState = "Idle"
	TaskStateFetch         TaskState = "Fetch"
	TaskStateMetadataParse TaskState = "MetadataParse"
	TaskStateRefreshRoles  TaskState = "RefreshRoles"
	TaskStateEnv           TaskState = "Env"
	TaskStateWatchdog      TaskState = "Watchdog"
	TaskStateDependencies  TaskState = "Dependencies"
	TaskStateRun           TaskState = "Run"
	TaskStateRunning       TaskState = "Running"
	TaskStateComplete      TaskState = "Complete"
	TaskStateCompleted     TaskState = "Completed"
	TaskStateNext          TaskState = "Next"
)

// Status strings understood by the harness server.
const (
	StatusRunning   = "Running"
	StatusCompleted = "Completed"
	StatusAborted   = "Aborted"
)

// Result is the harness result code of a task.
type Result int

const (
	ResultNone Result = iota
	ResultPass
	ResultWarn
	ResultFail
)

func (r Result) String() string {
	switch r {
	case ResultPass:
		return "PASS"
	case ResultWarn:
		return "WARN"
	case ResultFail:
		return "FAIL"
	default:
		return "NONE"
	}
}

// ParseResult accepts PASS, WARN or FAIL in any case.
func ParseResult(s string) (Result, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PASS":
		return ResultPass, nil
	case "WARN":
		return ResultWarn, nil
	case "FAIL":
		return ResultFail, nil
	}
	return ResultNone, fmt.Errorf("unknown result %q", s)
}

const (
	// RemainingTimeUnset means the metadata max_time applies.
	RemainingTimeUnset int64 = -1

	DefaultMaxTime    int64 = 600
	DefaultEntryPoint       = "make run"

	// ReservedEnvSlots are appended empty to every built environment for
	// values bound late by plugins.
	ReservedEnvSlots = 4
)

// FetchDescriptor says where a task payload comes from. It is either a
// PackageFetch or a URLFetch, never both.
type FetchDescriptor interface {
	fetchDescriptor()
	String() string
}

// PackageFetch installs the task as a package.
type PackageFetch struct {
	Name string
}

func (PackageFetch) fetchDescriptor() {}

func (p PackageFetch) String() string { return "package:" + p.Name }

// URLFetch retrieves the task from a repository or archive URL.
type URLFetch struct {
	URL string
}

func (URLFetch) fetchDescriptor() {}

func (u URLFetch) String() string { return u.URL }

// Param is one name/value pair from the recipe.
type Param struct {
	Name  string
	Value string
}

// Role is a named group of peer hostnames.
type Role struct {
	Name  string
	Hosts []string
}

// MetaData is the immutable descriptor loaded from a task's metadata or
// testinfo.desc file.
type MetaData struct {
	Name             string
	EntryPoint       string
	Dependencies     []string
	SoftDependencies []string
	RepoDependencies []string
	Envvars          []string
	MaxTime          int64
	NoLocalWatchdog  bool
	UsePty           bool
}

// Recipe is the job description for one host.
type Recipe struct {
	ID          string
	JobID       string
	RecipeSetID string
	OSDistro    string
	OSMajor     string
	OSVariant   string
	OSArch      string
	Owner       string
	BasePath    string
	URI         string
	Tasks       []*Task
	Params      []Param
	Roles       []Role
}

// Task is one step of a recipe. It is owned by the recipe driver and only
// touched from the event loop.
type Task struct {
	ID          string
	Recipe      *Recipe
	URI         string
	Name        string
	Path        string
	Fetch       FetchDescriptor
	KeepChanges bool
	Params      []Param
	Roles       []Role
	Order       int

	Started       bool
	Finished      bool
	LocalWatchdog bool
	RHTSCompat    bool
	RemainingTime int64
	Reboots       int64

	Env      []string
	State    TaskState
	Err      error
	Offsets  map[string]int64
	Metadata *MetaData

	Result         Result
	ResultReported bool
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// NewTask returns a task in the Idle state with no persisted progress.
func NewTask(id string, recipe *Recipe, fetch FetchDescriptor) *Task {
	t := &Task{
		ID:            id,
		Recipe:        recipe,
		Fetch:         fetch,
		RemainingTime: RemainingTimeUnset,
		State:         TaskStateIdle,
		Offsets:       make(map[string]int64),
	}
	if recipe != nil && recipe.URI != "" {
		t.URI = recipe.URI + "tasks/" + id + "/"
	}
	return t
}

// StatusString is the status reported to the harness for a finished task.
func (t *Task) StatusString() string {
	if t.Err != nil {
		return StatusAborted
	}
	if t.Finished {
		return StatusCompleted
	}
	if t.Started {
		return StatusRunning
	}
	return ""
}
