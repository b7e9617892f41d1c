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
	"fmt"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/restraint-harness/restraint/internal/deps"
	"github.com/restraint-harness/restraint/internal/eventloop"
	"github.com/restraint-harness/restraint/internal/fetch"
	"github.com/restraint-harness/restraint/internal/harness"
	"github.com/restraint-harness/restraint/internal/recipe"
	"github.com/restraint-harness/restraint/internal/runtime"
	store "github.com/restraint-harness/restraint/internal/storage"
	"github.com/restraint-harness/restraint/internal/types"
)

const (
	DefaultUploadInterval = 15 * time.Second

	defaultAbortReason = "Aborted by rstrnt-abort"
)

type Options struct {
	// LogDir holds the task logs, one <recipe id>/<task id> directory each.
	LogDir string
	// PluginDir contains the completed.d plugin directory. Empty disables
	// plugins.
	PluginDir string
	// ControlURL is the address of the local control API exported to tasks.
	ControlURL     string
	UploadInterval time.Duration
	PluginTimeout  time.Duration
	// OnRecipeComplete is called on the event loop when a recipe finishes.
	OnRecipeComplete func(recipeID string, err error)
}

// Components are the collaborators of the driver.
type Components struct {
	Loop     *eventloop.Loop
	Store    store.StateStore
	Queue    harness.Enqueuer
	Source   recipe.Source
	Fetcher  fetch.Fetcher
	Packages deps.PackageInstaller
	Runner   runtime.Runner
}

// Driver runs the tasks of one recipe after the other. All of its state is
// owned by the event loop.
type Driver struct {
	opts      Options
	loop      *eventloop.Loop
	clock     clock.Clock
	store     store.StateStore
	queue     harness.Enqueuer
	source    recipe.Source
	fetcher   fetch.Fetcher
	packages  deps.PackageInstaller
	runner    runtime.Runner
	installer *deps.Installer

	baseCtx context.Context
	runCtx  context.Context
	cancel  context.CancelCauseFunc

	state   RecipeState
	url     string
	recipe  *types.Recipe
	current *taskRun
	summary []string

	trace func(taskID string, state types.TaskState)
}

var _ RecipeManager = &Driver{}

// NewDriver creates a driver instance.
func NewDriver(opts Options, c Components) (*Driver, error) {
	if c.Loop == nil {
		return nil, fmt.Errorf("event loop cannot be nil")
	}
	if c.Store == nil {
		return nil, fmt.Errorf("state store cannot be nil")
	}
	if c.Queue == nil {
		return nil, fmt.Errorf("delivery queue cannot be nil")
	}
	if c.Source == nil {
		return nil, fmt.Errorf("recipe source cannot be nil")
	}
	if c.Fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if c.Packages == nil {
		return nil, fmt.Errorf("package installer cannot be nil")
	}
	if c.Runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if opts.UploadInterval <= 0 {
		opts.UploadInterval = DefaultUploadInterval
	}
	if opts.PluginTimeout <= 0 {
		opts.PluginTimeout = DefaultPluginTimeout
	}

	return &Driver{
		opts:      opts,
		loop:      c.Loop,
		clock:     c.Loop.Clock(),
		store:     c.Store,
		queue:     c.Queue,
		source:    c.Source,
		fetcher:   c.Fetcher,
		packages:  c.Packages,
		runner:    c.Runner,
		installer: deps.NewInstaller(c.Packages, c.Fetcher, c.Loop.Post),
		baseCtx:   context.Background(),
		state:     RecipeStateIdle,
	}, nil
}

// call runs fn on the loop and returns its error.
func (d *Driver) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := d.loop.Call(ctx, func() { err = fn() }); cerr != nil {
		return cerr
	}
	return err
}

func (d *Driver) Run(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("recipe url cannot be empty")
	}
	return d.call(ctx, func() error { return d.run(url) })
}

func (d *Driver) Abort(ctx context.Context, reason string) error {
	if reason == "" {
		reason = defaultAbortReason
	}
	return d.call(ctx, func() error { return d.cancelRun(&types.AbortError{Reason: reason}) })
}

func (d *Driver) Cancel(ctx context.Context) error {
	return d.call(ctx, func() error { return d.cancelRun(types.ErrCancelled) })
}

func (d *Driver) AdjustWatchdog(ctx context.Context, seconds int64) error {
	if seconds <= 0 {
		return fmt.Errorf("watchdog seconds must be positive, got %d", seconds)
	}
	return d.call(ctx, func() error {
		r := d.current
		if r == nil || r.handle == nil {
			return fmt.Errorf("no task running: %w", types.ErrNotFound)
		}
		r.adjustWatchdog(seconds)
		return nil
	})
}

func (d *Driver) ReportResult(ctx context.Context, rep ResultReport) error {
	if rep.Result == types.ResultNone {
		return fmt.Errorf("result cannot be %s", rep.Result)
	}
	return d.call(ctx, func() error {
		r := d.current
		if r == nil || !acceptsResults(r.task.State) {
			return fmt.Errorf("no task running: %w", types.ErrNotFound)
		}
		path := rep.Path
		if path == "" {
			path = r.task.Name
		}
		r.logf("** Result: %s %s", rep.Result, path)
		d.reportResult(r.task, rep.Result, path, rep.Score, rep.Message)
		return nil
	})
}

// acceptsResults is true while the task command or its completion plugins
// run.
func acceptsResults(s types.TaskState) bool {
	return s == types.TaskStateRunning || s == types.TaskStateCompleted
}

func (d *Driver) Status(ctx context.Context) (*Status, error) {
	var s *Status
	if err := d.loop.Call(ctx, func() { s = d.status() }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start resumes the recipe recorded in the state store, if any. ctx bounds
// every recipe run; cancelling it aborts the active task.
func (d *Driver) Start(ctx context.Context) {
	d.loop.Post(func() {
		d.baseCtx = ctx
		url, ok, err := d.store.Get(store.RecipeSection, store.RecipeURLKey)
		if err != nil {
			klog.ErrorS(err, "failed to read active recipe")
			return
		}
		if !ok || url == "" {
			return
		}
		klog.InfoS("resuming recipe", "url", url)
		if err := d.run(url); err != nil {
			klog.ErrorS(err, "failed to resume recipe", "url", url)
		}
	})
}

// Stop releases the logs of the running task. The task record stays in the
// store so the next daemon process resumes it.
func (d *Driver) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.loop.Call(ctx, func() {
		if d.current != nil {
			d.current.detach()
			d.current = nil
		}
	})
	if err != nil {
		klog.ErrorS(err, "failed to stop recipe driver")
		return
	}
	klog.InfoS("recipe driver stopped")
}

func (d *Driver) run(url string) error {
	if d.state != RecipeStateIdle {
		return types.ErrBusy
	}
	if err := d.store.Set(store.RecipeSection, store.RecipeURLKey, url); err != nil {
		return fmt.Errorf("failed to persist recipe url: %w", err)
	}
	d.url = url
	d.recipe = nil
	d.summary = nil
	d.runCtx, d.cancel = context.WithCancelCause(d.baseCtx)
	d.fetchRecipe()
	return nil
}

func (d *Driver) cancelRun(cause error) error {
	if d.state == RecipeStateIdle || d.cancel == nil {
		return fmt.Errorf("no recipe running: %w", types.ErrNotFound)
	}
	klog.InfoS("cancelling recipe", "url", d.url, "cause", cause.Error())
	d.cancel(cause)
	return nil
}

func (d *Driver) fetchRecipe() {
	d.state = RecipeStateFetch
	klog.InfoS("fetching recipe", "url", d.url)

	ctx, url := d.runCtx, d.url
	go func() {
		rec, err := d.source.Load(ctx, url)
		d.loop.Post(func() { d.loaded(rec, err) })
	}()
}

func (d *Driver) loaded(rec *types.Recipe, err error) {
	if cause := context.Cause(d.runCtx); cause != nil {
		d.complete(cause)
		return
	}
	if err != nil {
		d.complete(fmt.Errorf("failed to load recipe %s: %w", d.url, err))
		return
	}

	d.state = RecipeStateParse
	if rec == nil || len(rec.Tasks) == 0 {
		d.complete(fmt.Errorf("recipe %s has no tasks", d.url))
		return
	}
	d.recipe = rec
	klog.InfoS("recipe loaded", "recipe", rec.ID, "tasks", len(rec.Tasks))

	d.state = RecipeStateRun
	d.startTask(0)
}

func (d *Driver) startTask(index int) {
	if index >= len(d.recipe.Tasks) {
		d.complete(nil)
		return
	}
	d.state = RecipeStateRunning
	task := d.recipe.Tasks[index]
	d.current = newTaskRun(d.runCtx, d, task, index, func() { d.taskDone(index) })
	d.loop.Post(d.current.step)
}

// taskDone selects the next task. A cancelled run stops here; the token is
// reset so the next recipe starts clean.
func (d *Driver) taskDone(index int) {
	d.current = nil
	if cause := context.Cause(d.runCtx); cause != nil {
		d.runCtx, d.cancel = context.WithCancelCause(d.baseCtx)
		d.complete(cause)
		return
	}
	d.startTask(index + 1)
}

func (d *Driver) complete(err error) {
	d.state = RecipeStateComplete
	id := ""
	if d.recipe != nil {
		id = d.recipe.ID
		failed := false
		for _, t := range d.recipe.Tasks {
			d.summary = append(d.summary, summaryLine(t))
			if (t.Err != nil && !errors.Is(t.Err, types.ErrCancelled)) || t.Result == types.ResultFail {
				failed = true
			}
		}
		if err == nil && failed {
			err = ErrTasksFailed
		}
	}
	for _, line := range d.summary {
		klog.InfoS(line, "recipe", id)
	}
	if err != nil {
		klog.ErrorS(err, "recipe finished with errors", "recipe", id, "url", d.url)
	} else {
		klog.InfoS("recipe completed", "recipe", id, "url", d.url)
	}

	if err := d.store.DeleteKey(store.RecipeSection, store.RecipeURLKey); err != nil {
		klog.ErrorS(err, "failed to clear active recipe")
	}
	if d.cancel != nil {
		d.cancel(nil)
		d.cancel = nil
	}
	d.state = RecipeStateIdle
	if d.opts.OnRecipeComplete != nil {
		d.opts.OnRecipeComplete(id, err)
	}
}

func summaryLine(t *types.Task) string {
	status := t.StatusString()
	if status == "" {
		status = "Not Run"
	}
	return fmt.Sprintf("*  Task: %12s [%-50s] Result: %s Status: %s", t.ID, t.Name, t.Result, status)
}

// reportResult records result on the task and sends it to the harness.
// The task keeps the worst result it has seen.
func (d *Driver) reportResult(t *types.Task, result types.Result, path string, score int, message string) {
	if result > t.Result {
		t.Result = result
	}
	t.ResultReported = true
	if t.URI != "" {
		d.queue.Enqueue(harness.ResultRequest(t, result, path, score, message), nil)
	}
}

func (d *Driver) status() *Status {
	s := &Status{State: d.state, RecipeURL: d.url, Summary: append([]string(nil), d.summary...)}
	if d.recipe != nil {
		s.RecipeID = d.recipe.ID
		for _, t := range d.recipe.Tasks {
			s.Tasks = append(s.Tasks, taskStatus(t))
		}
	}
	if d.current != nil {
		cur := taskStatus(d.current.task)
		s.Current = &cur
	}
	return s
}
