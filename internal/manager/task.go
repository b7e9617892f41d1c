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
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/restraint-harness/restraint/internal/deps"
	"github.com/restraint-harness/restraint/internal/harness"
	"github.com/restraint-harness/restraint/internal/logging"
	"github.com/restraint-harness/restraint/internal/metadata"
	"github.com/restraint-harness/restraint/internal/runtime"
	store "github.com/restraint-harness/restraint/internal/storage"
	"github.com/restraint-harness/restraint/internal/types"
)

const (
	// heartbeatLayout matches strftime("%a %b %d %H:%M:%S %Y").
	heartbeatLayout = "Mon Jan 02 15:04:05 2006"

	generateTimeout = 5 * time.Minute

	localWatchdogResult = "/10_localwatchdog"
)

// taskRun moves one task through its states. Every method runs on the
// event loop; blocking work is done in goroutines that post back.
type taskRun struct {
	d     *Driver
	task  *types.Task
	index int
	ctx   context.Context
	done  func()

	log      *logging.TaskLog
	uploader *harness.Uploader
	handle   runtime.Handle

	// status and message are the final report, sent once the completion
	// plugins have run.
	status  string
	message error
	// detached runs ignore every callback still in flight.
	detached bool
}

func newTaskRun(ctx context.Context, d *Driver, task *types.Task, index int, done func()) *taskRun {
	return &taskRun{d: d, task: task, index: index, ctx: ctx, done: done}
}

// step dispatches on the current state. A cancelled run is diverted to
// Complete from any state that has not reached it yet.
func (r *taskRun) step() {
	if r.detached {
		return
	}
	t := r.task
	if r.ctx.Err() != nil && beforeComplete(t.State) {
		t.State = types.TaskStateComplete
	}
	if r.d.trace != nil {
		r.d.trace(t.ID, t.State)
	}
	klog.V(2).InfoS("task state", "task", t.ID, "state", t.State)

	switch t.State {
	case types.TaskStateIdle:
		r.idle()
	case types.TaskStateFetch:
		r.fetch()
	case types.TaskStateMetadataParse:
		r.parseMetadata()
	case types.TaskStateRefreshRoles:
		r.refreshRoles()
	case types.TaskStateEnv:
		r.buildEnv()
	case types.TaskStateWatchdog:
		r.armWatchdog()
	case types.TaskStateDependencies:
		r.installDependencies()
	case types.TaskStateRun:
		r.run()
	case types.TaskStateComplete:
		r.complete()
	case types.TaskStateCompleted:
		r.completed()
	case types.TaskStateNext:
		r.done()
	}
}

func beforeComplete(s types.TaskState) bool {
	switch s {
	case types.TaskStateComplete, types.TaskStateCompleted, types.TaskStateNext:
		return false
	}
	return true
}

func (r *taskRun) advance(next types.TaskState) {
	r.task.State = next
	r.d.loop.Post(r.step)
}

// fail attaches err and moves to Complete. Errors caused by cancellation
// are dropped so Complete can classify the cancellation itself.
func (r *taskRun) fail(err error) {
	if r.ctx.Err() == nil {
		r.task.Err = err
	}
	r.advance(types.TaskStateComplete)
}

func (r *taskRun) async(work func() error, done func(error)) {
	go func() {
		err := work()
		r.d.loop.Post(func() { done(err) })
	}()
}

func (r *taskRun) logf(format string, args ...any) {
	if r.log == nil {
		klog.InfoS(fmt.Sprintf(format, args...), "task", r.task.ID)
		return
	}
	r.log.Printf(format, args...)
}

func (r *taskRun) output(chunk []byte) {
	if r.detached || r.log == nil {
		return
	}
	if _, err := r.log.Write(chunk); err != nil {
		klog.ErrorS(err, "failed to write task output", "task", r.task.ID)
	}
}

func (r *taskRun) idle() {
	t := r.task
	rec, err := store.LoadTaskRecord(r.d.store, t.ID)
	if err != nil {
		klog.ErrorS(err, "failed to load task record, starting from scratch", "task", t.ID)
		rec = &store.TaskRecord{RemainingTime: types.RemainingTimeUnset}
	}
	t.Reboots = rec.Reboots
	t.Started = t.Started || rec.Started
	t.Finished = t.Finished || rec.Finished
	t.LocalWatchdog = rec.LocalWatchdog
	if rec.RemainingTime != types.RemainingTimeUnset {
		t.RemainingTime = rec.RemainingTime
	}
	for name, off := range rec.Offsets {
		t.Offsets[name] = off
	}

	if t.Finished {
		klog.InfoS("task already finished, skipping", "task", t.ID)
		r.clearRecord()
		r.advance(types.TaskStateNext)
		return
	}

	r.openLog()
	switch {
	case t.LocalWatchdog:
		r.logf("** Continuing task: %s [%s]", t.ID, t.Path)
		t.Err = types.ErrLocalWatchdog
		r.advance(types.TaskStateComplete)
	case t.Started:
		r.logf("** Continuing task: %s [%s]", t.ID, t.Path)
		r.advance(types.TaskStateMetadataParse)
	default:
		r.logf("** Fetching task: %s [%s]", t.ID, t.Path)
		r.advance(types.TaskStateFetch)
	}
}

func (r *taskRun) openLog() {
	t := r.task
	dir := filepath.Join(r.d.opts.LogDir, t.Recipe.ID, t.ID)
	log, err := logging.OpenTaskLog(dir, t.ID)
	if err != nil {
		klog.ErrorS(err, "failed to open task logs", "task", t.ID, "dir", dir)
		return
	}
	r.log = log
	if t.URI == "" {
		return
	}
	r.uploader = harness.NewUploader(t, r.d.queue, r.d.store, r.d.loop, r.d.opts.UploadInterval)
	r.uploader.Add(logging.OutputLog, log.OutputPath())
	r.uploader.Add(logging.HarnessLog, log.HarnessPath())
	r.uploader.Start()
}

func (r *taskRun) fetch() {
	t := r.task
	ctx := r.ctx
	var work func() error

	switch f := t.Fetch.(type) {
	case types.URLFetch:
		work = func() error {
			matched, _, err := r.d.fetcher.Fetch(ctx, f.URL, t.Path, t.KeepChanges, func(path string) {
				klog.V(3).InfoS("extracted", "task", t.ID, "path", path)
			})
			if err != nil {
				return &types.FetchError{URL: f.URL, Err: err}
			}
			klog.V(1).InfoS("task fetched", "task", t.ID, "url", f.URL, "entries", matched)
			return nil
		}
	case types.PackageFetch:
		work = func() error {
			code, err := r.d.packages.Install(ctx, []string{f.Name}, r.output)
			if err != nil {
				return fmt.Errorf("failed to install task package %s: %w", f.Name, err)
			}
			if code != 0 {
				return &types.DependencyError{Packages: []string{f.Name}, ExitCode: code}
			}
			return nil
		}
	default:
		r.fail(fmt.Errorf("task %s has no fetch method", t.ID))
		return
	}

	r.async(work, func(err error) {
		if err != nil {
			r.fail(err)
			return
		}
		r.advance(types.TaskStateMetadataParse)
	})
}

func (r *taskRun) parseMetadata() {
	t := r.task
	t.RHTSCompat = metadata.IsCompat(t.Path)
	if !t.RHTSCompat || metadata.HasTestinfo(t.Path) {
		r.loadMetadata()
		return
	}

	args, err := metadata.GenerateCommand(t.Path)
	if err != nil {
		r.fail(err)
		return
	}
	r.logf("** Generating testinfo.desc")
	r.d.runner.Run(r.ctx, runtime.Command{
		Args:    args,
		Env:     []string{"HOME=" + defaultHome, "LANG=" + defaultLang, "PATH=" + defaultPath},
		Dir:     t.Path,
		Pipe:    true,
		MaxTime: generateTimeout,
	}, runtime.Hooks{
		OnOutput: r.output,
		OnExit: func(status runtime.ExitStatus) {
			switch {
			case status.Err != nil:
				r.fail(fmt.Errorf("failed to generate %s: %w", metadata.TestinfoFile, status.Err))
			case status.ExitCode != 0:
				r.fail(fmt.Errorf("failed to generate %s: %w", metadata.TestinfoFile,
					&types.ExitError{Command: strings.Join(args, " "), ExitCode: status.ExitCode}))
			default:
				r.loadMetadata()
			}
		},
	})
}

func (r *taskRun) loadMetadata() {
	t := r.task
	r.logf("** Parsing metadata")
	opts := metadata.Options{OSMajor: t.Recipe.OSMajor}
	if t.RemainingTime != types.RemainingTimeUnset {
		opts.MaxTime = t.RemainingTime
	}
	md, err := metadata.Load(t.Path, t.RHTSCompat, opts)
	if err != nil {
		r.fail(err)
		return
	}
	t.Metadata = md
	if t.Name == "" {
		t.Name = md.Name
	}
	r.advance(types.TaskStateRefreshRoles)
}

// refreshRoles picks up peers assigned after the recipe started. A failure
// keeps the current bindings.
func (r *taskRun) refreshRoles() {
	url := r.d.url
	if url == "" {
		r.advance(types.TaskStateEnv)
		return
	}
	var fresh *types.Recipe
	ctx := r.ctx
	r.async(func() error {
		var err error
		fresh, err = r.d.source.Refresh(ctx, url)
		return err
	}, func(err error) {
		if err != nil {
			klog.ErrorS(err, "failed to refresh roles, keeping current bindings", "task", r.task.ID)
		} else {
			r.applyRefresh(fresh)
		}
		r.advance(types.TaskStateEnv)
	})
}

func (r *taskRun) applyRefresh(fresh *types.Recipe) {
	if fresh == nil {
		return
	}
	t := r.task
	t.Recipe.Roles = fresh.Roles
	t.Recipe.Params = fresh.Params
	for _, ft := range fresh.Tasks {
		if ft.ID == t.ID {
			t.Roles = ft.Roles
			t.Params = ft.Params
			break
		}
	}
}

func (r *taskRun) buildEnv() {
	r.logf("** Updating env vars")
	r.task.Env = BuildEnv(r.task, r.index, r.d.opts.ControlURL)
	r.advance(types.TaskStateWatchdog)
}

func (r *taskRun) armWatchdog() {
	t := r.task
	if !t.Started {
		r.logf("** Updating watchdog")
		if t.Recipe.URI != "" {
			r.d.queue.Enqueue(harness.WatchdogRequest(t.Recipe.URI, t.Metadata.MaxTime), nil)
		}
	}
	r.advance(types.TaskStateDependencies)
}

// installDependencies is skipped for a resumed task, which installed them
// before it first ran.
func (r *taskRun) installDependencies() {
	t := r.task
	if t.Started {
		r.advance(types.TaskStateRun)
		return
	}
	md := t.Metadata
	req := deps.Request{
		TaskID:              t.ID,
		Dependencies:        md.Dependencies,
		SoftDependencies:    md.SoftDependencies,
		RepoDependencies:    md.RepoDependencies,
		BasePath:            t.Recipe.BasePath,
		OSMajor:             t.Recipe.OSMajor,
		KeepChanges:         t.KeepChanges,
		IgnoreFailedInstall: t.RHTSCompat,
	}
	if f, ok := t.Fetch.(types.URLFetch); ok {
		req.TaskURL = f.URL
	}
	r.d.installer.Install(r.ctx, req, r.output, func(err error) {
		if err != nil {
			r.fail(fmt.Errorf("failed to install dependencies: %w", err))
			return
		}
		r.advance(types.TaskStateRun)
	})
}

func (r *taskRun) run() {
	t := r.task
	md := t.Metadata
	r.logf("** Running task: %s [%s]", t.ID, t.Name)
	now := r.d.clock.Now()
	t.StartedAt = &now
	if t.URI != "" {
		r.d.queue.Enqueue(harness.StatusRequest(t, types.StatusRunning, nil), nil)
	}

	t.Started = true
	if err := store.SetBool(r.d.store, t.ID, store.KeyStarted, true); err != nil {
		klog.ErrorS(err, "failed to persist started flag", "task", t.ID)
	}
	if err := store.SetInt64(r.d.store, t.ID, store.KeyReboots, t.Reboots+1); err != nil {
		klog.ErrorS(err, "failed to persist reboot count", "task", t.ID)
	}

	maxTime := time.Duration(md.MaxTime) * time.Second
	if md.NoLocalWatchdog {
		maxTime = 0
	}
	t.State = types.TaskStateRunning
	r.handle = r.d.runner.Run(r.ctx, runtime.Command{
		Args:    []string{"sh", "-l", "-c", md.EntryPoint},
		Env:     t.Env,
		Dir:     t.Path,
		UsePty:  md.UsePty,
		MaxTime: maxTime,
	}, runtime.Hooks{
		OnOutput:    r.output,
		OnExit:      r.exited,
		OnHeartbeat: r.heartbeat,
	})
}

func (r *taskRun) heartbeat(remaining time.Duration, expiry time.Time) {
	if r.detached {
		return
	}
	t := r.task
	now := r.d.clock.Now().Format(heartbeatLayout)
	if t.Metadata != nil && t.Metadata.NoLocalWatchdog {
		r.logf("*** Current Time: %s Localwatchdog at: disabled", now)
		return
	}
	t.RemainingTime = int64(remaining / time.Second)
	if err := store.SetInt64(r.d.store, t.ID, store.KeyRemainingTime, t.RemainingTime); err != nil {
		klog.ErrorS(err, "failed to persist remaining time", "task", t.ID)
	}
	r.logf("*** Current Time: %s Localwatchdog at: %s", now, expiry.Format(heartbeatLayout))
}

// exited classifies the exit of the task command.
func (r *taskRun) exited(status runtime.ExitStatus) {
	if r.detached {
		return
	}
	t := r.task
	r.handle = nil
	if r.ctx.Err() != nil {
		r.advance(types.TaskStateComplete)
		return
	}

	switch {
	case status.LocalWatchdog:
		t.LocalWatchdog = true
		if err := store.SetBool(r.d.store, t.ID, store.KeyLocalWatchdog, true); err != nil {
			klog.ErrorS(err, "failed to persist local watchdog flag", "task", t.ID)
		}
		r.d.reportResult(t, types.ResultWarn, localWatchdogResult, 0, "")
		t.Err = types.ErrLocalWatchdog
	case status.Err != nil:
		t.Err = fmt.Errorf("task %s failed to run: %w", t.ID, status.Err)
	case status.ExitCode == 0:
		if !t.ResultReported {
			r.d.reportResult(t, types.ResultPass, t.Name, 0, "")
		}
	case t.RHTSCompat:
		t.Err = &types.ExitError{Command: t.Metadata.EntryPoint, ExitCode: status.ExitCode}
	default:
		r.d.reportResult(t, types.ResultFail, t.Name, 0,
			fmt.Sprintf("Command returned non-zero %d", status.ExitCode))
	}
	r.advance(types.TaskStateComplete)
}

func (r *taskRun) adjustWatchdog(seconds int64) {
	t := r.task
	r.handle.AdjustWatchdog(time.Duration(seconds) * time.Second)
	t.RemainingTime = seconds
	if err := store.SetInt64(r.d.store, t.ID, store.KeyRemainingTime, seconds); err != nil {
		klog.ErrorS(err, "failed to persist remaining time", "task", t.ID)
	}
	if t.Recipe.URI != "" {
		r.d.queue.Enqueue(harness.WatchdogRequest(t.Recipe.URI, seconds), nil)
	}
	r.logf("** Watchdog adjusted to %d seconds", seconds)
}

// complete settles the final status. A cancellation carrying an abort
// reason becomes the task error; a plain cancel only marks the task
// cancelled.
func (r *taskRun) complete() {
	t := r.task
	if cause := context.Cause(r.ctx); cause != nil {
		var abort *types.AbortError
		if errors.As(cause, &abort) {
			t.Err = abort
		} else if t.Err == nil {
			t.Err = types.ErrCancelled
		}
	}

	now := r.d.clock.Now()
	t.FinishedAt = &now
	status, message := types.StatusCompleted, error(nil)
	switch {
	case errors.Is(t.Err, types.ErrCancelled):
		r.logf("** Task cancelled")
		status = types.StatusAborted
	case t.Err != nil:
		klog.ErrorS(t.Err, "task failed", "task", t.ID)
		r.logf("** ERROR: %s", t.Err)
		status, message = types.StatusAborted, t.Err
	}
	r.status, r.message = status, message
	r.advance(types.TaskStateCompleted)
}

// completed runs the completion plugins, then reports the final status,
// drains the logs and forgets the task.
func (r *taskRun) completed() {
	t := r.task
	var plugins []string
	if r.d.opts.PluginDir != "" {
		var err error
		plugins, err = listPlugins(filepath.Join(r.d.opts.PluginDir, CompletedPlugins))
		if err != nil {
			klog.ErrorS(err, "failed to list completion plugins", "task", t.ID)
		}
	}

	env := append([]string(nil), t.Env...)
	if len(env) == 0 {
		env = BuildEnv(t, r.index, r.d.opts.ControlURL)
	}
	bindReserved(env, envPrefix+"TASKSTATUS="+r.status)
	bindReserved(env, envPrefix+"TASKRESULT="+t.Result.String())

	dir := t.Path
	if _, err := os.Stat(dir); err != nil {
		dir = ""
	}
	p := &pluginRun{
		runner:  r.d.runner,
		ctx:     context.WithoutCancel(r.ctx),
		env:     env,
		dir:     dir,
		timeout: r.d.opts.PluginTimeout,
		output:  r.output,
		logf:    r.logf,
		queue:   plugins,
		done:    r.finishBookkeeping,
	}
	p.next()
}

func (r *taskRun) finishBookkeeping() {
	if r.detached {
		return
	}
	t := r.task
	if t.URI != "" {
		r.d.queue.Enqueue(harness.StatusRequest(t, r.status, r.message), nil)
	}
	t.Finished = true
	if err := store.SetBool(r.d.store, t.ID, store.KeyFinished, true); err != nil {
		klog.ErrorS(err, "failed to persist finished flag", "task", t.ID)
	}
	r.logf("** Completed Task : %s", t.ID)

	log := r.log
	closeLog := func() {
		if log != nil {
			if err := log.Close(); err != nil {
				klog.ErrorS(err, "failed to close task logs", "task", r.task.ID)
			}
		}
	}
	if r.uploader != nil {
		r.uploader.Stop(closeLog)
	} else {
		closeLog()
	}
	r.clearRecord()
	r.advance(types.TaskStateNext)
}

func (r *taskRun) clearRecord() {
	if err := r.d.store.Delete(r.task.ID); err != nil {
		klog.ErrorS(err, "failed to delete task record", "task", r.task.ID)
	}
}

// detach releases the logs without finishing the task, leaving its record
// for the next daemon process. A child that exits later is not classified.
func (r *taskRun) detach() {
	r.detached = true
	if r.uploader != nil {
		r.uploader.Stop(nil)
	}
	if r.log != nil {
		_ = r.log.Close()
	}
}
