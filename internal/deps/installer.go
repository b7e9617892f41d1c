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

package deps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"k8s.io/klog/v2"

	"github.com/restraint-harness/restraint/internal/fetch"
	"github.com/restraint-harness/restraint/internal/metadata"
	"github.com/restraint-harness/restraint/internal/types"
	"github.com/restraint-harness/restraint/internal/utils"
)

// State is the phase of a dependency job.
type State int

const (
	StateRepo State = iota
	StateRPM
	StateSingleRPM
	StateSoftRPM
	StateDone
)

func (s State) String() string {
	switch s {
	case StateRepo:
		return "REPO"
	case StateRPM:
		return "RPM"
	case StateSingleRPM:
		return "SINGLE_RPM"
	case StateSoftRPM:
		return "SOFT_RPM"
	default:
		return "DONE"
	}
}

// Request lists what one task needs before it can run.
type Request struct {
	TaskID           string
	Dependencies     []string
	SoftDependencies []string
	RepoDependencies []string
	// TaskURL resolves relative repo dependencies, which name a directory of
	// the repository the task itself came from.
	TaskURL  string
	BasePath string
	OSMajor  string

	KeepChanges bool
	// IgnoreFailedInstall retries a failed batch one package at a time and
	// tolerates the individual failures.
	IgnoreFailedInstall bool
}

// Installer drives dependency jobs. Blocking work runs on its own goroutine
// and every continuation is handed to post, so a job advances on the
// caller's event loop.
type Installer struct {
	packages PackageInstaller
	fetcher  fetch.Fetcher
	post     func(func())
}

func NewInstaller(packages PackageInstaller, fetcher fetch.Fetcher, post func(func())) *Installer {
	return &Installer{packages: packages, fetcher: fetcher, post: post}
}

type job struct {
	inst *Installer
	ctx  context.Context
	req  Request

	state     State
	repos     []string
	deps      []string
	single    []string
	soft      []string
	processed mapset.Set[string]

	onOutput OutputFunc
	onFinish func(error)
}

// Install resolves req. onOutput receives progress lines and package manager
// output; onFinish is called exactly once.
func (i *Installer) Install(ctx context.Context, req Request, onOutput OutputFunc, onFinish func(error)) {
	j := &job{
		inst:      i,
		ctx:       ctx,
		req:       req,
		state:     StateRepo,
		repos:     append([]string(nil), req.RepoDependencies...),
		deps:      append([]string(nil), req.Dependencies...),
		soft:      append([]string(nil), req.SoftDependencies...),
		processed: mapset.NewThreadUnsafeSet[string](),
		onOutput:  onOutput,
		onFinish:  onFinish,
	}
	if req.TaskURL != "" {
		// The task's own checkout is never fetched again as a dependency.
		j.processed.Add(req.TaskURL)
	}
	j.step()
}

func (j *job) step() {
	if err := j.ctx.Err(); err != nil {
		j.finish(err)
		return
	}
	switch j.state {
	case StateRepo:
		j.nextRepo()
	case StateRPM:
		j.batch()
	case StateSingleRPM:
		j.nextSingle()
	case StateSoftRPM:
		j.nextSoft()
	case StateDone:
		j.finish(nil)
	}
}

func (j *job) nextRepo() {
	for len(j.repos) > 0 {
		dep := j.repos[0]
		j.repos = j.repos[1:]

		repoURL, err := resolveRepo(j.req.TaskURL, dep)
		if err != nil {
			j.finish(err)
			return
		}
		if j.processed.Contains(repoURL) {
			klog.V(1).InfoS("repo dependency already processed", "task", j.req.TaskID, "url", repoURL)
			continue
		}
		j.processed.Add(repoURL)

		dest, err := utils.FetchPath(j.req.BasePath, repoURL)
		if err != nil {
			j.finish(err)
			return
		}
		j.message("** Fetching repo dependency: %s\n", repoURL)
		j.async(func() error {
			_, _, err := j.inst.fetcher.Fetch(j.ctx, repoURL, dest, j.req.KeepChanges, nil)
			return err
		}, func(err error) {
			if err != nil {
				j.finish(&types.FetchError{URL: repoURL, Err: err})
				return
			}
			if err := j.splice(dest); err != nil {
				j.finish(err)
				return
			}
			j.step()
		})
		return
	}
	j.state = StateRPM
	j.step()
}

// splice queues the dependencies of a fetched repo ahead of the rest.
func (j *job) splice(dir string) error {
	_, errMeta := os.Stat(filepath.Join(dir, metadata.MetadataFile))
	compat := errMeta != nil
	if compat && !metadata.HasTestinfo(dir) {
		return nil
	}
	md, err := metadata.Load(dir, compat, metadata.Options{OSMajor: j.req.OSMajor})
	if err != nil {
		return fmt.Errorf("repo dependency %s: %w", dir, err)
	}
	j.repos = append(append([]string(nil), md.RepoDependencies...), j.repos...)
	j.deps = append(append([]string(nil), md.Dependencies...), j.deps...)
	return nil
}

func (j *job) batch() {
	install, remove := splitRemovals(j.deps)
	if len(install) == 0 && len(remove) == 0 {
		j.state = StateSoftRPM
		j.step()
		return
	}

	j.message("** Installing dependencies\n")
	removeStep := func() {
		if len(remove) == 0 {
			j.state = StateSoftRPM
			j.step()
			return
		}
		j.runPackages(remove, true, func(err error) {
			if err != nil {
				j.batchFailed(err)
				return
			}
			j.state = StateSoftRPM
			j.step()
		})
	}
	if len(install) == 0 {
		removeStep()
		return
	}
	j.runPackages(install, false, func(err error) {
		if err != nil {
			j.batchFailed(err)
			return
		}
		removeStep()
	})
}

func (j *job) batchFailed(err error) {
	if !j.req.IgnoreFailedInstall {
		j.finish(err)
		return
	}
	klog.InfoS("batch install failed, retrying packages one at a time", "task", j.req.TaskID, "err", err)
	j.message("** Batch install failed, installing one package at a time\n")
	j.single = append([]string(nil), j.deps...)
	j.state = StateSingleRPM
	j.step()
}

func (j *job) nextSingle() {
	if len(j.single) == 0 {
		j.state = StateSoftRPM
		j.step()
		return
	}
	name := j.single[0]
	j.single = j.single[1:]

	remove := strings.HasPrefix(name, "-")
	pkg := strings.TrimPrefix(name, "-")
	j.runPackages([]string{pkg}, remove, func(err error) {
		if err != nil {
			klog.ErrorS(err, "ignoring failed dependency", "task", j.req.TaskID, "package", pkg)
			j.message("** Ignoring failed dependency: %s\n", pkg)
		}
		j.step()
	})
}

func (j *job) nextSoft() {
	if len(j.soft) == 0 {
		j.state = StateDone
		j.step()
		return
	}
	name := j.soft[0]
	j.soft = j.soft[1:]

	j.runPackages([]string{name}, false, func(err error) {
		if err != nil {
			klog.ErrorS(err, "soft dependency failed", "task", j.req.TaskID, "package", name)
			j.message("** Soft dependency failed: %s\n", name)
		}
		j.step()
	})
}

func (j *job) runPackages(names []string, remove bool, done func(error)) {
	pkgs := j.inst.packages
	j.async(func() error {
		var (
			code int
			err  error
		)
		if remove {
			code, err = pkgs.Remove(j.ctx, names, j.output)
		} else {
			code, err = pkgs.Install(j.ctx, names, j.output)
		}
		if err != nil {
			return err
		}
		if code != 0 {
			return &types.DependencyError{Packages: names, Remove: remove, ExitCode: code}
		}
		return nil
	}, done)
}

// output forwards package manager output from a worker goroutine.
func (j *job) output(chunk []byte) {
	if j.onOutput == nil {
		return
	}
	j.inst.post(func() { j.onOutput(chunk) })
}

func (j *job) message(format string, args ...any) {
	if j.onOutput != nil {
		j.onOutput([]byte(fmt.Sprintf(format, args...)))
	}
}

func (j *job) async(work func() error, done func(error)) {
	go func() {
		err := work()
		j.inst.post(func() { done(err) })
	}()
}

func (j *job) finish(err error) {
	if j.state == StateDone && err == nil {
		klog.V(1).InfoS("dependencies installed", "task", j.req.TaskID)
	}
	j.state = StateDone
	if j.onFinish != nil {
		onFinish := j.onFinish
		j.onFinish = nil
		onFinish(err)
	}
}

func splitRemovals(names []string) (install, remove []string) {
	for _, n := range names {
		if strings.HasPrefix(n, "-") {
			remove = append(remove, strings.TrimPrefix(n, "-"))
		} else {
			install = append(install, n)
		}
	}
	return install, remove
}

// resolveRepo turns a repo dependency into a fetch URL. Absolute URLs are
// used as given; a bare path names a directory of the task's repository.
func resolveRepo(taskURL, dep string) (string, error) {
	if strings.Contains(dep, "://") {
		return dep, nil
	}
	if taskURL == "" {
		return "", fmt.Errorf("repo dependency %s needs a task fetched from a url", dep)
	}
	base, _ := utils.StripFragment(taskURL)
	return base + "#" + strings.Trim(dep, "/"), nil
}
