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

	"github.com/restraint-harness/restraint/internal/runtime"
)

const (
	CompletedPlugins = "completed.d"

	DefaultPluginTimeout = 5 * time.Minute
)

// listPlugins returns the executables of dir in lexical order. A missing
// directory has no plugins.
func listPlugins(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var plugins []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			klog.ErrorS(err, "failed to stat plugin", "plugin", e.Name())
			continue
		}
		if info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0 {
			plugins = append(plugins, filepath.Join(dir, e.Name()))
		}
	}
	return plugins, nil
}

// pluginRun executes plugins one after the other on the event loop. A failed
// plugin is logged and the next one still runs.
type pluginRun struct {
	runner  runtime.Runner
	ctx     context.Context
	env     []string
	dir     string
	timeout time.Duration
	output  func([]byte)
	logf    func(format string, args ...any)

	queue []string
	done  func()
}

func (p *pluginRun) next() {
	if len(p.queue) == 0 {
		p.done()
		return
	}
	plugin := p.queue[0]
	p.queue = p.queue[1:]
	p.logf("** Running plugin: %s", filepath.Base(plugin))

	p.runner.Run(p.ctx, runtime.Command{
		Args:    []string{plugin},
		Env:     p.env,
		Dir:     p.dir,
		MaxTime: p.timeout,
	}, runtime.Hooks{
		OnOutput: p.output,
		OnExit: func(status runtime.ExitStatus) {
			switch {
			case status.Err != nil:
				p.logf("** Plugin %s failed: %v", filepath.Base(plugin), status.Err)
			case status.LocalWatchdog:
				p.logf("** Plugin %s timed out after %s", filepath.Base(plugin), p.timeout)
			case status.ExitCode != 0:
				p.logf("** Plugin %s exited with status %d", filepath.Base(plugin), status.ExitCode)
			}
			p.next()
		},
	})
}
