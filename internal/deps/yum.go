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
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// Yum installs packages with yum, or any tool sharing its command line such
// as dnf.
type Yum struct {
	Command string
}

func NewYum(command string) *Yum {
	if command == "" {
		command = "yum"
	}
	return &Yum{Command: command}
}

func (y *Yum) Install(ctx context.Context, names []string, onOutput OutputFunc) (int, error) {
	return y.run(ctx, "install", names, onOutput)
}

func (y *Yum) Remove(ctx context.Context, names []string, onOutput OutputFunc) (int, error) {
	return y.run(ctx, "remove", names, onOutput)
}

func (y *Yum) run(ctx context.Context, op string, names []string, onOutput OutputFunc) (int, error) {
	args := append([]string{"-y", op}, names...)
	cmd := exec.CommandContext(ctx, y.Command, args...)
	if onOutput != nil {
		// One writer for both streams makes exec share a single pipe.
		w := &outputWriter{fn: onOutput}
		cmd.Stdout = w
		cmd.Stderr = w
	}

	klog.InfoS("running package manager", "cmd", y.Command+" "+strings.Join(args, " "))
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to run %s %s: %w", y.Command, op, err)
}

type outputWriter struct {
	fn OutputFunc
}

func (w *outputWriter) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	w.fn(chunk)
	return len(p), nil
}
