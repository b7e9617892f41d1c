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

package runtime

import (
	"context"
	"time"
)

// Command describes one child process. It runs on a pseudo-terminal unless
// Pipe is set.
type Command struct {
	Args []string
	Env  []string
	Dir  string
	// UsePty keeps the terminal interactive, with echo and CRLF output.
	// Otherwise output passes through the terminal unchanged.
	UsePty bool
	// Pipe replaces the terminal with a merged stdout/stderr pipe.
	Pipe bool
	// MaxTime arms the local watchdog. Zero disables it.
	MaxTime time.Duration
}

// ExitStatus is handed to OnExit exactly once per Run.
type ExitStatus struct {
	ExitCode      int
	LocalWatchdog bool
	// Err is set when the command could not be started, or when it could not
	// be killed after the local watchdog expired and was abandoned.
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Hooks are invoked on the event loop.
type Hooks struct {
	// OnOutput receives raw output chunks as they arrive.
	OnOutput func(chunk []byte)
	OnExit   func(status ExitStatus)
	// OnHeartbeat is called every heartbeat interval with the remaining local
	// watchdog budget and the time it will expire. Nil disables the heartbeat.
	OnHeartbeat func(remaining time.Duration, expiry time.Time)
}

// Handle controls a running child. Its methods must be called from the
// event loop.
type Handle interface {
	Pid() int
	// AdjustWatchdog replaces the remaining budget. It takes effect on the
	// next heartbeat.
	AdjustWatchdog(remaining time.Duration)
	// Stop kills the child and its process group. OnExit still fires.
	Stop()
}

// Runner starts supervised processes.
type Runner interface {
	Run(ctx context.Context, cmd Command, hooks Hooks) Handle
}
