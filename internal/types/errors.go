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
	"errors"
	"fmt"
)

var (
	ErrLocalWatchdog = errors.New("local watchdog expired")
	ErrCancelled     = errors.New("cancelled")
	ErrAborted       = errors.New("aborted")
	ErrNotFound      = errors.New("not found")
	ErrBusy          = errors.New("recipe already running")
)

// ExitError reports a task command that exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
}

// DependencyError reports a failed install or removal of packages.
type DependencyError struct {
	Packages []string
	Remove   bool
	ExitCode int
}

func (e *DependencyError) Error() string {
	op := "install"
	if e.Remove {
		op = "remove"
	}
	return fmt.Sprintf("failed to %s %v: exit status %d", op, e.Packages, e.ExitCode)
}

// FetchError reports a failed task or repo dependency fetch.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// AbortError marks a cancellation that carried an explicit reason.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("aborted: %s", e.Reason)
}

func (e *AbortError) Is(target error) bool { return target == ErrAborted }
