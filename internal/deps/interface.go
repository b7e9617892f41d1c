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

// Package deps installs the packages and repositories a task depends on.
package deps

import (
	"context"
)

//go:generate mockgen -destination=../mocks/mock_package_installer.go -package=mocks github.com/restraint-harness/restraint/internal/deps PackageInstaller

// OutputFunc receives raw package manager output.
type OutputFunc func(chunk []byte)

// PackageInstaller runs the system package manager. A non-zero exit code is
// returned without an error; the error is reserved for commands that could
// not be run at all.
type PackageInstaller interface {
	Install(ctx context.Context, names []string, onOutput OutputFunc) (int, error)
	Remove(ctx context.Context, names []string, onOutput OutputFunc) (int, error)
}
