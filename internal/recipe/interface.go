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

// Package recipe loads the job document describing the tasks to run on this
// host.
package recipe

import (
	"context"

	"github.com/restraint-harness/restraint/internal/types"
)

//go:generate mockgen -destination=../mocks/mock_recipe_source.go -package=mocks github.com/restraint-harness/restraint/internal/recipe Source

// Source retrieves recipes.
type Source interface {
	Load(ctx context.Context, url string) (*types.Recipe, error)
	// Refresh re-reads the recipe for its current params and roles. Peers
	// may be assigned after the recipe started.
	Refresh(ctx context.Context, url string) (*types.Recipe, error)
}
