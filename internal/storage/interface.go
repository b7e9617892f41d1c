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

package store

// RecipeSection holds the continuation data of the active recipe.
const (
	RecipeSection = "restraint"
	RecipeURLKey  = "recipe_url"
)

// StateStore persists task progress so a run can resume after the daemon or
// the host restarts. Values are strings grouped in sections.
type StateStore interface {
	// Get returns the value and whether the key exists.
	Get(section, key string) (string, bool, error)
	Set(section, key, value string) error
	// Delete removes a whole section. A deleted task section means the task
	// is finished and must not be resumed.
	Delete(section string) error
	DeleteKey(section, key string) error
	Keys(section string) ([]string, error)
}
