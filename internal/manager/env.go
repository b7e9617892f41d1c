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
	"strconv"
	"strings"

	"github.com/restraint-harness/restraint/internal/types"
)

const (
	envPrefix = "RSTRNT_"

	defaultHome = "/root"
	defaultLang = "en_US.UTF-8"
	defaultPath = "/usr/local/bin:/usr/bin:/bin:/usr/local/sbin:/usr/sbin:/sbin"
)

// envBuilder keeps KEY=VALUE pairs in insertion order. Setting a key that
// already exists moves it to the end with the new value.
type envBuilder struct {
	vars []string
}

func (b *envBuilder) set(key, value string) {
	b.unset(key)
	b.vars = append(b.vars, key+"="+value)
}

// add appends a raw KEY=VALUE entry with override semantics.
func (b *envBuilder) add(kv string) {
	key, _, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return
	}
	b.unset(key)
	b.vars = append(b.vars, kv)
}

func (b *envBuilder) unset(key string) {
	prefix := key + "="
	out := b.vars[:0]
	for _, kv := range b.vars {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	b.vars = out
}

// BuildEnv returns the environment of the task command. Later entries win
// over earlier ones: metadata variables first, then roles, the harness
// variables and finally recipe and task params. Empty trailing slots are
// left for values bound by plugins.
func BuildEnv(task *types.Task, index int, controlURL string) []string {
	b := &envBuilder{}
	recipe := task.Recipe
	if recipe == nil {
		recipe = &types.Recipe{}
	}

	if task.Metadata != nil {
		for _, kv := range task.Metadata.Envvars {
			b.add(kv)
		}
	}
	for _, role := range recipe.Roles {
		b.set(role.Name, strings.Join(role.Hosts, " "))
	}
	for _, role := range task.Roles {
		b.set(role.Name, strings.Join(role.Hosts, " "))
	}
	b.set("RECIPE_MEMBERS", strings.Join(recipeMembers(recipe.Roles, task.Roles), " "))

	maxTime := strconv.FormatInt(effectiveMaxTime(task), 10)
	reboots := strconv.FormatInt(task.Reboots, 10)
	order := strconv.Itoa(task.Order)
	if task.RHTSCompat {
		b.set("RESULT_SERVER", "LEGACY")
		b.set("SUBMITTER", recipe.Owner)
		b.set("JOBID", recipe.JobID)
		b.set("RECIPESETID", recipe.RecipeSetID)
		b.set("RECIPEID", recipe.ID)
		b.set("RECIPETESTID", task.ID)
		b.set("TASKID", task.ID)
		b.set("DISTRO", recipe.OSDistro)
		b.set("VARIANT", recipe.OSVariant)
		b.set("FAMILY", recipe.OSMajor)
		b.set("ARCH", recipe.OSArch)
		b.set("TESTNAME", task.Name)
		b.set("TESTPATH", task.Path)
		b.set("MAXTIME", maxTime)
		b.set("REBOOTCOUNT", reboots)
		b.set("TASKORDER", order)
	}

	// beakerlib keys off TESTID, so it is exported in every mode.
	b.set("TESTID", task.ID)
	b.set("HARNESS_PREFIX", envPrefix)
	if controlURL != "" {
		b.set(envPrefix+"URL", controlURL)
		b.set(envPrefix+"RECIPE_URL", strings.TrimSuffix(controlURL, "/")+"/recipes/"+recipe.ID)
	}
	b.set(envPrefix+"OWNER", recipe.Owner)
	b.set(envPrefix+"JOBID", recipe.JobID)
	b.set(envPrefix+"RECIPESETID", recipe.RecipeSetID)
	b.set(envPrefix+"RECIPEID", recipe.ID)
	b.set(envPrefix+"TASKID", task.ID)
	b.set(envPrefix+"OSDISTRO", recipe.OSDistro)
	b.set(envPrefix+"OSMAJOR", recipe.OSMajor)
	b.set(envPrefix+"OSVARIANT", recipe.OSVariant)
	b.set(envPrefix+"OSARCH", recipe.OSArch)
	b.set(envPrefix+"TASKNAME", task.Name)
	b.set(envPrefix+"TASKPATH", task.Path)
	b.set(envPrefix+"MAXTIME", maxTime)
	b.set(envPrefix+"REBOOTCOUNT", reboots)
	b.set(envPrefix+"TASKORDER", order)

	// Params may override these.
	b.set("HOME", defaultHome)
	b.set("TERM", "vt100")
	b.set("LANG", defaultLang)
	b.set("PATH", defaultPath)
	b.set(envPrefix+"INDEX", strconv.Itoa(index))

	for _, p := range recipe.Params {
		b.set(p.Name, p.Value)
	}
	for _, p := range task.Params {
		b.set(p.Name, p.Value)
	}

	env := b.vars
	for i := 0; i < types.ReservedEnvSlots; i++ {
		env = append(env, "")
	}
	return env
}

// bindReserved stores kv in the first free reserved slot of env. It returns
// false when every slot is taken.
func bindReserved(env []string, kv string) bool {
	start := len(env) - types.ReservedEnvSlots
	if start < 0 {
		start = 0
	}
	for i := start; i < len(env); i++ {
		if env[i] == "" {
			env[i] = kv
			return true
		}
	}
	return false
}

func recipeMembers(groups ...[]types.Role) []string {
	seen := map[string]bool{}
	var hosts []string
	for _, roles := range groups {
		for _, role := range roles {
			for _, h := range role.Hosts {
				if h != "" && !seen[h] {
					seen[h] = true
					hosts = append(hosts, h)
				}
			}
		}
	}
	return hosts
}

func effectiveMaxTime(task *types.Task) int64 {
	if task.Metadata != nil && task.Metadata.MaxTime > 0 {
		return task.Metadata.MaxTime
	}
	if task.RemainingTime > 0 {
		return task.RemainingTime
	}
	return types.DefaultMaxTime
}
