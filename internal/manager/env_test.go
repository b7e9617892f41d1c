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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restraint-harness/restraint/internal/types"
)

func envTask(compat bool) *types.Task {
	recipe := &types.Recipe{
		ID:          "1",
		JobID:       "100",
		RecipeSetID: "10",
		OSDistro:    "Fedora-40",
		OSMajor:     "Fedora40",
		OSVariant:   "Server",
		OSArch:      "x86_64",
		Owner:       "jdoe",
		Roles: []types.Role{
			{Name: "SERVERS", Hosts: []string{"a.example.com", "b.example.com"}},
			{Name: "CLIENTS", Hosts: []string{"c.example.com"}},
		},
		Params: []types.Param{{Name: "DEBUG", Value: "0"}, {Name: "HOME", Value: "/home/test"}},
	}
	task := types.NewTask("42", recipe, types.URLFetch{URL: "http://example.com/t.tgz"})
	task.Name = "/distribution/check"
	task.Path = "/mnt/tests/example.com/t"
	task.Order = 3
	task.Reboots = 2
	task.RHTSCompat = compat
	task.Roles = []types.Role{{Name: "SERVERS", Hosts: []string{"b.example.com", "d.example.com"}}}
	task.Params = []types.Param{{Name: "DEBUG", Value: "1"}}
	task.Metadata = &types.MetaData{MaxTime: 300, Envvars: []string{"FOO=bar", "DEBUG=meta"}}
	return task
}

func envMap(t *testing.T, env []string) map[string]string {
	t.Helper()
	m := map[string]string{}
	for _, kv := range env {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		require.True(t, ok, kv)
		_, dup := m[k]
		require.False(t, dup, "duplicate variable %s", k)
		m[k] = v
	}
	return m
}

func TestBuildEnv_Variables(t *testing.T) {
	env := BuildEnv(envTask(false), 5, "http://localhost:8081/")
	m := envMap(t, env)

	assert.Equal(t, "bar", m["FOO"])
	assert.Equal(t, "1", m["DEBUG"], "task params win over recipe params and metadata")
	assert.Equal(t, "/home/test", m["HOME"], "params override the defaults")
	assert.Equal(t, "b.example.com d.example.com", m["SERVERS"], "task roles replace recipe roles")
	assert.Equal(t, "c.example.com", m["CLIENTS"])
	assert.Equal(t, "a.example.com b.example.com c.example.com d.example.com", m["RECIPE_MEMBERS"])

	assert.Equal(t, "42", m["TESTID"])
	assert.Equal(t, "RSTRNT_", m["HARNESS_PREFIX"])
	assert.Equal(t, "http://localhost:8081/recipes/1", m["RSTRNT_RECIPE_URL"])
	assert.Equal(t, "http://localhost:8081/", m["RSTRNT_URL"])
	assert.Equal(t, "jdoe", m["RSTRNT_OWNER"])
	assert.Equal(t, "100", m["RSTRNT_JOBID"])
	assert.Equal(t, "Fedora40", m["RSTRNT_OSMAJOR"])
	assert.Equal(t, "/distribution/check", m["RSTRNT_TASKNAME"])
	assert.Equal(t, "/mnt/tests/example.com/t", m["RSTRNT_TASKPATH"])
	assert.Equal(t, "300", m["RSTRNT_MAXTIME"])
	assert.Equal(t, "2", m["RSTRNT_REBOOTCOUNT"])
	assert.Equal(t, "3", m["RSTRNT_TASKORDER"])
	assert.Equal(t, "5", m["RSTRNT_INDEX"])
	assert.Equal(t, "vt100", m["TERM"])
	assert.Equal(t, defaultPath, m["PATH"])

	_, legacy := m["RESULT_SERVER"]
	assert.False(t, legacy, "legacy variables only in compat mode")
}

func TestBuildEnv_CompatVariables(t *testing.T) {
	m := envMap(t, BuildEnv(envTask(true), 0, ""))

	assert.Equal(t, "LEGACY", m["RESULT_SERVER"])
	assert.Equal(t, "jdoe", m["SUBMITTER"])
	assert.Equal(t, "42", m["RECIPETESTID"])
	assert.Equal(t, "Fedora40", m["FAMILY"])
	assert.Equal(t, "/distribution/check", m["TESTNAME"])
	assert.Equal(t, "300", m["MAXTIME"])
	_, ok := m["RSTRNT_RECIPE_URL"]
	assert.False(t, ok, "no control url configured")
}

func TestBuildEnv_OrderAndReservedSlots(t *testing.T) {
	env := BuildEnv(envTask(false), 0, "")
	require.GreaterOrEqual(t, len(env), types.ReservedEnvSlots)
	for _, kv := range env[len(env)-types.ReservedEnvSlots:] {
		assert.Empty(t, kv)
	}
	assert.Equal(t, "FOO=bar", env[0], "metadata variables come first")
	assert.Equal(t, "DEBUG=1", env[len(env)-types.ReservedEnvSlots-1], "task params come last")

	assert.True(t, bindReserved(env, "A=1"))
	assert.True(t, bindReserved(env, "B=2"))
	assert.True(t, bindReserved(env, "C=3"))
	assert.True(t, bindReserved(env, "D=4"))
	assert.False(t, bindReserved(env, "E=5"))
	assert.Equal(t, "D=4", env[len(env)-1])
}

func TestBuildEnv_DefaultMaxTime(t *testing.T) {
	task := envTask(false)
	task.Metadata = nil
	m := envMap(t, BuildEnv(task, 0, ""))
	assert.Equal(t, "600", m["RSTRNT_MAXTIME"])
}
