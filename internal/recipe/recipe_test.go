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

package recipe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/restraint-harness/restraint/internal/types"
)

const sampleJob = `<?xml version="1.0"?>
<job id="7">
  <recipeSet id="8">
    <recipe id="9" job_id="7" recipe_set_id="8" arch="x86_64" distro="Fedora-40" family="Fedora40" variant="Server" owner="jdoe@example.com">
      <roles>
        <role value="SERVERS"><system value="server1.example.com"/><system value="server2.example.com"/></role>
      </roles>
      <params>
        <param name="DEBUG" value="1"/>
      </params>
      <task id="10" name="/distribution/check-install" status="Completed">
        <fetch url="git://git.example.com/tests.git?main#distribution/check-install"/>
      </task>
      <task id="11" name="/kernel/standards/usex" status="Running" keepchanges="true">
        <rpm name="rh-tests-kernel-standards-usex" path="/mnt/tests/kernel/standards/usex"/>
        <params><param name="DEBUG" value="2"/></params>
        <roles><role value="CLIENTS"><system value="client1.example.com"/></role></roles>
      </task>
    </recipe>
  </recipeSet>
</job>`

func TestParse(t *testing.T) {
	rec, err := Parse(strings.NewReader(sampleJob), "http://lab.example.com/recipes/9", "/mnt/tests")
	require.NoError(t, err)

	assert.Equal(t, "9", rec.ID)
	assert.Equal(t, "7", rec.JobID)
	assert.Equal(t, "8", rec.RecipeSetID)
	assert.Equal(t, "Fedora40", rec.OSMajor)
	assert.Equal(t, "Fedora-40", rec.OSDistro)
	assert.Equal(t, "Server", rec.OSVariant)
	assert.Equal(t, "x86_64", rec.OSArch)
	assert.Equal(t, "jdoe@example.com", rec.Owner)
	assert.Equal(t, "http://lab.example.com/recipes/9/", rec.URI)
	assert.Equal(t, []types.Param{{Name: "DEBUG", Value: "1"}}, rec.Params)
	assert.Equal(t, []types.Role{{Name: "SERVERS", Hosts: []string{"server1.example.com", "server2.example.com"}}}, rec.Roles)

	require.Len(t, rec.Tasks, 2)
	t1, t2 := rec.Tasks[0], rec.Tasks[1]

	assert.Equal(t, "http://lab.example.com/recipes/9/tasks/10/", t1.URI)
	assert.Equal(t, types.URLFetch{URL: "git://git.example.com/tests.git?main#distribution/check-install"}, t1.Fetch)
	assert.Equal(t, "/mnt/tests/git.example.com/tests/distribution/check-install", t1.Path)
	assert.True(t, t1.Finished)
	assert.Equal(t, 0, t1.Order)
	assert.Same(t, rec, t1.Recipe)

	assert.Equal(t, types.PackageFetch{Name: "rh-tests-kernel-standards-usex"}, t2.Fetch)
	assert.Equal(t, "/mnt/tests/kernel/standards/usex", t2.Path)
	assert.False(t, t2.Started, "a Running status from the server is ignored")
	assert.True(t, t2.KeepChanges)
	assert.Equal(t, 1, t2.Order)
	assert.Equal(t, []types.Param{{Name: "DEBUG", Value: "2"}}, t2.Params)
	assert.Equal(t, types.RemainingTimeUnset, t2.RemainingTime)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name, doc, wantErr string
	}{
		{name: "not xml", doc: "nope", wantErr: "failed to decode"},
		{name: "wrong root", doc: "<jobs/>", wantErr: "failed to decode"},
		{name: "no recipeset", doc: "<job/>", wantErr: "<recipeSet/> element not found"},
		{name: "no recipe", doc: "<job><recipeSet/></job>", wantErr: "<recipe/> element not found"},
		{name: "task without id", doc: `<job><recipeSet><recipe id="1"><task/></recipe></recipeSet></job>`, wantErr: "<task/> without id"},
		{name: "no fetch", doc: `<job><recipeSet><recipe id="1"><task id="2"/></recipe></recipeSet></job>`, wantErr: "neither 'fetch' nor 'rpm'"},
		{name: "rpm without path", doc: `<job><recipeSet><recipe id="1"><task id="2"><rpm name="x"/></task></recipe></recipeSet></job>`, wantErr: "without 'path'"},
		{name: "bad param", doc: `<job><recipeSet><recipe id="1"><params><param value="x"/></params></recipe></recipeSet></job>`, wantErr: "recipe 1 has 'param' element without 'name'"},
		{name: "bad role", doc: `<job><recipeSet><recipe id="1"><task id="2"><rpm name="x" path="/p"/><roles><role/></roles></task></recipe></recipeSet></job>`, wantErr: "task 2 has 'role' element without 'value'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), "http://lab/recipes/1/", "/mnt/tests")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func fastBackoff() wait.Backoff {
	return wait.Backoff{Duration: time.Millisecond, Factor: 1, Steps: 5}
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleJob))
	}))
	defer srv.Close()

	src := NewHTTPSource("/mnt/tests", time.Second, fastBackoff())
	rec, err := src.Load(context.Background(), srv.URL+"/recipes/9/")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, srv.URL+"/recipes/9/", rec.URI)
}

func TestHTTPSource_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSource("/mnt/tests", time.Second, fastBackoff()).Load(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Equal(t, int32(5), calls.Load())
}

func TestHTTPSource_PermanentErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<job>"))
	}))
	defer srv.Close()

	src := NewHTTPSource("/mnt/tests", time.Second, fastBackoff())
	_, err := src.Load(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "status 404")
	_, err = src.Load(context.Background(), srv.URL+"/broken")
	assert.ErrorContains(t, err, "failed to decode")
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_FileURLAndRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleJob), 0644))

	src := NewHTTPSource("/mnt/tests", 0, fastBackoff())
	rec, err := src.Load(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Len(t, rec.Tasks, 2)

	rec, err = src.Refresh(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "SERVERS", rec.Roles[0].Name)
}
