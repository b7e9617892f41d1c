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

package deps_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/restraint-harness/restraint/internal/deps"
	"github.com/restraint-harness/restraint/internal/eventloop"
	"github.com/restraint-harness/restraint/internal/fetch"
	"github.com/restraint-harness/restraint/internal/mocks"
	"github.com/restraint-harness/restraint/internal/types"
)

type harness struct {
	pkgs    *mocks.MockPackageInstaller
	fetcher *mocks.MockFetcher
	inst    *deps.Installer
	loop    *eventloop.Loop
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	loop := eventloop.New(clock.RealClock{})
	go loop.Run(context.Background())
	t.Cleanup(loop.Stop)

	h := &harness{
		pkgs:    mocks.NewMockPackageInstaller(ctrl),
		fetcher: mocks.NewMockFetcher(ctrl),
		loop:    loop,
	}
	h.inst = deps.NewInstaller(h.pkgs, h.fetcher, loop.Post)
	return h
}

// install runs a job on the loop and returns its result and output.
func (h *harness) install(t *testing.T, req deps.Request) (string, error) {
	t.Helper()
	done := make(chan error, 1)
	var output []byte
	h.loop.Post(func() {
		h.inst.Install(context.Background(), req, func(chunk []byte) {
			output = append(output, chunk...)
		}, func(err error) { done <- err })
	})
	select {
	case err := <-done:
		var out string
		require.NoError(t, h.loop.Call(context.Background(), func() { out = string(output) }))
		return out, err
	case <-time.After(5 * time.Second):
		t.Fatal("dependency job did not finish")
		return "", nil
	}
}

func TestInstaller_NothingToDo(t *testing.T) {
	h := newHarness(t)
	_, err := h.install(t, deps.Request{TaskID: "1"})
	assert.NoError(t, err)
}

func TestInstaller_BatchInstallAndRemove(t *testing.T) {
	h := newHarness(t)
	gomock.InOrder(
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"gcc", "bzip2"}, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ []string, onOutput deps.OutputFunc) (int, error) {
				onOutput([]byte("Complete!\n"))
				return 0, nil
			}),
		h.pkgs.EXPECT().Remove(gomock.Any(), []string{"httpd"}, gomock.Any()).Return(0, nil),
	)

	out, err := h.install(t, deps.Request{TaskID: "1", Dependencies: []string{"gcc", "-httpd", "bzip2"}})
	require.NoError(t, err)
	assert.Contains(t, out, "** Installing dependencies")
	assert.Contains(t, out, "Complete!")
}

func TestInstaller_BatchFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.pkgs.EXPECT().Install(gomock.Any(), []string{"a", "b", "c"}, gomock.Any()).Return(1, nil)

	_, err := h.install(t, deps.Request{TaskID: "1", Dependencies: []string{"a", "b", "c"}})
	var depErr *types.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, 1, depErr.ExitCode)
	assert.Equal(t, []string{"a", "b", "c"}, depErr.Packages)
}

func TestInstaller_BatchFailureFallsBackToSingles(t *testing.T) {
	h := newHarness(t)
	gomock.InOrder(
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"a", "b", "c"}, gomock.Any()).Return(1, nil),
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"a"}, gomock.Any()).Return(0, nil).Times(1),
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"b"}, gomock.Any()).Return(1, nil).Times(1),
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"c"}, gomock.Any()).Return(0, nil).Times(1),
	)

	out, err := h.install(t, deps.Request{
		TaskID:              "1",
		Dependencies:        []string{"a", "b", "c"},
		IgnoreFailedInstall: true,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Ignoring failed dependency: b")
}

func TestInstaller_SingleRemovals(t *testing.T) {
	h := newHarness(t)
	gomock.InOrder(
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"a"}, gomock.Any()).Return(0, nil),
		h.pkgs.EXPECT().Remove(gomock.Any(), []string{"b"}, gomock.Any()).Return(1, nil),
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"a"}, gomock.Any()).Return(0, nil),
		h.pkgs.EXPECT().Remove(gomock.Any(), []string{"b"}, gomock.Any()).Return(0, nil),
	)

	_, err := h.install(t, deps.Request{
		TaskID:              "1",
		Dependencies:        []string{"a", "-b"},
		IgnoreFailedInstall: true,
	})
	require.NoError(t, err)
}

func TestInstaller_SoftDependencyFailuresAreNotFatal(t *testing.T) {
	h := newHarness(t)
	gomock.InOrder(
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"x"}, gomock.Any()).Return(1, nil),
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"y"}, gomock.Any()).Return(0, nil),
	)

	out, err := h.install(t, deps.Request{TaskID: "1", SoftDependencies: []string{"x", "y"}})
	require.NoError(t, err)
	assert.Contains(t, out, "Soft dependency failed: x")
}

func TestInstaller_RepoDependencies(t *testing.T) {
	h := newHarness(t)
	base := t.TempDir()
	taskURL := "http://git.example.com/tests.tar.gz#kernel/foo"

	writeMetadata := func(content string) func(context.Context, string, string, bool, fetch.EntryFunc) (int, int, error) {
		return func(_ context.Context, _ string, dest string, _ bool, _ fetch.EntryFunc) (int, int, error) {
			require.NoError(t, os.MkdirAll(dest, 0755))
			if content != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dest, "metadata"), []byte(content), 0644))
			}
			return 1, 0, nil
		}
	}

	includeDest := filepath.Join(base, "git.example.com", "tests.tar.gz", "kernel", "include")
	gomock.InOrder(
		h.fetcher.EXPECT().
			Fetch(gomock.Any(), "http://git.example.com/tests.tar.gz#kernel/include", includeDest, false, gomock.Any()).
			DoAndReturn(writeMetadata("[restraint]\ndependencies=gcc\nrepoRequires=kernel/include;kernel/common;kernel/foo\n")),
		h.fetcher.EXPECT().
			Fetch(gomock.Any(), "http://git.example.com/tests.tar.gz#kernel/common", gomock.Any(), false, gomock.Any()).
			DoAndReturn(writeMetadata("")),
		h.pkgs.EXPECT().Install(gomock.Any(), []string{"gcc", "make"}, gomock.Any()).Return(0, nil),
	)

	out, err := h.install(t, deps.Request{
		TaskID:           "1",
		TaskURL:          taskURL,
		BasePath:         base,
		Dependencies:     []string{"make"},
		RepoDependencies: []string{"kernel/include"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "** Fetching repo dependency: http://git.example.com/tests.tar.gz#kernel/include")
}

func TestInstaller_RepoFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.EXPECT().Fetch(gomock.Any(), "git://example.com/libs.git", gomock.Any(), false, gomock.Any()).
		Return(0, 0, assert.AnError)

	_, err := h.install(t, deps.Request{
		TaskID:           "1",
		BasePath:         t.TempDir(),
		Dependencies:     []string{"never-installed"},
		RepoDependencies: []string{"git://example.com/libs.git"},
	})
	var fetchErr *types.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "git://example.com/libs.git", fetchErr.URL)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestInstaller_RelativeRepoWithoutTaskURL(t *testing.T) {
	h := newHarness(t)
	_, err := h.install(t, deps.Request{TaskID: "1", RepoDependencies: []string{"kernel/include"}})
	assert.ErrorContains(t, err, "needs a task fetched from a url")
}

func TestInstaller_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	h.loop.Post(func() {
		h.inst.Install(ctx, deps.Request{TaskID: "1", Dependencies: []string{"a"}}, nil, func(err error) { done <- err })
	})
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "REPO", deps.StateRepo.String())
	assert.Equal(t, "SINGLE_RPM", deps.StateSingleRPM.String())
	assert.Equal(t, "DONE", deps.StateDone.String())
}
