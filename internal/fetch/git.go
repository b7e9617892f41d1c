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

package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"
)

// GitFetcher clones a repository with the git command line and copies the
// subtree named by the URL fragment into dest. A query string selects the
// branch or tag, as in git://host/repo.git?v1.2#kernel/include.
type GitFetcher struct {
	// Git is the git binary, "git" by default.
	Git string
}

func (f *GitFetcher) Fetch(ctx context.Context, rawURL, dest string, keepChanges bool, onEntry EntryFunc) (int, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	return fetchFresh(dest, keepChanges, func() (int, int, error) {
		return f.clone(ctx, u, rawURL, dest, onEntry)
	})
}

func (f *GitFetcher) clone(ctx context.Context, u *url.URL, rawURL, dest string, onEntry EntryFunc) (int, int, error) {
	tmp, err := os.MkdirTemp("", "restraint-git-")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create clone directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	repo := *u
	repo.RawQuery = ""
	repo.Fragment = ""
	args := []string{"clone", "--depth", "1", "--quiet"}
	if u.RawQuery != "" {
		args = append(args, "--branch", u.RawQuery)
	}
	args = append(args, repo.String(), tmp)
	if err := f.run(ctx, args...); err != nil {
		return 0, 0, err
	}

	src := tmp
	if u.Fragment != "" {
		src = filepath.Join(tmp, filepath.FromSlash(u.Fragment))
		if _, err := os.Stat(src); err != nil {
			return 0, 0, fmt.Errorf("%w: %s", ErrFragmentNotFound, u.Fragment)
		}
	}

	total, err := countEntries(tmp)
	if err != nil {
		return 0, 0, err
	}
	matched := 0
	err = copy.Copy(src, dest, copy.Options{
		Skip: func(info os.FileInfo, path, target string) (bool, error) {
			if info.IsDir() && info.Name() == ".git" {
				return true, nil
			}
			if path != src {
				matched++
				if onEntry != nil {
					onEntry(target)
				}
			}
			return false, nil
		},
	})
	if err != nil {
		return matched, 0, fmt.Errorf("failed to copy checkout: %w", err)
	}
	klog.InfoS("git repository fetched", "url", rawURL, "dest", dest, "matched", matched)
	return matched, total - matched, nil
}

func (f *GitFetcher) run(ctx context.Context, args ...string) error {
	bin := f.Git
	if bin == "" {
		bin = "git"
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, bytes.TrimSpace(out.Bytes()))
	}
	return nil
}

// countEntries counts files and directories below root, ignoring .git.
func countEntries(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if path != root {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan checkout: %w", err)
	}
	return n, nil
}
