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

// Package fetch retrieves task payloads and repo dependencies from archive
// URLs and git repositories.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"k8s.io/klog/v2"
)

//go:generate mockgen -destination=../mocks/mock_fetcher.go -package=mocks github.com/restraint-harness/restraint/internal/fetch Fetcher

// EntryFunc is called with the destination path of every extracted item.
type EntryFunc func(path string)

// Fetcher extracts the content of url into dest. When url carries a
// #fragment only the subtree it names is extracted, and the counts report
// how many entries fell inside and outside of it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dest string, keepChanges bool, onEntry EntryFunc) (matched, nonmatched int, err error)
}

var ErrFragmentNotFound = errors.New("fragment not found in source")

// Router picks an implementation by URL scheme: git:// and *.git URLs go to
// the git fetcher, everything else is treated as an archive.
type Router struct {
	Archive Fetcher
	Git     Fetcher
}

func (r *Router) Fetch(ctx context.Context, rawURL, dest string, keepChanges bool, onEntry EntryFunc) (int, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "git" || strings.HasSuffix(u.Path, ".git") {
		return r.Git.Fetch(ctx, rawURL, dest, keepChanges, onEntry)
	}
	switch u.Scheme {
	case "http", "https", "file":
		return r.Archive.Fetch(ctx, rawURL, dest, keepChanges, onEntry)
	default:
		return 0, 0, fmt.Errorf("unsupported fetch scheme %q", u.Scheme)
	}
}

// prepare clears dest for a fresh fetch. It returns false when keepChanges
// asks to leave an existing checkout alone.
func prepare(dest string, keepChanges bool) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		if keepChanges {
			klog.InfoS("keeping existing checkout", "dest", dest)
			return false, nil
		}
		if err := os.RemoveAll(dest); err != nil {
			return false, fmt.Errorf("failed to clear %s: %w", dest, err)
		}
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	return true, nil
}

// fetchFresh runs fill on a cleared dest. A failed fill removes dest so a
// later attempt does not take the partial tree for a kept checkout.
func fetchFresh(dest string, keepChanges bool, fill func() (int, int, error)) (int, int, error) {
	fresh, err := prepare(dest, keepChanges)
	if err != nil || !fresh {
		return 0, 0, err
	}
	matched, nonmatched, err := fill()
	if err != nil {
		if rerr := os.RemoveAll(dest); rerr != nil {
			klog.ErrorS(rerr, "failed to remove partial checkout", "dest", dest)
		}
	}
	return matched, nonmatched, err
}

// relToFragment maps an entry name to its path below fragment.
func relToFragment(name, fragment string) (string, bool) {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	fragment = strings.Trim(path.Clean("/"+fragment), "/")
	if fragment == "" {
		return name, true
	}
	if name == fragment {
		return ".", true
	}
	if strings.HasPrefix(name, fragment+"/") {
		return strings.TrimPrefix(name, fragment+"/"), true
	}
	return "", false
}
