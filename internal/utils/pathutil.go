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

package utils

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// SafeJoin joins userPath onto baseDir and rejects results that escape baseDir.
func SafeJoin(baseDir, userPath string) (string, error) {
	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory absolute path: %w", err)
	}
	absJoinedPath, err := filepath.Abs(filepath.Join(baseDir, userPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve joined path absolute path: %w", err)
	}

	if !isSubPath(absBaseDir, absJoinedPath) {
		return "", fmt.Errorf("path traversal detected: %q escapes %q", userPath, baseDir)
	}

	return absJoinedPath, nil
}

// FetchPath maps a task or repo dependency URL to its checkout directory
// under baseDir: <host>/<path>[/<fragment>].
func FetchPath(baseDir, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid fetch url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("fetch url %q has no host", rawURL)
	}
	rel := filepath.Join(u.Hostname(), strings.TrimSuffix(u.Path, ".git"))
	if u.Fragment != "" {
		rel = filepath.Join(rel, u.Fragment)
	}
	return SafeJoin(baseDir, rel)
}

// StripFragment returns rawURL without its #fragment and the fragment itself.
func StripFragment(rawURL string) (string, string) {
	base, fragment, _ := strings.Cut(rawURL, "#")
	return base, fragment
}

func isSubPath(parent, child string) bool {
	if len(parent) == 0 {
		return false
	}

	parentWithSep := parent
	if !os.IsPathSeparator(parent[len(parent)-1]) {
		parentWithSep = parent + string(filepath.Separator)
	}

	return child == parent || strings.HasPrefix(child, parentWithSep)
}
