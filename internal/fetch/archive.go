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
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mholt/archives"
	"k8s.io/klog/v2"

	"github.com/restraint-harness/restraint/internal/utils"
)

// ArchiveFetcher downloads a tarball or zip over HTTP, or opens it from a
// file:// URL, and extracts it.
type ArchiveFetcher struct {
	client *resty.Client
}

func NewArchiveFetcher(timeout time.Duration) *ArchiveFetcher {
	c := resty.New()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &ArchiveFetcher{client: c}
}

func (f *ArchiveFetcher) Fetch(ctx context.Context, rawURL, dest string, keepChanges bool, onEntry EntryFunc) (int, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	return fetchFresh(dest, keepChanges, func() (int, int, error) {
		body, err := f.open(ctx, u)
		if err != nil {
			return 0, 0, err
		}
		defer body.Close()

		matched, nonmatched, err := extract(ctx, path.Base(u.Path), body, dest, u.Fragment, onEntry)
		if err != nil {
			return matched, nonmatched, err
		}
		if u.Fragment != "" && matched == 0 {
			return matched, nonmatched, fmt.Errorf("%w: %s", ErrFragmentNotFound, u.Fragment)
		}
		klog.InfoS("archive fetched", "url", rawURL, "dest", dest, "matched", matched, "nonmatched", nonmatched)
		return matched, nonmatched, nil
	})
}

func (f *ArchiveFetcher) open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if u.Scheme == "file" {
		file, err := os.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		return file, nil
	}

	src := *u
	src.Fragment = ""
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(src.String())
	if err != nil {
		return nil, fmt.Errorf("failed to download archive: %w", err)
	}
	body := resp.RawBody()
	if resp.StatusCode() >= 300 {
		body.Close()
		return nil, fmt.Errorf("failed to download archive: unexpected status %d", resp.StatusCode())
	}
	return body, nil
}

// extract writes the entries of the archive below fragment into dest.
func extract(ctx context.Context, name string, r io.Reader, dest, fragment string, onEntry EntryFunc) (int, int, error) {
	format, stream, err := archives.Identify(ctx, name, r)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to identify archive %s: %w", name, err)
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return 0, 0, fmt.Errorf("%s is not an extractable archive", name)
	}

	var matched, nonmatched int
	err = ex.Extract(ctx, stream, func(ctx context.Context, info archives.FileInfo) error {
		rel, ok := relToFragment(info.NameInArchive, fragment)
		if !ok {
			nonmatched++
			return nil
		}
		target, err := utils.SafeJoin(dest, rel)
		if err != nil {
			return err
		}
		matched++

		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case info.Mode()&fs.ModeSymlink != 0:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(info.LinkTarget, target); err != nil {
				return err
			}
		default:
			if err := writeEntry(info, target); err != nil {
				return err
			}
		}
		if onEntry != nil {
			onEntry(target)
		}
		return nil
	})
	if err != nil {
		return matched, nonmatched, fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return matched, nonmatched, nil
}

func writeEntry(info archives.FileInfo, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	src, err := info.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm()|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
