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

// Package metadata reads the descriptor files shipped with a task: the
// "metadata" keyfile and the legacy "testinfo.desc".
package metadata

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/restraint-harness/restraint/internal/types"
)

const (
	MetadataFile = "metadata"
	TestinfoFile = "testinfo.desc"
	Makefile     = "Makefile"

	generalSection   = "General"
	restraintSection = "restraint"
)

var ErrMissingMakefile = errors.New("running in rhts_compat mode and missing 'Makefile'")

// IsCompat reports whether the task at path predates the metadata file and
// must run in rhts_compat mode.
func IsCompat(path string) bool {
	_, err := os.Stat(filepath.Join(path, MetadataFile))
	return err != nil
}

// HasTestinfo reports whether testinfo.desc has already been generated.
func HasTestinfo(path string) bool {
	_, err := os.Stat(filepath.Join(path, TestinfoFile))
	return err == nil
}

// GenerateCommand returns the command that produces testinfo.desc. It fails
// when the task has no Makefile to run.
func GenerateCommand(path string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(path, Makefile)); err != nil {
		return nil, ErrMissingMakefile
	}
	return []string{"make", TestinfoFile}, nil
}

// Options tune how descriptor files are interpreted.
type Options struct {
	// OSMajor selects localized keys such as dependencies[RedHatEnterpriseLinux7].
	OSMajor string
	// MaxTime is a budget already known from persisted run data. When
	// positive it wins over the file.
	MaxTime int64
}

// Load reads the descriptor of the task at path, picking testinfo.desc when
// compat is set, and fills in the defaults.
func Load(path string, compat bool, opts Options) (*types.MetaData, error) {
	name := MetadataFile
	parse := func(r io.Reader) (*types.MetaData, error) { return ParseMetadata(r, opts.OSMajor) }
	if compat {
		name = TestinfoFile
		parse = ParseTestinfo
	}

	file, err := os.Open(filepath.Join(path, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer file.Close()

	md, err := parse(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	applyDefaults(md, opts)
	return md, nil
}

func applyDefaults(md *types.MetaData, opts Options) {
	if opts.MaxTime > 0 {
		md.MaxTime = opts.MaxTime
	}
	if md.MaxTime <= 0 {
		md.MaxTime = types.DefaultMaxTime
	}
	if md.EntryPoint == "" {
		md.EntryPoint = types.DefaultEntryPoint
	}
}

// ParseTime converts a duration such as 5d, 2h, 3m or 600s into seconds. A
// bare number is taken as seconds.
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == 0 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	digits, unit := s, ""
	if end > 0 {
		digits, unit = s[:end], strings.TrimSpace(s[end:])
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if unit == "" {
		return n, nil
	}
	switch unicode.ToUpper(rune(unit[0])) {
	case 'D':
		return n * 24 * 3600, nil
	case 'H':
		return n * 3600, nil
	case 'M':
		return n * 60, nil
	case 'S':
		return n, nil
	default:
		return 0, fmt.Errorf("unrecognised time unit '%c'", unit[0])
	}
}

// ParseMetadata parses the keyfile format: [General] name and the
// [restraint] keys. Lists are separated by ';'. A key suffixed with
// [osMajor] overrides the plain key.
func ParseMetadata(r io.Reader, osMajor string) (*types.MetaData, error) {
	kf, err := parseKeyFile(r)
	if err != nil {
		return nil, err
	}

	md := &types.MetaData{}
	md.Name = kf.get(generalSection, "name", osMajor)
	md.EntryPoint = kf.get(restraintSection, "entry_point", osMajor)
	if v := kf.get(restraintSection, "max_time", osMajor); v != "" {
		if md.MaxTime, err = ParseTime(v); err != nil {
			return nil, err
		}
	}
	md.Dependencies = splitList(kf.get(restraintSection, "dependencies", osMajor))
	md.SoftDependencies = splitList(kf.get(restraintSection, "softDependencies", osMajor))
	md.RepoDependencies = splitList(kf.get(restraintSection, "repoRequires", osMajor))
	md.Envvars = splitList(kf.get(restraintSection, "environment", osMajor))

	if md.NoLocalWatchdog, err = kf.getBool(restraintSection, "no_localwatchdog", osMajor); err != nil {
		return nil, err
	}
	if md.UsePty, err = kf.getBool(restraintSection, "use_pty", osMajor); err != nil {
		return nil, err
	}
	return md, nil
}

// ParseTestinfo parses "KEY: value" lines of testinfo.desc. Requires lists
// are space separated. RhtsRequires entries of the form test(/path) or
// library(name) become repo dependencies.
func ParseTestinfo(r io.Reader) (*types.MetaData, error) {
	md := &types.MetaData{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "TESTTIME":
			t, err := ParseTime(value)
			if err != nil {
				return nil, err
			}
			md.MaxTime = t
		case "NAME":
			md.Name = value
		case "REQUIRES":
			md.Dependencies = append(md.Dependencies, strings.Fields(value)...)
		case "RHTSREQUIRES":
			for _, f := range strings.Fields(value) {
				if repo, ok := rhtsRepo(f); ok {
					md.RepoDependencies = append(md.RepoDependencies, repo)
				} else {
					md.Dependencies = append(md.Dependencies, f)
				}
			}
		case "ENVIRONMENT":
			md.Envvars = append(md.Envvars, strings.Fields(value)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read testinfo: %w", err)
	}
	return md, nil
}

func rhtsRepo(entry string) (string, bool) {
	for _, prefix := range []string{"test(", "library("} {
		if strings.HasPrefix(entry, prefix) && strings.HasSuffix(entry, ")") {
			return strings.TrimSuffix(strings.TrimPrefix(entry, prefix), ")"), true
		}
	}
	return "", false
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(v, ";") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
