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

package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restraint-harness/restraint/internal/types"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr string
	}{
		{in: "2d", want: 2 * 24 * 3600},
		{in: "10h", want: 10 * 3600},
		{in: "20m", want: 20 * 60},
		{in: "200s", want: 200},
		{in: "200S", want: 200},
		{in: "45", want: 45},
		{in: " 5m ", want: 300},
		{in: "10G", wantErr: "unrecognised time unit 'G'"},
		{in: "abc", wantErr: "invalid time"},
		{in: "", wantErr: "invalid time"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const sampleMetadata = `
[General]
name=/kernel/filesystems/nfs/connectathon
owner=Jane Doe <jdoe@example.com>

[restraint]
# comments are ignored
entry_point=./runtest.sh
max_time=2h
dependencies=gcc;bzip2;rusers
dependencies[RedHatEnterpriseLinux6]=gcc
softDependencies=httpd;lib-virt
repoRequires=kernel/include;restraint/sanity/common
environment=FOO=bar;BAZ=1
no_localwatchdog=true
use_pty=True
`

func TestParseMetadata(t *testing.T) {
	md, err := ParseMetadata(strings.NewReader(sampleMetadata), "Fedora40")
	require.NoError(t, err)

	assert.Equal(t, "/kernel/filesystems/nfs/connectathon", md.Name)
	assert.Equal(t, "./runtest.sh", md.EntryPoint)
	assert.Equal(t, int64(7200), md.MaxTime)
	assert.Equal(t, []string{"gcc", "bzip2", "rusers"}, md.Dependencies)
	assert.Equal(t, []string{"httpd", "lib-virt"}, md.SoftDependencies)
	assert.Equal(t, []string{"kernel/include", "restraint/sanity/common"}, md.RepoDependencies)
	assert.Equal(t, []string{"FOO=bar", "BAZ=1"}, md.Envvars)
	assert.True(t, md.NoLocalWatchdog)
	assert.True(t, md.UsePty)
}

func TestParseMetadata_LocalizedKeyWins(t *testing.T) {
	md, err := ParseMetadata(strings.NewReader(sampleMetadata), "RedHatEnterpriseLinux6")
	require.NoError(t, err)
	assert.Equal(t, []string{"gcc"}, md.Dependencies)
}

func TestParseMetadata_Errors(t *testing.T) {
	tests := []struct {
		name, data, wantErr string
	}{
		{name: "bad time", data: "[restraint]\nmax_time=10G\n", wantErr: "unrecognised time unit"},
		{name: "bad bool", data: "[restraint]\nuse_pty=maybe\n", wantErr: "not a boolean"},
		{name: "no section", data: "name=foo\n", wantErr: "outside of any section"},
		{name: "bad header", data: "[General\n", wantErr: "malformed section header"},
		{name: "no equals", data: "[General]\nname\n", wantErr: "expected key=value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMetadata(strings.NewReader(tt.data), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseTestinfo(t *testing.T) {
	data := "Owner: Jane Doe <jdoe@example.com>\r\n" +
		"Name: /kernel/standards/usex\n" +
		"TestTime: 20m\n" +
		"\n" +
		"Requires: gcc bzip2\n" +
		"Requires: rusers\n" +
		"RhtsRequires: test(/kernel/common) library(/kernel/include) httpd\n" +
		"Environment: FOO=1\n"

	md, err := ParseTestinfo(strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "/kernel/standards/usex", md.Name)
	assert.Equal(t, int64(1200), md.MaxTime)
	assert.Equal(t, []string{"gcc", "bzip2", "rusers", "httpd"}, md.Dependencies)
	assert.Equal(t, []string{"/kernel/common", "/kernel/include"}, md.RepoDependencies)
	assert.Equal(t, []string{"FOO=1"}, md.Envvars)
}

func TestParseTestinfo_BadTime(t *testing.T) {
	_, err := ParseTestinfo(strings.NewReader("TestTime: 1G\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognised time unit 'G'")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte("[General]\nname=foo\n"), 0644))

	assert.False(t, IsCompat(dir))
	md, err := Load(dir, false, Options{})
	require.NoError(t, err)
	assert.Equal(t, "foo", md.Name)
	assert.Equal(t, types.DefaultEntryPoint, md.EntryPoint)
	assert.Equal(t, types.DefaultMaxTime, md.MaxTime)

	// A budget carried over from persisted run data wins.
	md, err = Load(dir, false, Options{MaxTime: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(42), md.MaxTime)
}

func TestLoad_Compat(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, IsCompat(dir))
	assert.False(t, HasTestinfo(dir))

	_, err := GenerateCommand(dir)
	assert.ErrorIs(t, err, ErrMissingMakefile)

	require.NoError(t, os.WriteFile(filepath.Join(dir, Makefile), []byte("run:\n"), 0644))
	cmd, err := GenerateCommand(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"make", "testinfo.desc"}, cmd)

	_, err = Load(dir, true, Options{})
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, TestinfoFile), []byte("Name: bar\nTestTime: 1h\n"), 0644))
	assert.True(t, HasTestinfo(dir))
	md, err := Load(dir, true, Options{})
	require.NoError(t, err)
	assert.Equal(t, "bar", md.Name)
	assert.Equal(t, int64(3600), md.MaxTime)
}
