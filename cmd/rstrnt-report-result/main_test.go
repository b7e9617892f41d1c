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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequest(t *testing.T) {
	CLI.Message = "ok"
	CLI.Args.Path, CLI.Args.Result, CLI.Args.Score = "/setup", "pass", "42"
	req, err := buildRequest()
	require.NoError(t, err)
	assert.Equal(t, "PASS", req.Result)
	assert.Equal(t, "/setup", req.Path)
	assert.Equal(t, 42, req.Score)
	assert.Equal(t, "ok", req.Message)

	CLI.Args.Score = "many"
	_, err = buildRequest()
	assert.Error(t, err)

	CLI.Args.Result, CLI.Args.Score = "SKIP", ""
	_, err = buildRequest()
	assert.Error(t, err)

	CLI.Args.Path = ""
	_, err = buildRequest()
	assert.Error(t, err)
}
