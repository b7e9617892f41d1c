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
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/restraint-harness/restraint/internal/types"
	"github.com/restraint-harness/restraint/pkg/client"
)

var CLI struct {
	Server  string `short:"s" long:"server" description:"restraintd control URL (default: $RSTRNT_URL)"`
	Port    int    `long:"port" description:"restraintd port number on localhost"`
	Message string `short:"t" long:"message" description:"short message stored with the result"`

	Args struct {
		Path   string `positional-arg-name:"PATH" description:"result path, such as /kernel/setup"`
		Result string `positional-arg-name:"RESULT" description:"PASS, WARN or FAIL"`
		Score  string `positional-arg-name:"SCORE" description:"optional integer score"`
	} `positional-args:"yes"`
}

func main() {
	parser := flags.NewParser(&CLI, flags.Default)
	parser.Usage = "[OPTIONS] PATH RESULT [SCORE]\n\nReport a result for the running task."
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	req, err := buildRequest()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := client.NewClient(client.ServerURL(CLI.Server, CLI.Port))
	if err := c.ReportResult(ctx, req); err != nil {
		fmt.Fprintf(os.Stderr, "failed to report result: %v\n", err)
		os.Exit(1)
	}
}

func buildRequest() (client.ResultRequest, error) {
	if CLI.Args.Path == "" || CLI.Args.Result == "" {
		return client.ResultRequest{}, fmt.Errorf("PATH and RESULT are required")
	}
	result, err := types.ParseResult(CLI.Args.Result)
	if err != nil {
		return client.ResultRequest{}, err
	}
	req := client.ResultRequest{Result: result.String(), Path: CLI.Args.Path, Message: CLI.Message}
	if CLI.Args.Score != "" {
		if req.Score, err = strconv.Atoi(CLI.Args.Score); err != nil {
			return client.ResultRequest{}, fmt.Errorf("invalid score %q: %w", CLI.Args.Score, err)
		}
	}
	return req, nil
}
