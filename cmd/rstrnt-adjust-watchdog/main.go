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
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/restraint-harness/restraint/internal/metadata"
	"github.com/restraint-harness/restraint/pkg/client"
)

var CLI struct {
	Server string `short:"s" long:"server" description:"restraintd control URL (default: $RSTRNT_URL)"`
	Port   int    `long:"port" description:"restraintd port number on localhost"`

	Args struct {
		Time string `positional-arg-name:"TIME" description:"new watchdog budget, such as 3600, 90m, 2h or 1d"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	parser := flags.NewParser(&CLI, flags.Default)
	parser.Usage = "[OPTIONS] TIME\n\nAdjust the local and external watchdog of the running task."
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	seconds, err := metadata.ParseTime(CLI.Args.Time)
	if err != nil || seconds <= 0 {
		fmt.Fprintf(os.Stderr, "invalid time %q\n", CLI.Args.Time)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := client.NewClient(client.ServerURL(CLI.Server, CLI.Port))
	if err := c.AdjustWatchdog(ctx, seconds); err != nil {
		fmt.Fprintf(os.Stderr, "failed to adjust watchdog: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Watchdog adjusted to %d seconds\n", seconds)
}
