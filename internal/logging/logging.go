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

// Package logging wires klog for the daemon and opens the per-task log
// streams that are uploaded to the harness.
package logging

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/klog/v2"
)

// Options controls where daemon logs go. An empty File keeps klog on stderr.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// AlsoStderr mirrors file output to stderr.
	AlsoStderr bool
}

// Setup redirects klog to a rotating file when opts.File is set. The
// returned closer flushes klog and closes the file.
func Setup(opts Options) io.Closer {
	if opts.File == "" {
		return closerFunc(func() error {
			klog.Flush()
			return nil
		})
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	var out io.Writer = lj
	if opts.AlsoStderr {
		out = io.MultiWriter(os.Stderr, lj)
	}
	klog.LogToStderr(false)
	klog.SetOutput(out)
	klog.InfoS("logging to file", "file", opts.File, "maxSizeMB", opts.MaxSizeMB)

	return closerFunc(func() error {
		klog.Flush()
		return lj.Close()
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
