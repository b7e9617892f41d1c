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

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
)

const (
	HarnessLog = "harness.log"
	OutputLog  = "taskout.log"
)

// TaskLog holds the two log streams of one task: harness.log carries the
// progress lines written by the daemon, taskout.log the raw output of the
// task command.
type TaskLog struct {
	dir     string
	taskID  string
	harness *zap.Logger
	hfile   *os.File
	output  *os.File

	mu     sync.Mutex
	closed bool
}

// OpenTaskLog opens (appending) both logs under dir.
func OpenTaskLog(dir, taskID string) (*TaskLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	hfile, err := os.OpenFile(filepath.Join(dir, HarnessLog), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open harness log: %w", err)
	}
	output, err := os.OpenFile(filepath.Join(dir, OutputLog), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		hfile.Close()
		return nil, fmt.Errorf("failed to open output log: %w", err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(hfile), zapcore.InfoLevel)

	return &TaskLog{
		dir:     dir,
		taskID:  taskID,
		harness: zap.New(core),
		hfile:   hfile,
		output:  output,
	}, nil
}

func (l *TaskLog) Dir() string { return l.dir }

func (l *TaskLog) HarnessPath() string { return filepath.Join(l.dir, HarnessLog) }

func (l *TaskLog) OutputPath() string { return filepath.Join(l.dir, OutputLog) }

// Printf writes one progress line to harness.log.
func (l *TaskLog) Printf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	klog.V(1).InfoS(msg, "task", l.taskID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.harness.Info(msg)
}

// Write appends raw task output to taskout.log.
func (l *TaskLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, os.ErrClosed
	}
	return l.output.Write(p)
}

func (l *TaskLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	_ = l.harness.Sync()
	err := l.hfile.Close()
	if oerr := l.output.Close(); err == nil {
		err = oerr
	}
	return err
}
