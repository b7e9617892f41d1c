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

package store

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

const (
	KeyReboots       = "reboots"
	KeyStarted       = "started"
	KeyFinished      = "finished"
	KeyLocalWatchdog = "localwatchdog"
	KeyRemainingTime = "remaining_time"

	offsetPrefix = "offset:"
)

// TaskRecord is the persisted progress of one task.
type TaskRecord struct {
	Reboots       int64
	Started       bool
	Finished      bool
	LocalWatchdog bool
	// RemainingTime is -1 when no heartbeat has been recorded.
	RemainingTime int64
	Offsets       map[string]int64
}

// LoadTaskRecord reads the section of taskID. Values that fail to parse are
// logged and take their zero value.
func LoadTaskRecord(s StateStore, taskID string) (*TaskRecord, error) {
	rec := &TaskRecord{RemainingTime: -1, Offsets: make(map[string]int64)}

	keys, err := s.Keys(taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}
	for _, key := range keys {
		value, _, err := s.Get(taskID, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read task %s key %s: %w", taskID, key, err)
		}
		switch {
		case key == KeyReboots:
			rec.Reboots = parseInt(taskID, key, value, 0)
		case key == KeyStarted:
			rec.Started = parseBool(taskID, key, value)
		case key == KeyFinished:
			rec.Finished = parseBool(taskID, key, value)
		case key == KeyLocalWatchdog:
			rec.LocalWatchdog = parseBool(taskID, key, value)
		case key == KeyRemainingTime:
			rec.RemainingTime = parseInt(taskID, key, value, -1)
		case strings.HasPrefix(key, offsetPrefix):
			rec.Offsets[strings.TrimPrefix(key, offsetPrefix)] = parseInt(taskID, key, value, 0)
		}
	}
	return rec, nil
}

func SetInt64(s StateStore, section, key string, v int64) error {
	return s.Set(section, key, strconv.FormatInt(v, 10))
}

func SetBool(s StateStore, section, key string, v bool) error {
	return s.Set(section, key, strconv.FormatBool(v))
}

// SetOffset records how many bytes of a task log have been uploaded.
func SetOffset(s StateStore, taskID, logPath string, offset int64) error {
	return SetInt64(s, taskID, offsetPrefix+logPath, offset)
}

func parseInt(section, key, value string, def int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		klog.ErrorS(err, "ignoring invalid persisted value", "section", section, "key", key)
		return def
	}
	return v
}

func parseBool(section, key, value string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		klog.ErrorS(err, "ignoring invalid persisted value", "section", section, "key", key)
		return false
	}
	return v
}
