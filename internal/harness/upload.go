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

package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/restraint-harness/restraint/internal/delivery"
	store "github.com/restraint-harness/restraint/internal/storage"
	"github.com/restraint-harness/restraint/internal/types"
)

const DefaultChunkSize = 64 * 1024

// Enqueuer is the part of the delivery queue the uploader needs.
type Enqueuer interface {
	Enqueue(req *delivery.Request, onDelivered delivery.DeliveredFunc)
}

// Scheduler runs callbacks on the event loop after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) clock.Timer
}

type logFile struct {
	name    string
	path    string
	pending bool
}

// Uploader ships the growth of a task's log files to the harness, one chunk
// per file at a time, and remembers the uploaded offset in the task and the
// state store. All methods must be called from the event loop.
type Uploader struct {
	task      *types.Task
	queue     Enqueuer
	store     store.StateStore
	sched     Scheduler
	interval  time.Duration
	chunkSize int64

	files   []*logFile
	timer   clock.Timer
	stopped bool
	onDone  func()
}

func NewUploader(task *types.Task, queue Enqueuer, st store.StateStore, sched Scheduler, interval time.Duration) *Uploader {
	return &Uploader{
		task:      task,
		queue:     queue,
		store:     st,
		sched:     sched,
		interval:  interval,
		chunkSize: DefaultChunkSize,
	}
}

// Add registers a log file under the name it is uploaded as.
func (u *Uploader) Add(name, path string) {
	u.files = append(u.files, &logFile{name: name, path: path})
	sort.Slice(u.files, func(i, j int) bool { return u.files[i].name < u.files[j].name })
}

// Start begins periodic uploads.
func (u *Uploader) Start() {
	u.schedule()
}

// Stop cancels the timer and uploads whatever is left. onDone runs once
// every file has been fully uploaded. Offsets are no longer persisted after
// Stop because the task record is about to be removed.
func (u *Uploader) Stop(onDone func()) {
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.stopped = true
	u.onDone = onDone
	u.tick()
}

func (u *Uploader) schedule() {
	if u.stopped {
		return
	}
	u.timer = u.sched.AfterFunc(u.interval, func() {
		u.tick()
		u.schedule()
	})
}

func (u *Uploader) tick() {
	for _, f := range u.files {
		if f.pending {
			continue
		}
		if err := u.uploadNext(f); err != nil {
			klog.ErrorS(err, "failed to upload log chunk", "task", u.task.ID, "log", f.name)
		}
	}
	u.checkDone()
}

func (u *Uploader) uploadNext(f *logFile) error {
	offset := u.task.Offsets[f.name]
	data, total, err := readChunk(f.path, offset, u.chunkSize)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	f.pending = true
	u.queue.Enqueue(LogChunkRequest(u.task, f.name, data, offset, total), func(_ *delivery.Request, code int) {
		f.pending = false
		next := offset + int64(len(data))
		u.task.Offsets[f.name] = next
		if !u.stopped {
			if err := store.SetOffset(u.store, u.task.ID, f.name, next); err != nil {
				klog.ErrorS(err, "failed to persist log offset", "task", u.task.ID, "log", f.name)
			}
		}
		klog.V(2).InfoS("log chunk uploaded", "task", u.task.ID, "log", f.name, "offset", next, "status", code)
		if u.stopped {
			u.tick()
		}
	})
	return nil
}

func (u *Uploader) checkDone() {
	if !u.stopped || u.onDone == nil {
		return
	}
	for _, f := range u.files {
		if f.pending {
			return
		}
	}
	done := u.onDone
	u.onDone = nil
	done()
}

// readChunk reads at most limit bytes of path starting at offset. A log that
// does not exist yet reads as empty.
func readChunk(path string, offset, limit int64) ([]byte, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat log: %w", err)
	}
	total := info.Size()
	if offset >= total {
		return nil, total, nil
	}

	n := total - offset
	if n > limit {
		n = limit
	}
	buf := make([]byte, n)
	read, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("failed to read log: %w", err)
	}
	return buf[:read], total, nil
}
