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

// Package eventloop runs callbacks one at a time on a single goroutine.
//
// Everything that mutates a running task is executed through a Loop, so the
// task and the run context need no locks. Goroutines that block (process
// wait, pty reads, HTTP calls, timers) hand their results back with Post.
package eventloop

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

type Loop struct {
	clock clock.WithTickerAndDelayedExecution

	mu      sync.Mutex
	pending []func()
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(clk clock.WithTickerAndDelayedExecution) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Loop{
		clock:  clk,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Clock returns the clock timers are scheduled on.
func (l *Loop) Clock() clock.WithTickerAndDelayedExecution {
	return l.clock
}

// Post queues fn to run on the loop goroutine. It never blocks and is safe
// to call from any goroutine, including the loop itself. Callbacks posted
// after Stop are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc runs fn on the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) clock.Timer {
	return l.clock.AfterFunc(d, func() { l.Post(fn) })
}

// Call runs fn on the loop and waits for it to return. It must not be
// called from a callback: the loop would wait on itself and never return.
// Call fails once the loop has stopped.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-l.doneCh:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches callbacks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case <-l.wake:
			l.drain()
		case <-l.stopCh:
			klog.V(1).InfoS("event loop stopped")
			return
		case <-ctx.Done():
			klog.V(1).InfoS("event loop context cancelled")
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and waits for the current callback to finish. Callbacks
// still queued are dropped, not run. Like Call, it must not be called from a
// callback.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.doneCh
		return
	}
	l.stopped = true
	l.mu.Unlock()
	close(l.stopCh)
	<-l.doneCh
}

func (l *Loop) drain() {
	for {
		fn, ok := l.next()
		if !ok {
			return
		}
		fn()
	}
}

// next pops the oldest pending callback. Nothing is returned once the loop
// is stopped.
func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		l.pending = nil
		return nil, false
	}
	if len(l.pending) == 0 {
		return nil, false
	}
	fn := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return fn, true
}
