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

package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func startLoop(t *testing.T, l *Loop) {
	t.Helper()
	go l.Run(context.Background())
	t.Cleanup(l.Stop)
}

func TestLoop_PostPreservesOrder(t *testing.T) {
	l := New(nil)
	startLoop(t, l)

	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			got = append(got, i)
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callbacks did not run")
	}
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_CallbacksNeverOverlap(t *testing.T) {
	l := New(nil)
	startLoop(t, l)

	var (
		wg      sync.WaitGroup
		running int
		overlap bool
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = l.Call(context.Background(), func() {
					running++
					if running > 1 {
						overlap = true
					}
					running--
				})
			}
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
}

func TestLoop_PostFromLoopRunsLater(t *testing.T) {
	l := New(nil)
	startLoop(t, l)

	var order []string
	err := l.Call(context.Background(), func() {
		l.Post(func() { order = append(order, "inner") })
		order = append(order, "outer")
	})
	require.NoError(t, err)
	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestLoop_AfterFuncUsesClock(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	l := New(fc)
	startLoop(t, l)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Second, func() { close(fired) })

	fc.Step(9 * time.Second)
	select {
	case <-fired:
		t.Fatal("timer fired early")
	case <-time.After(50 * time.Millisecond):
	}

	fc.Step(time.Second)
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoop_PostAfterStopIsDropped(t *testing.T) {
	l := New(nil)
	go l.Run(context.Background())
	l.Stop()

	called := false
	l.Post(func() { called = true })
	time.Sleep(20 * time.Millisecond)
	assert.False(t, called)
	assert.Error(t, l.Call(context.Background(), func() {}))
}

func TestLoop_StopDropsQueuedCallbacks(t *testing.T) {
	l := New(nil)
	go l.Run(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	l.Post(func() {
		close(started)
		<-release
	})
	var mu sync.Mutex
	ran := false
	l.Post(func() {
		mu.Lock()
		ran = true
		mu.Unlock()
	})
	<-started

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.stopped
	}, 5*time.Second, time.Millisecond)
	close(release)
	<-stopped

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, ran)
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), context.Canceled)
}
