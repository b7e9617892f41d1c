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

// Package delivery sends harness requests strictly in order, one at a time,
// retrying failures with exponential backoff until they are delivered.
package delivery

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

const (
	InitialRetryDelay = 2 * time.Second
	RetryMultiplier   = 1.5
	MaxRetryDelay     = 625 * time.Second
)

// Request is one outbound harness call.
type Request struct {
	ID     string
	Method string
	URL    string
	Form   url.Values
	Body   []byte
	Header map[string]string
}

// Sender performs a single attempt and returns the HTTP status code.
type Sender interface {
	Send(ctx context.Context, req *Request) (int, error)
}

// DeliveredFunc is called once the request has been accepted, or rejected
// with a client error that retrying cannot fix.
type DeliveredFunc func(req *Request, statusCode int)

type item struct {
	req         *Request
	onDelivered DeliveredFunc
	attempts    int
}

type Queue struct {
	sender Sender
	clock  clock.Clock
	post   func(func())

	mu       sync.Mutex
	items    []*item
	inflight bool

	backoff *backoff.ExponentialBackOff

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewQueue creates a queue. Delivery callbacks are handed to post, which is
// normally the event loop's Post; nil runs them on the pump goroutine.
func NewQueue(sender Sender, clk clock.Clock, post func(func())) *Queue {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if post == nil {
		post = func(fn func()) { fn() }
	}
	return &Queue{
		sender:  sender,
		clock:   clk,
		post:    post,
		backoff: NewBackOff(),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// NewBackOff returns the retry schedule: 2s, then x1.5 per failure, capped
// at 625s, without jitter.
func NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialRetryDelay
	b.Multiplier = RetryMultiplier
	b.MaxInterval = MaxRetryDelay
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Enqueue appends req to the tail of the queue.
func (q *Queue) Enqueue(req *Request, onDelivered DeliveredFunc) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	q.mu.Lock()
	q.items = append(q.items, &item{req: req, onDelivered: onDelivered})
	q.mu.Unlock()

	klog.V(2).InfoS("request queued", "id", req.ID, "method", req.Method, "url", req.URL)
	q.signal()
}

// Len counts queued requests including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.inflight {
		n++
	}
	return n
}

// Start runs the pump until ctx is cancelled or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	go q.pump(ctx)
}

func (q *Queue) Stop() {
	q.once.Do(func() { close(q.stopCh) })
	<-q.doneCh
}

// Drain waits until every queued request has been delivered.
func (q *Queue) Drain(ctx context.Context) error {
	return wait.PollUntilContextCancel(ctx, 100*time.Millisecond, true, func(context.Context) (bool, error) {
		return q.Len() == 0, nil
	})
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pump(ctx context.Context) {
	defer close(q.doneCh)

	for {
		it := q.next()
		if it == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		it.attempts++
		code, err := q.sender.Send(ctx, it.req)
		if err == nil && Delivered(code) {
			q.backoff.Reset()
			q.finish()
			klog.V(1).InfoS("request delivered", "id", it.req.ID, "url", it.req.URL, "status", code, "attempts", it.attempts)
			if it.onDelivered != nil {
				cb, req := it.onDelivered, it.req
				q.post(func() { cb(req, code) })
			}
			continue
		}

		delay := q.backoff.NextBackOff()
		q.requeue(it)
		if err != nil {
			klog.ErrorS(err, "request failed, will retry", "id", it.req.ID, "url", it.req.URL, "delay", delay)
		} else {
			klog.InfoS("request rejected by server, will retry", "id", it.req.ID, "url", it.req.URL, "status", code, "delay", delay)
		}

		select {
		case <-q.clock.After(delay):
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// next pops the head and marks it in flight.
func (q *Queue) next() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.inflight = true
	return it
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.inflight = false
	q.mu.Unlock()
}

// requeue puts a failed item back at the head so it stays ahead of
// everything queued after it.
func (q *Queue) requeue(it *item) {
	q.mu.Lock()
	q.items = append([]*item{it}, q.items...)
	q.inflight = false
	q.mu.Unlock()
}

// Delivered reports whether a status code ends the retries. Client errors
// count as delivered because resending the same request cannot succeed.
func Delivered(code int) bool {
	return (code >= 200 && code < 300) || (code >= 400 && code < 500)
}
