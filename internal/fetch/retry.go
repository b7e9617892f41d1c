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

package fetch

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"k8s.io/klog/v2"
)

const (
	DefaultAttempts = 5
	DefaultDelay    = 5 * time.Second
)

// Retrying retries a Fetcher a bounded number of times with a fixed delay.
type Retrying struct {
	Fetcher  Fetcher
	Attempts uint
	Delay    time.Duration
}

func NewRetrying(f Fetcher) *Retrying {
	return &Retrying{Fetcher: f, Attempts: DefaultAttempts, Delay: DefaultDelay}
}

func (r *Retrying) Fetch(ctx context.Context, rawURL, dest string, keepChanges bool, onEntry EntryFunc) (int, int, error) {
	var matched, nonmatched int
	err := retry.Do(
		func() error {
			var err error
			matched, nonmatched, err = r.Fetcher.Fetch(ctx, rawURL, dest, keepChanges, onEntry)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.Attempts),
		retry.Delay(r.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			klog.ErrorS(err, "fetch failed, retrying", "url", rawURL, "attempt", n+1, "delay", r.Delay)
		}),
	)
	return matched, nonmatched, err
}
