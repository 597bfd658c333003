/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package registry

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ric-platform/a1-mediator/pkg/metrics"
)

// PurgeFunc erases all state of one tombstoned instance
type PurgeFunc func(ctx context.Context, typeID int64, instanceID string)

type pendingDelete struct {
	due        time.Time
	typeID     int64
	instanceID string
}

// deleteHeap is a min-heap ordered by due time
type deleteHeap []pendingDelete

func (h deleteHeap) Len() int            { return len(h) }
func (h deleteHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h deleteHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deleteHeap) Push(x interface{}) { *h = append(*h, x.(pendingDelete)) }
func (h *deleteHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Finalizer holds the pending instance deletes and drains them with a single
// background worker once their grace window expires. Arming is fire-and-forget:
// Schedule never blocks the caller, and a lost timer (process restart) is
// recovered by the next delete re-arming it.
type Finalizer struct {
	mu     sync.Mutex
	heap   deleteHeap
	wake   chan struct{}
	purge  PurgeFunc
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFinalizer creates a finalizer that purges through the given callback
func NewFinalizer(purge PurgeFunc, logger *slog.Logger) *Finalizer {
	return &Finalizer{
		wake:   make(chan struct{}, 1),
		purge:  purge,
		logger: logger,
	}
}

// Schedule arms a purge for the instance at the given due time. Scheduling
// the same instance again adds another entry; the purge is idempotent, so
// each entry only needs to be processed at least once.
func (f *Finalizer) Schedule(typeID int64, instanceID string, due time.Time) {
	f.mu.Lock()
	heap.Push(&f.heap, pendingDelete{due: due, typeID: typeID, instanceID: instanceID})
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker. Stop cancels it at the next wait point.
func (f *Finalizer) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.run(ctx)
	f.logger.Info("Delete finalizer started")
}

// Stop terminates the worker and waits for it to exit. Pending entries are
// abandoned; a subsequent delete re-arms them.
func (f *Finalizer) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

func (f *Finalizer) run(ctx context.Context) {
	defer f.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		f.mu.Lock()
		var wait time.Duration
		hasNext := f.heap.Len() > 0
		if hasNext {
			wait = time.Until(f.heap[0].due)
		}
		f.mu.Unlock()

		if !hasNext {
			select {
			case <-ctx.Done():
				return
			case <-f.wake:
				continue
			}
		}

		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-f.wake:
				// A new entry may be due earlier; recompute
				if !timer.Stop() {
					<-timer.C
				}
				continue
			case <-timer.C:
			}
		}

		f.drainDue(ctx)
	}
}

// drainDue pops and purges every entry whose due time has passed
func (f *Finalizer) drainDue(ctx context.Context) {
	now := time.Now()
	for {
		f.mu.Lock()
		if f.heap.Len() == 0 || f.heap[0].due.After(now) {
			f.mu.Unlock()
			return
		}
		entry := heap.Pop(&f.heap).(pendingDelete)
		f.mu.Unlock()

		f.purge(ctx, entry.typeID, entry.instanceID)
		metrics.InstanceDeletesFinalizedTotal.Inc()
	}
}
