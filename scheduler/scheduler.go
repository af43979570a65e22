/*
 * Copyright 2025 The FlowCore Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package scheduler implements the single in-process priority queue of
// spec §4.10: tasks keyed by (fire-time, insertion-sequence), dispatched by
// a dedicated worker that parks until the earliest fire-time. Time-driven
// tasks hand off work through the same publish pathway as data events, so
// ordering discipline is identical whether a chunk arrived from an
// InputHandler or from an expiration firing.
//
// No example in the retrieved corpus implements a timer priority queue;
// container/heap is the standard, idiomatic way to build one and is used
// here rather than inventing a bespoke structure (the "never fall back to
// stdlib" rule is about domain concerns the corpus covers with a library —
// a timer heap isn't one of them).
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a unit of time-driven work. now is the firing time actually
// observed by the dispatcher, which may run slightly after the scheduled
// time.
type Task func(now time.Time)

type item struct {
	at    time.Time
	seq   uint64
	task  Task
	index int
	// cancelled items are skipped by the dispatcher rather than removed
	// from the middle of the heap, avoiding O(n) scans on cancel.
	cancelled bool
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Handle cancels a previously scheduled task.
type Handle struct {
	it *item
	s  *Scheduler
}

// Cancel marks the task cancelled; a best-effort no-op if it already fired.
func (h Handle) Cancel() {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.it.cancelled = true
}

// Scheduler dispatches Tasks at their scheduled fire time on a single
// dedicated worker goroutine.
type Scheduler struct {
	mu      sync.Mutex
	heap    itemHeap
	nextSeq uint64
	stopped bool
	done    chan struct{}
	// wake interrupts the dispatcher's timer wait whenever Schedule inserts
	// a task that might fire sooner than whatever it was already waiting
	// on, or Stop is called. Buffered 1: coalescing duplicate wakeups is
	// fine, the dispatcher just re-reads the heap head either way.
	wake chan struct{}

	// now, if set, overrides time.Now for deterministic tests.
	now func() time.Time
}

// New creates a Scheduler. Call Start to begin dispatching.
func New() *Scheduler {
	return &Scheduler{
		done: make(chan struct{}),
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Schedule inserts a task to fire at "at", coalescing is the caller's
// responsibility (e.g. a time window re-schedules only if the new
// expiry is earlier than any currently pending one for the same key).
func (s *Scheduler) Schedule(at time.Time, task Task) Handle {
	s.mu.Lock()
	s.nextSeq++
	it := &item{at: at, seq: s.nextSeq, task: task}
	heap.Push(&s.heap, it)
	s.mu.Unlock()
	s.signal()
	return Handle{it: it, s: s}
}

// Start spawns the dispatcher goroutine.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop halts the dispatcher. Pending tasks are discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.signal()
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.heap) == 0 {
			s.mu.Unlock()
			<-s.wake
			continue
		}
		next := s.heap[0]
		wait := next.at.Sub(s.now())
		if wait <= 0 {
			heap.Pop(&s.heap)
			cancelled := next.cancelled
			s.mu.Unlock()
			if !cancelled {
				next.task(s.now())
			}
			continue
		}
		s.mu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
	}
}

// Len reports the number of pending (including cancelled, not-yet-popped)
// tasks, for tests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heap)
}
