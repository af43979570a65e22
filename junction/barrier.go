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

package junction

import "sync"

// ThreadBarrier halts new event ingress during checkpoint cuts and
// recovery (spec §3.1 "ThreadBarrier", invariant 4). It is shared by every
// InputHandler in a runtime.
type ThreadBarrier struct {
	mu     sync.RWMutex
	closed bool
	cond   *sync.Cond
}

// NewThreadBarrier returns an open barrier.
func NewThreadBarrier() *ThreadBarrier {
	b := &ThreadBarrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Close halts new ingress. Callers that already returned from Enter carry
// on; Close does not wait for them, and the barrier keeps no count of
// callers in flight.
func (b *ThreadBarrier) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Open reopens ingress and wakes any goroutines parked in Enter.
func (b *ThreadBarrier) Open() {
	b.mu.Lock()
	b.closed = false
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Enter blocks while the barrier is closed, then returns. InputHandlers
// call this before converting a raw Event into a StreamEvent and
// publishing it, guaranteeing invariant 4 (monotonicity: while closed, no
// new events enter the pipeline).
func (b *ThreadBarrier) Enter() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.closed {
		b.cond.Wait()
	}
}

// IsClosed reports the current state without blocking.
func (b *ThreadBarrier) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
