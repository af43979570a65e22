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

package window

import (
	"sync"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/state"
)

// LengthBatchWindow accumulates exactly Length events before flushing them
// all at once (spec §4.3.2): unlike LengthWindow it never displaces a
// single event, it tumbles.
type LengthBatchWindow struct {
	*state.BaseHolder[lengthSnapshot]

	mu     sync.Mutex
	length int
	acc    []*model.StreamEvent
	emit   Emitter
}

// NewLengthBatchWindow constructs a length-batch (tumbling count) window.
func NewLengthBatchWindow(componentID string, length int, emit Emitter) (*LengthBatchWindow, error) {
	if err := validateLength(length); err != nil {
		return nil, err
	}
	w := &LengthBatchWindow{length: length, emit: emit}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

// OnEvent appends e to the accumulator. Once the accumulator reaches
// Length, every accumulated event is emitted as Expired immediately
// followed by a Reset marker, and the accumulator empties.
func (w *LengthBatchWindow) OnEvent(e *model.StreamEvent) {
	w.mu.Lock()
	w.acc = append(w.acc, e)
	var flush []*model.StreamEvent
	if len(w.acc) >= w.length {
		flush = w.acc
		w.acc = nil
	}
	w.mu.Unlock()

	if flush == nil {
		return
	}
	out := make([]*model.StreamEvent, 0, len(flush)+1)
	for _, fe := range flush {
		out = append(out, asExpired(fe))
	}
	out = append(out, asReset(e.Timestamp))
	w.emit(out)
}

// Contents returns the events accumulated so far in the in-progress batch.
func (w *LengthBatchWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.StreamEvent, len(w.acc))
	copy(out, w.acc)
	return out
}

// Shutdown releases any events still buffered in an incomplete batch.
func (w *LengthBatchWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.acc {
		e.Release()
	}
	w.acc = nil
}

func (w *LengthBatchWindow) snapshot() lengthSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := lengthSnapshot{Length: w.length}
	for _, e := range w.acc {
		snap.Events = append(snap.Events, toSnapshotEvent(e))
	}
	return snap
}

func (w *LengthBatchWindow) restore(s lengthSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.length = s.Length
	w.acc = w.acc[:0]
	for _, se := range s.Events {
		w.acc = append(w.acc, se.toStreamEvent())
	}
	return nil
}
