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
	"container/list"
	"sync"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/state"
)

// LengthWindow is a sliding window of fixed cardinality (spec §4.3.1):
// a FIFO of at most Length current events, the oldest displaced (and
// forwarded downstream as Expired) the moment a new event would push the
// count past Length.
type LengthWindow struct {
	*state.BaseHolder[lengthSnapshot]

	mu     sync.Mutex
	length int
	buf    *list.List // of *model.StreamEvent
	emit   Emitter
}

type lengthSnapshot struct {
	Length int
	Events []snapshotEvent
}

// NewLengthWindow constructs a length window. length must be positive
// (spec §4.3 edge policy).
func NewLengthWindow(componentID string, length int, emit Emitter) (*LengthWindow, error) {
	if err := validateLength(length); err != nil {
		return nil, err
	}
	w := &LengthWindow{length: length, buf: list.New(), emit: emit}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

// OnEvent appends e; once size exceeds Length, the oldest buffered event
// is popped and re-emitted as Expired, after the Current event itself.
func (w *LengthWindow) OnEvent(e *model.StreamEvent) {
	w.mu.Lock()
	w.buf.PushBack(e)
	var expired *model.StreamEvent
	if w.buf.Len() > w.length {
		front := w.buf.Front()
		expired = front.Value.(*model.StreamEvent)
		w.buf.Remove(front)
	}
	w.mu.Unlock()

	out := []*model.StreamEvent{e}
	if expired != nil {
		out = append(out, asExpired(expired))
	}
	w.emit(out)
}

// Contents returns the events currently buffered, oldest first, for a join
// operator to iterate against (spec §4.4 "iterate the right window's
// current contents").
func (w *LengthWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.StreamEvent, 0, w.buf.Len())
	for el := w.buf.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*model.StreamEvent))
	}
	return out
}

// Shutdown releases every buffered event.
func (w *LengthWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for el := w.buf.Front(); el != nil; el = el.Next() {
		el.Value.(*model.StreamEvent).Release()
	}
	w.buf.Init()
}

func (w *LengthWindow) snapshot() lengthSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := lengthSnapshot{Length: w.length}
	for el := w.buf.Front(); el != nil; el = el.Next() {
		snap.Events = append(snap.Events, toSnapshotEvent(el.Value.(*model.StreamEvent)))
	}
	return snap
}

func (w *LengthWindow) restore(s lengthSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.length = s.Length
	w.buf.Init()
	for _, se := range s.Events {
		w.buf.PushBack(se.toStreamEvent())
	}
	return nil
}
