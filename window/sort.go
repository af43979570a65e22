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
	"sort"
	"sync"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/state"
)

// SortSpec is one (attribute, direction) ordering key (spec §4.3.7).
// Index refers to a position in BeforeWindowData.
type SortSpec struct {
	Index      int
	Descending bool
}

// SortWindow maintains Length events in sorted order; the event newly
// pushed out of that order's top-Length prefix is displaced and forwarded
// downstream as Expired (spec §4.3.7).
type SortWindow struct {
	*state.BaseHolder[sortSnapshot]

	mu     sync.Mutex
	length int
	specs  []SortSpec
	buf    []*model.StreamEvent // kept sorted ascending per specs
	emit   Emitter
}

type sortSnapshot struct {
	Length int
	Specs  []SortSpec
	Events []snapshotEvent
}

// NewSortWindow constructs a sort window. length must be positive; specs
// must name at least one ordering key.
func NewSortWindow(componentID string, length int, specs []SortSpec, emit Emitter) (*SortWindow, error) {
	if err := validateLength(length); err != nil {
		return nil, err
	}
	w := &SortWindow{length: length, specs: specs, emit: emit}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

// less implements the multi-key ordering: earlier specs take priority,
// each direction applied independently, insertion order breaking all ties
// (spec §4.3 "ties ... break by insertion order" generalizes from the
// sliding-time case to every window that orders by something other than
// arrival).
func (w *SortWindow) less(a, b *model.StreamEvent) bool {
	for _, spec := range w.specs {
		av := attrAt(a, spec.Index)
		bv := attrAt(b, spec.Index)
		cmp, err := model.Compare(av, bv)
		if err != nil || cmp == 0 {
			continue
		}
		if spec.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func attrAt(e *model.StreamEvent, idx int) model.AttributeValue {
	if idx < 0 || idx >= len(e.BeforeWindowData) {
		return model.Null()
	}
	return e.BeforeWindowData[idx]
}

// OnEvent inserts e at its sorted position; if the buffer now exceeds
// Length, the event sorting last is displaced and emitted Expired.
func (w *SortWindow) OnEvent(e *model.StreamEvent) {
	w.mu.Lock()
	pos := sort.Search(len(w.buf), func(i int) bool { return w.less(e, w.buf[i]) })
	w.buf = append(w.buf, nil)
	copy(w.buf[pos+1:], w.buf[pos:])
	w.buf[pos] = e

	var expired *model.StreamEvent
	if len(w.buf) > w.length {
		expired = w.buf[len(w.buf)-1]
		w.buf = w.buf[:len(w.buf)-1]
	}
	w.mu.Unlock()

	out := []*model.StreamEvent{e}
	if expired != nil {
		out = append(out, asExpired(expired))
	}
	w.emit(out)
}

// Contents returns the events currently buffered, in sorted order.
func (w *SortWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.StreamEvent, len(w.buf))
	copy(out, w.buf)
	return out
}

// Shutdown releases buffered events.
func (w *SortWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.buf {
		e.Release()
	}
	w.buf = nil
}

func (w *SortWindow) snapshot() sortSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := sortSnapshot{Length: w.length, Specs: w.specs}
	for _, e := range w.buf {
		snap.Events = append(snap.Events, toSnapshotEvent(e))
	}
	return snap
}

func (w *SortWindow) restore(s sortSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.length = s.Length
	w.specs = s.Specs
	w.buf = w.buf[:0]
	for _, se := range s.Events {
		w.buf = append(w.buf, se.toStreamEvent())
	}
	return nil
}
