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

package processor

import (
	"sync"

	"github.com/flowcore/cep/model"
)

// windowCore is the subset of window.Window every length/time/session/sort
// variant in package window implements (narrowed locally, the way sink.go
// narrows Publisher, so processor doesn't need to import window).
type windowCore interface {
	OnEvent(e *model.StreamEvent)
	Shutdown()
}

// Window adapts any window.Window variant (spec §4.3) into a chain
// Processor. The window must be constructed with its Emitter bound to this
// stage's Collect method, e.g.:
//
//	stage := &processor.Window{}
//	w, err := window.NewLengthWindow(id, length, stage.Collect)
//	stage.Core = w
//
// Data-driven emissions (the inbound Current event, plus any Expired event
// a count/insert displaced in the same call) are returned inline from
// Process, same as every other stage. Scheduler-driven emissions (a time
// window's expiration firing on its own goroutine, spec §4.10) happen
// outside any Process call, so Collect forwards those straight to
// Downstream instead, keeping both kinds of expiration on "the same
// publish pathway" (spec §4.10) without racing the in-flight chunk.
type Window struct {
	Core windowCore
	// Downstream continues the rest of the chain beyond this stage. Wired
	// by runtime assembly; only exercised for out-of-band (scheduler-fired)
	// emissions.
	Downstream func(*model.EventChunk) error

	mu        sync.Mutex
	inProcess bool
	buf       []*model.StreamEvent
}

// Collect is the window.Emitter this stage's underlying window must be
// constructed with.
func (s *Window) Collect(events []*model.StreamEvent) {
	s.mu.Lock()
	if s.inProcess {
		s.buf = append(s.buf, events...)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if s.Downstream != nil && len(events) > 0 {
		_ = s.Downstream(model.NewChunk(events...))
	}
}

// Process feeds every inbound event through the window one at a time (a
// window's OnEvent is single-event, not chunk-at-a-time) and returns
// whatever Collect accumulated synchronously during that pass.
func (s *Window) Process(chunk *model.EventChunk) (*model.EventChunk, error) {
	s.mu.Lock()
	s.inProcess = true
	s.buf = s.buf[:0]
	s.mu.Unlock()

	chunk.Each(func(e *model.StreamEvent) {
		s.Core.OnEvent(e)
	})

	s.mu.Lock()
	out := &model.EventChunk{}
	for _, e := range s.buf {
		out.Append(e)
	}
	s.inProcess = false
	s.mu.Unlock()
	return out, nil
}

// Shutdown releases the underlying window's buffered events and cancels
// its scheduled tasks (spec §3.3).
func (s *Window) Shutdown() {
	s.Core.Shutdown()
}
