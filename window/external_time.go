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

// TimeExtractor reads the event-time value a window should key expiration
// on, from an attribute rather than the wall clock (spec §4.3.5).
type TimeExtractor func(e *model.StreamEvent) int64

// ExternalTimeWindow is the event-time analogue of TimeWindow: expiration
// fires when a monotone watermark (the maximum extracted event time seen
// so far) advances past an entry's expiry, not when the wall clock does.
// There is no scheduler involvement: a watermark only advances on event
// arrival, so expiration checks happen inline in OnEvent.
type ExternalTimeWindow struct {
	*state.BaseHolder[externalTimeSnapshot]

	mu         sync.Mutex
	durationMs int64
	extract    TimeExtractor
	watermark  int64
	buf        *list.List // of timeEntry
	emit       Emitter
}

type externalTimeSnapshot struct {
	DurationMs int64
	Watermark  int64
	Entries    []timeSnapshotEntry
}

// NewExternalTimeWindow constructs an event-time sliding window.
func NewExternalTimeWindow(componentID string, durationMs int64, extract TimeExtractor, emit Emitter) (*ExternalTimeWindow, error) {
	if err := validateDurationMs(durationMs); err != nil {
		return nil, err
	}
	w := &ExternalTimeWindow{durationMs: durationMs, extract: extract, buf: list.New(), emit: emit}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

// OnEvent advances the watermark from e's extracted event time, appends e,
// then pops and expires every buffered entry the new watermark has passed.
func (w *ExternalTimeWindow) OnEvent(e *model.StreamEvent) {
	ts := w.extract(e)
	if err := validateTimestamp(ts); err != nil {
		panic(err)
	}

	w.mu.Lock()
	if ts > w.watermark {
		w.watermark = ts
	}
	w.buf.PushBack(timeEntry{event: e, expiresAt: ts + w.durationMs})
	var expired []*model.StreamEvent
	for w.buf.Len() > 0 {
		front := w.buf.Front()
		entry := front.Value.(timeEntry)
		if entry.expiresAt > w.watermark {
			break
		}
		expired = append(expired, asExpired(entry.event))
		w.buf.Remove(front)
	}
	w.mu.Unlock()

	out := append([]*model.StreamEvent{e}, expired...)
	w.emit(out)
}

// Contents returns the events currently buffered, oldest first.
func (w *ExternalTimeWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.StreamEvent, 0, w.buf.Len())
	for el := w.buf.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(timeEntry).event)
	}
	return out
}

// Shutdown releases buffered events.
func (w *ExternalTimeWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for el := w.buf.Front(); el != nil; el = el.Next() {
		el.Value.(timeEntry).event.Release()
	}
	w.buf.Init()
}

func (w *ExternalTimeWindow) snapshot() externalTimeSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := externalTimeSnapshot{DurationMs: w.durationMs, Watermark: w.watermark}
	for el := w.buf.Front(); el != nil; el = el.Next() {
		entry := el.Value.(timeEntry)
		snap.Entries = append(snap.Entries, timeSnapshotEntry{Event: toSnapshotEvent(entry.event), ExpiresAt: entry.expiresAt})
	}
	return snap
}

func (w *ExternalTimeWindow) restore(s externalTimeSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.durationMs = s.DurationMs
	w.watermark = s.Watermark
	w.buf.Init()
	for _, se := range s.Entries {
		w.buf.PushBack(timeEntry{event: se.Event.toStreamEvent(), expiresAt: se.ExpiresAt})
	}
	return nil
}

// ExternalTimeBatchWindow is the event-time analogue of TimeBatchWindow:
// the batch flushes once the watermark crosses the aligned grid boundary,
// checked inline as each event advances the watermark rather than via a
// wall-clock timer. A watermark can jump past several grid boundaries at
// once (e.g. after a gap in event-time arrivals); ExternalTimeBatchWindow
// fires once per crossed boundary in order, emitting an empty batch plus
// Reset for boundaries with no accumulated events.
type ExternalTimeBatchWindow struct {
	*state.BaseHolder[timeBatchSnapshot]

	mu            sync.Mutex
	durationMs    int64
	startOffsetMs int64
	extract       TimeExtractor
	watermark     int64
	nextFiring    int64
	acc           []*model.StreamEvent
	emit          Emitter
}

// NewExternalTimeBatchWindow constructs an event-time tumbling window.
func NewExternalTimeBatchWindow(componentID string, durationMs, startOffsetMs int64, extract TimeExtractor, emit Emitter) (*ExternalTimeBatchWindow, error) {
	if err := validateDurationMs(durationMs); err != nil {
		return nil, err
	}
	w := &ExternalTimeBatchWindow{durationMs: durationMs, startOffsetMs: startOffsetMs, extract: extract, emit: emit}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

func (w *ExternalTimeBatchWindow) alignedFiring(ts int64) int64 {
	elapsed := ts - w.startOffsetMs
	if elapsed < 0 {
		return w.startOffsetMs + w.durationMs
	}
	k := elapsed/w.durationMs + 1
	return w.startOffsetMs + k*w.durationMs
}

// OnEvent advances the watermark, accumulates e, and fires every grid
// boundary the watermark has now crossed.
func (w *ExternalTimeBatchWindow) OnEvent(e *model.StreamEvent) {
	ts := w.extract(e)
	if err := validateTimestamp(ts); err != nil {
		panic(err)
	}

	w.mu.Lock()
	if ts > w.watermark {
		w.watermark = ts
	}
	if w.nextFiring == 0 {
		w.nextFiring = w.alignedFiring(ts)
	}
	w.acc = append(w.acc, e)

	var flushes [][]*model.StreamEvent
	for w.watermark >= w.nextFiring {
		flush := w.acc
		w.acc = nil
		firedAt := w.nextFiring
		w.nextFiring += w.durationMs
		out := make([]*model.StreamEvent, 0, len(flush)+1)
		for _, fe := range flush {
			out = append(out, asExpired(fe))
		}
		out = append(out, asReset(firedAt))
		flushes = append(flushes, out)
	}
	w.mu.Unlock()

	for _, out := range flushes {
		w.emit(out)
	}
}

// Contents returns the events accumulated so far in the in-progress batch.
func (w *ExternalTimeBatchWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.StreamEvent, len(w.acc))
	copy(out, w.acc)
	return out
}

// Shutdown releases buffered events.
func (w *ExternalTimeBatchWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.acc {
		e.Release()
	}
	w.acc = nil
}

func (w *ExternalTimeBatchWindow) snapshot() timeBatchSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := timeBatchSnapshot{DurationMs: w.durationMs, StartOffsetMs: w.startOffsetMs, NextFiring: w.nextFiring}
	for _, e := range w.acc {
		snap.Events = append(snap.Events, toSnapshotEvent(e))
	}
	return snap
}

func (w *ExternalTimeBatchWindow) restore(s timeBatchSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.durationMs = s.DurationMs
	w.startOffsetMs = s.StartOffsetMs
	w.nextFiring = s.NextFiring
	w.acc = w.acc[:0]
	for _, se := range s.Events {
		w.acc = append(w.acc, se.toStreamEvent())
	}
	return nil
}
