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
	"time"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
	"github.com/flowcore/cep/state"
)

type timeEntry struct {
	event     *model.StreamEvent
	expiresAt int64 // epoch millis
}

// TimeWindow is a sliding time window (spec §4.3.3): every event remains
// visible for durationMs after it arrives, then is displaced and forwarded
// downstream as Expired. Expiration is driven by the scheduler rather than
// polled, so an idle stream incurs no wakeups between events.
type TimeWindow struct {
	*state.BaseHolder[timeSnapshot]

	mu          sync.Mutex
	durationMs  int64
	buf         *list.List // of timeEntry
	emit        Emitter
	sched       *scheduler.Scheduler
	handle      scheduler.Handle
	scheduledAt int64 // epoch millis of the currently pending wakeup, 0 if none
}

type timeSnapshot struct {
	DurationMs int64
	Entries    []timeSnapshotEntry
}

type timeSnapshotEntry struct {
	Event     snapshotEvent
	ExpiresAt int64
}

// NewTimeWindow constructs a sliding time window. durationMs must be
// positive (spec §4.3 edge policy).
func NewTimeWindow(componentID string, durationMs int64, emit Emitter) (*TimeWindow, error) {
	if err := validateDurationMs(durationMs); err != nil {
		return nil, err
	}
	w := &TimeWindow{durationMs: durationMs, buf: list.New(), emit: emit}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

// Start attaches the scheduler this window uses for expiration callbacks.
// Must be called before the first OnEvent.
func (w *TimeWindow) Start(sched *scheduler.Scheduler, _ Emitter) {
	w.mu.Lock()
	w.sched = sched
	w.mu.Unlock()
}

// OnEvent appends e with expiry t+durationMs and, if that expiry is
// earlier than whatever wakeup is currently pending, coalesces by
// rescheduling to fire sooner.
func (w *TimeWindow) OnEvent(e *model.StreamEvent) {
	if err := validateTimestamp(e.Timestamp); err != nil {
		panic(err) // construction-time validation only catches operator params; a NaN event timestamp here is a producer bug
	}
	expiresAt := e.Timestamp + w.durationMs

	w.mu.Lock()
	w.buf.PushBack(timeEntry{event: e, expiresAt: expiresAt})
	w.maybeReschedule(expiresAt)
	w.mu.Unlock()

	w.emit([]*model.StreamEvent{e})
}

// maybeReschedule must be called with mu held.
func (w *TimeWindow) maybeReschedule(candidateAt int64) {
	if w.sched == nil {
		return
	}
	if w.scheduledAt != 0 && candidateAt >= w.scheduledAt {
		return
	}
	if w.scheduledAt != 0 {
		w.handle.Cancel()
	}
	w.scheduledAt = candidateAt
	w.handle = w.sched.Schedule(time.UnixMilli(candidateAt), w.onFire)
}

func (w *TimeWindow) onFire(now time.Time) {
	nowMs := now.UnixMilli()
	var expired []*model.StreamEvent

	w.mu.Lock()
	for w.buf.Len() > 0 {
		front := w.buf.Front()
		entry := front.Value.(timeEntry)
		if entry.expiresAt > nowMs {
			break
		}
		expired = append(expired, asExpired(entry.event))
		w.buf.Remove(front)
	}
	w.scheduledAt = 0
	if w.buf.Len() > 0 {
		next := w.buf.Front().Value.(timeEntry)
		w.scheduledAt = next.expiresAt
		w.handle = w.sched.Schedule(time.UnixMilli(next.expiresAt), w.onFire)
	}
	w.mu.Unlock()

	if len(expired) > 0 {
		w.emit(expired)
	}
}

// Contents returns the events currently buffered, oldest first.
func (w *TimeWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.StreamEvent, 0, w.buf.Len())
	for el := w.buf.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(timeEntry).event)
	}
	return out
}

// Shutdown cancels the pending expiration and releases buffered events.
func (w *TimeWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduledAt != 0 {
		w.handle.Cancel()
	}
	for el := w.buf.Front(); el != nil; el = el.Next() {
		el.Value.(timeEntry).event.Release()
	}
	w.buf.Init()
}

func (w *TimeWindow) snapshot() timeSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := timeSnapshot{DurationMs: w.durationMs}
	for el := w.buf.Front(); el != nil; el = el.Next() {
		entry := el.Value.(timeEntry)
		snap.Entries = append(snap.Entries, timeSnapshotEntry{Event: toSnapshotEvent(entry.event), ExpiresAt: entry.expiresAt})
	}
	return snap
}

func (w *TimeWindow) restore(s timeSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.durationMs = s.DurationMs
	w.buf.Init()
	for _, se := range s.Entries {
		w.buf.PushBack(timeEntry{event: se.Event.toStreamEvent(), expiresAt: se.ExpiresAt})
	}
	if w.buf.Len() > 0 {
		next := w.buf.Front().Value.(timeEntry)
		w.maybeRescheduleForce(next.expiresAt)
	}
	return nil
}

func (w *TimeWindow) maybeRescheduleForce(at int64) {
	if w.sched == nil {
		return
	}
	w.scheduledAt = at
	w.handle = w.sched.Schedule(time.UnixMilli(at), w.onFire)
}
