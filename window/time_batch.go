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
	"time"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
	"github.com/flowcore/cep/state"
)

// TimeBatchWindow tumbles on a wall-clock grid aligned to StartOffsetMs
// (spec §4.3.4): every event accumulates until the scheduled firing, at
// which point the whole batch is emitted Expired, followed by a Reset, and
// the next firing is scheduled durationMs later.
type TimeBatchWindow struct {
	*state.BaseHolder[timeBatchSnapshot]

	mu            sync.Mutex
	durationMs    int64
	startOffsetMs int64
	acc           []*model.StreamEvent
	emit          Emitter
	sched         *scheduler.Scheduler
	nextFiring    int64 // epoch millis, 0 if nothing scheduled
	handle        scheduler.Handle
}

type timeBatchSnapshot struct {
	DurationMs    int64
	StartOffsetMs int64
	NextFiring    int64
	Events        []snapshotEvent
}

// NewTimeBatchWindow constructs a time-batch window. durationMs must be
// positive; startOffsetMs may be zero.
func NewTimeBatchWindow(componentID string, durationMs, startOffsetMs int64, emit Emitter) (*TimeBatchWindow, error) {
	if err := validateDurationMs(durationMs); err != nil {
		return nil, err
	}
	w := &TimeBatchWindow{durationMs: durationMs, startOffsetMs: startOffsetMs, emit: emit}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

// Start attaches the scheduler used for batch-firing callbacks.
func (w *TimeBatchWindow) Start(sched *scheduler.Scheduler, _ Emitter) {
	w.mu.Lock()
	w.sched = sched
	w.mu.Unlock()
}

// alignedFiring returns the smallest grid boundary strictly after ts,
// where the grid is { startOffsetMs + k*durationMs : k >= 0 }.
func (w *TimeBatchWindow) alignedFiring(ts int64) int64 {
	elapsed := ts - w.startOffsetMs
	if elapsed < 0 {
		return w.startOffsetMs
	}
	k := elapsed/w.durationMs + 1
	return w.startOffsetMs + k*w.durationMs
}

// OnEvent appends e to the accumulator, scheduling the first firing for a
// fresh batch if none is currently pending.
func (w *TimeBatchWindow) OnEvent(e *model.StreamEvent) {
	if err := validateTimestamp(e.Timestamp); err != nil {
		panic(err)
	}
	w.mu.Lock()
	w.acc = append(w.acc, e)
	if w.nextFiring == 0 && w.sched != nil {
		w.nextFiring = w.alignedFiring(e.Timestamp)
		w.handle = w.sched.Schedule(time.UnixMilli(w.nextFiring), w.onFire)
	}
	w.mu.Unlock()
}

func (w *TimeBatchWindow) onFire(now time.Time) {
	w.mu.Lock()
	flush := w.acc
	w.acc = nil
	firingTime := w.nextFiring
	w.nextFiring = firingTime + w.durationMs
	w.handle = w.sched.Schedule(time.UnixMilli(w.nextFiring), w.onFire)
	w.mu.Unlock()

	if len(flush) == 0 {
		return
	}
	out := make([]*model.StreamEvent, 0, len(flush)+1)
	for _, fe := range flush {
		out = append(out, asExpired(fe))
	}
	out = append(out, asReset(now.UnixMilli()))
	w.emit(out)
}

// Contents returns the events accumulated so far in the in-progress batch.
func (w *TimeBatchWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*model.StreamEvent, len(w.acc))
	copy(out, w.acc)
	return out
}

// Shutdown cancels the pending firing and releases buffered events.
func (w *TimeBatchWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.nextFiring != 0 {
		w.handle.Cancel()
	}
	for _, e := range w.acc {
		e.Release()
	}
	w.acc = nil
}

func (w *TimeBatchWindow) snapshot() timeBatchSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := timeBatchSnapshot{DurationMs: w.durationMs, StartOffsetMs: w.startOffsetMs, NextFiring: w.nextFiring}
	for _, e := range w.acc {
		snap.Events = append(snap.Events, toSnapshotEvent(e))
	}
	return snap
}

func (w *TimeBatchWindow) restore(s timeBatchSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.durationMs = s.DurationMs
	w.startOffsetMs = s.StartOffsetMs
	w.acc = w.acc[:0]
	for _, se := range s.Events {
		w.acc = append(w.acc, se.toStreamEvent())
	}
	w.nextFiring = 0
	if s.NextFiring != 0 && w.sched != nil {
		w.nextFiring = s.NextFiring
		w.handle = w.sched.Schedule(time.UnixMilli(w.nextFiring), w.onFire)
	}
	return nil
}
