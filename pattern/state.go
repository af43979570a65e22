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

package pattern

import "github.com/flowcore/cep/model"

// snapshotEvent is the plain-data mirror of *model.StreamEvent a pattern
// snapshot holds, the same shape window.snapshotEvent uses and for the
// same reason: a pooled StreamEvent's pool back-reference and refcount
// have no business surviving a checkpoint (spec §4.8).
type snapshotEvent struct {
	Timestamp int64
	Type      model.EventType
	Before    []any
	Output    []any
	After     []any
}

func toSnapshotEvent(e *model.StreamEvent) *snapshotEvent {
	if e == nil {
		return nil
	}
	return &snapshotEvent{
		Timestamp: e.Timestamp,
		Type:      e.Type,
		Before:    nativeSlice(e.BeforeWindowData),
		Output:    nativeSlice(e.OutputData),
		After:     nativeSlice(e.OnAfterWindowData),
	}
}

func (s *snapshotEvent) toStreamEvent() *model.StreamEvent {
	if s == nil {
		return nil
	}
	return &model.StreamEvent{
		Timestamp:         s.Timestamp,
		Type:              s.Type,
		BeforeWindowData:  fromNativeSlice(s.Before),
		OutputData:        fromNativeSlice(s.Output),
		OnAfterWindowData: fromNativeSlice(s.After),
	}
}

func nativeSlice(vs []model.AttributeValue) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v.Native()
	}
	return out
}

func fromNativeSlice(vs []any) []model.AttributeValue {
	out := make([]model.AttributeValue, len(vs))
	for i, v := range vs {
		out[i] = model.FromNative(v)
	}
	return out
}

// stateEventSnapshot is the plain-data mirror of *model.StateEvent a
// partial match captures.
type stateEventSnapshot struct {
	Timestamp int64
	SlotNames []string
	Slots     []*snapshotEvent
}

func toStateEventSnapshot(se *model.StateEvent) stateEventSnapshot {
	if se == nil {
		return stateEventSnapshot{}
	}
	slots := make([]*snapshotEvent, len(se.Slots))
	for i, e := range se.Slots {
		slots[i] = toSnapshotEvent(e)
	}
	names := append([]string(nil), se.SlotNames...)
	return stateEventSnapshot{Timestamp: se.Timestamp, SlotNames: names, Slots: slots}
}

func (s stateEventSnapshot) toStateEvent() *model.StateEvent {
	se := model.NewStateEvent(len(s.Slots))
	se.Timestamp = s.Timestamp
	for i, name := range s.SlotNames {
		se.SlotNames[i] = name
	}
	for i, slot := range s.Slots {
		se.Slots[i] = slot.toStreamEvent()
	}
	return se
}

// partialMatchSnapshot is the plain-data mirror of partialMatch. Scheduled
// timer handles do not survive a checkpoint: restore re-derives them from
// StepIdx/StartTime, using the wall clock at restore time (time.Now) and
// advanceAbsentLocked.
type partialMatchSnapshot struct {
	ID          int64
	StepIdx     int
	CountAtStep int
	StartTime   int64
	Captured    stateEventSnapshot
}

// sequenceSnapshot is the Sequence pattern's full checkpoint payload (spec
// §4.8/§9: "full StateHolder integration" for pattern processing).
type sequenceSnapshot struct {
	NextID  int64
	Partial []partialMatchSnapshot
}
