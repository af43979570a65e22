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

import "github.com/flowcore/cep/model"

// snapshotEvent is the plain-data mirror of *model.StreamEvent every window
// snapshot struct embeds: StreamEvent itself carries a pool back-reference
// and a refcount that have no business surviving a checkpoint, so snapshots
// hold this instead and rebuild pooled StreamEvents on restore (spec §4.8
// "snapshot contains only the window's logical state, not pooled
// allocations").
type snapshotEvent struct {
	Timestamp int64
	Type      model.EventType
	Before    []any
	Output    []any
	After     []any
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

func toSnapshotEvent(e *model.StreamEvent) snapshotEvent {
	return snapshotEvent{
		Timestamp: e.Timestamp,
		Type:      e.Type,
		Before:    nativeSlice(e.BeforeWindowData),
		Output:    nativeSlice(e.OutputData),
		After:     nativeSlice(e.OnAfterWindowData),
	}
}

// toStreamEvent rebuilds an unpooled StreamEvent from a snapshot. It is not
// tied to any Pool: it is released by normal GC once it expires downstream,
// exactly like any other non-pooled value reaching the processor chain
// after a recovery (spec §4.9 recovery does not require pool
// pre-population).
func (s snapshotEvent) toStreamEvent() *model.StreamEvent {
	return &model.StreamEvent{
		Timestamp:         s.Timestamp,
		Type:              s.Type,
		BeforeWindowData:  fromNativeSlice(s.Before),
		OutputData:        fromNativeSlice(s.Output),
		OnAfterWindowData: fromNativeSlice(s.After),
	}
}
