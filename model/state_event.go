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

package model

// StateEvent is a fixed-size vector of StreamEvent slots, used by joins and
// patterns, where each slot holds the match for a distinct stream/state
// (spec §3.1).
type StateEvent struct {
	Timestamp int64
	Slots     []*StreamEvent
	// SlotNames labels each slot (e.g. "L", "R" for a join, or a pattern's
	// state id such as "e1", "e2") so guard expressions can address
	// `SlotNames[i].field`.
	SlotNames []string
	// Output holds the attribute map the owning operator has selected
	// across slots, keyed by output field name.
	Output map[string]AttributeValue
}

// NewStateEvent allocates a StateEvent with n empty slots.
func NewStateEvent(n int) *StateEvent {
	return &StateEvent{
		Slots:     make([]*StreamEvent, n),
		SlotNames: make([]string, n),
		Output:    make(map[string]AttributeValue),
	}
}

// SetSlot assigns a named slot.
func (s *StateEvent) SetSlot(i int, name string, e *StreamEvent) {
	s.Slots[i] = e
	s.SlotNames[i] = name
	if e != nil && e.Timestamp > s.Timestamp {
		s.Timestamp = e.Timestamp
	}
}

// Slot looks a slot up by name, returning nil if absent (used for outer
// join Null fills and absent-pattern slots).
func (s *StateEvent) Slot(name string) *StreamEvent {
	for i, n := range s.SlotNames {
		if n == name {
			return s.Slots[i]
		}
	}
	return nil
}

// Env flattens the StateEvent into an expression-evaluation environment:
// each slot's attributes are addressable as `<slotName>.<fieldName>`, plus
// the flat Output map for already-selected fields. schema maps a slot name
// to its StreamDefinition so field names can be resolved positionally.
func (s *StateEvent) Env(schemas map[string]*StreamDefinition, side string) map[string]any {
	env := make(map[string]any, len(s.Output))
	for k, v := range s.Output {
		env[k] = v.Native()
	}
	for i, name := range s.SlotNames {
		se := s.Slots[i]
		def := schemas[name]
		if se == nil || def == nil {
			continue
		}
		fields := make(map[string]any, len(def.Attributes))
		for j, attr := range def.Attributes {
			if j < len(se.OutputData) {
				fields[attr.Name] = se.OutputData[j].Native()
			}
		}
		env[name] = fields
	}
	_ = side
	return env
}
