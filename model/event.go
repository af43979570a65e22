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

import "fmt"

// AttributeType is the declared type of a single stream attribute.
type AttributeType = Kind

// Attribute names a single schema slot.
type Attribute struct {
	Name string
	Type AttributeType
}

// StreamDefinition is the immutable schema of a named stream. Two
// definitions with identical Id and Attributes compare equal (spec §3.1).
type StreamDefinition struct {
	Id         string
	Attributes []Attribute
}

// IndexOf returns the position of an attribute by name, or -1.
func (d *StreamDefinition) IndexOf(name string) int {
	for i, a := range d.Attributes {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// Equal implements the schema-equality invariant: same id, same attributes
// in the same order and type.
func (d *StreamDefinition) Equal(other *StreamDefinition) bool {
	if d == other {
		return true
	}
	if d == nil || other == nil || d.Id != other.Id || len(d.Attributes) != len(other.Attributes) {
		return false
	}
	for i := range d.Attributes {
		if d.Attributes[i] != other.Attributes[i] {
			return false
		}
	}
	return true
}

// Validate checks an attribute vector against the schema, enforcing
// invariant 1 (stream schema invariance: arity plus widening-only typing).
func (d *StreamDefinition) Validate(values []AttributeValue) error {
	if len(values) != len(d.Attributes) {
		return fmt.Errorf("schema mismatch on stream %q: expected %d attributes, got %d", d.Id, len(d.Attributes), len(values))
	}
	for i, a := range d.Attributes {
		v := values[i]
		if v.IsNull() {
			continue
		}
		if v.Kind() == a.Type {
			continue
		}
		if _, err := CoerceTo(v, a.Type); err != nil {
			return fmt.Errorf("schema mismatch on stream %q attribute %q: %w", d.Id, a.Name, err)
		}
	}
	return nil
}

// Event is the external, immutable unit a producer publishes to a named
// stream via an InputHandler (spec §3.1, §6.2).
type Event struct {
	Timestamp  int64 // milliseconds since epoch
	Attributes []AttributeValue
}
