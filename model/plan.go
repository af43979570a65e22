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

// OperatorKind enumerates the closed set of operator variants the plan may
// reference (spec §9 "Dynamic dispatch across operator variants": new
// variants are added by extending this enum and the runtime's registry,
// never by open-ended subtyping).
type OperatorKind string

const (
	OpFilter       OperatorKind = "filter"
	OpSelect       OperatorKind = "select"
	OpWindow       OperatorKind = "window"
	OpJoin         OperatorKind = "join"
	OpPattern      OperatorKind = "pattern"
	OpInsertInto   OperatorKind = "insert_into"
	OpCallback     OperatorKind = "callback"
)

// WindowKind enumerates the window operator variants of spec §4.3.
type WindowKind string

const (
	WindowLength         WindowKind = "length"
	WindowLengthBatch    WindowKind = "length_batch"
	WindowTime           WindowKind = "time"
	WindowTimeBatch      WindowKind = "time_batch"
	WindowExternalTime      WindowKind = "external_time"
	WindowExternalTimeBatch WindowKind = "external_time_batch"
	WindowSession        WindowKind = "session"
	WindowSort           WindowKind = "sort"
)

// JoinKind enumerates the join semantics of spec §4.4.
type JoinKind string

const (
	JoinInner      JoinKind = "inner"
	JoinLeftOuter  JoinKind = "left_outer"
	JoinRightOuter JoinKind = "right_outer"
	JoinFullOuter  JoinKind = "full_outer"
)

// StreamBinding names a stream an operator reads from or writes to.
type StreamBinding struct {
	StreamId string
}

// OperatorDescriptor is one node of the compiler-produced plan graph (spec
// §6.1): a kind tag, a parameter bag the runtime assembly type-asserts per
// kind, and the input/output stream bindings that become junction wiring.
type OperatorDescriptor struct {
	Id      string
	Kind    OperatorKind
	Params  map[string]any
	Inputs  []StreamBinding
	Outputs []StreamBinding
}

// QueryDefinition binds one or more input streams (possibly windowed) to a
// selector and an insert-into output, per spec §6.1.
type QueryDefinition struct {
	Id         string
	Operators  []OperatorDescriptor
	OutputDef  *StreamDefinition
}

// OperatorPlan is the full compiler-produced plan graph (spec §3.1): the
// stream definitions in scope plus the query definitions that reference
// them. The runtime materializes this into live junctions and processor
// chains; no textual parsing happens inside the core.
type OperatorPlan struct {
	Streams []*StreamDefinition
	Queries []*QueryDefinition
}

// StreamById looks a stream definition up by id.
func (p *OperatorPlan) StreamById(id string) *StreamDefinition {
	for _, s := range p.Streams {
		if s.Id == id {
			return s
		}
	}
	return nil
}
