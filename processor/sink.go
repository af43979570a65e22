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

import "github.com/flowcore/cep/model"

// Publisher is the subset of junction.Junction InsertIntoStream needs,
// kept narrow so this package doesn't import junction (which itself will
// hold processor chains as subscribers).
type Publisher interface {
	Publish(chunk *model.EventChunk) error
}

// InsertIntoStream republishes the chunk passing through onto another
// named stream's junction (spec §4.2 "insert into"), then forwards the
// same chunk unchanged so the chain can continue past it (e.g. into a
// Callback tap).
type InsertIntoStream struct {
	Target Publisher
}

// NewInsertIntoStream constructs an InsertIntoStream stage targeting pub.
func NewInsertIntoStream(pub Publisher) *InsertIntoStream {
	return &InsertIntoStream{Target: pub}
}

// Process implements Processor.
func (s *InsertIntoStream) Process(chunk *model.EventChunk) (*model.EventChunk, error) {
	if err := s.Target.Publish(chunk.Clone()); err != nil {
		return nil, err
	}
	return chunk, nil
}

// Callback invokes an external sink function for every chunk reaching this
// stage, the terminal hook a runtime OutputAdapter registers (spec §6.2).
// It forwards the chunk unchanged.
type Callback struct {
	Fn func(*model.EventChunk) error
}

// NewCallback constructs a Callback stage.
func NewCallback(fn func(*model.EventChunk) error) *Callback {
	return &Callback{Fn: fn}
}

// Process implements Processor.
func (s *Callback) Process(chunk *model.EventChunk) (*model.EventChunk, error) {
	if err := s.Fn(chunk); err != nil {
		return nil, err
	}
	return chunk, nil
}
