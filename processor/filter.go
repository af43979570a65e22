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
	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
)

// Filter drops events whose Condition does not evaluate to true, per spec
// §4.2's "where" stage. Events that don't survive are not forwarded;
// survivors are forwarded as clones.
type Filter struct {
	Schema    *model.StreamDefinition
	Condition *exprcore.Program
}

// NewFilter constructs a Filter stage.
func NewFilter(schema *model.StreamDefinition, cond *exprcore.Program) *Filter {
	return &Filter{Schema: schema, Condition: cond}
}

// Process implements Processor.
func (f *Filter) Process(chunk *model.EventChunk) (*model.EventChunk, error) {
	out := &model.EventChunk{}
	var firstErr error
	chunk.Each(func(e *model.StreamEvent) {
		if firstErr != nil {
			return
		}
		ok, err := f.Condition.EvalBool(eventEnv(f.Schema, e))
		if err != nil {
			firstErr = err
			return
		}
		if ok {
			out.Append(e.Clone())
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
