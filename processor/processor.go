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

// Package processor implements the processor-chain framework of spec §3/§4:
// Filter, Select (grouped projection/aggregation), InsertIntoStream, and
// Callback, composed into a ProcessorChain that satisfies junction.Subscriber
// so a Junction can fan a chunk directly into one.
package processor

import "github.com/flowcore/cep/model"

// Processor transforms one chunk into the chunk to hand to the next stage.
// Returning a chunk with Len == 0 (or nil) short-circuits the remaining
// chain for this call, the way a Filter with no surviving events does.
type Processor interface {
	Process(chunk *model.EventChunk) (*model.EventChunk, error)
}

// Chain runs a fixed ordered list of Processors over each inbound chunk. It
// implements junction.Subscriber directly (Process(chunk) error), so a
// Junction can hold a *Chain as a subscriber with no adapter needed.
type Chain struct {
	stages []Processor
}

// NewChain builds a processor chain from its ordered stages.
func NewChain(stages ...Processor) *Chain {
	return &Chain{stages: stages}
}

// Process runs chunk through every stage in order, stopping early if a
// stage empties it.
func (c *Chain) Process(chunk *model.EventChunk) error {
	cur := chunk
	for _, stage := range c.stages {
		if cur == nil || cur.Len == 0 {
			return nil
		}
		out, err := stage.Process(cur)
		if err != nil {
			return err
		}
		cur = out
	}
	return nil
}

// eventEnv flattens an event's OutputData against schema into a flat
// attribute-name -> native-value map for expression evaluation, the same
// shape exprcore programs expect from model.StateEvent.Env.
func eventEnv(schema *model.StreamDefinition, e *model.StreamEvent) map[string]any {
	env := make(map[string]any, len(schema.Attributes))
	for i, attr := range schema.Attributes {
		if i < len(e.OutputData) {
			env[attr.Name] = e.OutputData[i].Native()
		}
	}
	return env
}
