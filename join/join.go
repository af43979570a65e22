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

// Package join implements the stream-stream join operator of spec §4.4: two
// independently maintained windows, a join condition, and an optional
// temporal bound, producing composite StateEvents.
package join

import (
	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/window"
)

// Kind selects how unmatched rows on either side are handled.
type Kind uint8

const (
	Inner Kind = iota
	LeftOuter
	RightOuter
	FullOuter
)

// Emitter receives the StateEvents a join produces. Joins emit only
// Current-equivalent matches: a buffered event falling out of its own
// window never produces a join-level Expired (spec §4.4 "joins emit only
// Current").
type Emitter func(events []*model.StateEvent)

// Join correlates events flowing through two windows.
type Join struct {
	left, right           window.ContentsWindow
	leftName, rightName   string
	leftSchema, rightSchema *model.StreamDefinition
	condition             *exprcore.Program
	kind                  Kind
	withinMs              int64 // 0 disables the temporal bound
	emit                  Emitter
}

// New constructs a Join. leftName/rightName label the StateEvent slots
// (e.g. "L"/"R") that condition expressions address. withinMs <= 0 means
// no temporal bound.
func New(left, right window.ContentsWindow, leftName, rightName string, leftSchema, rightSchema *model.StreamDefinition, condition *exprcore.Program, kind Kind, withinMs int64, emit Emitter) *Join {
	return &Join{
		left: left, right: right,
		leftName: leftName, rightName: rightName,
		leftSchema: leftSchema, rightSchema: rightSchema,
		condition: condition, kind: kind, withinMs: withinMs, emit: emit,
	}
}

// OnLeft processes an incoming left-stream event, probing it against the
// right window's current contents.
func (j *Join) OnLeft(e *model.StreamEvent) {
	matched := j.probe(e, j.right.Contents(), true)
	if !matched && (j.kind == LeftOuter || j.kind == FullOuter) {
		j.emitOne(e, nil)
	}
}

// OnRight processes an incoming right-stream event, probing it against the
// left window's current contents.
func (j *Join) OnRight(e *model.StreamEvent) {
	matched := j.probe(e, j.left.Contents(), false)
	if !matched && (j.kind == RightOuter || j.kind == FullOuter) {
		j.emitOne(nil, e)
	}
}

// probe evaluates the join condition between e and every counterpart in
// others, emitting a StateEvent for each match. isLeft tells it which slot
// e occupies. Returns whether at least one match was found.
func (j *Join) probe(e *model.StreamEvent, others []*model.StreamEvent, isLeft bool) bool {
	matched := false
	for _, o := range others {
		if j.withinMs > 0 {
			delta := e.Timestamp - o.Timestamp
			if delta < 0 {
				delta = -delta
			}
			if delta > j.withinMs {
				continue
			}
		}
		var l, r *model.StreamEvent
		if isLeft {
			l, r = e, o
		} else {
			l, r = o, e
		}
		ok, err := j.evalCondition(l, r)
		if err != nil || !ok {
			continue
		}
		matched = true
		j.emitOne(l, r)
	}
	return matched
}

func (j *Join) evalCondition(l, r *model.StreamEvent) (bool, error) {
	if j.condition == nil {
		return true, nil
	}
	se := j.buildStateEvent(l, r)
	env := se.Env(map[string]*model.StreamDefinition{j.leftName: j.leftSchema, j.rightName: j.rightSchema}, "")
	return j.condition.EvalBool(env)
}

func (j *Join) buildStateEvent(l, r *model.StreamEvent) *model.StateEvent {
	se := model.NewStateEvent(2)
	se.SetSlot(0, j.leftName, l)
	se.SetSlot(1, j.rightName, r)
	return se
}

func (j *Join) emitOne(l, r *model.StreamEvent) {
	se := j.buildStateEvent(l, r)
	j.emit([]*model.StateEvent{se})
}
