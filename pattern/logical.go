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

import (
	"sync"
	"time"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
	"github.com/flowcore/cep/state"
)

// LogicalOp selects whether both branches must match (And, in either
// order) or either one alone suffices (Or), per spec §4.5 "A and B" / "A
// or B".
type LogicalOp uint8

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
)

// Logical matches two unordered branches, unlike Sequence's ordered
// chain.
type Logical struct {
	*state.BaseHolder[logicalSnapshot]

	mu     sync.Mutex
	spec   Spec // exactly two Steps; WithinMs optional
	op     LogicalOp
	sched  *scheduler.Scheduler
	emit   Emitter
	active *logicalMatch
	nextID int64
}

type logicalMatch struct {
	id        int64
	se        *model.StateEvent
	matched   [2]bool
	startTime int64
	handle    scheduler.Handle
	scheduled bool
}

// logicalSnapshot is Logical's checkpoint payload (spec §4.8/§9).
type logicalSnapshot struct {
	NextID    int64
	HasActive bool
	ID        int64
	Matched   [2]bool
	StartTime int64
	Captured  stateEventSnapshot
}

// NewLogical constructs a Logical pattern over exactly two steps,
// registered under componentID for checkpointing.
func NewLogical(componentID string, spec Spec, op LogicalOp, emit Emitter) *Logical {
	p := &Logical{spec: spec, op: op, emit: emit}
	p.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", p.snapshot, p.restore)
	return p
}

func (p *Logical) snapshot() logicalSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := logicalSnapshot{NextID: p.nextID}
	if p.active != nil {
		snap.HasActive = true
		snap.ID = p.active.id
		snap.Matched = p.active.matched
		snap.StartTime = p.active.startTime
		snap.Captured = toStateEventSnapshot(p.active.se)
	}
	return snap
}

func (p *Logical) restore(snap logicalSnapshot) error {
	p.mu.Lock()
	p.nextID = snap.NextID
	p.active = nil
	if snap.HasActive {
		p.active = &logicalMatch{
			id: snap.ID, se: snap.Captured.toStateEvent(),
			matched: snap.Matched, startTime: snap.StartTime,
		}
	}
	sched := p.sched
	active := p.active
	p.mu.Unlock()

	if sched == nil || active == nil || p.spec.WithinMs <= 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	deadline := active.startTime + p.spec.WithinMs
	if deadline < now {
		deadline = now
	}
	p.mu.Lock()
	active.scheduled = true
	id := active.id
	active.handle = sched.Schedule(time.UnixMilli(deadline), func(time.Time) { p.abort(id) })
	p.mu.Unlock()
	return nil
}

// Start attaches the scheduler used for the overall within-deadline.
func (p *Logical) Start(sched *scheduler.Scheduler) {
	p.mu.Lock()
	p.sched = sched
	p.mu.Unlock()
}

// OnEvent feeds an event for streamName through both branches.
func (p *Logical) OnEvent(streamName string, e *model.StreamEvent) {
	p.mu.Lock()
	var completed *model.StateEvent

	for i, step := range p.spec.Steps {
		if streamName != step.StreamName {
			continue
		}
		if p.active != nil && p.active.matched[i] {
			continue
		}
		if !p.guardMatchesPair(step, e) {
			continue
		}
		if p.active == nil {
			p.nextID++
			p.active = &logicalMatch{id: p.nextID, se: model.NewStateEvent(2), startTime: e.Timestamp}
			if p.spec.WithinMs > 0 && p.sched != nil {
				id := p.active.id
				p.active.scheduled = true
				p.active.handle = p.sched.Schedule(time.UnixMilli(e.Timestamp+p.spec.WithinMs), func(time.Time) {
					p.abort(id)
				})
			}
		}
		p.active.se.SetSlot(i, step.Name, e)
		p.active.matched[i] = true

		if p.op == LogicalOr || (p.active.matched[0] && p.active.matched[1]) {
			completed = p.active.se
			if p.active.scheduled {
				p.active.handle.Cancel()
			}
			p.active = nil
			break
		}
	}
	p.mu.Unlock()

	if completed != nil {
		p.emit(completed)
	}
}

func (p *Logical) guardMatchesPair(step StepSpec, candidate *model.StreamEvent) bool {
	if step.Guard == nil {
		return true
	}
	se := model.NewStateEvent(1)
	se.SetSlot(0, step.Name, candidate)
	env := se.Env(p.spec.Schemas, "")
	ok, err := step.Guard.EvalBool(env)
	return err == nil && ok
}

func (p *Logical) abort(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil && p.active.id == id {
		p.active = nil
	}
}

// Shutdown cancels any pending within-deadline timer.
func (p *Logical) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil && p.active.scheduled {
		p.active.handle.Cancel()
	}
	p.active = nil
}
