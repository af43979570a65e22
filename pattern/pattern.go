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

// Package pattern implements the sequence/pattern operator of spec §4.5 as
// a single state machine shape shared by Sequence, Every-sequence, Count,
// Absent and the `within` temporal constraint: a set of active partial
// matches, each a captured StateEvent plus a cursor into an ordered list of
// steps. Logical (and/or) patterns are the same machine specialized to two
// unordered steps (see logical.go).
package pattern

import (
	"sort"
	"sync"
	"time"

	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
	"github.com/flowcore/cep/state"
)

// Emitter receives completed pattern matches.
type Emitter func(*model.StateEvent)

// StepSpec is one named position in a sequence. Guard is evaluated with
// the partial match's already-captured slots in scope, so later steps can
// reference earlier ones (e.g. "B.price > A.price").
type StepSpec struct {
	Name       string
	StreamName string
	Guard      *exprcore.Program // nil means "always match"

	// MinCount repeats of this step's guard are required before advancing
	// (spec §4.5 Count: `A<n:m>`); zero defaults to 1 (a plain single
	// match). The step advances as soon as MinCount matches are consumed;
	// MaxCount is not read by Sequence and does not cap the captures.
	MinCount int
	MaxCount int

	// Every restarts a fresh concurrent partial match on every occurrence
	// of step 0's guard, rather than tracking a single in-flight attempt
	// (spec §4.5 "every A -> B"). Meaningful only on Steps[0].
	Every bool

	// Absent turns this step into a non-occurrence check (spec §4.5 "not A
	// for d" / "A and not B within d"): instead of waiting for a positive
	// match of StreamName, the step succeeds if DurationMs elapses with no
	// matching event, and aborts the partial if one arrives first.
	Absent     bool
	DurationMs int64
}

// Spec describes an ordered Sequence pattern (see logical.go for the
// two-branch unordered Logical variant).
type Spec struct {
	Schemas  map[string]*model.StreamDefinition
	Steps    []StepSpec
	WithinMs int64 // 0: no overall deadline
}

func (s StepSpec) minCount() int {
	if s.MinCount <= 0 {
		return 1
	}
	return s.MinCount
}

type partialMatch struct {
	id              int64
	stepIdx         int
	countAtStep     int
	se              *model.StateEvent
	startTime       int64
	withinHandle    scheduler.Handle
	withinScheduled bool
	absentHandle    scheduler.Handle
	absentScheduled bool
}

// Sequence runs an ordered chain of steps, optionally with per-step
// repetition counts and absence checks.
type Sequence struct {
	*state.BaseHolder[sequenceSnapshot]

	mu      sync.Mutex
	spec    Spec
	sched   *scheduler.Scheduler
	emit    Emitter
	nextID  int64
	partial map[int64]*partialMatch
}

// NewSequence constructs a Sequence pattern, registered under componentID
// for checkpointing (spec §4.8, §9 "full StateHolder integration ... for
// pattern processing"). A lone leading Absent step (spec's standalone "not
// A for d") starts its single partial match immediately once Start is
// called, rather than waiting for an inbound event.
func NewSequence(componentID string, spec Spec, emit Emitter) *Sequence {
	p := &Sequence{spec: spec, emit: emit, partial: make(map[int64]*partialMatch)}
	p.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", p.snapshot, p.restore)
	return p
}

// Start attaches the scheduler used for within-deadlines and absence
// timers, and — for a lone leading Absent step — starts its single
// standing partial match immediately.
func (p *Sequence) Start(sched *scheduler.Scheduler, nowMs int64) {
	p.mu.Lock()
	p.sched = sched
	if len(p.spec.Steps) > 0 && p.spec.Steps[0].Absent {
		p.startPartialLocked(nowMs)
	}
	p.mu.Unlock()
}

func (p *Sequence) startPartialLocked(nowMs int64) *partialMatch {
	p.nextID++
	pm := &partialMatch{id: p.nextID, se: model.NewStateEvent(len(p.spec.Steps)), startTime: nowMs}
	p.partial[pm.id] = pm
	if p.spec.WithinMs > 0 && p.sched != nil {
		pm.withinScheduled = true
		deadline := pm.id
		pm.withinHandle = p.sched.Schedule(time.UnixMilli(nowMs+p.spec.WithinMs), func(time.Time) {
			p.abortIfPresent(deadline)
		})
	}
	p.advanceAbsentLocked(pm, nowMs)
	return pm
}

func (p *Sequence) abortIfPresent(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pm, ok := p.partial[id]
	if !ok {
		return
	}
	p.cancelLocked(pm)
	delete(p.partial, id)
}

func (p *Sequence) cancelLocked(pm *partialMatch) {
	if pm.withinScheduled {
		pm.withinHandle.Cancel()
	}
	if pm.absentScheduled {
		pm.absentHandle.Cancel()
	}
}

// advanceAbsentLocked schedules the absence timer if the partial's current
// step is an Absent step, so completion can happen purely from a timer
// firing with no positive match required.
func (p *Sequence) advanceAbsentLocked(pm *partialMatch, nowMs int64) {
	if pm.stepIdx >= len(p.spec.Steps) {
		return
	}
	step := p.spec.Steps[pm.stepIdx]
	if !step.Absent || p.sched == nil {
		return
	}
	pm.absentScheduled = true
	id := pm.id
	pm.absentHandle = p.sched.Schedule(time.UnixMilli(nowMs+step.DurationMs), func(time.Time) {
		p.onAbsentFired(id)
	})
}

func (p *Sequence) onAbsentFired(id int64) {
	p.mu.Lock()
	pm, ok := p.partial[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	pm.absentScheduled = false
	completed := p.advanceLocked(pm, pm.stepIdx+1, time.Now().UnixMilli())
	p.mu.Unlock()
	if completed != nil {
		p.emit(completed)
	}
}

// OnEvent feeds an inbound event for the given stream name through every
// active partial, plus step 0 if it matches (subject to the Every/single
// rule), emitting any matches that complete — in start-time order when
// several complete on the same event.
func (p *Sequence) OnEvent(streamName string, e *model.StreamEvent) {
	type completion struct {
		startTime int64
		se        *model.StateEvent
	}
	p.mu.Lock()
	var completedAll []completion
	justCreated := int64(-1)

	if len(p.spec.Steps) > 0 {
		step0 := p.spec.Steps[0]
		if !step0.Absent && streamName == step0.StreamName && p.guardMatches(step0, nil, e) {
			if step0.Every || len(p.partial) == 0 {
				pm := p.startPartialLocked(e.Timestamp)
				justCreated = pm.id
				if c := p.consumeLocked(pm, e); c != nil {
					completedAll = append(completedAll, completion{pm.startTime, c})
				}
			}
		}
	}

	// Every other active partial (including ones still awaiting further
	// step-0 occurrences under a MinCount > 1 repetition), skipping the one
	// just created and fed above.
	for id, pm := range p.partial {
		if id == justCreated {
			continue
		}
		step := p.spec.Steps[pm.stepIdx]
		if step.Absent {
			if streamName == step.StreamName && p.guardMatches(step, pm.se, e) {
				// A positive occurrence during an absence window aborts the match.
				p.cancelLocked(pm)
				delete(p.partial, id)
			}
			continue
		}
		if streamName != step.StreamName || !p.guardMatches(step, pm.se, e) {
			continue
		}
		startTime := pm.startTime
		if c := p.consumeLocked(pm, e); c != nil {
			completedAll = append(completedAll, completion{startTime, c})
		}
	}

	sort.SliceStable(completedAll, func(i, j int) bool { return completedAll[i].startTime < completedAll[j].startTime })
	p.mu.Unlock()

	for _, c := range completedAll {
		p.emit(c.se)
	}
}

func (p *Sequence) guardMatches(step StepSpec, captured *model.StateEvent, candidate *model.StreamEvent) bool {
	if step.Guard == nil {
		return true
	}
	se := captured
	if se == nil {
		se = model.NewStateEvent(0)
	}
	env := se.Env(p.spec.Schemas, "")
	cand := model.NewStateEvent(1)
	cand.SetSlot(0, step.Name, candidate)
	for k, v := range cand.Env(p.spec.Schemas, "") {
		env[k] = v
	}
	ok, err := step.Guard.EvalBool(env)
	return err == nil && ok
}

// consumeLocked records a matching event against pm's current step,
// advancing (and possibly completing) it once MinCount is satisfied.
func (p *Sequence) consumeLocked(pm *partialMatch, e *model.StreamEvent) *model.StateEvent {
	step := p.spec.Steps[pm.stepIdx]
	pm.se.SetSlot(pm.stepIdx, step.Name, e)
	pm.countAtStep++
	if pm.countAtStep < step.minCount() {
		return nil
	}
	pm.countAtStep = 0
	return p.advanceLocked(pm, pm.stepIdx+1, e.Timestamp)
}

// advanceLocked moves pm to stepIdx, completing (and removing) it if that
// runs past the last step, otherwise arming the next step's absence timer
// if applicable.
func (p *Sequence) advanceLocked(pm *partialMatch, stepIdx int, nowMs int64) *model.StateEvent {
	pm.stepIdx = stepIdx
	if pm.stepIdx >= len(p.spec.Steps) {
		p.cancelLocked(pm)
		delete(p.partial, pm.id)
		return pm.se
	}
	p.advanceAbsentLocked(pm, nowMs)
	return nil
}

// Shutdown cancels every pending timer across all active partial matches.
func (p *Sequence) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pm := range p.partial {
		p.cancelLocked(pm)
	}
	p.partial = make(map[int64]*partialMatch)
}

// snapshot is the BaseHolder GetSnapshot accessor (spec §4.8 "consistent
// read"): it copies every active partial match's logical state, leaving
// scheduler handles behind since they do not survive serialization.
func (p *Sequence) snapshot() sequenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := sequenceSnapshot{NextID: p.nextID}
	for _, pm := range p.partial {
		snap.Partial = append(snap.Partial, partialMatchSnapshot{
			ID: pm.id, StepIdx: pm.stepIdx, CountAtStep: pm.countAtStep,
			StartTime: pm.startTime, Captured: toStateEventSnapshot(pm.se),
		})
	}
	return snap
}

// restore is the BaseHolder SetSnapshot accessor (spec §4.8 "replaces
// in-memory state atomically"). It rebuilds every partial match's logical
// state; if Start has already attached a scheduler, timers are re-armed
// immediately: the within deadline stays at the match's StartTime plus
// WithinMs (moved up to the moment of restore if already past), and
// absence timers start again from the moment of restore.
func (p *Sequence) restore(snap sequenceSnapshot) error {
	p.mu.Lock()
	p.nextID = snap.NextID
	p.partial = make(map[int64]*partialMatch, len(snap.Partial))
	for _, ps := range snap.Partial {
		pm := &partialMatch{
			id: ps.ID, stepIdx: ps.StepIdx, countAtStep: ps.CountAtStep,
			startTime: ps.StartTime, se: ps.Captured.toStateEvent(),
		}
		p.partial[pm.id] = pm
	}
	sched := p.sched
	restored := make([]*partialMatch, 0, len(p.partial))
	for _, pm := range p.partial {
		restored = append(restored, pm)
	}
	p.mu.Unlock()

	if sched == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	p.mu.Lock()
	for _, pm := range restored {
		if p.spec.WithinMs > 0 {
			pm.withinScheduled = true
			id := pm.id
			deadline := pm.startTime + p.spec.WithinMs
			if deadline < now {
				deadline = now
			}
			pm.withinHandle = sched.Schedule(time.UnixMilli(deadline), func(time.Time) { p.abortIfPresent(id) })
		}
		p.advanceAbsentLocked(pm, now)
	}
	p.mu.Unlock()
	return nil
}
