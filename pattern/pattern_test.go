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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
)

func patEvent(ts int64) *model.StreamEvent {
	return &model.StreamEvent{Timestamp: ts, Type: model.Current}
}

func TestSequenceMatchesAThenB(t *testing.T) {
	spec := Spec{Steps: []StepSpec{{Name: "A", StreamName: "a"}, {Name: "B", StreamName: "b"}}}
	var matched []*model.StateEvent
	seq := NewSequence("seq", spec, func(se *model.StateEvent) { matched = append(matched, se) })
	seq.Start(nil, 0)

	seq.OnEvent("a", patEvent(1))
	assert.Empty(t, matched)
	seq.OnEvent("b", patEvent(2))
	require.Len(t, matched, 1)
	assert.NotNil(t, matched[0].Slot("A"))
	assert.NotNil(t, matched[0].Slot("B"))
}

func TestSequenceWithoutEveryTracksSingleAttempt(t *testing.T) {
	spec := Spec{Steps: []StepSpec{{Name: "A", StreamName: "a"}, {Name: "B", StreamName: "b"}}}
	var matched []*model.StateEvent
	seq := NewSequence("seq", spec, func(se *model.StateEvent) { matched = append(matched, se) })
	seq.Start(nil, 0)

	seq.OnEvent("a", patEvent(1))
	seq.OnEvent("a", patEvent(2)) // ignored: one attempt already in flight
	seq.OnEvent("b", patEvent(3))
	require.Len(t, matched, 1)
	assert.Equal(t, int64(1), matched[0].Slot("A").Timestamp)
}

func TestSequenceEveryStartsConcurrentAttempts(t *testing.T) {
	spec := Spec{Steps: []StepSpec{{Name: "A", StreamName: "a", Every: true}, {Name: "B", StreamName: "b"}}}
	var matched []*model.StateEvent
	seq := NewSequence("seq", spec, func(se *model.StateEvent) { matched = append(matched, se) })
	seq.Start(nil, 0)

	seq.OnEvent("a", patEvent(1))
	seq.OnEvent("a", patEvent(2))
	seq.OnEvent("b", patEvent(3))
	require.Len(t, matched, 2)
}

func TestSequenceCountRequiresMinOccurrences(t *testing.T) {
	spec := Spec{Steps: []StepSpec{{Name: "A", StreamName: "a", MinCount: 2}, {Name: "B", StreamName: "b"}}}
	var matched []*model.StateEvent
	seq := NewSequence("seq", spec, func(se *model.StateEvent) { matched = append(matched, se) })
	seq.Start(nil, 0)

	seq.OnEvent("a", patEvent(1))
	seq.OnEvent("b", patEvent(2)) // too early: only one A consumed
	assert.Empty(t, matched)

	seq.OnEvent("a", patEvent(3))
	seq.OnEvent("a", patEvent(4))
	seq.OnEvent("b", patEvent(5))
	require.Len(t, matched, 1)
}

func TestSequenceWithinDeadlineAbortsPartial(t *testing.T) {
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	spec := Spec{Steps: []StepSpec{{Name: "A", StreamName: "a"}, {Name: "B", StreamName: "b"}}, WithinMs: 20}
	var matched []*model.StateEvent
	seq := NewSequence("seq", spec, func(se *model.StateEvent) { matched = append(matched, se) })
	seq.Start(sched, time.Now().UnixMilli())

	seq.OnEvent("a", patEvent(time.Now().UnixMilli()))
	time.Sleep(80 * time.Millisecond)
	seq.OnEvent("b", patEvent(time.Now().UnixMilli()))
	assert.Empty(t, matched, "partial match should have been aborted by the within deadline")
}

func TestAbsentAfterStepCompletesOnTimeout(t *testing.T) {
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	spec := Spec{Steps: []StepSpec{
		{Name: "A", StreamName: "a"},
		{Name: "notB", StreamName: "b", Absent: true, DurationMs: 30},
	}}
	completed := make(chan struct{}, 1)
	seq := NewSequence("seq", spec, func(se *model.StateEvent) { completed <- struct{}{} })
	seq.Start(sched, time.Now().UnixMilli())

	seq.OnEvent("a", patEvent(time.Now().UnixMilli()))

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("absent step never completed on timeout")
	}
}

func TestAbsentAbortsOnPositiveOccurrence(t *testing.T) {
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	spec := Spec{Steps: []StepSpec{
		{Name: "A", StreamName: "a"},
		{Name: "notB", StreamName: "b", Absent: true, DurationMs: 100},
	}}
	completed := make(chan struct{}, 1)
	seq := NewSequence("seq", spec, func(se *model.StateEvent) { completed <- struct{}{} })
	seq.Start(sched, time.Now().UnixMilli())

	seq.OnEvent("a", patEvent(time.Now().UnixMilli()))
	seq.OnEvent("b", patEvent(time.Now().UnixMilli())) // aborts the absence window

	select {
	case <-completed:
		t.Fatal("pattern should have been aborted by B's occurrence")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLogicalAndRequiresBothBranches(t *testing.T) {
	spec := Spec{Steps: []StepSpec{{Name: "A", StreamName: "a"}, {Name: "B", StreamName: "b"}}}
	var matched *model.StateEvent
	lg := NewLogical("logical", spec, LogicalAnd, func(se *model.StateEvent) { matched = se })
	lg.Start(nil)

	lg.OnEvent("b", patEvent(1))
	assert.Nil(t, matched)
	lg.OnEvent("a", patEvent(2))
	require.NotNil(t, matched)
	assert.NotNil(t, matched.Slot("A"))
	assert.NotNil(t, matched.Slot("B"))
}

func TestLogicalOrCompletesOnEitherBranch(t *testing.T) {
	spec := Spec{Steps: []StepSpec{{Name: "A", StreamName: "a"}, {Name: "B", StreamName: "b"}}}
	var matched *model.StateEvent
	lg := NewLogical("logical", spec, LogicalOr, func(se *model.StateEvent) { matched = se })
	lg.Start(nil)

	lg.OnEvent("b", patEvent(1))
	require.NotNil(t, matched)
	assert.Nil(t, matched.Slot("A"))
}
