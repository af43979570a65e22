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

package join

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
)

// staticWindow is a minimal ContentsWindow stub holding a fixed set of
// events, standing in for a real window.Window in join-only tests.
type staticWindow struct {
	events []*model.StreamEvent
}

func (s *staticWindow) OnEvent(*model.StreamEvent)     {}
func (s *staticWindow) Shutdown()                      {}
func (s *staticWindow) Contents() []*model.StreamEvent { return s.events }

func ev(ts int64, id int) *model.StreamEvent {
	return &model.StreamEvent{
		Timestamp:        ts,
		Type:             model.Current,
		BeforeWindowData: []model.AttributeValue{model.Int(int32(id))},
		OutputData:       []model.AttributeValue{model.Int(int32(id))},
	}
}

func schema() *model.StreamDefinition {
	return &model.StreamDefinition{Id: "s", Attributes: []model.Attribute{{Name: "id", Type: model.KindInt}}}
}

func TestJoinInnerEmitsOnlyMatches(t *testing.T) {
	right := &staticWindow{events: []*model.StreamEvent{ev(0, 1), ev(0, 2)}}
	cond, err := exprcore.Compile("L.id == R.id")
	require.NoError(t, err)

	var emitted []*model.StateEvent
	j := New(nil, right, "L", "R", schema(), schema(), cond, Inner, 0, func(events []*model.StateEvent) {
		emitted = append(emitted, events...)
	})

	j.OnLeft(ev(0, 2))
	require.Len(t, emitted, 1)
	assert.Equal(t, int32(2), emitted[0].Slot("R").OutputData[0].IntVal())
}

func TestJoinLeftOuterEmitsNullFillOnNoMatch(t *testing.T) {
	right := &staticWindow{}
	var emitted []*model.StateEvent
	j := New(nil, right, "L", "R", schema(), schema(), nil, LeftOuter, 0, func(events []*model.StateEvent) {
		emitted = append(emitted, events...)
	})

	j.OnLeft(ev(0, 5))
	require.Len(t, emitted, 1)
	assert.Nil(t, emitted[0].Slot("R"))
}

func TestJoinInnerEmitsNothingOnNoMatch(t *testing.T) {
	right := &staticWindow{}
	var emitted []*model.StateEvent
	j := New(nil, right, "L", "R", schema(), schema(), nil, Inner, 0, func(events []*model.StateEvent) {
		emitted = append(emitted, events...)
	})

	j.OnLeft(ev(0, 5))
	assert.Empty(t, emitted)
}

func TestJoinWithinBoundExcludesDistantPairs(t *testing.T) {
	right := &staticWindow{events: []*model.StreamEvent{ev(1000, 1)}}
	var emitted []*model.StateEvent
	j := New(nil, right, "L", "R", schema(), schema(), nil, Inner, 100, func(events []*model.StateEvent) {
		emitted = append(emitted, events...)
	})

	j.OnLeft(ev(0, 1))
	assert.Empty(t, emitted)
}
