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

package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/model"
)

func newEvent(ts int64) *model.StreamEvent {
	return &model.StreamEvent{Timestamp: ts, Type: model.Current}
}

// TestLengthWindowCardinality is property P2: a length-N window never
// holds more than N current events at once.
func TestLengthWindowCardinality(t *testing.T) {
	var maxLive int
	live := map[int64]bool{}
	w, err := NewLengthWindow("window.test.length", 3, func(events []*model.StreamEvent) {
		for _, e := range events {
			switch e.Type {
			case model.Current:
				live[e.Timestamp] = true
			case model.Expired:
				delete(live, e.Timestamp)
			}
		}
		if len(live) > maxLive {
			maxLive = len(live)
		}
	})
	require.NoError(t, err)

	for i := int64(1); i <= 10; i++ {
		w.OnEvent(newEvent(i))
	}
	assert.LessOrEqual(t, maxLive, 3)
	assert.Len(t, live, 3)
	assert.True(t, live[8] && live[9] && live[10])
}

func TestLengthWindowRejectsZeroOrNegativeLength(t *testing.T) {
	_, err := NewLengthWindow("x", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = NewLengthWindow("x", -1, nil)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestLengthWindowForwardsCurrentThenExpired(t *testing.T) {
	var seen []model.EventType
	w, err := NewLengthWindow("window.test.length", 1, func(events []*model.StreamEvent) {
		for _, e := range events {
			seen = append(seen, e.Type)
		}
	})
	require.NoError(t, err)

	w.OnEvent(newEvent(1))
	assert.Equal(t, []model.EventType{model.Current}, seen)

	seen = nil
	w.OnEvent(newEvent(2))
	assert.Equal(t, []model.EventType{model.Current, model.Expired}, seen)
}

func TestLengthWindowCheckpointRoundTrip(t *testing.T) {
	w, err := NewLengthWindow("window.test.length", 2, func([]*model.StreamEvent) {})
	require.NoError(t, err)
	w.OnEvent(newEvent(1))
	w.OnEvent(newEvent(2))

	snap, err := w.Serialize()
	require.NoError(t, err)

	w2, err := NewLengthWindow("window.test.length", 2, func([]*model.StreamEvent) {})
	require.NoError(t, err)
	require.NoError(t, w2.Deserialize(snap))
	assert.Equal(t, 2, w2.buf.Len())
}
