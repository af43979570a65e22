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

func scoredEvent(ts int64, score float64) *model.StreamEvent {
	e := newEvent(ts)
	e.BeforeWindowData = []model.AttributeValue{model.Double(score)}
	return e
}

func TestSortWindowKeepsTopByAscendingKey(t *testing.T) {
	var expiredScores []float64
	w, err := NewSortWindow("window.test.sort", 2, []SortSpec{{Index: 0}}, func(events []*model.StreamEvent) {
		for _, e := range events {
			if e.Type == model.Expired {
				expiredScores = append(expiredScores, e.BeforeWindowData[0].DoubleVal())
			}
		}
	})
	require.NoError(t, err)

	w.OnEvent(scoredEvent(1, 5))
	w.OnEvent(scoredEvent(2, 1))
	w.OnEvent(scoredEvent(3, 9)) // sorts last among {1,5,9}; displaced
	require.Len(t, expiredScores, 1)
	assert.Equal(t, 9.0, expiredScores[0])

	var remaining []float64
	for _, e := range w.buf {
		remaining = append(remaining, e.BeforeWindowData[0].DoubleVal())
	}
	assert.ElementsMatch(t, []float64{1, 5}, remaining)
}

func TestSortWindowDescending(t *testing.T) {
	w, err := NewSortWindow("window.test.sort", 2, []SortSpec{{Index: 0, Descending: true}}, func([]*model.StreamEvent) {})
	require.NoError(t, err)

	w.OnEvent(scoredEvent(1, 5))
	w.OnEvent(scoredEvent(2, 1))
	w.OnEvent(scoredEvent(3, 9))

	var remaining []float64
	for _, e := range w.buf {
		remaining = append(remaining, e.BeforeWindowData[0].DoubleVal())
	}
	assert.ElementsMatch(t, []float64{9, 5}, remaining)
}

func TestSortWindowRejectsZeroLength(t *testing.T) {
	_, err := NewSortWindow("x", 0, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidLength)
}
