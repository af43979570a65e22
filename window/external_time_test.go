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

func extractTimestamp(e *model.StreamEvent) int64 { return e.Timestamp }

func TestExternalTimeWindowExpiresOnWatermarkAdvance(t *testing.T) {
	var seen []model.EventType
	w, err := NewExternalTimeWindow("window.test.externaltime", 100, extractTimestamp, func(events []*model.StreamEvent) {
		for _, e := range events {
			seen = append(seen, e.Type)
		}
	})
	require.NoError(t, err)

	w.OnEvent(newEvent(0))
	assert.Equal(t, []model.EventType{model.Current}, seen)

	seen = nil
	w.OnEvent(newEvent(50)) // watermark 50, event@0 expires at 100: not yet
	assert.Equal(t, []model.EventType{model.Current}, seen)

	seen = nil
	w.OnEvent(newEvent(101)) // watermark 101 passes expiry of event@0
	assert.Contains(t, seen, model.Expired)
}

func TestExternalTimeBatchWindowFiresOnWatermarkCrossing(t *testing.T) {
	var batches [][]model.EventType
	w, err := NewExternalTimeBatchWindow("window.test.externaltimebatch", 100, 0, extractTimestamp, func(events []*model.StreamEvent) {
		var types []model.EventType
		for _, e := range events {
			types = append(types, e.Type)
		}
		batches = append(batches, types)
	})
	require.NoError(t, err)

	w.OnEvent(newEvent(10))
	w.OnEvent(newEvent(50))
	assert.Empty(t, batches)

	w.OnEvent(newEvent(150)) // crosses the 100ms grid boundary
	require.Len(t, batches, 1)
	assert.Equal(t, model.Reset, batches[0][len(batches[0])-1])
}

func TestExternalTimeWindowRejectsNonPositiveDuration(t *testing.T) {
	_, err := NewExternalTimeWindow("x", 0, extractTimestamp, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}
