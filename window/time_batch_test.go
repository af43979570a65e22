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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
)

func TestTimeBatchWindowFlushesOnSchedulerFiring(t *testing.T) {
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	flushed := make(chan []*model.StreamEvent, 4)
	w, err := NewTimeBatchWindow("window.test.timebatch", 30, 0, func(events []*model.StreamEvent) {
		flushed <- events
	})
	require.NoError(t, err)
	w.Start(sched, nil)

	w.OnEvent(newEvent(nowMs()))
	w.OnEvent(newEvent(nowMs()))

	select {
	case events := <-flushed:
		require.Len(t, events, 3) // 2 expired + reset marker
		assert.Equal(t, model.Expired, events[0].Type)
		assert.Equal(t, model.Expired, events[1].Type)
		assert.Equal(t, model.Reset, events[2].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("batch never flushed")
	}
}

func TestTimeBatchWindowRejectsNonPositiveDuration(t *testing.T) {
	_, err := NewTimeBatchWindow("x", 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestTimeBatchWindowAlignedFiringIsAfterEventTime(t *testing.T) {
	w, err := NewTimeBatchWindow("x", 100, 0, nil)
	require.NoError(t, err)
	fire := w.alignedFiring(250)
	assert.Greater(t, fire, int64(250))
	assert.Equal(t, int64(0), fire%100)
}
