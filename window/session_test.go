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

// TestSessionWindowGapClosesSession is property P4: events within the gap
// share a session; a later event beyond the gap starts a new one and
// closes the old.
func TestSessionWindowGapClosesSession(t *testing.T) {
	var closedBatches [][]int64
	w, err := NewSessionWindow("window.test.session", 100, nil, func(events []*model.StreamEvent) {
		var ts []int64
		for _, e := range events {
			if e.Type == model.Expired {
				ts = append(ts, e.Timestamp)
			}
		}
		if len(ts) > 0 {
			closedBatches = append(closedBatches, ts)
		}
	})
	require.NoError(t, err)

	w.OnEvent(newEvent(0))
	w.OnEvent(newEvent(50)) // within gap: same session
	assert.Empty(t, closedBatches)

	w.OnEvent(newEvent(300)) // beyond gap: closes [0, 50]
	require.Len(t, closedBatches, 1)
	assert.Equal(t, []int64{0, 50}, closedBatches[0])
}

func TestSessionWindowGroupsByKey(t *testing.T) {
	var closedKeys []string
	keyFn := func(e *model.StreamEvent) string {
		return e.BeforeWindowData[0].StringVal()
	}
	w, err := NewSessionWindow("window.test.session", 50, keyFn, func(events []*model.StreamEvent) {
		for _, e := range events {
			if e.Type == model.Expired {
				closedKeys = append(closedKeys, e.BeforeWindowData[0].StringVal())
			}
		}
	})
	require.NoError(t, err)

	a1 := newEvent(0)
	a1.BeforeWindowData = []model.AttributeValue{model.String("a")}
	b1 := newEvent(0)
	b1.BeforeWindowData = []model.AttributeValue{model.String("b")}
	w.OnEvent(a1)
	w.OnEvent(b1)

	a2 := newEvent(200) // beyond gap for key "a" only
	a2.BeforeWindowData = []model.AttributeValue{model.String("a")}
	w.OnEvent(a2)

	assert.Equal(t, []string{"a"}, closedKeys)
}

func TestSessionWindowExpiresOnInactivityTimeout(t *testing.T) {
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	closed := make(chan struct{}, 1)
	w, err := NewSessionWindow("window.test.session", 30, nil, func(events []*model.StreamEvent) {
		for _, e := range events {
			if e.Type == model.Expired {
				select {
				case closed <- struct{}{}:
				default:
				}
			}
		}
	})
	require.NoError(t, err)
	w.Start(sched, nil)

	w.OnEvent(newEvent(nowMs()))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session never closed on inactivity timeout")
	}
}

func TestSessionWindowRejectsNonPositiveGap(t *testing.T) {
	_, err := NewSessionWindow("x", 0, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}
