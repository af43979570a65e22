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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// TestTimeWindowHorizon is property P3: an event is visible for
// approximately durationMs after it arrives and then expires.
func TestTimeWindowHorizon(t *testing.T) {
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	var mu sync.Mutex
	var expiredAt []int64
	expiredCh := make(chan struct{}, 10)

	w, err := NewTimeWindow("window.test.time", 30, func(events []*model.StreamEvent) {
		mu.Lock()
		for _, e := range events {
			if e.Type == model.Expired {
				expiredAt = append(expiredAt, time.Now().UnixMilli())
			}
		}
		mu.Unlock()
		for range events {
			select {
			case expiredCh <- struct{}{}:
			default:
			}
		}
	})
	require.NoError(t, err)
	w.Start(sched, nil)

	start := nowMs()
	w.OnEvent(newEvent(start))

	select {
	case <-expiredCh:
	case <-time.After(2 * time.Second):
		t.Fatal("event never expired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, expiredAt, 1)
	assert.GreaterOrEqual(t, expiredAt[0]-start, int64(25))
}

func TestTimeWindowCoalescesEarlierExpiry(t *testing.T) {
	sched := scheduler.New()
	sched.Start()
	defer sched.Stop()

	w, err := NewTimeWindow("window.test.time", 1000, func([]*model.StreamEvent) {})
	require.NoError(t, err)
	w.Start(sched, nil)

	base := nowMs()
	w.OnEvent(newEvent(base))
	first := w.scheduledAt
	// A later event with the same fixed duration should not push the
	// pending wakeup further out; scheduledAt must still track the
	// earliest outstanding expiry.
	w.OnEvent(newEvent(base + 500))
	assert.Equal(t, first, w.scheduledAt)
}

func TestTimeWindowRejectsNonPositiveDuration(t *testing.T) {
	_, err := NewTimeWindow("x", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
	_, err = NewTimeWindow("x", -5, nil)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}
