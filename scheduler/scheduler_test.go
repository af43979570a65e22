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

package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresInOrder(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	base := time.Now()
	s.Schedule(base.Add(30*time.Millisecond), func(time.Time) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		wg.Done()
	})
	s.Schedule(base.Add(10*time.Millisecond), func(time.Time) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
	})
	s.Schedule(base.Add(20*time.Millisecond), func(time.Time) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		wg.Done()
	})

	waitOrTimeout(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	fired := false
	h := s.Schedule(time.Now().Add(20*time.Millisecond), func(time.Time) {
		fired = true
	})
	h.Cancel()
	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired)
}

func TestEarlierScheduleWakesDispatcher(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	s.Schedule(time.Now().Add(time.Hour), func(time.Time) {})
	start := time.Now()
	s.Schedule(time.Now().Add(10*time.Millisecond), func(time.Time) {
		close(done)
	})
	select {
	case <-done:
		require.Less(t, time.Since(start), time.Second)
	case <-time.After(time.Second):
		t.Fatal("earlier task never fired; dispatcher did not wake")
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out waiting for scheduled tasks")
	}
}
