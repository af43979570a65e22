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

package state

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterSnapshot struct {
	Count int64
	Tag   string
}

func newCounterHolder(id string) (*BaseHolder[counterSnapshot], *int64, *string) {
	var count int64
	var tag string
	h := NewBaseHolder(id, "1.3.0",
		func() counterSnapshot { return counterSnapshot{Count: count, Tag: tag} },
		func(s counterSnapshot) error { count = s.Count; tag = s.Tag; return nil },
	)
	return h, &count, &tag
}

// TestCheckpointRoundTrip is property P6: deserialize(serialize(state))
// reproduces indistinguishable state.
func TestCheckpointRoundTrip(t *testing.T) {
	h, count, tag := newCounterHolder("window.orders.length")
	*count = 42
	*tag = "hello"

	snap, err := h.Serialize()
	require.NoError(t, err)

	*count = 999
	*tag = "clobbered"

	require.NoError(t, h.Deserialize(snap))
	assert.Equal(t, int64(42), *count)
	assert.Equal(t, "hello", *tag)
}

func TestDeserializeRejectsIncompatibleMajorVersion(t *testing.T) {
	h, _, _ := newCounterHolder("window.orders.length")
	snap, err := h.Serialize()
	require.NoError(t, err)

	h2, _, _ := newCounterHolder("window.orders.length")
	h2.Version = "2.0.0"
	err = h2.Deserialize(snap)
	assert.Error(t, err)
}

func TestChecksumMismatchRejected(t *testing.T) {
	h, count, _ := newCounterHolder("window.orders.length")
	*count = 7
	snap, err := h.Serialize()
	require.NoError(t, err)

	corrupt := bytes.Clone(snap)
	corrupt[len(corrupt)-1] ^= 0xFF

	h2, _, _ := newCounterHolder("window.orders.length")
	err = h2.Deserialize(corrupt)
	assert.Error(t, err)
}

// TestCompressionRoundTrip is property P7 for every supported algorithm.
func TestCompressionRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, algo := range []Algo{AlgoNone, AlgoSnappy, AlgoLZ4, AlgoZstd} {
		t.Run(string(algo), func(t *testing.T) {
			payload := make([]byte, 4096)
			r.Read(payload)
			compressed, err := compress(algo, payload)
			require.NoError(t, err)
			out, err := decompress(algo, compressed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, out))
		})
	}
}

func TestAdaptiveCompressionSkipsSmallPayloads(t *testing.T) {
	assert.Equal(t, AlgoNone, chooseAdaptive(16, Hot))
	assert.Equal(t, AlgoSnappy, chooseAdaptive(4096, Hot))
	assert.Equal(t, AlgoZstd, chooseAdaptive(4096, Cold))
}

func TestRegistryOrderedReturnsRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	h1, _, _ := newCounterHolder("a")
	h2, _, _ := newCounterHolder("b")
	require.NoError(t, reg.Register(h1))
	require.NoError(t, reg.Register(h2))
	ordered := reg.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].ComponentID())
	assert.Equal(t, "b", ordered[1].ComponentID())
}

func TestRegistryRejectsDuplicateComponentID(t *testing.T) {
	reg := NewRegistry()
	h1, _, _ := newCounterHolder("dup")
	h2, _, _ := newCounterHolder("dup")
	require.NoError(t, reg.Register(h1))
	assert.Error(t, reg.Register(h2))
}
