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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowcore/cep/checkpoint"
	"github.com/flowcore/cep/junction"
	"github.com/flowcore/cep/state"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, junction.Sync, cfg.Junction.Mode)
	assert.Equal(t, 1024, cfg.Junction.BufferSize)
	assert.Equal(t, checkpoint.ModeHybrid, cfg.CheckpointMode)
	assert.Equal(t, 10, cfg.HybridFullEvery)
	assert.Equal(t, BackendMemory, cfg.PersistenceBackend)
	assert.Equal(t, 1, cfg.RecoveryThreads)
	assert.False(t, cfg.Ordered)
}

func TestNewAppliesOptionsOverDefault(t *testing.T) {
	cfg := New(
		WithMode(junction.Async),
		WithBufferSize(64),
		WithWorkers(4),
		WithOrdered(true),
		WithCheckpointInterval(5*time.Second),
		WithCheckpointMode(checkpoint.ModeFull),
		WithWALRetentionSegments(3),
		WithMergeConflict(checkpoint.FirstWriteWins),
		WithCompression(state.AlgoNone),
		WithPersistenceBackend(BackendFile, "/tmp/cep"),
		WithRecoveryThreads(8),
	)

	assert.Equal(t, junction.Async, cfg.Junction.Mode)
	assert.Equal(t, 64, cfg.Junction.BufferSize)
	assert.Equal(t, 4, cfg.Junction.Workers)
	assert.True(t, cfg.Ordered)
	assert.Equal(t, 5*time.Second, cfg.CheckpointInterval)
	assert.Equal(t, checkpoint.ModeFull, cfg.CheckpointMode)
	assert.Equal(t, 3, cfg.WALRetentionSegments)
	assert.Equal(t, checkpoint.FirstWriteWins, cfg.MergeConflict)
	assert.Equal(t, state.AlgoNone, cfg.Compression)
	assert.Equal(t, BackendFile, cfg.PersistenceBackend)
	assert.Equal(t, "/tmp/cep", cfg.PersistencePath)
	assert.Equal(t, 8, cfg.RecoveryThreads)
}

func TestOptionsLeaveUntouchedFieldsAtDefault(t *testing.T) {
	cfg := New(WithRecoveryThreads(2))
	def := Default()
	assert.Equal(t, def.CheckpointMode, cfg.CheckpointMode)
	assert.Equal(t, def.WALSegmentBytes, cfg.WALSegmentBytes)
	assert.Equal(t, 2, cfg.RecoveryThreads)
}
