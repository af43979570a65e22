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

// Package config builds a Runtime configuration from the recognized option
// set of spec §6.5, the same functional-options shape the teacher used for
// its own Stream options: a Config struct of plain fields plus an Option
// function type that mutates it, applied in order over a documented
// default.
package config

import (
	"time"

	"github.com/flowcore/cep/checkpoint"
	"github.com/flowcore/cep/junction"
	"github.com/flowcore/cep/state"
)

// BackendKind selects which PersistenceBackend implementation a Runtime
// constructs (spec §6.5 "persistence_backend: memory | file{path} |
// kv{impl}").
type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendFile   BackendKind = "file"
	// BackendSQLite is the concrete kv{impl} value SPEC_FULL names
	// ("persistence_backend: kv{sqlite}").
	BackendSQLite BackendKind = "kv_sqlite"
)

// Config is the full recognized option set a Runtime is built from.
type Config struct {
	// Junction is applied to every stream's junction; runtime assembly has
	// no per-stream override.
	Junction junction.Config
	Ordered  bool

	CheckpointInterval   time.Duration
	CheckpointMode       checkpoint.Mode
	HybridFullEvery      int
	WALSegmentBytes      int
	WALRetentionSegments int
	MergeConflict        checkpoint.ConflictPolicy
	Compression          state.Algo

	PersistenceBackend BackendKind
	PersistencePath    string // BackendFile, BackendSQLite

	RecoveryThreads int
}

// Default returns the engine's documented defaults: synchronous junctions
// (spec Open Question #1), a 1024-entry ring, blocking backpressure,
// hybrid checkpointing every 10 incrementals, an in-memory backend, and
// unordered ingestion.
func Default() Config {
	return Config{
		Junction:             junction.DefaultConfig(),
		CheckpointMode:       checkpoint.ModeHybrid,
		HybridFullEvery:      10,
		WALSegmentBytes:      4 << 20,
		WALRetentionSegments: 16,
		MergeConflict:        checkpoint.LastWriteWins,
		Compression:          state.AlgoAdaptive,
		PersistenceBackend:   BackendMemory,
		RecoveryThreads:      1,
		CheckpointInterval:   time.Minute,
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// New builds a Config from Default() plus opts applied in order.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMode sets the engine-wide default junction mode (spec §6.5 "mode:
// sync | async (per junction)").
func WithMode(m junction.Mode) Option {
	return func(c *Config) { c.Junction.Mode = m }
}

// WithBufferSize sets the default ring-buffer capacity for async junctions.
func WithBufferSize(n int) Option {
	return func(c *Config) { c.Junction.BufferSize = n }
}

// WithWorkers sets the default async consumer worker count.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Junction.Workers = n }
}

// WithBackpressure sets the default backpressure policy.
func WithBackpressure(p junction.Policy) Option {
	return func(c *Config) { c.Junction.Backpressure = p }
}

// WithFaultStream sets the fault-stream id stored in the junction Config;
// junctions do not route failed chunks to it.
func WithFaultStream(streamID string) Option {
	return func(c *Config) { c.Junction.FaultStreamId = streamID }
}

// WithOrdered toggles invariant 2 (monotone timestamps per stream).
func WithOrdered(ordered bool) Option {
	return func(c *Config) { c.Ordered = ordered }
}

// WithCheckpointInterval sets the cadence the runtime's own scheduler
// drives Coordinator.Checkpoint at.
func WithCheckpointInterval(d time.Duration) Option {
	return func(c *Config) { c.CheckpointInterval = d }
}

// WithCheckpointMode selects full, incremental, or hybrid checkpointing.
func WithCheckpointMode(m checkpoint.Mode) Option {
	return func(c *Config) { c.CheckpointMode = m }
}

// WithHybridFullEvery sets how many incrementals ModeHybrid takes between
// full checkpoints.
func WithHybridFullEvery(n int) Option {
	return func(c *Config) { c.HybridFullEvery = n }
}

// WithWALSegmentBytes sets the WAL rotation threshold.
func WithWALSegmentBytes(n int) Option {
	return func(c *Config) { c.WALSegmentBytes = n }
}

// WithWALRetentionSegments sets the WAL GC retention window.
func WithWALRetentionSegments(n int) Option {
	return func(c *Config) { c.WALRetentionSegments = n }
}

// WithMergeConflict selects the Checkpoint Merger's conflict resolution
// policy.
func WithMergeConflict(p checkpoint.ConflictPolicy) Option {
	return func(c *Config) { c.MergeConflict = p }
}

// WithCompression sets the default state-holder compression algorithm.
func WithCompression(a state.Algo) Option {
	return func(c *Config) { c.Compression = a }
}

// WithPersistenceBackend selects the storage backend and, for BackendFile
// and BackendSQLite, the path argument their `{path}`/`{impl}` shape
// carries.
func WithPersistenceBackend(kind BackendKind, path string) Option {
	return func(c *Config) {
		c.PersistenceBackend = kind
		c.PersistencePath = path
	}
}

// WithRecoveryThreads bounds how many StateHolders Coordinator.Recover
// deserializes concurrently (spec §6.5 "recovery_threads: usize").
func WithRecoveryThreads(n int) Option {
	return func(c *Config) { c.RecoveryThreads = n }
}
