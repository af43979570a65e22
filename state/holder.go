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

// Package state implements the state-holder protocol of spec §4.8: every
// stateful operator implements StateHolder so the checkpoint coordinator
// can snapshot and restore it uniformly, with optional compression and
// incremental changelogs layered on top via CompressibleStateHolder.
package state

import "errors"

// ErrNotSupported is returned by ChangelogSince when an operator cannot
// produce an incremental delta and must be snapshotted in full instead.
var ErrNotSupported = errors.New("state: changelog not supported by this holder")

// AccessPattern hints how hot the underlying data is, for backend tiering
// decisions made above the core (spec §4.8).
type AccessPattern int

const (
	Hot AccessPattern = iota
	Warm
	Cold
)

// Delta is an incremental changelog between two checkpoint ids for a
// single StateHolder (spec GLOSSARY "Changelog"). Ops is engine-defined per
// holder; the coordinator treats it as an opaque, re-appliable blob.
type Delta struct {
	FromCheckpointID uint64
	ToCheckpointID   uint64
	Ops              []byte
}

// StateHolder is the trait every stateful operator implements (spec §4.8).
type StateHolder interface {
	ComponentID() string
	SchemaVersion() string
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
	ChangelogSince(checkpointID uint64) (Delta, error)
	ApplyChangelog(delta Delta) error
	EstimateSize() int64
	AccessPattern() AccessPattern
}

// Algo enumerates the compression algorithms CompressibleStateHolder may
// apply to a snapshot (spec §4.8, §6.5).
type Algo string

const (
	AlgoNone     Algo = "none"
	AlgoLZ4      Algo = "lz4"
	AlgoSnappy   Algo = "snappy"
	AlgoZstd     Algo = "zstd"
	AlgoAdaptive Algo = "adaptive"
)

// CompressibleStateHolder wraps StateHolder.Serialize with a compression
// hint. When Hint is AlgoAdaptive (or unset), the engine selects a codec
// adaptively from the payload size and the holder's AccessPattern (spec
// §4.8 "Compression").
type CompressibleStateHolder interface {
	StateHolder
	SerializeCompressed(hint Algo) ([]byte, error)
	DeserializeCompressed(data []byte) error
}
