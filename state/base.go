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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// BaseHolder is a generic StateHolder implementation every stateful
// operator (window, join, pattern, group-by aggregator instance) embeds
// rather than hand-rolling serialize/deserialize. T is the operator's own
// plain-data snapshot struct; GetSnapshot/SetSnapshot are the only
// operator-specific code required to satisfy spec §4.8 in full, including
// compression and checksum framing.
//
// Most operators do not support incremental changelogs (spec explicitly
// allows ChangelogSince to return ErrNotSupported), so BaseHolder's default
// falls back to full resnapshot; an operator that *can* produce a delta
// (documented per spec as an optional capability) defines its own
// ChangelogSince/ApplyChangelog, which shadows BaseHolder's via normal Go
// method promotion rules.
type BaseHolder[T any] struct {
	ID      string
	Version string // semver, e.g. "1.0.0"

	GetSnapshot func() T
	SetSnapshot func(T) error

	mu          sync.Mutex
	defaultAlgo Algo
}

// NewBaseHolder constructs a BaseHolder for component id/version, wiring
// the operator's own snapshot accessors.
func NewBaseHolder[T any](id, version string, get func() T, set func(T) error) *BaseHolder[T] {
	return &BaseHolder[T]{ID: id, Version: version, GetSnapshot: get, SetSnapshot: set, defaultAlgo: AlgoAdaptive}
}

func (b *BaseHolder[T]) ComponentID() string   { return b.ID }
func (b *BaseHolder[T]) SchemaVersion() string { return b.Version }

// SetDefaultCompression overrides the algorithm Serialize uses when no
// explicit hint is supplied via SerializeCompressed.
func (b *BaseHolder[T]) SetDefaultCompression(a Algo) { b.defaultAlgo = a }

// Serialize produces a full snapshot using a consistent (lock-and-copy)
// read: GetSnapshot is expected to itself copy whatever mutable state it
// touches, so Serialize can run concurrently with event processing per
// spec §4.8.
func (b *BaseHolder[T]) Serialize() ([]byte, error) {
	return b.SerializeCompressed(b.defaultAlgo)
}

// SerializeCompressed snapshots with an explicit algorithm hint. AlgoAdaptive
// picks a codec from the resulting payload size (spec §4.8 "Compression").
func (b *BaseHolder[T]) SerializeCompressed(hint Algo) ([]byte, error) {
	b.mu.Lock()
	snap := b.GetSnapshot()
	b.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("state: marshal snapshot for %q: %w", b.ID, err)
	}
	algo := hint
	if algo == AlgoAdaptive || algo == "" {
		algo = chooseAdaptive(len(raw), b.AccessPattern())
	}
	return encodeEnvelope(b.ID, b.Version, algo, raw)
}

// Deserialize replaces in-memory state atomically (spec §4.8). Called only
// when the ThreadBarrier is closed, so no additional locking is required
// beyond serializing against concurrent Serialize calls.
func (b *BaseHolder[T]) Deserialize(data []byte) error {
	return b.DeserializeCompressed(data)
}

func (b *BaseHolder[T]) DeserializeCompressed(data []byte) error {
	env, raw, err := decodeEnvelopeFull(data)
	if err != nil {
		return err
	}
	if !CompatibleVersion(b.Version, env.SchemaVersion) {
		return fmt.Errorf("state: component %q schema version %s incompatible with snapshot version %s", b.ID, b.Version, env.SchemaVersion)
	}
	var snap T
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("state: unmarshal snapshot for %q: %w", b.ID, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.SetSnapshot(snap)
}

// ChangelogSince is the default: full snapshots only (spec §4.8 allows
// NotSupported).
func (b *BaseHolder[T]) ChangelogSince(uint64) (Delta, error) {
	return Delta{}, ErrNotSupported
}

func (b *BaseHolder[T]) ApplyChangelog(Delta) error {
	return ErrNotSupported
}

// EstimateSize returns the marshaled snapshot size as an upper-bound byte
// estimate (spec §4.8 "estimate_size").
func (b *BaseHolder[T]) EstimateSize() int64 {
	b.mu.Lock()
	snap := b.GetSnapshot()
	b.mu.Unlock()
	raw, err := json.Marshal(snap)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}

// AccessPattern defaults to Hot (actively processing window/join/pattern
// state); operators that know they're colder (e.g. a rarely-queried
// session archive) can shadow this method.
func (b *BaseHolder[T]) AccessPattern() AccessPattern { return Hot }

// CompatibleVersion accepts a snapshot version whose numeric major equals the
// holder's, whether its minor/patch is older or newer, and refuses other
// majors; if either major is not numeric the two strings must match exactly.
// It uses a minimal major-version parse — no semver library is pulled in for this single comparison, since no
// example in the corpus needs full semver range matching either.
func CompatibleVersion(holderVersion, snapshotVersion string) bool {
	hMajor, ok1 := majorOf(holderVersion)
	sMajor, ok2 := majorOf(snapshotVersion)
	if !ok1 || !ok2 {
		return holderVersion == snapshotVersion
	}
	return hMajor == sMajor
}

func majorOf(v string) (int, bool) {
	parts := strings.SplitN(v, ".", 2)
	if len(parts) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return n, true
}
