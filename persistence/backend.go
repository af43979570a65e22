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

// Package persistence implements the PersistenceBackend contract of spec
// §6.3: put/get/list/delete plus an atomic_rename the checkpoint
// coordinator uses as its manifest commit point (spec §4.9 "the new one is
// not referenced in the manifest until fully persisted"). Three concrete
// backends are provided: in-memory (the config default), local filesystem,
// and a pure-Go SQLite-backed "remote KV" (persistence/sqlitekv), standing
// in for the abstract remote-KV shape spec §6.3 names but leaves to other
// systems to implement.
package persistence

import "errors"

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errors.New("persistence: key not found")

// Backend is the PersistenceBackend contract of spec §6.3. Keys are
// '/'-separated strings mirroring the layout of spec §6.4
// (checkpoints/<id>/manifest, checkpoints/<id>/segments/<n>, wal/<segment>).
type Backend interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(key string) error
	// AtomicRename moves the bytes stored at from to to, such that a
	// concurrent Get(to) either sees the old contents of to or the full
	// new contents, never a partial write (spec §4.9 "manifest write is
	// the commit point").
	AtomicRename(from, to string) error
}
