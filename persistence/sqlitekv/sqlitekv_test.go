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

package sqlitekv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/persistence"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Put("checkpoints/7/manifest", []byte("payload")))
	got, err := s.Get("checkpoints/7/manifest")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestStoreGetMissing(t *testing.T) {
	s := openTest(t)
	_, err := s.Get("absent")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStoreList(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Put("wal/segment-1", []byte("a")))
	require.NoError(t, s.Put("wal/segment-2", []byte("b")))
	require.NoError(t, s.Put("checkpoints/1/manifest", []byte("c")))

	keys, err := s.List("wal/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wal/segment-1", "wal/segment-2"}, keys)
}

func TestStoreAtomicRename(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Put("manifest.tmp", []byte("new")))
	require.NoError(t, s.Put("manifest", []byte("old")))

	require.NoError(t, s.AtomicRename("manifest.tmp", "manifest"))

	got, err := s.Get("manifest")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	_, err = s.Get("manifest.tmp")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStoreAtomicRenameMissingSource(t *testing.T) {
	s := openTest(t)
	err := s.AtomicRename("nope", "also-nope")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

var _ persistence.Backend = (*Store)(nil)
