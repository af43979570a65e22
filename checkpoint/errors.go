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

package checkpoint

import (
	"errors"
	"fmt"
)

// ErrCorruptManifest and ErrCorruptSegment are the StateError family of
// spec §7: a checksum mismatch is fatal to the checkpoint or recovery in
// progress but never corrupts the previously-committed checkpoint, since
// the coordinator only ever advances its "latest" pointer by renaming a
// fully-written manifest into place.
var (
	ErrCorruptManifest  = errors.New("checkpoint: manifest checksum mismatch")
	ErrCorruptSegment   = errors.New("checkpoint: segment checksum mismatch")
	ErrNoCheckpoint     = errors.New("checkpoint: no checkpoint available to recover from")
	ErrCheckpointActive = errors.New("checkpoint: another checkpoint is already in progress")
)

// CorruptSegmentError names the offending checkpoint id, matching spec
// §4.9's `CorruptSegment(id)` report.
type CorruptSegmentError struct {
	CheckpointID uint64
	Cause        error
}

func (e *CorruptSegmentError) Error() string {
	return fmt.Sprintf("checkpoint: CorruptSegment(%d): %v", e.CheckpointID, e.Cause)
}

func (e *CorruptSegmentError) Unwrap() error { return e.Cause }
