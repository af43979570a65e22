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

package junction

import (
	"errors"
	"time"
)

// ErrBackpressureExceeded is returned when an async publish exhausts its
// backoff retry budget (spec §7 BackpressureExceeded).
var ErrBackpressureExceeded = errors.New("junction: backpressure exceeded")

// DropSide selects which end of a full ring the Drop policy discards.
type DropSide uint8

const (
	DropOldest DropSide = iota
	DropNewest
)

// Kind enumerates the three backpressure policies of spec §4.1.
type Kind uint8

const (
	Block Kind = iota
	Drop
	ExponentialBackoff
)

// Policy configures how an async junction's publish behaves when its ring
// buffer is full.
type Policy struct {
	Kind Kind

	// Drop
	DropSide DropSide

	// ExponentialBackoff: retry delay = Initial * Multiplier^attempt,
	// capped at Max, then the publish fails with ErrBackpressureExceeded.
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	MaxRetries int
}

// DefaultPolicy blocks the producer, matching the teacher's own Stream
// which never silently drops caller data unless explicitly configured to.
func DefaultPolicy() Policy {
	return Policy{Kind: Block}
}
