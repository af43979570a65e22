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

// Package window implements the length/time/session/sort window operators
// of spec §4.3: each maintains a buffered set of events and either
// displaces old events (emitting them Expired downstream) or schedules
// time-based expiration via the scheduler package.
//
// Every window type here is a configuration of the same shape the teacher
// used for its own (simpler, float64-valued) windows: a buffer, a
// scheduler-driven or count-driven trigger, and an observer callback —
// generalized to *model.StreamEvent and wired into state.BaseHolder so
// each window is, by construction, checkpointable.
package window

import (
	"errors"
	"math"

	"github.com/flowcore/cep/model"
)

// Emitter receives the events a window forwards downstream: the inbound
// Current event followed by any Expired events it displaced (spec §4.3
// "Forward the Current event downstream as-is, then the Expired (if any)
// after it"). When a batch window flushes, it instead emits the batch's
// events as Expired followed by a Reset marker.
type Emitter func(events []*model.StreamEvent)

// Window is the capability set every window operator in this package
// implements, layered under processor.Window via the Operator adapter.
type Window interface {
	// OnEvent processes one inbound Current event, emitting through the
	// Emitter supplied at construction. Must only be called from the
	// owning chain's single thread (spec §5).
	OnEvent(e *model.StreamEvent)
	// Shutdown releases buffered events and cancels scheduled tasks (spec
	// §3.3 operator lifecycle).
	Shutdown()
}

// ContentsWindow is a Window that can also report its currently buffered
// events, the capability the join operator needs to iterate "the right
// window's current contents" (spec §4.4). Every window type in this
// package implements it.
type ContentsWindow interface {
	Window
	Contents() []*model.StreamEvent
}

// ErrInvalidLength is returned by constructors for spec §4.3's "zero-length
// ... fail at operator construction" edge policy.
var ErrInvalidLength = errors.New("window: length must be positive")

// ErrInvalidDuration is returned for negative or NaN-derived durations
// (spec §4.3 "negative-duration, and NaN timestamps fail at operator
// construction").
var ErrInvalidDuration = errors.New("window: duration must be positive and finite")

func validateLength(length int) error {
	if length <= 0 {
		return ErrInvalidLength
	}
	return nil
}

func validateDurationMs(ms int64) error {
	if ms <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

func validateTimestamp(ts int64) error {
	if math.IsNaN(float64(ts)) {
		return ErrInvalidDuration
	}
	return nil
}

// asExpired returns a shallow clone of e tagged Expired, for forwarding a
// displaced buffered event downstream without mutating the original
// (which the buffer may still reference elsewhere during the same call).
func asExpired(e *model.StreamEvent) *model.StreamEvent {
	c := e.Clone()
	c.Type = model.Expired
	return c
}

func asReset(ts int64) *model.StreamEvent {
	return &model.StreamEvent{Timestamp: ts, Type: model.Reset}
}
