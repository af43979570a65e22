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

package window

import (
	"sync"
	"time"

	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/scheduler"
	"github.com/flowcore/cep/state"
)

// KeyFunc extracts a session's grouping key from an event (spec §4.3.6
// "optional grouping key expression"). A nil KeyFunc groups every event
// into a single, ungrouped session.
type KeyFunc func(e *model.StreamEvent) string

type sessionState struct {
	events        []*model.StreamEvent
	lastEventTime int64
	generation    int64
	handle        scheduler.Handle
	scheduled     bool
}

// SessionWindow groups events into per-key sessions that close after
// sessionGapMs of inactivity (spec §4.3.6).
type SessionWindow struct {
	*state.BaseHolder[sessionSnapshot]

	mu         sync.Mutex
	sessionGap int64
	keyFn      KeyFunc
	sessions   map[string]*sessionState
	sched      *scheduler.Scheduler
	emit       Emitter
}

type sessionSnapshot struct {
	SessionGapMs int64
	Sessions     map[string]sessionSnapshotEntry
}

type sessionSnapshotEntry struct {
	Events        []snapshotEvent
	LastEventTime int64
}

// NewSessionWindow constructs a session window. sessionGapMs must be
// positive. A nil keyFn groups every event into one ungrouped session.
func NewSessionWindow(componentID string, sessionGapMs int64, keyFn KeyFunc, emit Emitter) (*SessionWindow, error) {
	if err := validateDurationMs(sessionGapMs); err != nil {
		return nil, err
	}
	if keyFn == nil {
		keyFn = func(*model.StreamEvent) string { return "" }
	}
	w := &SessionWindow{
		sessionGap: sessionGapMs,
		keyFn:      keyFn,
		sessions:   make(map[string]*sessionState),
		emit:       emit,
	}
	w.BaseHolder = state.NewBaseHolder(componentID, "1.0.0", w.snapshot, w.restore)
	return w, nil
}

// Start attaches the scheduler used for per-key inactivity expiration.
func (w *SessionWindow) Start(sched *scheduler.Scheduler, _ Emitter) {
	w.mu.Lock()
	w.sched = sched
	w.mu.Unlock()
}

// OnEvent appends e to its key's session, closing (and re-emitting
// Expired) the previous session first if the inactivity gap has elapsed.
func (w *SessionWindow) OnEvent(e *model.StreamEvent) {
	if err := validateTimestamp(e.Timestamp); err != nil {
		panic(err)
	}
	key := w.keyFn(e)
	t := e.Timestamp

	w.mu.Lock()
	var closed []*model.StreamEvent
	sess, ok := w.sessions[key]
	if ok && t-sess.lastEventTime > w.sessionGap {
		closed = w.closeLocked(key, sess)
		ok = false
	}
	if !ok {
		sess = &sessionState{}
		w.sessions[key] = sess
	}
	sess.events = append(sess.events, e)
	sess.lastEventTime = t
	sess.generation++
	gen := sess.generation
	if w.sched != nil {
		if sess.scheduled {
			sess.handle.Cancel()
		}
		sess.handle = w.sched.Schedule(time.UnixMilli(t+w.sessionGap), w.fireFor(key, gen))
		sess.scheduled = true
	}
	w.mu.Unlock()

	out := append([]*model.StreamEvent{e}, closed...)
	w.emit(out)
}

// closeLocked must be called with mu held; it removes the session and
// returns its buffered events tagged Expired.
func (w *SessionWindow) closeLocked(key string, sess *sessionState) []*model.StreamEvent {
	delete(w.sessions, key)
	out := make([]*model.StreamEvent, 0, len(sess.events))
	for _, e := range sess.events {
		out = append(out, asExpired(e))
	}
	return out
}

// fireFor builds the per-firing closure: it only closes the session if no
// newer event has refreshed it since scheduling (spec §4.3.6 "on firing,
// close if no newer event has refreshed the session").
func (w *SessionWindow) fireFor(key string, gen int64) scheduler.Task {
	return func(time.Time) {
		w.mu.Lock()
		sess, ok := w.sessions[key]
		if !ok || sess.generation != gen {
			w.mu.Unlock()
			return
		}
		closed := w.closeLocked(key, sess)
		w.mu.Unlock()
		if len(closed) > 0 {
			w.emit(closed)
		}
	}
}

// Contents flattens every active session's buffered events together.
func (w *SessionWindow) Contents() []*model.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*model.StreamEvent
	for _, sess := range w.sessions {
		out = append(out, sess.events...)
	}
	return out
}

// Shutdown releases every buffered session's events and cancels their
// pending expirations.
func (w *SessionWindow) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sess := range w.sessions {
		if sess.scheduled {
			sess.handle.Cancel()
		}
		for _, e := range sess.events {
			e.Release()
		}
	}
	w.sessions = make(map[string]*sessionState)
}

func (w *SessionWindow) snapshot() sessionSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := sessionSnapshot{SessionGapMs: w.sessionGap, Sessions: make(map[string]sessionSnapshotEntry, len(w.sessions))}
	for key, sess := range w.sessions {
		entry := sessionSnapshotEntry{LastEventTime: sess.lastEventTime}
		for _, e := range sess.events {
			entry.Events = append(entry.Events, toSnapshotEvent(e))
		}
		snap.Sessions[key] = entry
	}
	return snap
}

func (w *SessionWindow) restore(s sessionSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionGap = s.SessionGapMs
	w.sessions = make(map[string]*sessionState, len(s.Sessions))
	for key, entry := range s.Sessions {
		sess := &sessionState{lastEventTime: entry.LastEventTime}
		for _, se := range entry.Events {
			sess.events = append(sess.events, se.toStreamEvent())
		}
		w.sessions[key] = sess
		if w.sched != nil {
			sess.handle = w.sched.Schedule(time.UnixMilli(entry.LastEventTime+w.sessionGap), w.fireFor(key, sess.generation))
			sess.scheduled = true
		}
	}
	return nil
}
