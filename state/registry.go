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
	"fmt"
	"sync"
)

// Registry tracks every StateHolder in a runtime so the checkpoint
// coordinator can snapshot and restore them in dependency order (spec
// §3.1 "register themselves with the StateRegistry", §9 "indexed
// ownership": the registry holds holders by component id rather than by
// direct pointer, so operator chains stay acyclic).
//
// Lock order (spec §5): Registry -> individual holder locks, never the
// reverse.
type Registry struct {
	mu      sync.RWMutex
	holders map[string]StateHolder
	order   []string // registration order == dependency order, leaves first
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{holders: make(map[string]StateHolder)}
}

// Register adds a holder. Runtime assembly registers leaf operators
// (windows, aggregators) before the operators that depend on them (joins,
// patterns), so registration order already satisfies "leaves first".
func (r *Registry) Register(h StateHolder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := h.ComponentID()
	if _, exists := r.holders[id]; exists {
		return fmt.Errorf("state: component id %q already registered", id)
	}
	r.holders[id] = h
	r.order = append(r.order, id)
	return nil
}

// Unregister removes a holder, e.g. on operator shutdown.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holders, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get looks a holder up by component id.
func (r *Registry) Get(id string) (StateHolder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.holders[id]
	return h, ok
}

// Ordered returns every registered holder in dependency order (leaves
// first), the order the checkpoint coordinator must serialize/deserialize
// in (spec §4.9 steps 3 and recovery step 4).
func (r *Registry) Ordered() []StateHolder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StateHolder, 0, len(r.order))
	for _, id := range r.order {
		if h, ok := r.holders[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Len reports how many holders are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.holders)
}
