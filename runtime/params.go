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

package runtime

import "fmt"

// param type-asserts a required entry out of an OperatorDescriptor's Params
// bag (model.OperatorDescriptor.Params), the "parameter bag the runtime
// assembly type-asserts per kind" spoken of in model/plan.go's own doc
// comment.
func param[T any](p map[string]any, key string) (T, error) {
	var zero T
	v, ok := p[key]
	if !ok {
		return zero, fmt.Errorf("runtime: missing parameter %q", key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("runtime: parameter %q has type %T, want %T", key, v, zero)
	}
	return t, nil
}

// paramOr is param with a default for optional entries.
func paramOr[T any](p map[string]any, key string, def T) T {
	v, ok := p[key]
	if !ok {
		return def
	}
	t, ok := v.(T)
	if !ok {
		return def
	}
	return t
}
