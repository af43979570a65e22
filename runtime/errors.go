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

import "errors"

// ErrShutdownTimeout is returned by Shutdown when the cooperative shutdown
// sequence does not complete before the caller's context expires (spec §7
// "ShutdownTimeout — workers failed to join in time; logged, workers
// detached").
var ErrShutdownTimeout = errors.New("runtime: shutdown timed out, workers detached")

// ErrUnknownOperatorKind is returned by assembly when a plan references an
// OperatorKind this runtime has no builder for (spec §7
// "ConfigurationError ... unknown operator kind; fatal at startup").
var ErrUnknownOperatorKind = errors.New("runtime: unknown operator kind")
