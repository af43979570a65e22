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

// Package runtime materializes a model.OperatorPlan into live junctions,
// processor chains, windows, joins and patterns (spec §3.1 "The runtime
// materializes this into live junctions and processor chains"), and owns
// the cross-cutting machinery every assembled component shares: the
// StateRegistry, the scheduler, the ThreadBarrier and the checkpoint
// coordinator.
//
// No textual parsing happens here (spec §6.1): runtime assembly consumes
// the plan's OperatorDescriptor.Params bag directly, the way the teacher's
// own Stream wired its (already-parsed) rule definition into live
// operators rather than re-interpreting source text at run time.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowcore/cep/checkpoint"
	"github.com/flowcore/cep/config"
	"github.com/flowcore/cep/junction"
	"github.com/flowcore/cep/logger"
	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/persistence"
	"github.com/flowcore/cep/persistence/sqlitekv"
	"github.com/flowcore/cep/scheduler"
	"github.com/flowcore/cep/state"
)

// shutdowner is anything runtime assembly produces that owns buffered
// events or scheduled tasks and must release them on Shutdown (spec §3.3
// "stopped by shutdown() which releases buffered events and cancels
// tasks").
type shutdowner interface {
	Shutdown()
}

// Runtime is one assembled, running instance of an operator plan.
type Runtime struct {
	ID  string // spec's "run identifier", per SPEC_FULL's component/run id convention
	cfg config.Config
	log *logger.Logger

	barrier  *junction.ThreadBarrier
	registry *state.Registry
	sched    *scheduler.Scheduler
	backend  persistence.Backend
	coord    *checkpoint.Coordinator

	mu        sync.RWMutex
	junctions map[string]*junction.Junction
	streams   map[string]*model.StreamDefinition
	lastTs    map[string]int64 // last accepted timestamp per stream, for Ordered mode

	shutdowners     []shutdowner
	checkpointHandle scheduler.Handle
	started         bool
}

// New constructs a Runtime over cfg and assembles plan into it. The
// Runtime is not started until Start is called.
func New(cfg config.Config, plan *model.OperatorPlan) (*Runtime, error) {
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: build persistence backend: %w", err)
	}

	rt := &Runtime{
		ID:        uuid.NewString(),
		cfg:       cfg,
		log:       logger.Default().With("runtime"),
		barrier:   junction.NewThreadBarrier(),
		registry:  state.NewRegistry(),
		sched:     scheduler.New(),
		backend:   backend,
		junctions: make(map[string]*junction.Junction),
		streams:   make(map[string]*model.StreamDefinition),
		lastTs:    make(map[string]int64),
	}

	coord, err := checkpoint.NewCoordinator(checkpoint.Config{
		Mode:             cfg.CheckpointMode,
		Registry:         rt.registry,
		Backend:          backend,
		Barrier:          rt.barrier,
		WALSegmentBytes:  cfg.WALSegmentBytes,
		WALRetentionSegs: cfg.WALRetentionSegments,
		HybridFullEvery:  cfg.HybridFullEvery,
		Merger:           checkpoint.MergeConfig{Conflict: cfg.MergeConflict},
		RecoveryThreads:  cfg.RecoveryThreads,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: build checkpoint coordinator: %w", err)
	}
	rt.coord = coord

	if plan != nil {
		if err := rt.assemble(plan); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func buildBackend(cfg config.Config) (persistence.Backend, error) {
	switch cfg.PersistenceBackend {
	case config.BackendFile:
		if cfg.PersistencePath == "" {
			return nil, fmt.Errorf("runtime: persistence_backend file{path} requires a path")
		}
		return persistence.NewFile(cfg.PersistencePath)
	case config.BackendSQLite:
		if cfg.PersistencePath == "" {
			return nil, fmt.Errorf("runtime: persistence_backend kv{sqlite} requires a path")
		}
		return sqlitekv.Open(cfg.PersistencePath)
	case config.BackendMemory, "":
		return persistence.NewMemory(), nil
	default:
		return nil, fmt.Errorf("runtime: unknown persistence_backend %q", cfg.PersistenceBackend)
	}
}

// Start spawns the scheduler, every async junction's consumer workers, and
// (if configured) the periodic checkpoint task (spec §3.3 "started by a
// start() call that may register scheduled tasks").
func (rt *Runtime) Start() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		return
	}
	rt.started = true
	rt.sched.Start()
	for _, j := range rt.junctions {
		j.Start()
	}
	if rt.cfg.CheckpointInterval > 0 {
		rt.scheduleNextCheckpointLocked()
	}
}

func (rt *Runtime) scheduleNextCheckpointLocked() {
	rt.checkpointHandle = rt.sched.Schedule(time.Now().Add(rt.cfg.CheckpointInterval), rt.fireCheckpoint)
}

func (rt *Runtime) fireCheckpoint(time.Time) {
	if _, err := rt.coord.Checkpoint(context.Background()); err != nil && err != checkpoint.ErrCheckpointActive {
		rt.log.Error("periodic checkpoint failed: %v", err)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started && rt.cfg.CheckpointInterval > 0 {
		rt.scheduleNextCheckpointLocked()
	}
}

// Shutdown stops ingress, joins every async junction's workers, shuts down
// every stateful operator, and stops the scheduler. It returns
// ErrShutdownTimeout if ctx expires before the cooperative shutdown
// completes (spec §7 "ShutdownTimeout").
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	if !rt.started {
		rt.mu.Unlock()
		return nil
	}
	rt.started = false
	if rt.checkpointHandle != (scheduler.Handle{}) {
		rt.checkpointHandle.Cancel()
	}
	junctions := make([]*junction.Junction, 0, len(rt.junctions))
	for _, j := range rt.junctions {
		junctions = append(junctions, j)
	}
	operators := append([]shutdowner(nil), rt.shutdowners...)
	rt.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rt.barrier.Close()
		for _, j := range junctions {
			j.Stop()
		}
		for _, op := range operators {
			op.Shutdown()
		}
		rt.sched.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

// Publish pushes ev onto the named stream, the InputHandler contract of
// spec §6.2: validates the event against the stream's schema, enforces
// Ordered mode's monotone-timestamp invariant, pool-allocates a
// StreamEvent, and publishes it to the stream's Junction.
func (rt *Runtime) Publish(streamID string, ev model.Event) error {
	rt.barrier.Enter()

	rt.mu.RLock()
	j, ok := rt.junctions[streamID]
	def := rt.streams[streamID]
	rt.mu.RUnlock()
	if !ok {
		return fmt.Errorf("runtime: unknown stream %q", streamID)
	}
	if err := def.Validate(ev.Attributes); err != nil {
		return err
	}
	if rt.cfg.Ordered {
		rt.mu.Lock()
		last := rt.lastTs[streamID]
		if ev.Timestamp < last {
			rt.mu.Unlock()
			return fmt.Errorf("runtime: stream %q: out-of-order event (timestamp %d < %d)", streamID, ev.Timestamp, last)
		}
		rt.lastTs[streamID] = ev.Timestamp
		rt.mu.Unlock()
	}

	se := model.NewFromEvent(j.Pool, ev)
	return j.Publish(model.NewChunk(se))
}

// RegisterCallback attaches fn as an OutputAdapter on the named stream
// (spec §6.2 "OutputAdapter (Callback): registers against an output
// stream name").
func (rt *Runtime) RegisterCallback(streamID string, fn func(*model.EventChunk) error) error {
	rt.mu.RLock()
	j, ok := rt.junctions[streamID]
	rt.mu.RUnlock()
	if !ok {
		return fmt.Errorf("runtime: unknown stream %q", streamID)
	}
	j.Subscribe(newCallbackChain(fn))
	return nil
}

// Checkpoint runs one checkpoint cycle on demand.
func (rt *Runtime) Checkpoint(ctx context.Context) (uint64, error) {
	return rt.coord.Checkpoint(ctx)
}

// Merge folds the WAL tail into a fresh full checkpoint.
func (rt *Runtime) Merge(ctx context.Context) (uint64, error) {
	return rt.coord.Merge(ctx)
}

// Recover restores every registered StateHolder from the most recent valid
// checkpoint plus WAL tail, with the barrier closed throughout.
func (rt *Runtime) Recover(ctx context.Context) error {
	return rt.coord.Recover(ctx, nil)
}

// StreamDefinition looks up a stream's schema by id, for callers
// constructing Events by hand.
func (rt *Runtime) StreamDefinition(streamID string) (*model.StreamDefinition, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	d, ok := rt.streams[streamID]
	return d, ok
}

// FaultCount reports the total count of subscriber panics and subscriber
// errors across every assembled junction.
func (rt *Runtime) FaultCount() int64 {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var total int64
	for _, j := range rt.junctions {
		total += j.FaultCount()
	}
	return total
}
