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
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cespare/xxhash/v2"
	"github.com/flowcore/cep/persistence"
	"github.com/flowcore/cep/state"
)

// Barrier is the subset of junction.ThreadBarrier the coordinator needs,
// narrowed locally so this package doesn't import junction (spec §4.9
// steps 2/5: "Close the ThreadBarrier at ingress ... Reopen").
type Barrier interface {
	Close()
	Open()
}

// Mode selects the checkpoint strategy (spec §6.5 checkpoint_mode).
type Mode uint8

const (
	ModeFull Mode = iota
	ModeIncremental
	ModeHybrid // incremental between periodic full checkpoints
)

// Config configures a Coordinator.
type Config struct {
	Mode              Mode
	Registry          *state.Registry
	Backend           persistence.Backend
	Barrier           Barrier
	WALSegmentBytes   int
	WALRetentionSegs  int
	// HybridFullEvery, for ModeHybrid, is how many incremental checkpoints
	// are taken between full ones (1 alternates full and incremental).
	// Default 10 when left zero.
	HybridFullEvery int
	Merger          MergeConfig
	// RecoveryThreads bounds how many StateHolders Recover deserializes
	// concurrently (spec §6.5 "recovery_threads: usize"). Safe to
	// parallelize: each holder's Deserialize/ApplyChangelog only touches
	// its own state, never another holder's. Defaults to 1 (sequential)
	// when left zero.
	RecoveryThreads int
}

const (
	checkpointsPrefix = "checkpoints/"
	manifestSuffix    = "manifest"
	segmentsDir       = "segments"
)

// Coordinator drives the full/incremental checkpoint protocols and
// recovery of spec §4.9. It serializes checkpoint initiation (invariant 3:
// "at most one checkpoint active") via inflight.
type Coordinator struct {
	cfg  Config
	wal  *WAL
	merg *Merger

	mu          sync.Mutex
	nextID      uint64
	lastFullID  uint64
	lastAnyID   uint64
	incremSince uint64 // count of incrementals since last full, for ModeHybrid
	inflight    int32  // atomic guard for invariant 3
}

// NewCoordinator constructs a Coordinator over cfg. It discovers the
// highest already-persisted checkpoint id so a restarted coordinator picks
// up checkpoint numbering where the prior instance left off.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.WALRetentionSegs == 0 {
		cfg.WALRetentionSegs = 16
	}
	if cfg.HybridFullEvery <= 0 {
		cfg.HybridFullEvery = 10
	}
	wal, err := NewWAL(cfg.Backend, cfg.WALSegmentBytes, cfg.WALRetentionSegs)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{cfg: cfg, wal: wal}
	c.merg = NewMerger(cfg.Backend, wal, cfg.Merger)

	keys, err := cfg.Backend.List(checkpointsPrefix)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list existing checkpoints: %w", err)
	}
	for _, k := range keys {
		if id, ok := checkpointIDFromManifestKey(k); ok && id > c.lastAnyID {
			c.lastAnyID = id
			c.lastFullID = id // every listed manifest is a full snapshot's commit point
		}
	}
	c.nextID = c.lastAnyID + 1
	return c, nil
}

func manifestKey(id uint64) string {
	return checkpointsPrefix + strconv.FormatUint(id, 10) + "/" + manifestSuffix
}

func segmentKey(id uint64, n int) string {
	return checkpointsPrefix + strconv.FormatUint(id, 10) + "/" + segmentsDir + "/" + strconv.Itoa(n)
}

func checkpointIDFromManifestKey(key string) (uint64, bool) {
	// checkpoints/<id>/manifest
	if len(key) <= len(checkpointsPrefix) {
		return 0, false
	}
	rest := key[len(checkpointsPrefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			id, err := strconv.ParseUint(rest[:i], 10, 64)
			return id, err == nil
		}
	}
	return 0, false
}

// Checkpoint performs one checkpoint cycle, full or incremental per cfg.Mode
// (ModeHybrid alternates), and returns the assigned checkpoint id.
func (c *Coordinator) Checkpoint(ctx context.Context) (uint64, error) {
	if !atomic.CompareAndSwapInt32(&c.inflight, 0, 1) {
		return 0, ErrCheckpointActive
	}
	defer atomic.StoreInt32(&c.inflight, 0)

	mode := c.cfg.Mode
	if mode == ModeHybrid {
		c.mu.Lock()
		if c.incremSince >= uint64(c.cfg.HybridFullEvery) || c.lastFullID == 0 {
			mode = ModeFull
		} else {
			mode = ModeIncremental
		}
		c.mu.Unlock()
	}
	if mode == ModeFull {
		return c.full(ctx)
	}
	return c.incremental(ctx)
}

// full runs spec §4.9's full checkpoint protocol.
func (c *Coordinator) full(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	c.cfg.Barrier.Close()
	defer c.cfg.Barrier.Open()

	holders := c.cfg.Registry.Ordered()
	type result struct {
		componentID string
		payload     []byte
	}
	results := make([]result, len(holders))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range holders {
		i, h := i, h
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			payload, err := h.Serialize()
			if err != nil {
				return fmt.Errorf("checkpoint: serialize %q: %w", h.ComponentID(), err)
			}
			results[i] = result{componentID: h.ComponentID(), payload: payload}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var segBuf []byte
	entries := make([]ComponentEntry, 0, len(results))
	for _, r := range results {
		offset := int64(len(segBuf))
		entries = append(entries, ComponentEntry{
			ComponentID: r.componentID,
			Offset:      offset,
			Length:      int64(len(r.payload)),
			Checksum:    xxhash.Sum64(r.payload),
		})
		segBuf = append(segBuf, r.payload...)
	}

	if err := c.cfg.Backend.Put(segmentKey(id, 0), segBuf); err != nil {
		return 0, fmt.Errorf("checkpoint: write segment: %w", err)
	}

	manifest := Manifest{CheckpointID: id, CreatedAtMs: time.Now().UnixMilli(), Components: entries}
	tmpKey := manifestKey(id) + ".tmp"
	if err := c.cfg.Backend.Put(tmpKey, encodeManifest(manifest)); err != nil {
		return 0, fmt.Errorf("checkpoint: stage manifest: %w", err)
	}
	// The rename is the commit point (spec §4.9 "Failure model"): a crash
	// before this line leaves the prior checkpoint authoritative.
	if err := c.cfg.Backend.AtomicRename(tmpKey, manifestKey(id)); err != nil {
		return 0, fmt.Errorf("checkpoint: commit manifest: %w", err)
	}

	if err := c.wal.Reset(); err != nil {
		return 0, fmt.Errorf("checkpoint: reset wal after full checkpoint: %w", err)
	}

	c.mu.Lock()
	c.lastFullID = id
	c.lastAnyID = id
	c.incremSince = 0
	c.mu.Unlock()
	return id, nil
}

// incremental runs spec §4.9's incremental checkpoint protocol: holders
// that support ChangelogSince append a delta; holders that return
// state.ErrNotSupported are snapshotted in full instead, both appended to
// the WAL rather than a fresh manifest.
func (c *Coordinator) incremental(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	if c.lastFullID == 0 {
		c.mu.Unlock()
		return c.full(ctx)
	}
	id := c.nextID
	c.nextID++
	baseline := c.lastAnyID
	c.mu.Unlock()

	holders := c.cfg.Registry.Ordered()
	for _, h := range holders {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		delta, err := h.ChangelogSince(baseline)
		if err == state.ErrNotSupported {
			payload, serr := h.Serialize()
			if serr != nil {
				return 0, fmt.Errorf("checkpoint: fallback snapshot %q: %w", h.ComponentID(), serr)
			}
			if werr := c.wal.Append(Record{CheckpointID: id, ComponentID: h.ComponentID(), OpCode: OpFullSnapshot, TimestampMs: time.Now().UnixMilli(), Payload: payload}); werr != nil {
				return 0, werr
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("checkpoint: changelog %q: %w", h.ComponentID(), err)
		}
		if werr := c.wal.Append(Record{CheckpointID: id, ComponentID: h.ComponentID(), OpCode: OpDelta, TimestampMs: time.Now().UnixMilli(), Payload: delta.Ops}); werr != nil {
			return 0, werr
		}
	}

	c.mu.Lock()
	c.lastAnyID = id
	c.incremSince++
	c.mu.Unlock()
	return id, nil
}

// Merge folds the WAL tail accumulated since the last full checkpoint into
// a fresh full checkpoint (spec §4.9 "Checkpoint Merger"), then resets the
// WAL. It is safe to call on a schedule independent of Checkpoint.
func (c *Coordinator) Merge(ctx context.Context) (uint64, error) {
	if !atomic.CompareAndSwapInt32(&c.inflight, 0, 1) {
		return 0, ErrCheckpointActive
	}
	defer atomic.StoreInt32(&c.inflight, 0)

	c.mu.Lock()
	baseID := c.lastFullID
	newID := c.nextID
	c.mu.Unlock()

	c.cfg.Barrier.Close()
	defer c.cfg.Barrier.Open()

	if err := c.merg.Merge(baseID, newID); err != nil {
		return 0, err
	}
	if err := c.wal.Reset(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.nextID++
	c.lastFullID = newID
	c.lastAnyID = newID
	c.incremSince = 0
	c.mu.Unlock()
	return newID, nil
}

// Recover implements spec §4.9's recovery protocol: load the newest
// checkpoint's manifest, replay the WAL tail, deserialize every holder in
// dependency order. replayIngress is invoked after holders are restored,
// while the barrier is still closed, so the caller can replay any events
// that arrived after the checkpoint cut (step 5) before Recover reopens it.
func (c *Coordinator) Recover(ctx context.Context, replayIngress func() error) error {
	c.cfg.Barrier.Close()
	defer c.cfg.Barrier.Open()

	manifest, err := c.loadLatestValidManifest()
	if err != nil {
		return err
	}

	segBuf, err := c.cfg.Backend.Get(segmentKey(manifest.CheckpointID, 0))
	if err != nil {
		return fmt.Errorf("checkpoint: read segment for checkpoint %d: %w", manifest.CheckpointID, err)
	}
	payloads := make(map[string][]byte, len(manifest.Components))
	for _, entry := range manifest.Components {
		if entry.Offset < 0 || entry.Offset+entry.Length > int64(len(segBuf)) {
			return &CorruptSegmentError{CheckpointID: manifest.CheckpointID, Cause: fmt.Errorf("component %q out of bounds", entry.ComponentID)}
		}
		payload := segBuf[entry.Offset : entry.Offset+entry.Length]
		if xxhash.Sum64(payload) != entry.Checksum {
			return &CorruptSegmentError{CheckpointID: manifest.CheckpointID, Cause: fmt.Errorf("component %q checksum mismatch", entry.ComponentID)}
		}
		payloads[entry.ComponentID] = payload
	}

	records, err := c.wal.ReadAll()
	if err != nil {
		return err
	}
	deltasByComponent := make(map[string][]Record)
	for _, rec := range records {
		if rec.CheckpointID <= manifest.CheckpointID {
			continue
		}
		deltasByComponent[rec.ComponentID] = append(deltasByComponent[rec.ComponentID], rec)
	}
	for comp, recs := range deltasByComponent {
		sort.Slice(recs, func(i, j int) bool { return recs[i].CheckpointID < recs[j].CheckpointID })
		deltasByComponent[comp] = recs
	}

	threads := c.cfg.RecoveryThreads
	if threads <= 0 {
		threads = 1
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for _, h := range c.cfg.Registry.Ordered() {
		h := h
		g.Go(func() error {
			id := h.ComponentID()
			if payload, ok := payloads[id]; ok {
				if err := h.Deserialize(payload); err != nil {
					return fmt.Errorf("checkpoint: deserialize %q: %w", id, err)
				}
			}
			for _, rec := range deltasByComponent[id] {
				switch rec.OpCode {
				case OpFullSnapshot:
					if err := h.Deserialize(rec.Payload); err != nil {
						return fmt.Errorf("checkpoint: replay wal snapshot %q: %w", id, err)
					}
				case OpDelta:
					if err := h.ApplyChangelog(state.Delta{FromCheckpointID: manifest.CheckpointID, ToCheckpointID: rec.CheckpointID, Ops: rec.Payload}); err != nil {
						return fmt.Errorf("checkpoint: replay wal delta %q: %w", id, err)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastFullID = manifest.CheckpointID
	c.lastAnyID = manifest.CheckpointID
	if len(records) > 0 {
		c.lastAnyID = records[len(records)-1].CheckpointID
	}
	c.nextID = c.lastAnyID + 1
	c.mu.Unlock()

	if replayIngress != nil {
		if err := replayIngress(); err != nil {
			return fmt.Errorf("checkpoint: replay ingress buffer: %w", err)
		}
	}
	return nil
}

// loadLatestValidManifest reads the manifest of the newest checkpoint id
// only. A manifest that fails to decode is reported as a
// CorruptSegmentError for that id; older checkpoints are not tried.
func (c *Coordinator) loadLatestValidManifest() (Manifest, error) {
	keys, err := c.cfg.Backend.List(checkpointsPrefix)
	if err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: list checkpoints: %w", err)
	}
	ids := make([]uint64, 0, len(keys))
	for _, k := range keys {
		if id, ok := checkpointIDFromManifestKey(k); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Manifest{}, ErrNoCheckpoint
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	data, err := c.cfg.Backend.Get(manifestKey(ids[0]))
	if err != nil {
		return Manifest{}, fmt.Errorf("checkpoint: read manifest %d: %w", ids[0], err)
	}
	manifest, err := decodeManifest(data)
	if err != nil {
		return Manifest{}, &CorruptSegmentError{CheckpointID: ids[0], Cause: err}
	}
	return manifest, nil
}

// LastCheckpointID reports the most recent checkpoint id assigned (full or
// incremental), or 0 if none has run yet.
func (c *Coordinator) LastCheckpointID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAnyID
}
