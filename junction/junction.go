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

// Package junction implements the event pipeline of spec §4.1: a named,
// typed event router with one logical input and N subscriber chains,
// supporting synchronous (inline, strict-FIFO) and asynchronous
// (ring-buffered, per-subscriber-FIFO) publish modes.
//
// The asynchronous mode's bounded ring is a buffered Go channel drained
// by select/default, generalizing the teacher's Stream.AddSink fan-out
// (a single sink) to N independently-paced subscriber chains with an
// explicit backpressure policy (Block/Drop/ExponentialBackoff).
package junction

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowcore/cep/logger"
	"github.com/flowcore/cep/model"
)

// Subscriber is anything a Junction can fan events out to: in practice a
// *processor.ProcessorChain, kept as an interface here to avoid an import
// cycle between junction and processor.
type Subscriber interface {
	// Process consumes one chunk. A panic inside Process is recovered by
	// the junction at the call site (spec §4.1 "Failure mode").
	Process(chunk *model.EventChunk) error
}

// Mode selects synchronous or asynchronous publish (spec §4.1, §6.5).
type Mode uint8

const (
	// Sync is the engine-wide default: publish executes every subscriber
	// chain inline and returns only once all have processed, giving
	// strict FIFO across all subscribers (spec Open Question #1: pinned
	// to synchronous-by-default, toggled explicitly via Mode/config).
	Sync Mode = iota
	Async
)

// Config configures one Junction (spec §6.5 per-junction options).
type Config struct {
	Mode        Mode
	BufferSize  int
	Workers     int
	Backpressure Policy
	PoolCapacity int
	// FaultStreamId is stored with the Config; the junction does not read
	// it and does not route failed chunks to any stream.
	FaultStreamId string
}

// DefaultConfig returns a synchronous junction configuration.
func DefaultConfig() Config {
	return Config{
		Mode:         Sync,
		BufferSize:   1024,
		Workers:      1,
		Backpressure: DefaultPolicy(),
		PoolCapacity: 2048,
	}
}

// Junction is a named event router with one logical input stream and N
// subscriber chains (spec §4.1).
type Junction struct {
	Name   string
	Pool   *model.Pool
	config Config
	log    *logger.Logger

	subMu       sync.RWMutex
	subscribers []Subscriber

	// async state
	ring      chan *model.EventChunk
	workersWG sync.WaitGroup
	stopCh    chan struct{}
	started   int32

	faultCount  int64
	onFault     func(chunk *model.EventChunk, err error)
}

// New creates a Junction. name is the stream id it routes events for.
func New(name string, cfg Config, log *logger.Logger) *Junction {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = cfg.BufferSize * 2
	}
	if log == nil {
		log = logger.Default()
	}
	return &Junction{
		Name:   name,
		Pool:   model.NewPool(cfg.PoolCapacity),
		config: cfg,
		log:    log.With(name),
		ring:   make(chan *model.EventChunk, cfg.BufferSize),
		stopCh: make(chan struct{}),
	}
}

// OnFault registers a callback invoked whenever a subscriber panics or
// returns an error, alongside the internal fault counter (spec §4.1
// "Failure mode").
func (j *Junction) OnFault(fn func(chunk *model.EventChunk, err error)) {
	j.onFault = fn
}

// FaultCount returns the number of subscriber panics and subscriber errors
// observed so far.
func (j *Junction) FaultCount() int64 {
	return atomic.LoadInt64(&j.faultCount)
}

// Subscribe adds a subscriber chain. Safe before Start and during runtime.
func (j *Junction) Subscribe(s Subscriber) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	j.subscribers = append(j.subscribers, s)
}

// Unsubscribe removes a subscriber chain.
func (j *Junction) Unsubscribe(s Subscriber) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	for i, sub := range j.subscribers {
		if sub == s {
			j.subscribers = append(j.subscribers[:i], j.subscribers[i+1:]...)
			return
		}
	}
}

func (j *Junction) snapshotSubscribers() []Subscriber {
	j.subMu.RLock()
	defer j.subMu.RUnlock()
	out := make([]Subscriber, len(j.subscribers))
	copy(out, j.subscribers)
	return out
}

// Start spawns the asynchronous consumer workers; a no-op in sync mode.
func (j *Junction) Start() {
	if j.config.Mode != Async {
		return
	}
	if !atomic.CompareAndSwapInt32(&j.started, 0, 1) {
		return
	}
	workers := j.config.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		j.workersWG.Add(1)
		go j.consumeLoop()
	}
}

// Stop joins the asynchronous consumer workers. A no-op in sync mode.
func (j *Junction) Stop() {
	if j.config.Mode != Async || atomic.LoadInt32(&j.started) == 0 {
		return
	}
	close(j.stopCh)
	j.workersWG.Wait()
}

func (j *Junction) consumeLoop() {
	defer j.workersWG.Done()
	for {
		select {
		case chunk := <-j.ring:
			j.fanOut(chunk)
		case <-j.stopCh:
			// drain remaining buffered chunks before exiting
			for {
				select {
				case chunk := <-j.ring:
					j.fanOut(chunk)
				default:
					return
				}
			}
		}
	}
}

// Publish inserts a chunk into the junction (spec §4.1 "publish").
func (j *Junction) Publish(chunk *model.EventChunk) error {
	if j.config.Mode == Sync {
		j.fanOut(chunk)
		return nil
	}
	return j.publishAsync(chunk)
}

func (j *Junction) publishAsync(chunk *model.EventChunk) error {
	select {
	case j.ring <- chunk:
		return nil
	default:
	}
	switch j.config.Backpressure.Kind {
	case Block:
		j.ring <- chunk
		return nil
	case Drop:
		if j.config.Backpressure.DropSide == DropNewest {
			j.log.Warn("junction %s: ring full, dropping newest chunk", j.Name)
			return nil
		}
		// drop oldest: pop one from the ring to make room, then enqueue.
		select {
		case <-j.ring:
		default:
		}
		select {
		case j.ring <- chunk:
		default:
			j.log.Warn("junction %s: ring full, dropping chunk after oldest eviction", j.Name)
		}
		return nil
	case ExponentialBackoff:
		return j.publishWithBackoff(chunk)
	default:
		j.ring <- chunk
		return nil
	}
}

func (j *Junction) publishWithBackoff(chunk *model.EventChunk) error {
	p := j.config.Backpressure
	delay := p.Initial
	if delay <= 0 {
		delay = time.Millisecond
	}
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case j.ring <- chunk:
			return nil
		default:
		}
		time.Sleep(delay)
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	select {
	case j.ring <- chunk:
		return nil
	default:
		return fmt.Errorf("%w: junction %s", ErrBackpressureExceeded, j.Name)
	}
}

// fanOut hands each subscriber an independent chunk drawn from the pool
// (spec §4.1 "Fan-out and cloning"), recovering subscriber panics so one
// failing chain never poisons the junction (spec §4.1 "Failure mode").
func (j *Junction) fanOut(chunk *model.EventChunk) {
	subs := j.snapshotSubscribers()
	if len(subs) == 0 {
		return
	}
	for i, sub := range subs {
		var toSend *model.EventChunk
		if i == len(subs)-1 {
			toSend = chunk
		} else {
			toSend = chunk.Clone()
		}
		j.deliver(sub, toSend)
	}
}

func (j *Junction) deliver(sub Subscriber, chunk *model.EventChunk) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&j.faultCount, 1)
			err := fmt.Errorf("junction %s: subscriber panic: %v", j.Name, r)
			j.log.Error(err.Error())
			if j.onFault != nil {
				j.onFault(chunk, err)
			}
		}
	}()
	if err := sub.Process(chunk); err != nil {
		atomic.AddInt64(&j.faultCount, 1)
		j.log.Error("junction %s: subscriber error: %v", j.Name, err)
		if j.onFault != nil {
			j.onFault(chunk, err)
		}
	}
}
