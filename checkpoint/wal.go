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
	"bytes"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/flowcore/cep/persistence"
)

// OpCode distinguishes a true incremental delta from a full snapshot
// recorded in the WAL because a holder returned state.ErrNotSupported
// from ChangelogSince (spec §4.9 incremental step 2).
type OpCode uint8

const (
	OpDelta OpCode = iota
	OpFullSnapshot
)

// Record is one WAL entry (spec §6.4: "{length(u32), checkpoint_id(u64),
// component_id(string), op_code(u8), payload(...)}, terminated by
// per-record CRC"). TimestampMs rides inside the payload framing (not part
// of the literal wire shape in spec.md) purely so the Merger's
// TimestampPriority policy has something to compare without inspecting
// opaque holder-defined payload bytes.
type Record struct {
	CheckpointID uint64
	ComponentID  string
	OpCode       OpCode
	TimestampMs  int64
	Payload      []byte
}

func encodeRecord(rec Record) []byte {
	var body bytes.Buffer
	writeUint64(&body, rec.CheckpointID)
	writeString(&body, rec.ComponentID)
	body.WriteByte(byte(rec.OpCode))
	writeInt64(&body, rec.TimestampMs)
	writeUint32(&body, uint32(len(rec.Payload)))
	body.Write(rec.Payload)

	var out bytes.Buffer
	writeUint32(&out, uint32(body.Len()))
	out.Write(body.Bytes())
	writeUint32(&out, crc32.ChecksumIEEE(body.Bytes()))
	return out.Bytes()
}

// decodeRecords parses every complete record out of a segment buffer. A
// truncated trailing record (a crash mid-append) is silently ignored
// rather than treated as corruption, since it can only be the last,
// not-yet-flushed entry; a checksum mismatch on a complete record is
// reported as ErrCorruptSegment.
func decodeRecords(buf []byte) ([]Record, error) {
	var out []Record
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		length, err := readUint32(r)
		if err != nil {
			break
		}
		if r.Len() < int(length)+4 {
			break
		}
		body := make([]byte, length)
		if _, err := r.Read(body); err != nil {
			break
		}
		wantCRC, err := readUint32(r)
		if err != nil {
			break
		}
		if crc32.ChecksumIEEE(body) != wantCRC {
			return out, ErrCorruptSegment
		}
		br := bytes.NewReader(body)
		var rec Record
		rec.CheckpointID, err = readUint64(br)
		if err != nil {
			return out, fmt.Errorf("checkpoint: decode record: %w", ErrCorruptSegment)
		}
		rec.ComponentID, err = readString(br)
		if err != nil {
			return out, fmt.Errorf("checkpoint: decode record: %w", ErrCorruptSegment)
		}
		op, err := br.ReadByte()
		if err != nil {
			return out, fmt.Errorf("checkpoint: decode record: %w", ErrCorruptSegment)
		}
		rec.OpCode = OpCode(op)
		rec.TimestampMs, err = readInt64(br)
		if err != nil {
			return out, fmt.Errorf("checkpoint: decode record: %w", ErrCorruptSegment)
		}
		plen, err := readUint32(br)
		if err != nil {
			return out, fmt.Errorf("checkpoint: decode record: %w", ErrCorruptSegment)
		}
		payload := make([]byte, plen)
		if _, err := br.Read(payload); err != nil && plen > 0 {
			return out, fmt.Errorf("checkpoint: decode record: %w", ErrCorruptSegment)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, nil
}

// WAL is the segmented write-ahead log of spec §4.9 incremental step 3:
// new segment when the current one exceeds a byte threshold, each segment
// self-contained, older segments garbage-collected per retention.
type WAL struct {
	mu                sync.Mutex
	backend           persistence.Backend
	segmentBytes      int
	retentionSegments int
	curSegment        int
	curBuf            []byte
}

const walPrefix = "wal/segment-"

// NewWAL opens a WAL over backend. segmentBytes <= 0 defaults to 4MiB;
// retentionSegments <= 0 means unbounded retention.
func NewWAL(backend persistence.Backend, segmentBytes, retentionSegments int) (*WAL, error) {
	if segmentBytes <= 0 {
		segmentBytes = 4 << 20
	}
	w := &WAL{
		backend:           backend,
		segmentBytes:      segmentBytes,
		retentionSegments: retentionSegments,
	}
	keys, err := backend.List(walPrefix)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list wal segments: %w", err)
	}
	last := -1
	for _, k := range keys {
		n, ok := segmentNumber(k)
		if ok && n > last {
			last = n
		}
	}
	if last >= 0 {
		w.curSegment = last
		buf, err := backend.Get(w.segmentKey(last))
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read wal segment %d: %w", last, err)
		}
		w.curBuf = buf
	}
	return w, nil
}

func (w *WAL) segmentKey(n int) string {
	return walPrefix + strconv.Itoa(n)
}

func segmentNumber(key string) (int, bool) {
	rest := strings.TrimPrefix(key, walPrefix)
	if rest == key {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Append writes rec to the current segment, rotating (and garbage
// collecting stale segments) first if the segment would exceed the
// configured byte threshold.
func (w *WAL) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	encoded := encodeRecord(rec)
	if len(w.curBuf) > 0 && len(w.curBuf)+len(encoded) > w.segmentBytes {
		w.curSegment++
		w.curBuf = nil
		w.gcLocked()
	}
	w.curBuf = append(w.curBuf, encoded...)
	return w.backend.Put(w.segmentKey(w.curSegment), w.curBuf)
}

func (w *WAL) gcLocked() {
	if w.retentionSegments <= 0 {
		return
	}
	oldest := w.curSegment - w.retentionSegments
	for n := 0; n < oldest; n++ {
		_ = w.backend.Delete(w.segmentKey(n))
	}
}

// Reset truncates the WAL after a checkpoint has absorbed everything it
// contains, used once a merge (spec §4.9 "Checkpoint Merger") has folded
// the tail into a fresh full checkpoint.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys, err := w.backend.List(walPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := w.backend.Delete(k); err != nil {
			return err
		}
	}
	w.curSegment = 0
	w.curBuf = nil
	return nil
}

// ReadAll decodes every record across every segment, in segment and
// in-segment order, stopping (and surfacing ErrCorruptSegment) at the
// first corrupt record rather than silently skipping past it (spec §4.9
// "Failure model": "refuse to recover past that point").
func (w *WAL) ReadAll() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys, err := w.backend.List(walPrefix)
	if err != nil {
		return nil, err
	}
	nums := make([]int, 0, len(keys))
	byNum := make(map[int]string, len(keys))
	for _, k := range keys {
		if n, ok := segmentNumber(k); ok {
			nums = append(nums, n)
			byNum[n] = k
		}
	}
	sort.Ints(nums)

	var out []Record
	for _, n := range nums {
		buf, err := w.backend.Get(byNum[n])
		if err != nil {
			return out, fmt.Errorf("checkpoint: read wal segment %d: %w", n, err)
		}
		recs, err := decodeRecords(buf)
		if err != nil {
			return out, &CorruptSegmentError{CheckpointID: 0, Cause: err}
		}
		out = append(out, recs...)
	}
	return out, nil
}
