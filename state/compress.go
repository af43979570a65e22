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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// envelopeMagic tags a serialized snapshot so a reader can distinguish it
// from raw JSON produced by an older, pre-compression build (spec §4.8
// "Integrity": "every serialized snapshot carries a version header and a
// checksum").
var envelopeMagic = [4]byte{'F', 'C', 'S', '1'}

const (
	algoNone byte = iota
	algoLZ4
	algoSnappy
	algoZstd
)

func algoCode(a Algo) byte {
	switch a {
	case AlgoLZ4:
		return algoLZ4
	case AlgoSnappy:
		return algoSnappy
	case AlgoZstd:
		return algoZstd
	default:
		return algoNone
	}
}

func algoFromCode(c byte) Algo {
	switch c {
	case algoLZ4:
		return AlgoLZ4
	case algoSnappy:
		return AlgoSnappy
	case algoZstd:
		return AlgoZstd
	default:
		return AlgoNone
	}
}

// chooseAdaptive implements spec §4.8's "engine selects adaptively based on
// data size and access pattern when no hint is given": small payloads skip
// compression entirely (the framing overhead would dominate), warm/cold
// large payloads prefer zstd's better ratio, hot large payloads prefer
// snappy/lz4's lower latency.
func chooseAdaptive(size int, ap AccessPattern) Algo {
	const smallThreshold = 256
	if size < smallThreshold {
		return AlgoNone
	}
	if ap == Hot {
		return AlgoSnappy
	}
	return AlgoZstd
}

func compress(algo Algo, raw []byte) ([]byte, error) {
	switch algo {
	case AlgoNone, "":
		return raw, nil
	case AlgoSnappy:
		return snappy.Encode(nil, raw), nil
	case AlgoLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case AlgoZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("state: unknown compression algorithm %q", algo)
	}
}

func decompress(algo Algo, data []byte) ([]byte, error) {
	switch algo {
	case AlgoNone, "":
		return data, nil
	case AlgoSnappy:
		return snappy.Decode(nil, data)
	case AlgoLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return out, nil
	case AlgoZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("state: unknown compression algorithm %q", algo)
	}
}

// encodeEnvelope produces the on-disk/on-wire snapshot format: magic,
// component header (id, schema version, algo, payload length) and a
// 64-bit xxHash checksum of the compressed payload (spec §4.8, §6.4).
func encodeEnvelope(componentID, schemaVersion string, algo Algo, raw []byte) ([]byte, error) {
	payload, err := compress(algo, raw)
	if err != nil {
		return nil, fmt.Errorf("state: compress: %w", err)
	}
	checksum := xxhash.Sum64(payload)

	var buf bytes.Buffer
	buf.Write(envelopeMagic[:])
	writeString(&buf, componentID)
	writeString(&buf, schemaVersion)
	buf.WriteByte(algoCode(algo))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	var sumBuf [8]byte
	binary.LittleEndian.PutUint64(sumBuf[:], checksum)
	buf.Write(sumBuf[:])
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodedEnvelope is the parsed, still-compressed form returned by
// decodeEnvelope, useful to callers (e.g. changelog merging) that
// want the metadata without paying for decompression.
type decodedEnvelope struct {
	ComponentID   string
	SchemaVersion string
	Algo          Algo
	Payload       []byte // still compressed
}

func decodeEnvelope(data []byte) (decodedEnvelope, []byte, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return decodedEnvelope{}, nil, fmt.Errorf("state: truncated envelope: %w", err)
	}
	if magic != envelopeMagic {
		return decodedEnvelope{}, nil, fmt.Errorf("state: bad envelope magic %x", magic)
	}
	componentID, err := readString(r)
	if err != nil {
		return decodedEnvelope{}, nil, err
	}
	schemaVersion, err := readString(r)
	if err != nil {
		return decodedEnvelope{}, nil, err
	}
	var algoB [1]byte
	if _, err := io.ReadFull(r, algoB[:]); err != nil {
		return decodedEnvelope{}, nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return decodedEnvelope{}, nil, err
	}
	payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
	var sumBuf [8]byte
	if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
		return decodedEnvelope{}, nil, err
	}
	wantSum := binary.LittleEndian.Uint64(sumBuf[:])
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return decodedEnvelope{}, nil, fmt.Errorf("state: truncated payload: %w", err)
	}
	if gotSum := xxhash.Sum64(payload); gotSum != wantSum {
		return decodedEnvelope{}, nil, fmt.Errorf("state: checksum mismatch for component %q: corrupt snapshot", componentID)
	}
	env := decodedEnvelope{
		ComponentID:   componentID,
		SchemaVersion: schemaVersion,
		Algo:          algoFromCode(algoB[0]),
	}
	return env, payload, nil
}

// decodeEnvelopeFull decodes and decompresses the payload in one step.
func decodeEnvelopeFull(data []byte) (decodedEnvelope, []byte, error) {
	env, compressed, err := decodeEnvelope(data)
	if err != nil {
		return decodedEnvelope{}, nil, err
	}
	raw, err := decompress(env.Algo, compressed)
	if err != nil {
		return decodedEnvelope{}, nil, fmt.Errorf("state: decompress component %q: %w", env.ComponentID, err)
	}
	env.Payload = compressed
	return env, raw, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
