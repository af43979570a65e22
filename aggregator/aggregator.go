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

// Package aggregator implements the incremental aggregator framework of
// spec §4.6: add/remove semantics so a window-expired event can be
// subtracted without re-scanning the whole buffer, falling back to a full
// re-scan for aggregators where removal isn't incrementally expressible
// (distinctCount, exact stdDev).
//
// Grounded on the teacher's functions/functions_aggregation.go, generalized
// from float64-only values to model.AttributeValue: sum/avg/min/max accept
// any numeric value and report their result as a Double.
package aggregator

import (
	"math"
	"sort"
	"strconv"

	"github.com/flowcore/cep/model"
)

// Type enumerates the built-in aggregator kinds.
type Type string

const (
	Sum           Type = "sum"
	Count         Type = "count"
	Avg           Type = "avg"
	Min           Type = "min"
	Max           Type = "max"
	DistinctCount Type = "distinct_count"
	StdDev        Type = "stddev"
	First         Type = "first_value"
	Last          Type = "last_value"
)

// Aggregator is the incremental aggregator capability set of spec §4.6.
type Aggregator interface {
	Add(value model.AttributeValue)
	Remove(value model.AttributeValue)
	CurrentValue() model.AttributeValue
	Reset()
	// Incremental reports whether Remove is a true incremental subtraction
	// (O(1)) or whether the operator must fall back to a full re-scan
	// (Reset + replay of all still-buffered values) on expiration.
	Incremental() bool
	Clone() Aggregator
}

// New constructs a fresh aggregator instance for the given type.
func New(t Type) Aggregator {
	switch t {
	case Sum:
		return &sumAgg{}
	case Count:
		return &countAgg{}
	case Avg:
		return &avgAgg{}
	case Min:
		return &minMaxAgg{isMin: true}
	case Max:
		return &minMaxAgg{isMin: false}
	case DistinctCount:
		return &distinctCountAgg{counts: map[string]int{}}
	case StdDev:
		return &stdDevAgg{}
	case First:
		return &firstLastAgg{first: true}
	case Last:
		return &firstLastAgg{first: false}
	default:
		return &sumAgg{}
	}
}

func numeric(v model.AttributeValue) (float64, bool) {
	return v.AsFloat64()
}

// ---- sum ----

type sumAgg struct {
	sum  float64
	n    int
	kind model.Kind
}

func (a *sumAgg) Add(v model.AttributeValue) {
	if f, ok := numeric(v); ok {
		a.sum += f
		a.n++
		a.kind = v.Kind()
	}
}
func (a *sumAgg) Remove(v model.AttributeValue) {
	if f, ok := numeric(v); ok {
		a.sum -= f
		a.n--
	}
}
func (a *sumAgg) CurrentValue() model.AttributeValue {
	if a.n == 0 {
		return model.Null()
	}
	return model.Double(a.sum)
}
func (a *sumAgg) Reset()             { a.sum, a.n = 0, 0 }
func (a *sumAgg) Incremental() bool  { return true }
func (a *sumAgg) Clone() Aggregator  { c := *a; return &c }

// ---- count ----

type countAgg struct{ n int64 }

func (a *countAgg) Add(v model.AttributeValue) {
	if !v.IsNull() {
		a.n++
	}
}
func (a *countAgg) Remove(v model.AttributeValue) {
	if !v.IsNull() {
		a.n--
	}
}
func (a *countAgg) CurrentValue() model.AttributeValue { return model.Long(a.n) }
func (a *countAgg) Reset()                             { a.n = 0 }
func (a *countAgg) Incremental() bool                   { return true }
func (a *countAgg) Clone() Aggregator                   { c := *a; return &c }

// ---- avg ----

type avgAgg struct {
	sum float64
	n   int64
}

func (a *avgAgg) Add(v model.AttributeValue) {
	if f, ok := numeric(v); ok {
		a.sum += f
		a.n++
	}
}
func (a *avgAgg) Remove(v model.AttributeValue) {
	if f, ok := numeric(v); ok {
		a.sum -= f
		a.n--
	}
}
func (a *avgAgg) CurrentValue() model.AttributeValue {
	if a.n == 0 {
		return model.Null()
	}
	return model.Double(a.sum / float64(a.n))
}
func (a *avgAgg) Reset()            { a.sum, a.n = 0, 0 }
func (a *avgAgg) Incremental() bool { return true }
func (a *avgAgg) Clone() Aggregator { c := *a; return &c }

// ---- min / max ----
//
// Backed by a sorted multiset (insertion-sorted slice) rather than a single
// scalar, because Remove must be able to locate and discard exactly the
// value being expired even when duplicates are present — a plain running
// min/max cannot recover the second-best value once the current extreme is
// removed. Spec §4.6 calls this out explicitly ("min-heap–backed
// min/max"); a sorted slice gives the same O(log n) locate + O(n) shift
// behavior with less code for typical small-to-medium windows.
type minMaxAgg struct {
	isMin  bool
	values []float64 // kept sorted ascending
}

func (a *minMaxAgg) Add(v model.AttributeValue) {
	f, ok := numeric(v)
	if !ok {
		return
	}
	i := sort.SearchFloat64s(a.values, f)
	a.values = append(a.values, 0)
	copy(a.values[i+1:], a.values[i:])
	a.values[i] = f
}

func (a *minMaxAgg) Remove(v model.AttributeValue) {
	f, ok := numeric(v)
	if !ok {
		return
	}
	i := sort.SearchFloat64s(a.values, f)
	if i < len(a.values) && a.values[i] == f {
		a.values = append(a.values[:i], a.values[i+1:]...)
	}
}

func (a *minMaxAgg) CurrentValue() model.AttributeValue {
	if len(a.values) == 0 {
		return model.Null()
	}
	if a.isMin {
		return model.Double(a.values[0])
	}
	return model.Double(a.values[len(a.values)-1])
}
func (a *minMaxAgg) Reset()            { a.values = a.values[:0] }
func (a *minMaxAgg) Incremental() bool { return true }
func (a *minMaxAgg) Clone() Aggregator {
	c := &minMaxAgg{isMin: a.isMin, values: make([]float64, len(a.values))}
	copy(c.values, a.values)
	return c
}

// ---- distinctCount ----
//
// Remove decrements a per-value count and drops the value only when its
// count reaches zero, so a value still present elsewhere in the window
// stays counted. The aggregator nonetheless reports Incremental()==false.
type distinctCountAgg struct {
	counts map[string]int
}

func (a *distinctCountAgg) Add(v model.AttributeValue) {
	if v.IsNull() {
		return
	}
	a.counts[keyOf(v)]++
}
func (a *distinctCountAgg) Remove(v model.AttributeValue) {
	k := keyOf(v)
	if a.counts[k] > 0 {
		a.counts[k]--
		if a.counts[k] == 0 {
			delete(a.counts, k)
		}
	}
}
func (a *distinctCountAgg) CurrentValue() model.AttributeValue {
	return model.Long(int64(len(a.counts)))
}
func (a *distinctCountAgg) Reset()            { a.counts = map[string]int{} }
func (a *distinctCountAgg) Incremental() bool { return false }
func (a *distinctCountAgg) Clone() Aggregator {
	c := &distinctCountAgg{counts: make(map[string]int, len(a.counts))}
	for k, v := range a.counts {
		c.counts[k] = v
	}
	return c
}

func keyOf(v model.AttributeValue) string {
	switch v.Kind() {
	case model.KindString:
		return "s:" + v.StringVal()
	default:
		f, _ := v.AsFloat64()
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// ---- stdDev (population) ----
//
// Exact stdDev removal is non-incremental for the same reason distinctCount
// is: Welford's online algorithm supports add-only updates cleanly, but an
// exact remove requires either a second moment tracked with enough
// precision to avoid catastrophic cancellation, or a re-scan. Spec §4.6
// explicitly names stdDev as an example of a non-incremental aggregator,
// so this implementation takes the re-scan path the spec prescribes.
type stdDevAgg struct {
	values []float64
}

func (a *stdDevAgg) Add(v model.AttributeValue) {
	if f, ok := numeric(v); ok {
		a.values = append(a.values, f)
	}
}
func (a *stdDevAgg) Remove(model.AttributeValue) {
	// Incremental()==false: callers must Reset + replay instead.
}
func (a *stdDevAgg) CurrentValue() model.AttributeValue {
	n := len(a.values)
	if n == 0 {
		return model.Null()
	}
	mean := 0.0
	for _, v := range a.values {
		mean += v
	}
	mean /= float64(n)
	variance := 0.0
	for _, v := range a.values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	return model.Double(math.Sqrt(variance))
}
func (a *stdDevAgg) Reset()            { a.values = a.values[:0] }
func (a *stdDevAgg) Incremental() bool { return false }
func (a *stdDevAgg) Clone() Aggregator {
	c := &stdDevAgg{values: make([]float64, len(a.values))}
	copy(c.values, a.values)
	return c
}

// ---- first/last ----

type firstLastAgg struct {
	first bool
	has   bool
	value model.AttributeValue
}

func (a *firstLastAgg) Add(v model.AttributeValue) {
	if a.first && a.has {
		return
	}
	a.value = v
	a.has = true
}
func (a *firstLastAgg) Remove(model.AttributeValue) {
	// Non-incremental: identity of "first"/"last" depends on window order,
	// so removal always falls back to a re-scan (Incremental()==false).
}
func (a *firstLastAgg) CurrentValue() model.AttributeValue {
	if !a.has {
		return model.Null()
	}
	return a.value
}
func (a *firstLastAgg) Reset()            { a.has = false }
func (a *firstLastAgg) Incremental() bool { return false }
func (a *firstLastAgg) Clone() Aggregator { c := *a; return &c }
