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

// Package model defines the event and value types shared by every component
// of the pipeline: the tagged AttributeValue union, the immutable Event a
// producer hands to an InputHandler, the pool-allocated StreamEvent that
// flows through processor chains, and the composite StateEvent used by
// joins and patterns.
package model

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// Kind tags the variant held by an AttributeValue.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// TypeError is returned when an expression or coercion encounters an
// incompatible AttributeValue pairing.
type TypeError struct {
	Op    string
	Left  Kind
	Right Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error: %s not defined for %s and %s", e.Op, e.Left, e.Right)
}

// AttributeValue is the tagged union every event attribute is stored as.
// The zero value is Null.
type AttributeValue struct {
	kind   Kind
	b      bool
	i      int64 // holds both Int (i32 range) and Long
	f      float64
	s      string
	object any
}

func Null() AttributeValue                { return AttributeValue{kind: KindNull} }
func Bool(v bool) AttributeValue          { return AttributeValue{kind: KindBool, b: v} }
func Int(v int32) AttributeValue          { return AttributeValue{kind: KindInt, i: int64(v)} }
func Long(v int64) AttributeValue         { return AttributeValue{kind: KindLong, i: v} }
func Float(v float32) AttributeValue      { return AttributeValue{kind: KindFloat, f: float64(v)} }
func Double(v float64) AttributeValue     { return AttributeValue{kind: KindDouble, f: v} }
func String(v string) AttributeValue      { return AttributeValue{kind: KindString, s: v} }
func Object(v any) AttributeValue         { return AttributeValue{kind: KindObject, object: v} }

func (v AttributeValue) Kind() Kind    { return v.kind }
func (v AttributeValue) IsNull() bool  { return v.kind == KindNull }
func (v AttributeValue) BoolVal() bool { return v.b }
func (v AttributeValue) StringVal() string {
	return v.s
}
func (v AttributeValue) ObjectVal() any { return v.object }

// IntVal returns the value narrowed to int32 (Int variant).
func (v AttributeValue) IntVal() int32 { return int32(v.i) }

// LongVal returns the value as int64 (Long variant, or any integer-kinded value).
func (v AttributeValue) LongVal() int64 { return v.i }

// FloatVal returns the value as float32 (Float variant).
func (v AttributeValue) FloatVal() float32 { return float32(v.f) }

// DoubleVal returns the value as float64 (Double variant, or any float-kinded value).
func (v AttributeValue) DoubleVal() float64 { return v.f }

func (v AttributeValue) isNumeric() bool {
	switch v.kind {
	case KindInt, KindLong, KindFloat, KindDouble:
		return true
	default:
		return false
	}
}

// AsFloat64 widens any numeric variant to float64. It is the common
// denominator used by comparison and arithmetic after numeric promotion.
func (v AttributeValue) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindInt, KindLong:
		return float64(v.i), true
	case KindFloat, KindDouble:
		return v.f, true
	default:
		return 0, false
	}
}

// promote returns the widest Kind of the pair per the widening lattice:
// Int < Long < Float < Double. Non-numeric kinds have no promotion.
func promote(a, b Kind) (Kind, bool) {
	rank := func(k Kind) int {
		switch k {
		case KindInt:
			return 0
		case KindLong:
			return 1
		case KindFloat:
			return 2
		case KindDouble:
			return 3
		default:
			return -1
		}
	}
	ra, rb := rank(a), rank(b)
	if ra < 0 || rb < 0 {
		return 0, false
	}
	if ra >= rb {
		return a, true
	}
	return b, true
}

// Add, Sub, Mul performs widening numeric arithmetic, matching the spec's
// "widening numeric promotions are allowed; all other cross-type arithmetic
// fails with TypeError" rule. Div (below) keeps the promoted kind: integer
// division by zero is an error, float division yields NaN/Inf per IEEE 754.
func Add(a, b AttributeValue) (AttributeValue, error) { return arith("+", a, b) }
func Sub(a, b AttributeValue) (AttributeValue, error) { return arith("-", a, b) }
func Mul(a, b AttributeValue) (AttributeValue, error) { return arith("*", a, b) }

// Div follows spec §4.7: integer division by zero is a runtime error; float
// division by zero yields NaN/Inf per IEEE 754.
func Div(a, b AttributeValue) (AttributeValue, error) {
	if !a.isNumeric() || !b.isNumeric() {
		return Null(), &TypeError{Op: "/", Left: a.kind, Right: b.kind}
	}
	kind, ok := promote(a.kind, b.kind)
	if !ok {
		return Null(), &TypeError{Op: "/", Left: a.kind, Right: b.kind}
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	if kind == KindInt || kind == KindLong {
		if bf == 0 {
			return Null(), fmt.Errorf("integer division by zero")
		}
		if kind == KindInt {
			return Int(int32(af) / int32(bf)), nil
		}
		return Long(int64(af) / int64(bf)), nil
	}
	result := af / bf // NaN or +/-Inf for bf == 0, per IEEE 754
	if kind == KindFloat {
		return Float(float32(result)), nil
	}
	return Double(result), nil
}

func arith(op string, a, b AttributeValue) (AttributeValue, error) {
	if !a.isNumeric() || !b.isNumeric() {
		return Null(), &TypeError{Op: op, Left: a.kind, Right: b.kind}
	}
	kind, ok := promote(a.kind, b.kind)
	if !ok {
		return Null(), &TypeError{Op: op, Left: a.kind, Right: b.kind}
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	var result float64
	switch op {
	case "+":
		result = af + bf
	case "-":
		result = af - bf
	case "*":
		result = af * bf
	}
	switch kind {
	case KindInt:
		return Int(int32(result)), nil
	case KindLong:
		return Long(int64(result)), nil
	case KindFloat:
		return Float(float32(result)), nil
	default:
		return Double(result), nil
	}
}

// Compare implements numeric promotion plus lexicographic string compare,
// per spec §4.7. Returns -1/0/1, or an error for incomparable kinds.
func Compare(a, b AttributeValue) (int, error) {
	if a.kind == KindString && b.kind == KindString {
		switch {
		case a.s < b.s:
			return -1, nil
		case a.s > b.s:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.isNumeric() && b.isNumeric() {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		switch {
		case math.IsNaN(af) || math.IsNaN(bf):
			return 0, fmt.Errorf("NaN is not ordered")
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if a.kind == KindBool && b.kind == KindBool {
		if a.b == b.b {
			return 0, nil
		}
		if !a.b {
			return -1, nil
		}
		return 1, nil
	}
	return 0, &TypeError{Op: "compare", Left: a.kind, Right: b.kind}
}

// CoerceTo widens v to the target Kind using spf13/cast for the underlying
// scalar conversions, enforcing the same widening-only lattice as arith: a
// Double cannot be narrowed to an Int implicitly.
func CoerceTo(v AttributeValue, target Kind) (AttributeValue, error) {
	if v.kind == target {
		return v, nil
	}
	if v.kind == KindNull {
		return Null(), nil
	}
	widen, ok := promote(v.kind, target)
	if !ok || widen != target {
		return Null(), &TypeError{Op: "coerce", Left: v.kind, Right: target}
	}
	switch target {
	case KindLong:
		n, err := cast.ToInt64E(v.i)
		if err != nil {
			return Null(), err
		}
		return Long(n), nil
	case KindFloat:
		f, err := cast.ToFloat32E(mustFloat(v))
		if err != nil {
			return Null(), err
		}
		return Float(f), nil
	case KindDouble:
		f, err := cast.ToFloat64E(mustFloat(v))
		if err != nil {
			return Null(), err
		}
		return Double(f), nil
	default:
		return Null(), &TypeError{Op: "coerce", Left: v.kind, Right: target}
	}
}

func mustFloat(v AttributeValue) float64 {
	f, _ := v.AsFloat64()
	return f
}

// Native converts an AttributeValue to a plain Go value, for callback
// boundaries and JSON serialization of snapshots.
func (v AttributeValue) Native() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return int32(v.i)
	case KindLong:
		return v.i
	case KindFloat:
		return float32(v.f)
	case KindDouble:
		return v.f
	case KindString:
		return v.s
	default:
		return v.object
	}
}

// FromNative builds an AttributeValue tagged union from a plain Go value,
// the reverse of Native, used when an InputAdapter hands the engine a
// decoded Event.
func FromNative(v any) AttributeValue {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int32:
		return Int(t)
	case int:
		return Long(int64(t))
	case int64:
		return Long(t)
	case float32:
		return Float(t)
	case float64:
		return Double(t)
	case string:
		return String(t)
	default:
		return Object(t)
	}
}
