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

package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/aggregator"
	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
)

func mustCompile(t *testing.T, src string) *exprcore.Program {
	t.Helper()
	p, err := exprcore.Compile(src)
	require.NoError(t, err)
	return p
}

func TestSelectAggregatesWithoutGroupBy(t *testing.T) {
	s := NewSelect(testSchema(), []OutputField{
		{Name: "total", Expr: mustCompile(t, "price * qty"), Agg: aggregator.Sum},
		{Name: "n", Agg: aggregator.Count},
	})

	in := model.NewChunk(row(10, 2), row(5, 1))
	out, err := s.Process(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len)
	assert.Equal(t, 25.0, out.Head.OutputData[0].DoubleVal())
	assert.Equal(t, int64(2), out.Head.OutputData[1].LongVal())
}

func TestSelectGroupsByKeyExpression(t *testing.T) {
	s := &Select{
		Schema:  testSchema(),
		GroupBy: []*exprcore.Program{mustCompile(t, "qty")},
		Fields: []OutputField{
			{Name: "qty", Expr: mustCompile(t, "qty")},
			{Name: "total", Expr: mustCompile(t, "price"), Agg: aggregator.Sum},
		},
	}

	in := model.NewChunk(row(10, 1), row(4, 2), row(6, 1))
	out, err := s.Process(in)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len)
}

func TestSelectHavingFiltersAggregatedGroups(t *testing.T) {
	s := &Select{
		Schema:  testSchema(),
		GroupBy: []*exprcore.Program{mustCompile(t, "qty")},
		Fields: []OutputField{
			{Name: "qty", Expr: mustCompile(t, "qty")},
			{Name: "total", Expr: mustCompile(t, "price"), Agg: aggregator.Sum},
		},
		Having: mustCompile(t, "total > 5"),
	}

	in := model.NewChunk(row(10, 1), row(4, 2))
	out, err := s.Process(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len)
	assert.Equal(t, int32(1), out.Head.OutputData[0].Native())
}

func TestSelectAccumulatesAcrossCallsLikeASlidingWindow(t *testing.T) {
	// Mirrors spec Scenario B: window(length=3) select sum(v), fed one
	// Current event (plus, once the window is full, its Expired) per call
	// the way processor.Window's Process forwards a sliding window's
	// per-event delta rather than the whole buffer.
	s := NewSelect(testSchema(), []OutputField{
		{Name: "s", Expr: mustCompile(t, "price"), Agg: aggregator.Sum},
	})

	emit := func(e *model.StreamEvent) float64 {
		out, err := s.Process(model.NewChunk(e))
		require.NoError(t, err)
		require.Equal(t, 1, out.Len)
		return out.Head.OutputData[0].DoubleVal()
	}

	e1, e2, e3, e4 := row(10, 0), row(20, 0), row(30, 0), row(40, 0)
	assert.Equal(t, 10.0, emit(e1))
	assert.Equal(t, 30.0, emit(e2))
	assert.Equal(t, 60.0, emit(e3))

	expired1 := e1.Clone()
	expired1.Type = model.Expired
	out, err := s.Process(model.NewChunk(e4, expired1))
	require.NoError(t, err)
	require.Equal(t, 1, out.Len)
	assert.Equal(t, 90.0, out.Head.OutputData[0].DoubleVal())
}

func TestSelectDestroysEmptyGroup(t *testing.T) {
	s := &Select{
		Schema:  testSchema(),
		GroupBy: []*exprcore.Program{mustCompile(t, "qty")},
		Fields: []OutputField{
			{Name: "qty", Expr: mustCompile(t, "qty")},
			{Name: "n", Agg: aggregator.Count},
		},
	}

	e := row(10, 1)
	_, err := s.Process(model.NewChunk(e))
	require.NoError(t, err)
	assert.Len(t, s.groups, 1)

	expired := e.Clone()
	expired.Type = model.Expired
	_, err = s.Process(model.NewChunk(expired))
	require.NoError(t, err)
	assert.Len(t, s.groups, 0)
}

func TestSelectOrderByLimitOffset(t *testing.T) {
	s := &Select{
		Schema:  testSchema(),
		GroupBy: []*exprcore.Program{mustCompile(t, "qty")},
		Fields: []OutputField{
			{Name: "qty", Expr: mustCompile(t, "qty")},
		},
		OrderBy: []OrderSpec{{Field: "qty", Descending: true}},
		Limit:   1,
	}

	in := model.NewChunk(row(1, 1), row(1, 2), row(1, 3))
	out, err := s.Process(in)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len)
	assert.Equal(t, int32(3), out.Head.OutputData[0].Native())
}
