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

	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
)

func testSchema() *model.StreamDefinition {
	return &model.StreamDefinition{Id: "orders", Attributes: []model.Attribute{
		{Name: "price", Type: model.KindDouble},
		{Name: "qty", Type: model.KindInt},
	}}
}

func row(price float64, qty int32) *model.StreamEvent {
	return &model.StreamEvent{
		Type:       model.Current,
		OutputData: []model.AttributeValue{model.Double(price), model.Int(qty)},
	}
}

func TestFilterKeepsOnlyMatchingEvents(t *testing.T) {
	cond, err := exprcore.Compile("price > 10")
	require.NoError(t, err)
	f := NewFilter(testSchema(), cond)

	in := model.NewChunk(row(5, 1), row(20, 2), row(11, 3))
	out, err := f.Process(in)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len)
}

func TestFilterPropagatesEvalError(t *testing.T) {
	cond, err := exprcore.Compile("price / qty")
	require.NoError(t, err)
	f := NewFilter(testSchema(), cond)

	in := model.NewChunk(row(5, 1))
	_, err = f.Process(in)
	assert.Error(t, err, "a non-bool result should surface as an error rather than silently pass")
}

func TestChainStopsWhenAStageEmptiesTheChunk(t *testing.T) {
	alwaysFalse, err := exprcore.Compile("false")
	require.NoError(t, err)
	f1 := NewFilter(testSchema(), alwaysFalse)

	var secondCalled bool
	tap := NewCallback(func(*model.EventChunk) error { secondCalled = true; return nil })

	chain := NewChain(f1, tap)
	require.NoError(t, chain.Process(model.NewChunk(row(5, 1))))
	assert.False(t, secondCalled, "downstream stage must not run once the chunk is emptied")
}
