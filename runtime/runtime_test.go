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

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/cep/config"
	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
)

func mustCompile(t *testing.T, src string) *exprcore.Program {
	t.Helper()
	p, err := exprcore.Compile(src)
	require.NoError(t, err)
	return p
}

func priceSchema(id string) *model.StreamDefinition {
	return &model.StreamDefinition{
		Id:         id,
		Attributes: []model.Attribute{{Name: "price", Type: model.KindFloat}},
	}
}

func filterInsertPlan(t *testing.T) *model.OperatorPlan {
	in := priceSchema("in")
	out := priceSchema("out")
	return &model.OperatorPlan{
		Streams: []*model.StreamDefinition{in, out},
		Queries: []*model.QueryDefinition{
			{
				Id:        "q1",
				OutputDef: out,
				Operators: []model.OperatorDescriptor{
					{
						Id:     "q1-filter",
						Kind:   model.OpFilter,
						Inputs: []model.StreamBinding{{StreamId: "in"}},
						Params: map[string]any{
							"schema":    in,
							"condition": mustCompile(t, "price > 10"),
						},
					},
					{
						Id:   "q1-insert",
						Kind: model.OpInsertInto,
						Params: map[string]any{
							"target_stream": "out",
						},
					},
				},
			},
		},
	}
}

func TestNewAssemblesStreamsAndQueries(t *testing.T) {
	rt, err := New(config.Default(), filterInsertPlan(t))
	require.NoError(t, err)
	assert.NotEmpty(t, rt.ID)
	_, ok := rt.StreamDefinition("in")
	assert.True(t, ok)
	_, ok = rt.StreamDefinition("out")
	assert.True(t, ok)
	_, ok = rt.StreamDefinition("nope")
	assert.False(t, ok)
}

func TestPublishFiltersAndForwardsToOutputStream(t *testing.T) {
	rt, err := New(config.Default(), filterInsertPlan(t))
	require.NoError(t, err)

	var mu sync.Mutex
	var got []float64
	require.NoError(t, rt.RegisterCallback("out", func(chunk *model.EventChunk) error {
		mu.Lock()
		defer mu.Unlock()
		chunk.Each(func(e *model.StreamEvent) {
			got = append(got, e.OutputData[0].Native().(float64))
		})
		return nil
	}))
	rt.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	}()

	require.NoError(t, rt.Publish("in", model.Event{Timestamp: 1, Attributes: []model.AttributeValue{model.Float(5)}}))
	require.NoError(t, rt.Publish("in", model.Event{Timestamp: 2, Attributes: []model.AttributeValue{model.Float(20)}}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{20}, got)
}

func TestPublishRejectsUnknownStream(t *testing.T) {
	rt, err := New(config.Default(), filterInsertPlan(t))
	require.NoError(t, err)
	err = rt.Publish("missing", model.Event{Timestamp: 1})
	assert.Error(t, err)
}

func TestPublishOrderedRejectsOutOfOrderTimestamps(t *testing.T) {
	cfg := config.New(config.WithOrdered(true))
	rt, err := New(cfg, filterInsertPlan(t))
	require.NoError(t, err)

	require.NoError(t, rt.Publish("in", model.Event{Timestamp: 10, Attributes: []model.AttributeValue{model.Float(20)}}))
	err = rt.Publish("in", model.Event{Timestamp: 5, Attributes: []model.AttributeValue{model.Float(20)}})
	assert.Error(t, err)
}

func TestCheckpointAndRecoverRoundTrip(t *testing.T) {
	in := priceSchema("in")
	out := priceSchema("out")
	plan := &model.OperatorPlan{
		Streams: []*model.StreamDefinition{in, out},
		Queries: []*model.QueryDefinition{
			{
				Id:        "q1",
				OutputDef: out,
				Operators: []model.OperatorDescriptor{
					{
						Id:     "q1-window",
						Kind:   model.OpWindow,
						Inputs: []model.StreamBinding{{StreamId: "in"}},
						Params: map[string]any{
							"kind":   model.WindowLength,
							"length": 3,
						},
					},
					{
						Id:   "q1-insert",
						Kind: model.OpInsertInto,
						Params: map[string]any{
							"target_stream": "out",
						},
					},
				},
			},
		},
	}

	rt, err := New(config.Default(), plan)
	require.NoError(t, err)
	rt.Start()

	require.NoError(t, rt.Publish("in", model.Event{Timestamp: 1, Attributes: []model.AttributeValue{model.Float(1)}}))
	require.NoError(t, rt.Publish("in", model.Event{Timestamp: 2, Attributes: []model.AttributeValue{model.Float(2)}}))

	id, err := rt.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))

	require.NoError(t, rt.Recover(context.Background()))
}

func TestFaultCountAggregatesAcrossJunctions(t *testing.T) {
	rt, err := New(config.Default(), filterInsertPlan(t))
	require.NoError(t, err)
	assert.Zero(t, rt.FaultCount())
}
