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
	"fmt"
	"time"

	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/join"
	"github.com/flowcore/cep/junction"
	"github.com/flowcore/cep/model"
	"github.com/flowcore/cep/pattern"
	"github.com/flowcore/cep/processor"
	"github.com/flowcore/cep/window"
)

// subscriberFunc adapts a plain function to junction.Subscriber, the way
// Join and Pattern operators (which consume events one at a time rather
// than as a Processor chain stage) are wired onto their input junctions.
type subscriberFunc func(*model.EventChunk) error

func (f subscriberFunc) Process(chunk *model.EventChunk) error { return f(chunk) }

// newCallbackChain wraps fn as the sole stage of a one-stage Chain, so an
// OutputAdapter callback can subscribe to a Junction like any other
// downstream stage (spec §6.2 "OutputAdapter (Callback)").
func newCallbackChain(fn func(*model.EventChunk) error) *processor.Chain {
	return processor.NewChain(processor.NewCallback(fn))
}

// assemble materializes every stream and query of plan into live junctions
// and processor chains (spec §3.1, §6.1).
func (rt *Runtime) assemble(plan *model.OperatorPlan) error {
	for _, s := range plan.Streams {
		rt.streams[s.Id] = s
		rt.junctions[s.Id] = junction.New(s.Id, rt.cfg.Junction, rt.log)
	}
	for _, q := range plan.Queries {
		if len(q.Operators) == 0 {
			return fmt.Errorf("runtime: query %q has no operators", q.Id)
		}
		var err error
		switch q.Operators[0].Kind {
		case model.OpJoin:
			err = rt.assembleJoinQuery(q)
		case model.OpPattern:
			err = rt.assemblePatternQuery(q)
		default:
			err = rt.assembleLinearQuery(q)
		}
		if err != nil {
			return fmt.Errorf("runtime: assemble query %q: %w", q.Id, err)
		}
	}
	return nil
}

// assembleLinearQuery wires a single-input operator chain (any mix of
// filter/select/window/insert_into/callback stages) onto its input
// stream's junction.
func (rt *Runtime) assembleLinearQuery(q *model.QueryDefinition) error {
	head := q.Operators[0]
	if len(head.Inputs) == 0 {
		return fmt.Errorf("operator %q has no input stream", head.Id)
	}
	inputStream := head.Inputs[0].StreamId
	in, ok := rt.junctions[inputStream]
	if !ok {
		return fmt.Errorf("unknown input stream %q", inputStream)
	}

	stages := make([]processor.Processor, 0, len(q.Operators))
	for _, op := range q.Operators {
		stage, err := rt.buildChainStage(op)
		if err != nil {
			return fmt.Errorf("operator %q: %w", op.Id, err)
		}
		stages = append(stages, stage)
	}
	// A Window stage's expired/current events bypass the normal Chain
	// sequencing (they arrive out of band from the scheduler), so wire its
	// Downstream to run the remainder of this same chain directly (see the
	// Window doc in processor/window_op.go).
	for i, stage := range stages {
		w, ok := stage.(*processor.Window)
		if !ok {
			continue
		}
		rest := stages[i+1:]
		w.Downstream = func(chunk *model.EventChunk) error {
			return processor.NewChain(rest...).Process(chunk)
		}
	}
	for _, stage := range stages {
		if sd, ok := stage.(shutdowner); ok {
			rt.shutdowners = append(rt.shutdowners, sd)
		}
	}

	chain := processor.NewChain(stages...)
	in.Subscribe(chain)
	return nil
}

// buildChainStage builds the Processor a single OperatorDescriptor
// describes, for use inside a linear chain.
func (rt *Runtime) buildChainStage(op model.OperatorDescriptor) (processor.Processor, error) {
	switch op.Kind {
	case model.OpFilter:
		schema, err := param[*model.StreamDefinition](op.Params, "schema")
		if err != nil {
			return nil, err
		}
		cond, err := param[*exprcore.Program](op.Params, "condition")
		if err != nil {
			return nil, err
		}
		return processor.NewFilter(schema, cond), nil

	case model.OpSelect:
		schema, err := param[*model.StreamDefinition](op.Params, "schema")
		if err != nil {
			return nil, err
		}
		fields, err := param[[]processor.OutputField](op.Params, "fields")
		if err != nil {
			return nil, err
		}
		sel := processor.NewSelect(schema, fields)
		sel.GroupBy = paramOr[[]*exprcore.Program](op.Params, "group_by", nil)
		if having, ok := op.Params["having"].(*exprcore.Program); ok {
			sel.Having = having
		}
		sel.OrderBy = paramOr[[]processor.OrderSpec](op.Params, "order_by", nil)
		sel.Limit = paramOr[int](op.Params, "limit", 0)
		sel.Offset = paramOr[int](op.Params, "offset", 0)
		return sel, nil

	case model.OpWindow:
		return rt.buildWindowStage(op.Id, op.Params)

	case model.OpInsertInto:
		target, err := param[string](op.Params, "target_stream")
		if err != nil {
			return nil, err
		}
		j, ok := rt.junctions[target]
		if !ok {
			return nil, fmt.Errorf("unknown target stream %q", target)
		}
		return processor.NewInsertIntoStream(j), nil

	case model.OpCallback:
		fn, err := param[func(*model.EventChunk) error](op.Params, "fn")
		if err != nil {
			return nil, err
		}
		return processor.NewCallback(fn), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperatorKind, op.Kind)
	}
}

// buildWindowStage builds the concrete window variant p describes and
// wraps it in a processor.Window chain stage.
func (rt *Runtime) buildWindowStage(id string, p map[string]any) (*processor.Window, error) {
	stage := &processor.Window{}
	w, err := rt.buildRawWindow(id, p, stage.Collect)
	if err != nil {
		return nil, err
	}
	stage.Core = w
	return stage, nil
}

// buildRawWindow builds the concrete window.ContentsWindow variant p
// describes, registers its StateHolder, and starts its scheduled-eviction
// timer for the variants that need one (spec §4.3).
func (rt *Runtime) buildRawWindow(id string, p map[string]any, emit window.Emitter) (window.ContentsWindow, error) {
	kind, err := param[model.WindowKind](p, "kind")
	if err != nil {
		return nil, err
	}
	switch kind {
	case model.WindowLength:
		length, err := param[int](p, "length")
		if err != nil {
			return nil, err
		}
		w, err := window.NewLengthWindow(id, length, emit)
		if err != nil {
			return nil, err
		}
		return w, rt.registry.Register(w)

	case model.WindowLengthBatch:
		length, err := param[int](p, "length")
		if err != nil {
			return nil, err
		}
		w, err := window.NewLengthBatchWindow(id, length, emit)
		if err != nil {
			return nil, err
		}
		return w, rt.registry.Register(w)

	case model.WindowTime:
		d, err := param[int64](p, "duration_ms")
		if err != nil {
			return nil, err
		}
		w, err := window.NewTimeWindow(id, d, emit)
		if err != nil {
			return nil, err
		}
		if err := rt.registry.Register(w); err != nil {
			return nil, err
		}
		w.Start(rt.sched, nil)
		return w, nil

	case model.WindowTimeBatch:
		d, err := param[int64](p, "duration_ms")
		if err != nil {
			return nil, err
		}
		off := paramOr[int64](p, "start_offset_ms", 0)
		w, err := window.NewTimeBatchWindow(id, d, off, emit)
		if err != nil {
			return nil, err
		}
		if err := rt.registry.Register(w); err != nil {
			return nil, err
		}
		w.Start(rt.sched, nil)
		return w, nil

	case model.WindowExternalTime:
		d, err := param[int64](p, "duration_ms")
		if err != nil {
			return nil, err
		}
		extract, err := param[window.TimeExtractor](p, "extract")
		if err != nil {
			return nil, err
		}
		w, err := window.NewExternalTimeWindow(id, d, extract, emit)
		if err != nil {
			return nil, err
		}
		return w, rt.registry.Register(w)

	case model.WindowExternalTimeBatch:
		d, err := param[int64](p, "duration_ms")
		if err != nil {
			return nil, err
		}
		off := paramOr[int64](p, "start_offset_ms", 0)
		extract, err := param[window.TimeExtractor](p, "extract")
		if err != nil {
			return nil, err
		}
		w, err := window.NewExternalTimeBatchWindow(id, d, off, extract, emit)
		if err != nil {
			return nil, err
		}
		return w, rt.registry.Register(w)

	case model.WindowSession:
		gap, err := param[int64](p, "session_gap_ms")
		if err != nil {
			return nil, err
		}
		keyFn, err := param[window.KeyFunc](p, "key_fn")
		if err != nil {
			return nil, err
		}
		w, err := window.NewSessionWindow(id, gap, keyFn, emit)
		if err != nil {
			return nil, err
		}
		if err := rt.registry.Register(w); err != nil {
			return nil, err
		}
		w.Start(rt.sched, nil)
		return w, nil

	case model.WindowSort:
		length, err := param[int](p, "length")
		if err != nil {
			return nil, err
		}
		specs, err := param[[]window.SortSpec](p, "sort_specs")
		if err != nil {
			return nil, err
		}
		w, err := window.NewSortWindow(id, length, specs, emit)
		if err != nil {
			return nil, err
		}
		return w, rt.registry.Register(w)

	default:
		return nil, fmt.Errorf("runtime: unknown window kind %q", kind)
	}
}

// assembleJoinQuery wires a stream-stream Join: its own left/right windows
// consume their input junctions directly (not through a Chain, since Join
// only understands single events), and its emitted StateEvents are
// projected into a StreamEvent that then runs through whatever chain
// stages follow the join in the query (spec §4.4).
func (rt *Runtime) assembleJoinQuery(q *model.QueryDefinition) error {
	op := q.Operators[0]
	if len(op.Inputs) == 0 {
		return fmt.Errorf("join %q: missing left input stream", op.Id)
	}
	leftStream := op.Inputs[0].StreamId
	rightStream, err := param[string](op.Params, "right_stream")
	if err != nil {
		return err
	}
	leftJ, ok := rt.junctions[leftStream]
	if !ok {
		return fmt.Errorf("join %q: unknown left stream %q", op.Id, leftStream)
	}
	rightJ, ok := rt.junctions[rightStream]
	if !ok {
		return fmt.Errorf("join %q: unknown right stream %q", op.Id, rightStream)
	}

	leftName, err := param[string](op.Params, "left_name")
	if err != nil {
		return err
	}
	rightName, err := param[string](op.Params, "right_name")
	if err != nil {
		return err
	}
	leftWinParams, err := param[map[string]any](op.Params, "left_window")
	if err != nil {
		return err
	}
	rightWinParams, err := param[map[string]any](op.Params, "right_window")
	if err != nil {
		return err
	}
	kind, err := param[join.Kind](op.Params, "kind")
	if err != nil {
		return err
	}
	withinMs := paramOr[int64](op.Params, "within_ms", 0)
	condition, _ := op.Params["condition"].(*exprcore.Program)
	schemas, err := param[map[string]*model.StreamDefinition](op.Params, "schemas")
	if err != nil {
		return err
	}
	outputFields, err := param[[]processor.OutputField](op.Params, "output_fields")
	if err != nil {
		return err
	}

	noop := func([]*model.StreamEvent) {}
	leftW, err := rt.buildRawWindow(op.Id+"#left", leftWinParams, noop)
	if err != nil {
		return err
	}
	rightW, err := rt.buildRawWindow(op.Id+"#right", rightWinParams, noop)
	if err != nil {
		return err
	}

	chain, err := rt.buildRestChain(q.Operators[1:])
	if err != nil {
		return err
	}

	leftSchema := rt.streams[leftStream]
	rightSchema := rt.streams[rightStream]
	jn := join.New(leftW, rightW, leftName, rightName, leftSchema, rightSchema, condition, kind, withinMs,
		func(events []*model.StateEvent) {
			for _, se := range events {
				out, err := projectStateEvent(se, schemas, outputFields)
				if err != nil {
					rt.log.Error("join %s: project output: %v", op.Id, err)
					continue
				}
				if err := chain.Process(model.NewChunk(out)); err != nil {
					rt.log.Error("join %s: downstream: %v", op.Id, err)
				}
			}
		})

	leftJ.Subscribe(subscriberFunc(func(chunk *model.EventChunk) error {
		chunk.Each(jn.OnLeft)
		return nil
	}))
	rightJ.Subscribe(subscriberFunc(func(chunk *model.EventChunk) error {
		chunk.Each(jn.OnRight)
		return nil
	}))
	return nil
}

// assemblePatternQuery wires a sequence or logical pattern across the
// streams its steps reference, projecting each completed match into the
// remainder of the query's chain (spec §4.5).
func (rt *Runtime) assemblePatternQuery(q *model.QueryDefinition) error {
	op := q.Operators[0]
	spec, err := param[pattern.Spec](op.Params, "spec")
	if err != nil {
		return err
	}
	variant := paramOr[string](op.Params, "variant", "sequence")
	schemas, err := param[map[string]*model.StreamDefinition](op.Params, "schemas")
	if err != nil {
		return err
	}
	outputFields, err := param[[]processor.OutputField](op.Params, "output_fields")
	if err != nil {
		return err
	}

	chain, err := rt.buildRestChain(q.Operators[1:])
	if err != nil {
		return err
	}
	emit := func(se *model.StateEvent) {
		out, err := projectStateEvent(se, schemas, outputFields)
		if err != nil {
			rt.log.Error("pattern %s: project output: %v", op.Id, err)
			return
		}
		if err := chain.Process(model.NewChunk(out)); err != nil {
			rt.log.Error("pattern %s: downstream: %v", op.Id, err)
		}
	}

	var onEvent func(string, *model.StreamEvent)
	switch variant {
	case "logical":
		logicalOp := paramOr[pattern.LogicalOp](op.Params, "logical_op", pattern.LogicalAnd)
		p := pattern.NewLogical(op.Id, spec, logicalOp, emit)
		if err := rt.registry.Register(p); err != nil {
			return err
		}
		p.Start(rt.sched)
		rt.shutdowners = append(rt.shutdowners, p)
		onEvent = p.OnEvent
	default:
		p := pattern.NewSequence(op.Id, spec, emit)
		if err := rt.registry.Register(p); err != nil {
			return err
		}
		p.Start(rt.sched, time.Now().UnixMilli())
		rt.shutdowners = append(rt.shutdowners, p)
		onEvent = p.OnEvent
	}

	rt.subscribePatternSteps(op.Id, spec, onEvent)
	return nil
}

func (rt *Runtime) subscribePatternSteps(opID string, spec pattern.Spec, onEvent func(string, *model.StreamEvent)) {
	seen := make(map[string]bool)
	for _, step := range spec.Steps {
		name := step.StreamName
		if seen[name] {
			continue
		}
		seen[name] = true
		j, ok := rt.junctions[name]
		if !ok {
			rt.log.Error("pattern %s: unknown step stream %q", opID, name)
			continue
		}
		j.Subscribe(subscriberFunc(func(chunk *model.EventChunk) error {
			chunk.Each(func(e *model.StreamEvent) { onEvent(name, e) })
			return nil
		}))
	}
}

// buildRestChain builds the Processor chain that runs after a Join or
// Pattern has projected a StateEvent into a StreamEvent, and registers any
// Shutdown-owning stage it contains.
func (rt *Runtime) buildRestChain(ops []model.OperatorDescriptor) (*processor.Chain, error) {
	stages := make([]processor.Processor, 0, len(ops))
	for _, o := range ops {
		stage, err := rt.buildChainStage(o)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", o.Id, err)
		}
		stages = append(stages, stage)
		if sd, ok := stage.(shutdowner); ok {
			rt.shutdowners = append(rt.shutdowners, sd)
		}
	}
	return processor.NewChain(stages...), nil
}

// projectStateEvent evaluates a Join/Pattern's output field expressions
// against a completed StateEvent's flattened environment, producing the
// single StreamEvent that feeds the rest of the query's chain.
func projectStateEvent(se *model.StateEvent, schemas map[string]*model.StreamDefinition, fields []processor.OutputField) (*model.StreamEvent, error) {
	env := se.Env(schemas, "")
	out := &model.StreamEvent{Timestamp: se.Timestamp, OutputData: make([]model.AttributeValue, 0, len(fields))}
	for _, f := range fields {
		if f.Expr == nil {
			out.OutputData = append(out.OutputData, model.Null())
			continue
		}
		v, err := f.Expr.Eval(env)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out.OutputData = append(out.OutputData, model.FromNative(v))
	}
	return out, nil
}
