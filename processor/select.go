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
	"fmt"
	"sort"
	"strings"

	"github.com/flowcore/cep/aggregator"
	"github.com/flowcore/cep/exprcore"
	"github.com/flowcore/cep/model"
)

// OutputField is one projected column of a Select stage. When Agg is set,
// Expr computes the per-event value fed to the aggregator across the
// group; otherwise Expr is evaluated once against a representative event
// of the group (the last one seen), matching a plain (non-aggregated)
// passthrough column.
type OutputField struct {
	Name string
	Expr *exprcore.Program
	Agg  aggregator.Type // empty: not aggregated
}

// OrderSpec is one ORDER BY key, referencing an OutputField by name.
type OrderSpec struct {
	Field      string
	Descending bool
}

// Select implements the grouped projection/aggregation stage of spec §4.6:
// GROUP BY key extraction, per-group incremental aggregators, an optional
// HAVING filter evaluated on the aggregated output, and ORDER BY/LIMIT/
// OFFSET over the resulting group rows.
//
// Groups persist across calls to Process: a window forwards only the
// delta on each call (the new Current plus, at most, one Expired), so the
// running aggregate for a group has to survive between calls rather than
// being rebuilt from whatever happens to be in a single chunk (spec §4.6
// "creates an instance per group on first occurrence and destroys it when
// the group becomes empty").
type Select struct {
	Schema  *model.StreamDefinition
	Fields  []OutputField
	GroupBy []*exprcore.Program // empty: single implicit group
	Having  *exprcore.Program
	OrderBy []OrderSpec
	Limit   int // 0: unlimited
	Offset  int

	groups map[string]*group
	order  []string // insertion order of live keys in groups
}

// NewSelect constructs a Select stage.
func NewSelect(schema *model.StreamDefinition, fields []OutputField) *Select {
	return &Select{Schema: schema, Fields: fields, groups: make(map[string]*group)}
}

// OutputSchema derives the schema of events this stage produces, so a
// downstream Filter/Select/InsertIntoStream can address its fields by
// name. Projected attribute types are widened to KindObject since an
// aggregate or arbitrary expression result isn't statically typed the way
// a declared stream attribute is.
func (s *Select) OutputSchema(id string) *model.StreamDefinition {
	def := &model.StreamDefinition{Id: id, Attributes: make([]model.Attribute, len(s.Fields))}
	for i, f := range s.Fields {
		def.Attributes[i] = model.Attribute{Name: f.Name, Type: model.KindObject}
	}
	return def
}

type group struct {
	key   string
	last  map[string]any
	aggs  map[string]aggregator.Aggregator
	ts    int64
	count int // live (Current/Timer minus Expired) members of this group
}

// Process implements Processor.
func (s *Select) Process(chunk *model.EventChunk) (*model.EventChunk, error) {
	if s.groups == nil {
		s.groups = make(map[string]*group)
	}

	var touchedOrder []string
	touched := make(map[string]struct{})
	var firstErr error

	chunk.Each(func(e *model.StreamEvent) {
		if firstErr != nil {
			return
		}
		if e.Type == model.Reset {
			for _, key := range s.order {
				g := s.groups[key]
				for _, agg := range g.aggs {
					agg.Reset()
				}
				g.count = 0
			}
			return
		}

		env := eventEnv(s.Schema, e)
		key, err := s.groupKey(env)
		if err != nil {
			firstErr = err
			return
		}
		g, ok := s.groups[key]
		if !ok {
			if e.Type == model.Expired {
				// nothing buffered for this group to remove from.
				return
			}
			g = &group{key: key, aggs: make(map[string]aggregator.Aggregator)}
			for _, f := range s.Fields {
				if f.Agg != "" {
					g.aggs[f.Name] = aggregator.New(f.Agg)
				}
			}
			s.groups[key] = g
			s.order = append(s.order, key)
		}

		if e.Type == model.Expired {
			for _, f := range s.Fields {
				if f.Agg == "" {
					continue
				}
				val, err := s.fieldValue(f, env)
				if err != nil {
					firstErr = err
					return
				}
				g.aggs[f.Name].Remove(val)
			}
			g.count--
		} else {
			g.last = env
			if e.Timestamp > g.ts {
				g.ts = e.Timestamp
			}
			for _, f := range s.Fields {
				if f.Agg == "" {
					continue
				}
				val, err := s.fieldValue(f, env)
				if err != nil {
					firstErr = err
					return
				}
				g.aggs[f.Name].Add(val)
			}
			g.count++
		}

		if _, seen := touched[key]; !seen {
			touched[key] = struct{}{}
			touchedOrder = append(touchedOrder, key)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	type row struct {
		ts  int64
		out map[string]model.AttributeValue
	}
	rows := make([]row, 0, len(touchedOrder))
	for _, key := range touchedOrder {
		g := s.groups[key]
		out := make(map[string]model.AttributeValue, len(s.Fields))
		for _, f := range s.Fields {
			if f.Agg != "" {
				out[f.Name] = g.aggs[f.Name].CurrentValue()
				continue
			}
			val, err := s.fieldValue(f, g.last)
			if err != nil {
				return nil, err
			}
			out[f.Name] = val
		}
		if s.Having != nil {
			havingEnv := make(map[string]any, len(out))
			for k, v := range out {
				havingEnv[k] = v.Native()
			}
			ok, err := s.Having.EvalBool(havingEnv)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		rows = append(rows, row{ts: g.ts, out: out})

		// Destroy the group once its membership count drops to zero (spec
		// §4.6), but only for a real GROUP BY: the implicit single group
		// used when there is none must survive an empty window.
		if len(s.GroupBy) > 0 && g.count <= 0 {
			delete(s.groups, key)
			s.removeOrderKey(key)
		}
	}

	if len(s.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, spec := range s.OrderBy {
				a, aok := rows[i].out[spec.Field]
				b, bok := rows[j].out[spec.Field]
				if !aok || !bok {
					continue
				}
				c, err := model.Compare(a, b)
				if err != nil || c == 0 {
					continue
				}
				if spec.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if s.Offset > 0 {
		if s.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[s.Offset:]
		}
	}
	if s.Limit > 0 && len(rows) > s.Limit {
		rows = rows[:s.Limit]
	}

	out := &model.EventChunk{}
	for _, r := range rows {
		se := &model.StreamEvent{Timestamp: r.ts, Type: model.Current}
		for _, f := range s.Fields {
			se.OutputData = append(se.OutputData, r.out[f.Name])
		}
		out.Append(se)
	}
	return out, nil
}

// removeOrderKey drops key from s.order, keeping the remaining keys'
// relative insertion order intact.
func (s *Select) removeOrderKey(key string) {
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Select) fieldValue(f OutputField, env map[string]any) (model.AttributeValue, error) {
	if f.Expr == nil {
		return model.Null(), nil
	}
	v, err := f.Expr.Eval(env)
	if err != nil {
		return model.AttributeValue{}, fmt.Errorf("processor: select field %q: %w", f.Name, err)
	}
	return model.FromNative(v), nil
}

func (s *Select) groupKey(env map[string]any) (string, error) {
	if len(s.GroupBy) == 0 {
		return "", nil
	}
	var b strings.Builder
	for i, expr := range s.GroupBy {
		v, err := expr.Eval(env)
		if err != nil {
			return "", fmt.Errorf("processor: group by key %d: %w", i, err)
		}
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%v", v)
	}
	return b.String(), nil
}
