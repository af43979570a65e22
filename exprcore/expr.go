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

// Package exprcore implements the tree-structured expression evaluator of
// spec §4.7: constants, attribute references, arithmetic/comparison with
// numeric promotion, logical operators, null-checks, conditionals and
// function calls, resolved against a pluggable function registry.
//
// Evaluation itself is delegated to github.com/expr-lang/expr, the same
// dependency the teacher's condition package compiles boolean guards with;
// this package adds the is_null, is_not_null and like functions and
// EvalBool's nil-as-false rule. Eval takes native Go values
// (map[string]any); it does not check where aggregator calls appear.
package exprcore

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Program is a compiled expression ready for repeated evaluation.
type Program struct {
	source string
	prog   *vm.Program
}

// Source returns the original expression text, used by operators that need
// to echo it in error messages or serialized plan diagnostics.
func (p *Program) Source() string { return p.source }

func defaultOptions() []expr.Option {
	return []expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.Function("is_null", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("is_null requires 1 argument")
			}
			return params[0] == nil, nil
		}),
		expr.Function("is_not_null", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("is_not_null requires 1 argument")
			}
			return params[0] != nil, nil
		}),
		expr.Function("like", func(params ...any) (any, error) {
			if len(params) != 2 {
				return false, fmt.Errorf("like requires 2 arguments")
			}
			text, ok1 := params[0].(string)
			pattern, ok2 := params[1].(string)
			if !ok1 || !ok2 {
				return false, fmt.Errorf("like requires string arguments")
			}
			return matchesLikePattern(text, pattern), nil
		}),
	}
}

// Compile compiles an expression with the default function registry plus
// any caller-supplied extensions (e.g. the function registry of spec §4.7
// "function calls resolved against a function registry").
func Compile(source string, extra ...expr.Option) (*Program, error) {
	opts := append(defaultOptions(), extra...)
	prog, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, fmt.Errorf("exprcore: compile %q: %w", source, err)
	}
	return &Program{source: source, prog: prog}, nil
}

// Eval runs the program against an environment (typically produced by
// StreamEvent/StateEvent Env helpers) and returns the raw result.
func (p *Program) Eval(env map[string]any) (any, error) {
	out, err := expr.Run(p.prog, env)
	if err != nil {
		return nil, fmt.Errorf("exprcore: eval %q: %w", p.source, err)
	}
	return out, nil
}

// EvalBool runs the program and coerces the result to bool, for Filter and
// Having guards and join/pattern transition conditions. A nil result (from
// a null-propagating comparison) evaluates to false rather than erroring,
// matching SQL three-valued-logic truncated to a boolean gate.
func (p *Program) EvalBool(env map[string]any) (bool, error) {
	out, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	if out == nil {
		return false, nil
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("exprcore: expression %q did not evaluate to bool (got %T)", p.source, out)
	}
	return b, nil
}

// matchesLikePattern implements SQL LIKE semantics (% = any run, _ = any
// single character) without pulling in a regex-translation dependency the
// pack doesn't otherwise need; grounded on the teacher condition package's
// own like_match helper.
func matchesLikePattern(text, pattern string) bool {
	return likeMatch([]rune(text), []rune(pattern))
}

func likeMatch(text, pattern []rune) bool {
	if len(pattern) == 0 {
		return len(text) == 0
	}
	switch pattern[0] {
	case '%':
		if likeMatch(text, pattern[1:]) {
			return true
		}
		for i := 0; i < len(text); i++ {
			if likeMatch(text[i+1:], pattern[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(text) == 0 {
			return false
		}
		return likeMatch(text[1:], pattern[1:])
	default:
		if len(text) == 0 || text[0] != pattern[0] {
			return false
		}
		return likeMatch(text[1:], pattern[1:])
	}
}
