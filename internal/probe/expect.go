// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	"fmt"
	"maps"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Expectation is the outcome of checking an expression against a reply.
type Expectation struct {
	Passed     bool
	Expression string

	// Error is set if the expression failed to compile or run.
	Error error
}

// Expecter evaluates boolean expressions over probe replies with
// expr-lang. Compiled programs are cached.
//
// The environment holds:
//
//	status   HTTP status (0 for raw protocol replies)
//	body     reply as a string
//	json     decoded JSON body, or nil
//	headers  map of header name to first value
//
// plus the helpers from replyFunctions. Examples:
//
//	status == 200 && json.action == "no action"
//	hasSymbol(json, "R_SPF_ALLOW")
//	body startsWith "RSPAMD/1.3 0 EX_OK"
//	score(json) < 5
type Expecter struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExpecter creates an expecter.
func NewExpecter() *Expecter {
	return &Expecter{cache: make(map[string]*vm.Program)}
}

// Env builds the evaluation environment for an HTTP response.
func Env(resp *Response) map[string]any {
	env := map[string]any{
		"status":  resp.Status,
		"body":    string(resp.Body),
		"json":    nil,
		"headers": map[string]any{},
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	env["headers"] = headers

	if obj, err := CheckJSON(resp.Body); err == nil {
		env["json"] = obj
	}
	return env
}

// RawEnv builds the evaluation environment for a raw protocol reply.
func RawEnv(reply string) map[string]any {
	return map[string]any{
		"status":  0,
		"body":    reply,
		"json":    nil,
		"headers": map[string]any{},
	}
}

// Check evaluates expression against env. An empty expression passes.
func (e *Expecter) Check(expression string, env map[string]any) Expectation {
	if expression == "" {
		return Expectation{Passed: true}
	}

	program, err := e.compile(expression)
	if err != nil {
		return Expectation{
			Expression: expression,
			Error:      fmt.Errorf("failed to compile expression: %w", err),
		}
	}

	runEnv := make(map[string]any, len(env)+len(replyFunctions()))
	maps.Copy(runEnv, replyFunctions())
	maps.Copy(runEnv, env)

	result, err := expr.Run(program, runEnv)
	if err != nil {
		return Expectation{
			Expression: expression,
			Error:      fmt.Errorf("expression evaluation failed: %w", err),
		}
	}

	passed, ok := result.(bool)
	if !ok {
		return Expectation{
			Expression: expression,
			Error:      fmt.Errorf("expression must return boolean, got %T (%v)", result, result),
		}
	}

	return Expectation{Passed: passed, Expression: expression}
}

func (e *Expecter) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(expression,
		expr.Env(replyFunctions()),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}
