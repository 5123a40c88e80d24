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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultFilterTimeout bounds a single jq evaluation.
	DefaultFilterTimeout = 1 * time.Second

	// DefaultMaxFilterInput is the largest JSON body Filter accepts (10MB).
	DefaultMaxFilterInput = 10 * 1024 * 1024
)

// Filter runs jq expressions over JSON replies, e.g. ".symbols | keys" on
// a /checkv2 answer. Compiled queries are cached.
type Filter struct {
	timeout  time.Duration
	maxInput int

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewFilter creates a filter. Zero values select the defaults.
func NewFilter(timeout time.Duration, maxInput int) *Filter {
	if timeout <= 0 {
		timeout = DefaultFilterTimeout
	}
	if maxInput <= 0 {
		maxInput = DefaultMaxFilterInput
	}
	return &Filter{
		timeout:  timeout,
		maxInput: maxInput,
		cache:    make(map[string]*gojq.Code),
	}
}

// Apply decodes body and runs expression over it. A single result is
// returned as is, several as a slice, none as nil. An empty expression
// returns the decoded body.
func (f *Filter) Apply(ctx context.Context, expression string, body []byte) (any, error) {
	if len(body) > f.maxInput {
		return nil, fmt.Errorf("input size (%d bytes) exceeds maximum (%d bytes)", len(body), f.maxInput)
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	return f.Run(ctx, expression, data)
}

// Run evaluates expression against already decoded data.
func (f *Filter) Run(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}

	code, err := f.compile(expression)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var results []any
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("jq evaluation timeout after %v: %w", f.timeout, ctx.Err())
			}
			return nil, fmt.Errorf("jq: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate reports whether expression compiles.
func (f *Filter) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	_, err := f.compile(expression)
	return err
}

func (f *Filter) compile(expression string) (*gojq.Code, error) {
	f.mu.RLock()
	code, ok := f.cache[expression]
	f.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}

	code, err = gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}

	f.mu.Lock()
	f.cache[expression] = code
	f.mu.Unlock()

	return code, nil
}
