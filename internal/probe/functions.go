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
	"regexp"
)

// replyFunctions are the helpers available to Expecter expressions.
// expr-lang reserves "contains" and "matches" as operators, hence the
// different names.
func replyFunctions() map[string]any {
	return map[string]any{
		"match":     matchFn,
		"hasSymbol": hasSymbolFn,
		"symbols":   symbolsFn,
		"score":     scoreFn,
	}
}

// matchFn checks a string against a regular expression.
// Usage: match(body, "^RSPAMD/1\\.[0-9]")
func matchFn(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("match requires exactly 2 arguments, got %d", len(args))
	}

	str, ok := args[0].(string)
	if !ok {
		return false, fmt.Errorf("match: first argument must be a string, got %T", args[0])
	}
	pattern, ok := args[1].(string)
	if !ok {
		return false, fmt.Errorf("match: second argument must be a string pattern, got %T", args[1])
	}

	matched, err := regexp.MatchString(pattern, str)
	if err != nil {
		return false, fmt.Errorf("match: invalid regex pattern: %w", err)
	}
	return matched, nil
}

// symbolTable returns the "symbols" object of a scan result. Replies from
// /checkv2 keep it at the top level, legacy replies under "default".
func symbolTable(v any) map[string]any {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if syms, ok := obj["symbols"].(map[string]any); ok {
		return syms
	}
	if def, ok := obj["default"].(map[string]any); ok {
		if syms, ok := def["symbols"].(map[string]any); ok {
			return syms
		}
		return def
	}
	return nil
}

// hasSymbolFn reports whether a scan result contains a symbol.
// Usage: hasSymbol(json, "R_DKIM_ALLOW")
func hasSymbolFn(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("hasSymbol requires exactly 2 arguments, got %d", len(args))
	}

	name, ok := args[1].(string)
	if !ok {
		return false, fmt.Errorf("hasSymbol: symbol name must be a string, got %T", args[1])
	}

	_, found := symbolTable(args[0])[name]
	return found, nil
}

// symbolsFn returns the number of symbols in a scan result.
// Usage: symbols(json) > 0
func symbolsFn(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("symbols requires exactly 1 argument, got %d", len(args))
	}
	return len(symbolTable(args[0])), nil
}

// scoreFn returns the total score of a scan result.
// Usage: score(json) >= 15
func scoreFn(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("score requires exactly 1 argument, got %d", len(args))
	}

	obj, ok := args[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("score: expected scan result object, got %T", args[0])
	}
	if def, ok := obj["default"].(map[string]any); ok {
		obj = def
	}

	switch v := obj["score"].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("score: result has no numeric score")
	}
}
