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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scanReply = `{
  "action": "add header",
  "score": 6.5,
  "required_score": 15,
  "symbols": {
    "R_SPF_ALLOW": {"name": "R_SPF_ALLOW", "score": -0.2},
    "MISSING_DATE": {"name": "MISSING_DATE", "score": 1.0}
  }
}`

func TestFilter_Apply(t *testing.T) {
	f := NewFilter(0, 0)

	tests := []struct {
		name       string
		expression string
		want       any
	}{
		{name: "field", expression: ".action", want: "add header"},
		{name: "keys", expression: ".symbols | keys", want: []any{"MISSING_DATE", "R_SPF_ALLOW"}},
		{name: "multiple results", expression: ".symbols[] | .name", want: []any{"MISSING_DATE", "R_SPF_ALLOW"}},
		{name: "no results", expression: "empty", want: nil},
		{name: "number", expression: ".required_score", want: 15.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Apply(context.Background(), tt.expression, []byte(scanReply))
			require.NoError(t, err)
			assert.EqualValues(t, tt.want, got)
		})
	}

	t.Run("empty expression returns decoded body", func(t *testing.T) {
		got, err := f.Apply(context.Background(), "", []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1.0}, got)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := f.Apply(context.Background(), ".", []byte(`{`))
		assert.ErrorContains(t, err, "failed to decode JSON")
	})

	t.Run("runtime error", func(t *testing.T) {
		_, err := f.Apply(context.Background(), ".action | keys", []byte(scanReply))
		assert.ErrorContains(t, err, "jq:")
	})

	t.Run("input too large", func(t *testing.T) {
		small := NewFilter(0, 4)
		_, err := small.Apply(context.Background(), ".", []byte(`{"a":1}`))
		assert.ErrorContains(t, err, "exceeds maximum")
	})
}

func TestFilter_Validate(t *testing.T) {
	f := NewFilter(0, 0)

	assert.NoError(t, f.Validate(""))
	assert.NoError(t, f.Validate(".symbols | length"))
	assert.Error(t, f.Validate(".["))
	assert.Error(t, f.Validate("undefined_fn(1)"))
}

func TestFilter_Timeout(t *testing.T) {
	f := NewFilter(100*time.Millisecond, 0)

	_, err := f.Run(context.Background(), "def f: f; f", nil)
	assert.ErrorContains(t, err, "timeout")
}

func TestExpecter_Check(t *testing.T) {
	e := NewExpecter()
	env := Env(&Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(scanReply),
	})

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{name: "status", expression: "status == 200", want: true},
		{name: "json field", expression: `json.action == "add header"`, want: true},
		{name: "has symbol", expression: `hasSymbol(json, "R_SPF_ALLOW")`, want: true},
		{name: "missing symbol", expression: `hasSymbol(json, "GTUBE")`, want: false},
		{name: "symbol count", expression: "symbols(json) == 2", want: true},
		{name: "score", expression: "score(json) < 15", want: true},
		{name: "header", expression: `headers["Content-Type"] == "application/json"`, want: true},
		{name: "body operator", expression: `body contains "MISSING_DATE"`, want: true},
		{name: "regex", expression: `match(body, "required_score\": [0-9]+")`, want: true},
		{name: "empty", expression: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Check(tt.expression, env)
			require.NoError(t, res.Error)
			assert.Equal(t, tt.want, res.Passed)
		})
	}
}

func TestExpecter_Errors(t *testing.T) {
	e := NewExpecter()
	env := RawEnv("RSPAMD/1.3 0 EX_OK\r\n")

	res := e.Check("status ==", env)
	assert.ErrorContains(t, res.Error, "failed to compile")
	assert.False(t, res.Passed)

	res = e.Check(`match(body, "(")`, env)
	assert.ErrorContains(t, res.Error, "invalid regex")

	res = e.Check(`body startsWith "RSPAMD/1.3"`, env)
	require.NoError(t, res.Error)
	assert.True(t, res.Passed)
}

func TestExpecter_LegacyScanResult(t *testing.T) {
	e := NewExpecter()
	env := Env(&Response{
		Status: http.StatusOK,
		Body:   []byte(`{"default":{"is_spam":false,"score":2.0,"R_DKIM_ALLOW":{"score":-0.2}}}`),
	})

	res := e.Check(`hasSymbol(json, "R_DKIM_ALLOW") && score(json) == 2.0`, env)
	require.NoError(t, res.Error)
	assert.True(t, res.Passed)
}

func TestExpecter_CachesPrograms(t *testing.T) {
	e := NewExpecter()
	env := RawEnv("x")

	e.Check(`body == "x"`, env)
	e.Check(`body == "x"`, env)
	e.Check(`body != "x"`, env)

	assert.Len(t, e.cache, 2)
}
