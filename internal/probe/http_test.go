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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDaemon(t *testing.T) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong\r\n")
	})
	mux.HandleFunc("/symbols", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"file":"`+r.URL.Query().Get("file")+`","score":0.5}`)
	})
	mux.HandleFunc("/checkv2", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Len", strconv.FormatInt(r.ContentLength, 10))
		if strings.Contains(string(body), "GTUBE") {
			io.WriteString(w, `{"action":"reject","score":1000.0,"symbols":{"GTUBE":{"score":0}}}`)
			return
		}
		io.WriteString(w, `{"action":"no action","score":0.0,"symbols":{}}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestHTTP(t *testing.T) {
	addr := newDaemon(t)
	c := testClient()

	resp, err := c.HTTP(context.Background(), http.MethodPost, addr, "checkv2", []byte("GTUBE"), map[string]string{"Pass": "all"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.OK())
	assert.Equal(t, "5", resp.Header.Get("X-Len"))
	assert.Contains(t, string(resp.Body), `"reject"`)

	resp, err = c.HTTP(context.Background(), http.MethodGet, addr, "/checkv2", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Status)
	assert.False(t, resp.OK())
}

func TestPing(t *testing.T) {
	addr := newDaemon(t)

	body, err := testClient().Ping(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "pong\r\n", body)
}

func TestScanFile(t *testing.T) {
	addr := newDaemon(t)

	body, err := testClient().ScanFile(context.Background(), addr, "/tmp/a b&c.eml")
	require.NoError(t, err)
	assert.Contains(t, body, `"file":"/tmp/a b&c.eml"`)
}

func TestGetNonOK(t *testing.T) {
	addr := newDaemon(t)

	_, err := testClient().get(context.Background(), addr, "/missing")
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestCheckJSON(t *testing.T) {
	t.Run("valid object", func(t *testing.T) {
		obj, err := CheckJSON([]byte(`{"action":"no action","score":1.5}`))
		require.NoError(t, err)
		assert.Equal(t, "no action", obj["action"])
		assert.Equal(t, 1.5, obj["score"])
	})

	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{name: "invalid", body: `{"a":`, reason: "invalid JSON"},
		{name: "empty object", body: `{}`, reason: "empty JSON object"},
		{name: "array", body: `[1,2]`, reason: "expected JSON object"},
		{name: "trailing data", body: `{"a":1} x`, reason: "trailing data"},
		{name: "control char", body: "{\"a\":\"x\ty\"}", reason: "invalid JSON"},
		{name: "error key", body: `{"error":"Cannot parse input"}`, reason: "daemon returned an error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckJSON([]byte(tt.body))
			var rerr *ResponseError
			require.True(t, errors.As(err, &rerr), "got %v", err)
			assert.Contains(t, rerr.Reason, tt.reason)
		})
	}

	t.Run("error message kept", func(t *testing.T) {
		_, err := CheckJSON([]byte(`{"error":"Cannot parse input"}`))
		assert.ErrorContains(t, err, "Cannot parse input")
	})
}
