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

package shared

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/functest/internal/lifecycle"
	"github.com/tombee/functest/internal/probe"
	pkgerrors "github.com/tombee/functest/pkg/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &pkgerrors.NotFoundError{Resource: "binary", ID: "rspamd"}, ExitNotFound},
		{"missing file", fmt.Errorf("open: %w", os.ErrNotExist), ExitNotFound},
		{"no process", lifecycle.ErrProcessNotRunning, ExitNotFound},
		{"timeout", &pkgerrors.TimeoutError{Operation: "ping"}, ExitTimeout},
		{"health timeout", fmt.Errorf("start: %w", lifecycle.ErrHealthCheckTimeout), ExitTimeout},
		{"config", &pkgerrors.ConfigError{Key: "daemon.host", Reason: "bad"}, ExitUsage},
		{"bad reply", &probe.ResponseError{Reason: "empty JSON object"}, ExitCheckFailed},
		{"other", errors.New("boom"), ExitFailure},
		{"already classified", NewCheckFailedError("expectation failed", nil), ExitCheckFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("command failed", tt.err)
			assert.Equal(t, tt.want, err.Code)
			assert.Equal(t, tt.want, ExitCode(err))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("x")))
	assert.Equal(t, ExitUsage, ExitCode(fmt.Errorf("wrapped: %w", NewUsageError("bad flag", nil))))
}

func TestExitError_Error(t *testing.T) {
	assert.Equal(t, "stop failed", NewFailure("stop failed", nil).Error())
	assert.Equal(t, "stop failed: boom", NewFailure("stop failed", errors.New("boom")).Error())
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, Classify("start failed", &pkgerrors.NotFoundError{Resource: "binary", ID: "/x/rspamd"}))

	out := buf.String()
	assert.Contains(t, out, "Error: start failed: binary not found: /x/rspamd")
	assert.Contains(t, out, "Suggestion: Set RSPAMD")
}

func TestEmitJSONError(t *testing.T) {
	var buf bytes.Buffer
	err := NewCheckFailedError("expectation failed", errors.New("status == 200"))
	require.NoError(t, EmitJSONError(&buf, "probe ping", err))

	var got struct {
		Version string `json:"@version"`
		Command string `json:"command"`
		Success bool   `json:"success"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "1.0", got.Version)
	assert.Equal(t, "probe ping", got.Command)
	assert.False(t, got.Success)
	assert.Equal(t, ExitCheckFailed, got.Error.Code)
	assert.Contains(t, got.Error.Message, "status == 200")
}

func TestSignalValue(t *testing.T) {
	tests := []struct {
		in   string
		want syscall.Signal
	}{
		{"USR1", syscall.SIGUSR1},
		{"sigusr2", syscall.SIGUSR2},
		{"HUP", syscall.SIGHUP},
		{"9", syscall.SIGKILL},
	}
	for _, tt := range tests {
		v := NewSignalValue(syscall.SIGTERM)
		require.NoError(t, v.Set(tt.in), tt.in)
		assert.Equal(t, tt.want, v.Signal(), tt.in)
	}

	v := NewSignalValue(syscall.SIGTERM)
	assert.Equal(t, "TERM", v.String())
	assert.Equal(t, "signal", v.Type())
	assert.Error(t, v.Set("BOGUS"))
	assert.Error(t, v.Set("-1"))
	assert.Equal(t, syscall.SIGTERM, v.Signal())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  normal_port: 11333\n"), 0o644))

	ResetForTest(path)
	t.Cleanup(func() { ResetForTest("") })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 11333, cfg.Daemon.NormalPort)

	again, err := LoadConfig()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(-1))
	assert.Equal(t, "1.5 kB", FormatSize(1500))
}

func TestRenderPlainWithoutTTY(t *testing.T) {
	if IsTTY() {
		t.Skip("stdout is a terminal")
	}
	assert.Equal(t, SymbolOK+" done", RenderOK("done"))
	assert.Equal(t, "label", RenderLabel("label"))
}
