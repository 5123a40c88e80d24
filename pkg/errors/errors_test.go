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

package errors

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ignored"))
	assert.NoError(t, Wrapf(nil, "ignored %d", 1))

	err := Wrapf(fs.ErrNotExist, "reading %s", "rspamd.pid")
	assert.EqualError(t, err, "reading rspamd.pid: file does not exist")
	assert.True(t, Is(err, fs.ErrNotExist))
	assert.True(t, Is(Wrap(err, "outer"), fs.ErrNotExist))
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "binary", ID: "/opt/rspamd/bin/rspamd"}

	assert.Equal(t, "binary not found: /opt/rspamd/bin/rspamd", err.Error())

	var uv UserVisibleError = err
	assert.True(t, uv.IsUserVisible())
	assert.NotEmpty(t, uv.Suggestion())
	assert.Empty(t, (&NotFoundError{Resource: "pid file"}).Suggestion())
}

func TestConfigError(t *testing.T) {
	cause := errors.New("yaml: line 3: did not find expected key")

	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{
			name: "with key and cause",
			err:  &ConfigError{Key: "config_file", Reason: "failed to parse", Cause: cause},
			want: "config error at config_file: failed to parse: yaml: line 3: did not find expected key",
		},
		{
			name: "reason only",
			err:  &ConfigError{Reason: "daemon address is required"},
			want: "config error: daemon address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}

	wrapped := Wrap(&ConfigError{Key: "k", Reason: "r", Cause: cause}, "loading")
	var ce *ConfigError
	require.True(t, As(wrapped, &ce))
	assert.Equal(t, "k", ce.Key)
	assert.True(t, Is(wrapped, cause))
}

func TestTimeoutError(t *testing.T) {
	sentinel := New("shutdown timeout exceeded")
	err := &TimeoutError{Operation: "daemon shutdown", Duration: 10 * time.Second, Cause: sentinel}

	assert.Equal(t, "daemon shutdown operation timed out after 10s", err.Error())
	assert.ErrorIs(t, err, sentinel)
}
