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

package log

import (
	"log/slog"
	"time"
)

// Exchange describes one request/response round trip with the daemon
// under test.
type Exchange struct {
	// Protocol is the probe kind (e.g. "rspamc", "spamc", "http", "redis").
	Protocol string

	// Addr is the remote address.
	Addr string

	// Sent and Received are payload sizes in bytes.
	Sent     int
	Received int

	Duration time.Duration

	// Err is the failure, if any.
	Err error
}

// LogExchange logs a completed probe exchange. Failures are logged at warn
// level since the caller usually retries.
func LogExchange(logger *slog.Logger, ex *Exchange) {
	attrs := []any{
		EventKey, "probe",
		"protocol", ex.Protocol,
		AddrKey, ex.Addr,
		"sent", ex.Sent,
		"received", ex.Received,
		DurationKey, ex.Duration.Milliseconds(),
	}

	if ex.Err != nil {
		attrs = append(attrs, "error", ex.Err)
		logger.Warn("probe failed", attrs...)
		return
	}

	logger.Debug("probe completed", attrs...)
}
