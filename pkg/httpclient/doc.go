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

// Package httpclient builds the HTTP clients used to talk to the daemon's
// controller and normal worker.
//
// Clients log every request through log/slog with secrets redacted from
// the URL, set a User-Agent, and can retry transient failures with
// exponential backoff:
//
//	client, err := httpclient.New(httpclient.Config{
//	    Timeout:       5 * time.Second,
//	    RetryAttempts: 3,
//	})
//
// Only GET, HEAD and OPTIONS are retried unless AllowNonIdempotentRetry is
// set. Retries happen on connection errors, 5xx, 408 and 429; a
// Retry-After header shortens the wait.
package httpclient
