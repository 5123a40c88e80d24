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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tombee/functest/internal/log"
)

// maxBody caps how much of an HTTP response is kept.
const maxBody = 10 * 1024 * 1024

// Response is the outcome of an HTTP probe.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ResponseError reports a reply that does not look like a successful JSON
// answer from the daemon.
type ResponseError struct {
	Reason string

	// Message is the daemon's "error" value, if it sent one.
	Message string

	Err error
}

func (e *ResponseError) Error() string {
	msg := "bad response: " + e.Reason
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// HTTP performs a request against http://addr/path. headers may be nil.
// Any status is returned as a Response; only transport failures are
// errors.
func (c *Client) HTTP(ctx context.Context, method, addr, path string, body []byte, headers map[string]string) (*Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	start := time.Now()
	ex := &log.Exchange{Protocol: "http", Addr: addr, Sent: len(body)}
	defer func() {
		ex.Duration = time.Since(start)
		log.LogExchange(c.logger(), ex)
	}()

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+addr+path, reqBody)
	if err != nil {
		ex.Err = fmt.Errorf("failed to create request: %w", err)
		return nil, ex.Err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client, err := c.httpClient()
	if err != nil {
		ex.Err = fmt.Errorf("invalid HTTP client config: %w", err)
		return nil, ex.Err
	}

	resp, err := client.Do(req)
	if err != nil {
		ex.Err = fmt.Errorf("%s %s: %w", method, path, err)
		return nil, ex.Err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	ex.Received = len(data)
	if err != nil {
		ex.Err = fmt.Errorf("failed to read response body: %w", err)
		return nil, ex.Err
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// get returns the body of a GET request, failing on a non-2xx status.
func (c *Client) get(ctx context.Context, addr, path string) (string, error) {
	resp, err := c.HTTP(ctx, http.MethodGet, addr, path, nil, nil)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("GET %s: unexpected status %d", path, resp.Status)
	}
	return string(resp.Body), nil
}

// Ping fetches /ping from the daemon's HTTP port.
func (c *Client) Ping(ctx context.Context, addr string) (string, error) {
	return c.get(ctx, addr, "/ping")
}

// ScanFile asks the daemon to scan a file on its own filesystem via
// /symbols?file=.
func (c *Client) ScanFile(ctx context.Context, addr, file string) (string, error) {
	return c.get(ctx, addr, "/symbols?file="+url.QueryEscape(file))
}

// CheckJSON decodes a daemon reply that must be a single non-empty JSON
// object without an "error" key.
func CheckJSON(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ResponseError{Reason: "invalid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ResponseError{Reason: "trailing data after JSON value"}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ResponseError{Reason: fmt.Sprintf("expected JSON object, got %T", v)}
	}
	if len(obj) == 0 {
		return nil, &ResponseError{Reason: "empty JSON object"}
	}
	if msg, ok := obj["error"]; ok {
		return nil, &ResponseError{Reason: "daemon returned an error", Message: fmt.Sprint(msg)}
	}

	return obj, nil
}
