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

// Package probe talks to the daemon under test over its wire protocols.
//
// The probes are smoke tests: they frame one request, read one bounded
// reply and hand the raw bytes back. Parsing the reply is left to the
// caller, optionally through Filter and Expect.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/functest/internal/log"
	"github.com/tombee/functest/pkg/httpclient"
)

const (
	// DefaultDialTimeout bounds TCP connects and protocol exchanges.
	DefaultDialTimeout = 5 * time.Second

	// RedisTimeout bounds the whole redis liveness check.
	RedisTimeout = 1 * time.Second

	// MaxReply is the most a protocol probe reads back.
	MaxReply = 2048

	// mboxFrom precedes the message in RSPAMC requests and is counted in
	// Content-length.
	mboxFrom = "From MAILER-DAEMON Fri May 13 19:17:40 2016\r\n"

	redisReplyLimit = 128
)

var (
	// ErrEmptyReply is returned when the daemon closed without answering.
	ErrEmptyReply = errors.New("empty reply")

	// ErrNotTCP is returned when a half-close is needed on a non-TCP
	// connection.
	ErrNotTCP = errors.New("connection does not support half-close")
)

// Client runs probes against a daemon. The zero value is usable.
type Client struct {
	// Timeout bounds each exchange. Default: DefaultDialTimeout
	Timeout time.Duration

	// HTTPClient is used for HTTP probes. Default: an httpclient with
	// Timeout and Retries.
	HTTPClient *http.Client

	// Retries is how often an HTTP probe is retried on connection errors
	// and 5xx answers. Scans are repeatable, so POSTs are retried too.
	Retries int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewClient creates a client with the given exchange timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{Timeout: timeout, Logger: logger}
}

func (c *Client) timeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return DefaultDialTimeout
	}
	return c.Timeout
}

func (c *Client) logger() *slog.Logger {
	if c == nil {
		return slog.Default()
	}
	return log.OrDefault(c.Logger)
}

func (c *Client) httpClient() (*http.Client, error) {
	if c != nil && c.HTTPClient != nil {
		return c.HTTPClient, nil
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = c.timeout()
	cfg.AllowNonIdempotentRetry = true
	cfg.Logger = c.logger()
	if c != nil {
		cfg.RetryAttempts = c.Retries
	}
	return httpclient.New(cfg)
}

// dial opens a TCP connection whose deadline is the exchange timeout and
// which is interrupted when ctx is done.
func (c *Client) dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, func(), error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})

	return conn, func() {
		stop()
		conn.Close()
	}, nil
}

// RSPAMC sends message using the legacy RSPAMC/1.0 CHECK command and
// returns the raw reply.
func (c *Client) RSPAMC(ctx context.Context, addr string, message []byte) (string, error) {
	var req bytes.Buffer
	req.WriteString("CHECK RSPAMC/1.0\r\nContent-length: ")
	req.WriteString(strconv.Itoa(len(mboxFrom) + len(message)))
	req.WriteString("\r\n\r\n")
	req.WriteString(mboxFrom)
	req.Write(message)

	return c.exchange(ctx, "rspamc", addr, req.Bytes(), false)
}

// SPAMC sends message using the SpamAssassin-compatible SYMBOLS command,
// half-closes the write side and returns the raw reply.
func (c *Client) SPAMC(ctx context.Context, addr string, message []byte) (string, error) {
	var req bytes.Buffer
	req.WriteString("SYMBOLS SPAMC/1.0\r\nContent-length: ")
	req.WriteString(strconv.Itoa(len(message)))
	req.WriteString("\r\n\r\n")
	req.Write(message)

	return c.exchange(ctx, "spamc", addr, req.Bytes(), true)
}

func (c *Client) exchange(ctx context.Context, protocol, addr string, req []byte, halfClose bool) (string, error) {
	start := time.Now()
	ex := &log.Exchange{Protocol: protocol, Addr: addr}
	defer func() {
		ex.Duration = time.Since(start)
		log.LogExchange(c.logger(), ex)
	}()

	conn, closeConn, err := c.dial(ctx, addr, c.timeout())
	if err != nil {
		ex.Err = fmt.Errorf("%s connect to %s: %w", protocol, addr, err)
		return "", ex.Err
	}
	defer closeConn()

	n, err := conn.Write(req)
	ex.Sent = n
	if err != nil {
		ex.Err = fmt.Errorf("%s write to %s: %w", protocol, addr, err)
		return "", ex.Err
	}

	if halfClose {
		cw, ok := conn.(interface{ CloseWrite() error })
		if !ok {
			ex.Err = ErrNotTCP
			return "", ex.Err
		}
		if err := cw.CloseWrite(); err != nil {
			ex.Err = fmt.Errorf("%s half-close: %w", protocol, err)
			return "", ex.Err
		}
	}

	reply, err := readReply(conn, MaxReply)
	ex.Received = len(reply)
	if err != nil {
		ex.Err = fmt.Errorf("%s read from %s: %w", protocol, addr, err)
		return "", ex.Err
	}

	return string(reply), nil
}

// readReply reads until EOF or limit bytes. A timeout after some data
// arrived ends the reply rather than failing it, since the daemon may keep
// the connection open.
func readReply(r io.Reader, limit int) ([]byte, error) {
	buf := make([]byte, limit)
	total := 0
	for total < limit {
		n, err := r.Read(buf[total:])
		total += n
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		var nerr net.Error
		if total > 0 && errors.As(err, &nerr) && nerr.Timeout() {
			break
		}
		return buf[:total], err
	}

	if total == 0 {
		return nil, ErrEmptyReply
	}
	return buf[:total], nil
}

// TCPConnect opens and closes a TCP connection to addr.
func (c *Client) TCPConnect(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: c.timeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	return conn.Close()
}

// WaitForTCP polls TCPConnect at most once per interval until it succeeds
// or ctx is done.
func (c *Client) WaitForTCP(ctx context.Context, addr string, interval time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				return fmt.Errorf("waiting for %s: %w", addr, err)
			}
			return fmt.Errorf("waiting for %s: %w (last error: %v)", addr, err, lastErr)
		}

		lastErr = c.TCPConnect(ctx, addr)
		if lastErr == nil {
			c.logger().Debug("port open", log.AddrKey, addr, "attempts", attempt)
			return nil
		}
	}
}

// RedisCheck reports whether a redis server at addr answers ECHO. The
// inline command is answered with a RESP bulk string; a bare "TEST" line
// is accepted as well.
func (c *Client) RedisCheck(ctx context.Context, addr string) (bool, error) {
	start := time.Now()
	ex := &log.Exchange{Protocol: "redis", Addr: addr}
	defer func() {
		ex.Duration = time.Since(start)
		log.LogExchange(c.logger(), ex)
	}()

	conn, closeConn, err := c.dial(ctx, addr, RedisTimeout)
	if err != nil {
		ex.Err = fmt.Errorf("redis connect to %s: %w", addr, err)
		return false, ex.Err
	}
	defer closeConn()

	n, err := io.WriteString(conn, "ECHO TEST\r\n")
	ex.Sent = n
	if err != nil {
		ex.Err = fmt.Errorf("redis write: %w", err)
		return false, ex.Err
	}

	buf := make([]byte, redisReplyLimit)
	n, err = conn.Read(buf)
	ex.Received = n
	if n == 0 && err != nil {
		ex.Err = fmt.Errorf("redis read: %w", err)
		return false, ex.Err
	}

	switch string(buf[:n]) {
	case "$4\r\nTEST\r\n", "TEST\n", "TEST\r\n":
		return true, nil
	}
	return false, nil
}
