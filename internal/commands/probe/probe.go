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

// Package probe implements the "functest probe" commands.
package probe

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/config"
	"github.com/tombee/functest/internal/log"
	"github.com/tombee/functest/internal/probe"
)

// NewCommand creates the probe command group.
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Talk to the daemon over its wire protocols",
		Long: `Send one request to the daemon and print its reply.

Replies can be narrowed with a jq --filter (JSON replies only) and asserted
with an --expect expression. The expression sees status, body, json and
headers, plus the helpers match, hasSymbol, symbols and score. A false
expectation exits with code 5.`,
	}

	cmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "Daemon address host:port (default from config)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Exchange timeout (default: http_timeout from config)")
	cmd.PersistentFlags().IntVar(&opts.retries, "retries", 0, "Retry HTTP probes this often on connection errors and 5xx")
	cmd.PersistentFlags().StringVar(&opts.filter, "filter", "", "jq expression applied to a JSON reply")
	cmd.PersistentFlags().StringVar(&opts.expect, "expect", "", "Boolean expression the reply must satisfy")

	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newScanCommand(opts))
	cmd.AddCommand(newHTTPCommand(opts))
	cmd.AddCommand(newRSPAMCCommand(opts))
	cmd.AddCommand(newSPAMCCommand(opts))
	cmd.AddCommand(newTCPCommand(opts))
	cmd.AddCommand(newRedisCommand(opts))

	return cmd
}

// options are shared by every probe subcommand.
type options struct {
	addr    string
	timeout time.Duration
	retries int
	filter  string
	expect  string
}

// Expectation is the JSON form of an --expect outcome.
type Expectation struct {
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Error      string `json:"error,omitempty"`
}

// Response is the JSON output of every probe command.
type Response struct {
	shared.JSONResponse
	Addr   string       `json:"addr"`
	Status int          `json:"status,omitempty"`
	Reply  string       `json:"reply,omitempty"`
	Result any          `json:"result,omitempty"`
	Expect *Expectation `json:"expect,omitempty"`
}

// reply is what a probe got back, ready for filtering and expectations.
type reply struct {
	command string
	addr    string
	status  int
	body    string
	json    []byte
	env     map[string]any
}

func logger() *slog.Logger {
	return log.WithComponent(slog.Default(), "probe")
}

// setup loads the config and returns a client plus the address to use,
// falling back to def(cfg) when --addr is not set.
func (o *options) setup(def func(*config.Config) string) (*probe.Client, string, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, "", shared.Classify("failed to load config", err)
	}

	timeout := o.timeout
	if timeout <= 0 {
		timeout = cfg.Daemon.HTTPTimeout
	}

	addr := o.addr
	if addr == "" {
		addr = def(cfg)
	}

	if o.filter != "" {
		if err := filter.Validate(o.filter); err != nil {
			return nil, "", shared.NewUsageError("invalid --filter", err)
		}
	}
	if o.retries < 0 {
		return nil, "", shared.NewUsageError(fmt.Sprintf("invalid --retries %d", o.retries), nil)
	}

	client := probe.NewClient(timeout, logger())
	client.Retries = o.retries
	return client, addr, nil
}

var (
	filter   = probe.NewFilter(0, 0)
	expecter = probe.NewExpecter()
)

// finish filters r, checks the expectation and prints the outcome.
func (o *options) finish(cmd *cobra.Command, r reply) error {
	resp := Response{
		JSONResponse: shared.NewJSONResponse(r.command),
		Addr:         r.addr,
		Status:       r.status,
		Reply:        r.body,
	}

	if o.filter != "" {
		if r.json == nil {
			return shared.NewUsageError("--filter needs a JSON reply", nil)
		}
		result, err := filter.Apply(cmd.Context(), o.filter, r.json)
		if err != nil {
			return shared.NewFailure("filter failed", err)
		}
		resp.Result = result
	}

	var failed error
	if o.expect != "" {
		res := expecter.Check(o.expect, r.env)
		resp.Expect = &Expectation{Expression: res.Expression, Passed: res.Passed}
		switch {
		case res.Error != nil:
			resp.Expect.Error = res.Error.Error()
			failed = shared.NewUsageError("invalid --expect", res.Error)
		case !res.Passed:
			failed = shared.NewCheckFailedError(fmt.Sprintf("expectation %q did not hold", o.expect), nil)
		}
		resp.Success = failed == nil
	}

	if err := o.print(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	return failed
}

func (o *options) print(w io.Writer, resp Response) error {
	if shared.GetJSON() {
		return shared.EmitJSON(w, resp)
	}
	if shared.GetQuiet() {
		return nil
	}

	switch {
	case resp.Result != nil:
		data, err := json.MarshalIndent(resp.Result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode filter result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	case o.filter != "":
		fmt.Fprintln(w, "null")
	case resp.Reply != "":
		fmt.Fprint(w, resp.Reply)
		if resp.Reply[len(resp.Reply)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}

	if resp.Expect != nil {
		if resp.Expect.Passed {
			fmt.Fprintln(w, shared.RenderOK("expectation held: "+resp.Expect.Expression))
		} else {
			fmt.Fprintln(w, shared.RenderError("expectation failed: "+resp.Expect.Expression))
		}
	}
	return nil
}

// readMessage reads the message to scan from path, or stdin for "" and "-".
func readMessage(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, shared.NewFailure("failed to read message from stdin", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shared.Classify("failed to read message", err)
	}
	return data, nil
}

func normalAddr(cfg *config.Config) string     { return cfg.NormalAddr() }
func controllerAddr(cfg *config.Config) string { return cfg.ControllerAddr() }
