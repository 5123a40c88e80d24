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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/probe"
)

func newPingCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "GET /ping from the controller",
		Example: `  functest probe ping
  functest probe ping --addr 127.0.0.1:56790 --expect 'body startsWith "pong"'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr, err := opts.setup(controllerAddr)
			if err != nil {
				return err
			}

			body, err := client.Ping(cmd.Context(), addr)
			if err != nil {
				return shared.Classify("ping failed", err)
			}

			env := probe.RawEnv(body)
			env["status"] = http.StatusOK
			return opts.finish(cmd, reply{command: "probe ping", addr: addr, status: http.StatusOK, body: body, env: env})
		},
	}
}

func newScanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <file>",
		Short: "Ask the daemon to scan a file on its own filesystem",
		Long: `GET /symbols?file=<file> from the scanning worker. The reply must be a
non-empty JSON object without an "error" key, else the command exits with
code 5.`,
		Example: `  functest probe scan /data/messages/spam.eml --filter '.symbols | keys'
  functest probe scan ham.eml --expect 'score(json) < 5'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr, err := opts.setup(normalAddr)
			if err != nil {
				return err
			}

			body, err := client.ScanFile(cmd.Context(), addr, args[0])
			if err != nil {
				return shared.Classify("scan failed", err)
			}

			obj, err := probe.CheckJSON([]byte(body))
			if err != nil {
				return shared.Classify(fmt.Sprintf("scan of %s failed", args[0]), err)
			}

			env := probe.RawEnv(body)
			env["status"] = http.StatusOK
			env["json"] = obj
			return opts.finish(cmd, reply{
				command: "probe scan",
				addr:    addr,
				status:  http.StatusOK,
				body:    body,
				json:    []byte(body),
				env:     env,
			})
		},
	}
}

type httpOptions struct {
	data      string
	headers   []string
	checkJSON bool
}

func newHTTPCommand(opts *options) *cobra.Command {
	hopts := &httpOptions{}

	cmd := &cobra.Command{
		Use:   "http <method> <path>",
		Short: "Send an HTTP request to the daemon",
		Long: `Send an HTTP request to the daemon and print the response body.

Without --expect a non-2xx status exits with code 5. With --check-json the
body must also be a non-empty JSON object without an "error" key.`,
		Example: `  functest probe http GET /stat --filter .scanned
  functest probe http POST /checkv2 --data @message.eml -H 'Settings-Id: test' --expect 'json.action == "reject"'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTP(cmd, opts, hopts, strings.ToUpper(args[0]), args[1])
		},
	}

	cmd.Flags().StringVarP(&hopts.data, "data", "d", "", "Request body, or @file to read it from a file")
	cmd.Flags().StringArrayVarP(&hopts.headers, "header", "H", nil, "Request header 'Name: value' (repeatable)")
	cmd.Flags().BoolVar(&hopts.checkJSON, "check-json", false, "Require a non-empty JSON object without an error key")

	return cmd
}

func runHTTP(cmd *cobra.Command, opts *options, hopts *httpOptions, method, path string) error {
	headers := make(map[string]string, len(hopts.headers))
	for _, h := range hopts.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return shared.NewUsageError(fmt.Sprintf("invalid header %q, want 'Name: value'", h), nil)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	var body []byte
	switch {
	case strings.HasPrefix(hopts.data, "@"):
		data, err := os.ReadFile(hopts.data[1:])
		if err != nil {
			return shared.Classify("failed to read request body", err)
		}
		body = data
	case hopts.data != "":
		body = []byte(hopts.data)
	}

	client, addr, err := opts.setup(controllerAddr)
	if err != nil {
		return err
	}

	resp, err := client.HTTP(cmd.Context(), method, addr, path, body, headers)
	if err != nil {
		return shared.Classify("request failed", err)
	}

	if hopts.checkJSON {
		if _, err := probe.CheckJSON(resp.Body); err != nil {
			return shared.Classify(fmt.Sprintf("%s %s", method, path), err)
		}
	}

	r := reply{
		command: "probe http",
		addr:    addr,
		status:  resp.Status,
		body:    string(resp.Body),
		env:     probe.Env(resp),
	}
	if json.Valid(resp.Body) {
		r.json = resp.Body
	}

	if err := opts.finish(cmd, r); err != nil {
		return err
	}
	if opts.expect == "" && !resp.OK() {
		return shared.NewCheckFailedError(fmt.Sprintf("%s %s: status %d", method, path, resp.Status), nil)
	}
	return nil
}
