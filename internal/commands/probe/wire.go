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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/config"
	"github.com/tombee/functest/internal/probe"
)

func newRSPAMCCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rspamc [message|-]",
		Short: "Scan a message with the legacy RSPAMC/1.0 protocol",
		Example: `  functest probe rspamc spam.eml --expect 'body contains "Spam: true"'
  cat ham.eml | functest probe rspamc -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, opts, args, "probe rspamc", (*probe.Client).RSPAMC)
		},
	}
}

func newSPAMCCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "spamc [message|-]",
		Short: "Scan a message with the SpamAssassin-compatible SPAMC protocol",
		Example: `  functest probe spamc spam.eml --expect 'body contains "Spam: True"'`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, opts, args, "probe spamc", (*probe.Client).SPAMC)
		},
	}
}

type streamFunc func(*probe.Client, context.Context, string, []byte) (string, error)

func runStream(cmd *cobra.Command, opts *options, args []string, command string, send streamFunc) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	message, err := readMessage(cmd, path)
	if err != nil {
		return err
	}

	client, addr, err := opts.setup(normalAddr)
	if err != nil {
		return err
	}

	body, err := send(client, cmd.Context(), addr, message)
	if err != nil {
		return shared.Classify(command+" failed", err)
	}

	return opts.finish(cmd, reply{command: command, addr: addr, body: body, env: probe.RawEnv(body)})
}

func newTCPCommand(opts *options) *cobra.Command {
	var wait time.Duration
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "tcp",
		Short: "Check that a TCP port accepts connections",
		Example: `  functest probe tcp --addr 127.0.0.1:56789
  functest probe tcp --wait 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr, err := opts.setup(normalAddr)
			if err != nil {
				return err
			}

			if wait > 0 {
				ctx, cancel := context.WithTimeout(cmd.Context(), wait)
				defer cancel()
				err = client.WaitForTCP(ctx, addr, interval)
			} else {
				err = client.TCPConnect(cmd.Context(), addr)
			}
			if err != nil {
				return shared.Classify(fmt.Sprintf("%s is not accepting connections", addr), err)
			}

			return report(cmd, "probe tcp", addr, addr+" accepts connections")
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep trying for this long")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Delay between attempts with --wait")

	return cmd
}

func newRedisCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "redis",
		Short: "Check that a redis server answers ECHO",
		Long:  `Send ECHO TEST to a redis server and check the echo. Exits with code 5 when the reply is wrong.`,
		Example: `  functest probe redis --addr 127.0.0.1:6379`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, addr, err := opts.setup(func(*config.Config) string { return defaultRedisAddr })
			if err != nil {
				return err
			}

			ok, err := client.RedisCheck(cmd.Context(), addr)
			if err != nil {
				return shared.Classify("redis check failed", err)
			}
			if !ok {
				return shared.NewCheckFailedError(fmt.Sprintf("redis at %s did not echo", addr), nil)
			}

			return report(cmd, "probe redis", addr, "redis at "+addr+" is alive")
		},
	}
}

// defaultRedisAddr is where the functional tests run their redis.
const defaultRedisAddr = "127.0.0.1:6379"

// report prints the outcome of a probe that has no reply body.
func report(cmd *cobra.Command, command, addr, msg string) error {
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), Response{
			JSONResponse: shared.NewJSONResponse(command),
			Addr:         addr,
		})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(msg))
	}
	return nil
}
