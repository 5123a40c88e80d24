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

// Package workdir implements the "functest workdir" commands.
package workdir

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/log"
	"github.com/tombee/functest/internal/workdir"
)

// NewCommand creates the workdir command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workdir",
		Short: "Manage temporary run directories and their artefacts",
	}

	cmd.AddCommand(newMktempCommand())
	cmd.AddCommand(newCleanupCommand())
	cmd.AddCommand(newSaveCommand())
	cmd.AddCommand(newReadLogCommand())
	cmd.AddCommand(newCatCommand())
	cmd.AddCommand(newSplitCommand())
	cmd.AddCommand(newEncodeCommand())

	return cmd
}

func logger() *slog.Logger {
	return log.WithComponent(slog.Default(), "workdir")
}

// PathResponse is the JSON output of commands that produce a path.
type PathResponse struct {
	shared.JSONResponse
	Path    string `json:"path"`
	Chowned bool   `json:"chowned,omitempty"`
}

func emitPath(cmd *cobra.Command, command, path string, chowned bool) error {
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), PathResponse{
			JSONResponse: shared.NewJSONResponse(command),
			Path:         path,
			Chowned:      chowned,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

type mktempOptions struct {
	prefix string
	file   bool
	dir    string
	chown  string
}

func newMktempCommand() *cobra.Command {
	opts := &mktempOptions{}

	cmd := &cobra.Command{
		Use:   "mktemp",
		Short: "Create a temporary run directory, or pick a temporary file name",
		Long: `Create a unique directory (mode 0755) under the system temp dir and print
its path. With --file, print an unused file name instead; the file itself
is not left behind.

--chown user:group hands the directory to the user the daemon drops
privileges to. It only takes effect when running as root.`,
		Example: `  dir=$(functest workdir mktemp --chown nobody:nogroup)
  functest workdir mktemp --file --dir "$dir" --prefix rspamd.sock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMktemp(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.prefix, "prefix", "rspamd-test.", "Name prefix")
	cmd.Flags().BoolVar(&opts.file, "file", false, "Print an unused file name instead of creating a directory")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Parent directory for --file (default: tmp_dir from config, else the system temp dir)")
	cmd.Flags().StringVar(&opts.chown, "chown", "", "Owner user:group for the new directory")

	return cmd
}

func runMktemp(cmd *cobra.Command, opts *mktempOptions) error {
	if opts.file {
		dir := opts.dir
		if dir == "" {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return shared.Classify("failed to load config", err)
			}
			dir = cfg.TmpDir
		}
		path, err := workdir.MakeTempFile(dir, opts.prefix+"*")
		if err != nil {
			return shared.Classify("mktemp failed", err)
		}
		return emitPath(cmd, "workdir mktemp", path, false)
	}

	dir, err := workdir.MakeTempDir(opts.prefix)
	if err != nil {
		return shared.Classify("mktemp failed", err)
	}

	chowned := false
	if opts.chown != "" {
		user, group, ok := strings.Cut(opts.chown, ":")
		if !ok || user == "" || group == "" {
			workdir.Cleanup(dir)
			return shared.NewUsageError(fmt.Sprintf("invalid --chown %q, want user:group", opts.chown), nil)
		}
		chowned, err = workdir.SetOwnership(dir, user, group)
		if err != nil {
			workdir.Cleanup(dir)
			return shared.Classify("failed to set directory ownership", err)
		}
		if !chowned {
			logger().Debug("not running as root, ownership unchanged", log.PathKey, dir)
		}
	}

	return emitPath(cmd, "workdir mktemp", dir, chowned)
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <dir>...",
		Short: "Remove run directories and everything below them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dir := range args {
				if err := workdir.Cleanup(dir); err != nil {
					return shared.NewFailure("cleanup failed", err)
				}
				logger().Debug("removed run directory", log.PathKey, dir)
			}
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), shared.NewJSONResponse("workdir cleanup"))
			}
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("removed "+strings.Join(args, ", ")))
			}
			return nil
		},
	}
}

type saveOptions struct {
	root  string
	suite string
	test  string
}

// SaveResponse is the JSON output of "workdir save".
type SaveResponse struct {
	shared.JSONResponse
	Dir   string   `json:"dir"`
	Saved []string `json:"saved"`
}

func newSaveCommand() *cobra.Command {
	opts := &saveOptions{}

	cmd := &cobra.Command{
		Use:   "save <dir> <name>...",
		Short: "Keep run artefacts after a test",
		Long: `Copy the named files from a run directory into
<root>/robot-save/<suite>[/<test>]/, and each one to
<root>/robot-save/<name>.last. Names missing from the run directory are
skipped.`,
		Example: `  functest workdir save "$dir" rspamd.log lifecycle.jsonl --suite Antivirus --test "Clam Virus"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(cmd, opts, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&opts.root, "root", "", "Directory holding robot-save (default: save_root from config, else the working directory)")
	cmd.Flags().StringVar(&opts.suite, "suite", "", "Suite name")
	cmd.Flags().StringVar(&opts.test, "test", "", "Test name")
	_ = cmd.MarkFlagRequired("suite")

	return cmd
}

func runSave(cmd *cobra.Command, opts *saveOptions, dir string, names []string) error {
	root := opts.root
	if root == "" {
		cfg, err := shared.LoadConfig()
		if err != nil {
			return shared.Classify("failed to load config", err)
		}
		root = cfg.SaveRoot
	}

	target := workdir.SaveTarget{Root: root, Suite: opts.suite, Test: opts.test, Logger: logger()}
	saved, err := workdir.SaveRunResults(dir, target, names)
	if err != nil {
		return shared.NewFailure("failed to save run results", err)
	}
	if saved == nil {
		saved = []string{}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), SaveResponse{
			JSONResponse: shared.NewJSONResponse("workdir save"),
			Dir:          target.Dir(),
			Saved:        saved,
		})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("saved %d of %d file(s) to %s", len(saved), len(names), target.Dir())))
	}
	return nil
}

type readLogOptions struct {
	offset int64
	state  string
}

// ReadLogResponse is the JSON output of "workdir read-log".
type ReadLogResponse struct {
	shared.JSONResponse
	Content string `json:"content"`
	Offset  int64  `json:"offset"`
}

func newReadLogCommand() *cobra.Command {
	opts := &readLogOptions{}

	cmd := &cobra.Command{
		Use:   "read-log <file>",
		Short: "Print what a log gained since the last read",
		Long: `Print the contents of a log file from --offset to its end.

With --state the offset is read from, and the new offset written to, the
given file, so successive calls each print only what was appended in
between.`,
		Example: `  functest workdir read-log "$dir/rspamd.log" --state "$dir/rspamd.log.pos"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReadLog(cmd, opts, args[0])
		},
	}

	cmd.Flags().Int64Var(&opts.offset, "offset", 0, "Byte offset to start from")
	cmd.Flags().StringVar(&opts.state, "state", "", "File holding the offset between calls")
	cmd.MarkFlagsMutuallyExclusive("offset", "state")

	return cmd
}

func runReadLog(cmd *cobra.Command, opts *readLogOptions, path string) error {
	offset := opts.offset
	if opts.state != "" {
		data, ok, err := workdir.ReadIfExists(opts.state)
		if err != nil {
			return shared.NewFailure("failed to read offset state", err)
		}
		if ok {
			offset, err = strconv.ParseInt(strings.TrimSpace(data), 10, 64)
			if err != nil || offset < 0 {
				return shared.NewUsageError(fmt.Sprintf("invalid offset in %s: %q", opts.state, data), nil)
			}
		}
	}

	content, next, err := workdir.ReadFrom(path, offset)
	if err != nil {
		return shared.Classify("read-log failed", err)
	}

	if opts.state != "" {
		if err := os.WriteFile(opts.state, []byte(strconv.FormatInt(next, 10)+"\n"), 0o644); err != nil {
			return shared.NewFailure("failed to write offset state", err)
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), ReadLogResponse{
			JSONResponse: shared.NewJSONResponse("workdir read-log"),
			Content:      string(content),
			Offset:       next,
		})
	}
	_, err = cmd.OutOrStdout().Write(content)
	return err
}

func newCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <file>",
		Short: "Print a file if it exists",
		Long:  `Print a file. A missing file prints nothing and exits with code 3.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, ok, err := workdir.ReadIfExists(args[0])
			if err != nil {
				return shared.NewFailure("cat failed", err)
			}
			if !ok {
				return &shared.ExitError{Code: shared.ExitNotFound, Message: args[0] + " does not exist"}
			}
			fmt.Fprint(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func newSplitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "split <path>",
		Short: "Print the directory and final element of a path on two lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, base := workdir.SplitPath(args[0])
			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), struct {
					shared.JSONResponse
					Dir  string `json:"dir"`
					Base string `json:"base"`
				}{shared.NewJSONResponse("workdir split"), dir, base})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", dir, base)
			return nil
		},
	}
}

func newEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <name>",
		Short: "Percent-encode every character of a name",
		Long: `Encode every character of a name as '%' and its code point in upper-case
hex, giving a file name safe for any test name.`,
		Example: `  functest workdir encode "Clam Virus"   # %43%6C%61%6D%20%56%69%72%75%73`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), workdir.EncodeFilename(args[0]))
			return nil
		},
	}
}
