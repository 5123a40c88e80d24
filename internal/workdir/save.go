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

package workdir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/functest/internal/log"
)

// SaveDir is the directory, relative to SaveTarget.Root, that run results
// are copied into.
const SaveDir = "robot-save"

// SaveTarget names where run results go.
type SaveTarget struct {
	// Root is the base directory. Empty means the working directory.
	Root string

	// Suite is the test suite name.
	Suite string

	// Test is the test case name. Empty for suite-level teardown.
	Test string

	Logger *slog.Logger
}

// Dir returns <Root>/robot-save/<Suite>[/<Test>].
func (t SaveTarget) Dir() string {
	dir := filepath.Join(t.Root, SaveDir, t.Suite)
	if t.Test != "" {
		dir = filepath.Join(dir, t.Test)
	}
	return dir
}

// SaveRunResults copies the named files from dir into target.Dir(), and
// each one also to <Root>/robot-save/<name>.last so the latest copy is easy
// to find. Names that are not regular files in dir are skipped. It returns
// the names that were saved.
func SaveRunResults(dir string, target SaveTarget, names []string) ([]string, error) {
	logger := log.OrDefault(target.Logger)

	dest := target.Dir()
	if err := os.MkdirAll(dest, DirMode); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	var saved []string
	for _, name := range names {
		if name == "" {
			continue
		}

		src := filepath.Join(dir, name)
		info, err := os.Stat(src)
		if err != nil || !info.Mode().IsRegular() {
			logger.Debug("run result not found, skipping", log.PathKey, src)
			continue
		}

		if err := copyFile(src, filepath.Join(dest, name), info.Mode().Perm()); err != nil {
			return saved, err
		}
		last := filepath.Join(target.Root, SaveDir, name+".last")
		if err := copyFile(src, last, info.Mode().Perm()); err != nil {
			return saved, err
		}

		logger.Debug("run result saved", log.PathKey, src, "dest", dest)
		saved = append(saved, name)
	}

	return saved, nil
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), DirMode); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Chmod(perm)
}
