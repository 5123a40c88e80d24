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

package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	functesterrors "github.com/tombee/functest/pkg/errors"
)

// Binary names one of the daemon's executables and where to find it.
type Binary struct {
	// Name is the executable name, e.g. "rspamd".
	Name string

	// Env is the variable that overrides the path, e.g. "RSPAMD".
	Env string

	// SourcePath is the location relative to the source top directory.
	SourcePath string
}

// The executables the harness drives.
var (
	Rspamd   = Binary{Name: "rspamd", Env: "RSPAMD", SourcePath: "src/rspamd"}
	Rspamc   = Binary{Name: "rspamc", Env: "RSPAMC", SourcePath: "src/client/rspamc"}
	Rspamadm = Binary{Name: "rspamadm", Env: "RSPAMADM", SourcePath: "src/rspamadm/rspamadm"}
)

// Binaries lists every known executable by name.
var Binaries = map[string]Binary{
	Rspamd.Name:   Rspamd,
	Rspamc.Name:   Rspamc,
	Rspamadm.Name: Rspamadm,
}

// TestDir is the functional test directory; the harness runs from it.
func TestDir() (string, error) {
	return os.Getwd()
}

// TopDir is the source checkout root: $RSPAMD_TOPDIR, or two levels above
// the test directory.
func TopDir() (string, error) {
	if dir := os.Getenv("RSPAMD_TOPDIR"); dir != "" {
		return dir, nil
	}

	testDir, err := TestDir()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Clean(filepath.Join(testDir, "..", "..")), nil
}

// InstallRoot is the absolute $RSPAMD_INSTALLROOT, or ../install.
func InstallRoot() (string, error) {
	root := os.Getenv("RSPAMD_INSTALLROOT")
	if root == "" {
		root = filepath.Join("..", "install")
	}
	return filepath.Abs(root)
}

// Path resolves the binary location without checking it exists. The
// binary's own variable wins, then $RSPAMD_INSTALLROOT/bin, then the
// build tree under TopDir.
func (b Binary) Path() (string, error) {
	if p := os.Getenv(b.Env); p != "" {
		return p, nil
	}
	if root := os.Getenv("RSPAMD_INSTALLROOT"); root != "" {
		return filepath.Join(root, "bin", b.Name), nil
	}

	top, err := TopDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(top, b.SourcePath), nil
}

// Resolve is Path plus an existence check.
func (b Binary) Resolve() (string, error) {
	p, err := b.Path()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", &functesterrors.NotFoundError{Resource: "binary", ID: p}
	}
	return p, nil
}

// Which looks up cmd on PATH.
func Which(cmd string) (string, error) {
	p, err := exec.LookPath(cmd)
	if err != nil {
		return "", &functesterrors.NotFoundError{Resource: "binary", ID: cmd}
	}
	return p, nil
}
