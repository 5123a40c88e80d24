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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrPIDFileExists is returned when trying to create a PID file that already exists.
	ErrPIDFileExists = errors.New("PID file already exists")

	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")
)

// PIDFile reads and manages the PID file a daemon writes on startup.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PID file handle for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Create writes pid to a new file. It fails with ErrPIDFileExists rather
// than overwrite a PID file another daemon may own.
func (p *PIDFile) Create(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	// O_EXCL refuses to follow a planted symlink
	f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrPIDFileExists
		}
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		f.Close()
		os.Remove(p.path)
		return fmt.Errorf("failed to write PID: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(p.path)
		return fmt.Errorf("failed to close PID file: %w", err)
	}

	return nil
}

// Read reads the PID from the file. A missing file returns an error
// matching fs.ErrNotExist.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}

	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}

	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Exists returns true if the PID file exists.
func (p *PIDFile) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// WaitForPIDFile blocks until the file at path holds a valid PID or ctx is
// done. Daemons create the file and write it in separate steps, so an
// empty or partial file is waited on like a missing one. The parent
// directory must exist.
func WaitForPIDFile(ctx context.Context, path string) (int, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return 0, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// watch first, then read, so a write between the two is not missed
	pf := NewPIDFile(path)
	for {
		pid, err := pf.Read()
		if err == nil {
			return pid, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrInvalidPID) {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("waiting for PID file %s: %w", path, ctx.Err())
		case _, ok := <-watcher.Events:
			if !ok {
				return 0, errors.New("PID file watcher closed")
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return 0, errors.New("PID file watcher closed")
			}
			return 0, fmt.Errorf("PID file watcher: %w", werr)
		}
	}
}
