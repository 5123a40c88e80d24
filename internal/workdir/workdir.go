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

// Package workdir manages the scratch directories and files of a test run.
package workdir

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
)

// DirMode is the mode of directories made by MakeTempDir, so a daemon
// that drops privileges can still enter them.
const DirMode = 0o755

// MakeTempDir creates a unique directory under the system temp dir.
func MakeTempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	if err := os.Chmod(dir, DirMode); err != nil {
		os.Remove(dir)
		return "", fmt.Errorf("failed to chmod temp directory: %w", err)
	}
	return dir, nil
}

// MakeTempFile returns an unused path in dir (the system temp dir when
// empty). The file itself is not left behind.
func MakeTempFile(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	f.Close()

	if err := os.Remove(name); err != nil {
		return "", fmt.Errorf("failed to release temp file: %w", err)
	}
	return name, nil
}

// Cleanup removes dir and everything below it.
func Cleanup(dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("refusing to remove %q", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

// SetOwnership changes the owner of path to the named user and group. It
// only acts when running as root and reports whether it did.
func SetOwnership(path, username, groupname string) (bool, error) {
	if os.Geteuid() != 0 {
		return false, nil
	}

	u, err := user.Lookup(username)
	if err != nil {
		return false, fmt.Errorf("failed to look up user %s: %w", username, err)
	}
	g, err := user.LookupGroup(groupname)
	if err != nil {
		return false, fmt.Errorf("failed to look up group %s: %w", groupname, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return false, fmt.Errorf("non-numeric uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return false, fmt.Errorf("non-numeric gid %q: %w", g.Gid, err)
	}

	if err := os.Chown(path, uid, gid); err != nil {
		return false, fmt.Errorf("failed to chown %s: %w", path, err)
	}
	return true, nil
}

// ReadFrom returns the contents of path from offset to the end together
// with the offset to pass next time. Used to tail daemon logs between
// test steps.
func ReadFrom(path string, offset int64) ([]byte, int64, error) {
	if offset < 0 {
		return nil, 0, fmt.Errorf("negative offset %d", offset)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("failed to seek log: %w", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, fmt.Errorf("failed to read log: %w", err)
	}
	return data, offset + int64(len(data)), nil
}

// SplitPath splits path into its directory and final element. Unlike
// filepath.Split the directory has no trailing separator, unless it is the
// root, and a bare name has an empty directory.
func SplitPath(path string) (dir, base string) {
	dir, base = filepath.Split(path)
	if trimmed := strings.TrimRight(dir, string(filepath.Separator)); trimmed != "" {
		dir = trimmed
	} else if dir != "" {
		dir = string(filepath.Separator)
	}
	return dir, base
}

// ReadIfExists returns the contents of path and true, or "" and false if
// there is no such file.
func ReadIfExists(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// EncodeFilename encodes every character of name as '%' followed by its
// code point in upper-case hex, without padding ("a\n" becomes "%61%A").
func EncodeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		b.WriteByte('%')
		b.WriteString(strings.ToUpper(strconv.FormatInt(int64(r), 16)))
	}
	return b.String()
}
