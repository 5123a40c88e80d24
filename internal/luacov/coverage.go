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

package luacov

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// Map accumulates per-line execution counts keyed by source file name.
// Index i of a count vector is line i+1 of the source.
type Map map[string][]int64

// Merge adds rec into m. A new source is stored as a copy of rec.Counts.
// An existing vector shorter than rec.Counts is first extended with zeros;
// a longer one keeps its tail unchanged. Sums saturate at math.MaxInt64.
// m must be non-nil; use make(Map) or Map{}.
func (m Map) Merge(rec Record) {
	if m == nil {
		panic("luacov: Merge on nil Map")
	}

	existing, ok := m[rec.Source]
	if !ok {
		m[rec.Source] = append(make([]int64, 0, len(rec.Counts)), rec.Counts...)
		return
	}

	if grow := len(rec.Counts) - len(existing); grow > 0 {
		existing = append(existing, make([]int64, grow)...)
	}
	for i, n := range rec.Counts {
		existing[i] = addCount(existing[i], n)
	}
	m[rec.Source] = existing
}

func addCount(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// MergeFile parses the stats file at path and merges every record into m.
// If the file cannot be parsed, m is left untouched.
func (m Map) MergeFile(path string) error {
	records, err := ParseFile(path)
	if err != nil {
		return err
	}

	for _, rec := range records {
		m.Merge(rec)
	}
	return nil
}

// Sources returns the source names in lexicographic order.
func (m Map) Sources() []string {
	return slices.Sorted(maps.Keys(m))
}

// Clone returns a deep copy of m.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for src, counts := range m {
		out[src] = slices.Clone(counts)
	}
	return out
}

// Equal reports whether m and other hold the same sources with the same
// count vectors.
func (m Map) Equal(other Map) bool {
	return maps.EqualFunc(m, other, func(a, b []int64) bool {
		return slices.Equal(a, b)
	})
}

// WriteTo serializes m in stats file format, sources sorted.
func (m Map) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for _, src := range m.Sources() {
		counts := m[src]

		buf.WriteString(strconv.Itoa(len(counts)))
		buf.WriteByte(':')
		buf.WriteString(src)
		buf.WriteByte('\n')

		num := make([]byte, 0, 20)
		for i, n := range counts {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.Write(strconv.AppendInt(num[:0], n, 10))
		}
		buf.WriteByte('\n')
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// WriteFile replaces the contents of path with the serialized map. The
// data goes to a temporary file in the same directory which is renamed
// over path, so a failed write leaves any previous file intact.
func (m Map) WriteFile(path string) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".luacov-stats-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := m.WriteTo(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write stats: %w", err)
	}

	if err := tmpFile.Chmod(0644); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
