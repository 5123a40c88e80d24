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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// ErrMalformed is matched by every *FormatError via errors.Is.
var ErrMalformed = errors.New("malformed luacov stats")

// Record is one source file entry of a stats file.
type Record struct {
	Source string
	Counts []int64
}

// FormatError reports a corrupt or truncated stats file.
type FormatError struct {
	// Path is the stats file, empty when parsing an anonymous reader.
	Path string

	// Line is the 1-based line number the problem was found on.
	Line int

	Reason string
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s:%d: %s: %s", e.Path, e.Line, ErrMalformed, e.Reason)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, ErrMalformed, e.Reason)
}

// Unwrap returns ErrMalformed for errors.Is support.
func (e *FormatError) Unwrap() error {
	return ErrMalformed
}

// Parse reads all records from r. Parsing stops at the first empty header
// line, which is either end of input or a blank line.
func Parse(r io.Reader) ([]Record, error) {
	return parse(r, "")
}

// ParseFile parses the stats file at path.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats file: %w", err)
	}
	defer f.Close()

	return parse(f, path)
}

func parse(r io.Reader, path string) ([]Record, error) {
	br := bufio.NewReader(r)
	var records []Record

	lineNo := 0
	for {
		header, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read stats header: %w", err)
		}
		lineNo++

		header = strings.TrimRightFunc(header, unicode.IsSpace)
		if header == "" {
			return records, nil
		}

		declared, source, err := parseHeader(header)
		if err != nil {
			return nil, &FormatError{Path: path, Line: lineNo, Reason: err.Error()}
		}

		body, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("failed to read stats counts: %w", err)
		}
		lineNo++

		counts, err := parseCounts(body)
		if err != nil {
			return nil, &FormatError{Path: path, Line: lineNo, Reason: err.Error()}
		}

		if len(counts) != declared {
			return nil, &FormatError{
				Path:   path,
				Line:   lineNo,
				Reason: fmt.Sprintf("%s declares %d lines but has %d counts", source, declared, len(counts)),
			}
		}

		records = append(records, Record{Source: source, Counts: counts})
	}
}

// readLine returns the next line without its terminator. At end of input
// it returns an empty string and a nil error.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseHeader splits "<line_count>:<source>" on the first colon. Source
// names may themselves contain colons.
func parseHeader(header string) (int, string, error) {
	countStr, source, ok := strings.Cut(header, ":")
	if !ok {
		return 0, "", fmt.Errorf("header %q has no ':' separator", header)
	}

	declared, err := strconv.Atoi(countStr)
	if err != nil || declared < 0 {
		return 0, "", fmt.Errorf("header %q has invalid line count %q", header, countStr)
	}

	return declared, source, nil
}

func parseCounts(body string) ([]int64, error) {
	fields := strings.Fields(body)
	counts := make([]int64, 0, len(fields))

	for i, field := range fields {
		n, err := strconv.ParseInt(field, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("count %d is not a non-negative integer: %q", i, field)
		}
		counts = append(counts, n)
	}

	return counts, nil
}
