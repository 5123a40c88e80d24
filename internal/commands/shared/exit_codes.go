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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/functest/internal/lifecycle"
	"github.com/tombee/functest/internal/probe"
	pkgerrors "github.com/tombee/functest/pkg/errors"
)

// Exit codes for functest commands
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitNotFound    = 3
	ExitTimeout     = 4
	ExitCheckFailed = 5 // probe answered but an expectation did not hold
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewFailure creates an error for generic command failures
func NewFailure(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: msg, Cause: cause}
}

// NewUsageError creates an error for bad flags or arguments
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitUsage, Message: msg, Cause: cause}
}

// NewCheckFailedError creates an error for unmet expectations
func NewCheckFailedError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitCheckFailed, Message: msg, Cause: cause}
}

// Classify wraps err in an ExitError whose code reflects its cause.
func Classify(msg string, err error) *ExitError {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}

	var (
		notFound *pkgerrors.NotFoundError
		timeout  *pkgerrors.TimeoutError
		cfgErr   *pkgerrors.ConfigError
		respErr  *probe.ResponseError
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist), errors.Is(err, lifecycle.ErrProcessNotRunning):
		return &ExitError{Code: ExitNotFound, Message: msg, Cause: err}
	case errors.As(err, &timeout), errors.Is(err, lifecycle.ErrShutdownTimeout), errors.Is(err, lifecycle.ErrHealthCheckTimeout):
		return &ExitError{Code: ExitTimeout, Message: msg, Cause: err}
	case errors.As(err, &respErr):
		return &ExitError{Code: ExitCheckFailed, Message: msg, Cause: err}
	case errors.As(err, &cfgErr):
		return &ExitError{Code: ExitUsage, Message: msg, Cause: err}
	default:
		return &ExitError{Code: ExitFailure, Message: msg, Cause: err}
	}
}

// ExitCode returns the exit code HandleExitError would use.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// HandleExitError prints err and exits with its code
func HandleExitError(err error) {
	if err == nil {
		return
	}
	PrintError(os.Stderr, err)
	os.Exit(ExitCode(err))
}

// PrintError writes err and any suggestion attached to it.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err.Error())
	printUserVisibleSuggestion(w, err)
}

// printUserVisibleSuggestion walks the chain for a UserVisibleError and
// prints its suggestion if it has one.
func printUserVisibleSuggestion(w io.Writer, err error) {
	var userErr pkgerrors.UserVisibleError
	if !errors.As(err, &userErr) || !userErr.IsUserVisible() {
		return
	}
	if s := userErr.Suggestion(); s != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", s)
	}
}
