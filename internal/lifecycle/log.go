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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Event is one entry of the lifecycle journal.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // "start", "start_success", "stop", "signal", ...
	PID       int       `json:"pid,omitempty"`
	Binary    string    `json:"binary,omitempty"`
	Args      []string  `json:"args,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EventLog appends daemon lifecycle events as JSON lines. Test suites
// keep it with the other run artefacts so a failed teardown can be
// reconstructed.
type EventLog struct {
	path string
}

// NewEventLog creates an event log writing to path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// LogStart logs a daemon start attempt.
func (l *EventLog) LogStart(binary string, args []string) error {
	return l.write(Event{
		Event:   "start",
		Binary:  binary,
		Args:    args,
		Success: true,
		Message: "daemon start initiated",
	})
}

// LogStartSuccess logs a daemon that answered its health check.
func (l *EventLog) LogStartSuccess(pid int, attempts int, d time.Duration) error {
	return l.write(Event{
		Event:   "start_success",
		PID:     pid,
		Success: true,
		Message: fmt.Sprintf("daemon healthy after %d checks in %v", attempts, d.Round(time.Millisecond)),
	})
}

// LogStartFailure logs a failed daemon start.
func (l *EventLog) LogStartFailure(pid int, err error) error {
	return l.write(Event{
		Event:   "start_failure",
		PID:     pid,
		Message: "daemon failed to start",
		Error:   errString(err),
	})
}

// LogStop logs the outcome of a daemon shutdown.
func (l *EventLog) LogStop(pid int, d time.Duration, err error) error {
	ev := Event{
		Event:   "stop",
		PID:     pid,
		Success: err == nil,
		Message: fmt.Sprintf("shutdown took %v", d.Round(time.Millisecond)),
		Error:   errString(err),
	}
	return l.write(ev)
}

// LogSignal logs a signal delivered to the daemon.
func (l *EventLog) LogSignal(pid int, sig string, err error) error {
	return l.write(Event{
		Event:   "signal",
		PID:     pid,
		Signal:  sig,
		Success: err == nil,
		Error:   errString(err),
	})
}

// Events reads back every event in the log.
func (l *EventLog) Events() ([]Event, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lifecycle log: %w", err)
	}

	var events []Event
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("lifecycle log line %d: %w", i+1, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (l *EventLog) write(event Event) error {
	event.Timestamp = time.Now()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open lifecycle log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
