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

//go:build linux

package lifecycle

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// getProcessCommand returns the command line of the process.
func getProcessCommand(pid int) (string, error) {
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", fmt.Errorf("failed to read cmdline: %w", err)
	}

	// cmdline is null-separated, convert to space-separated
	cmd := strings.ReplaceAll(string(cmdline), "\x00", " ")
	return strings.TrimSpace(cmd), nil
}

// readStat returns the state and parent PID fields of /proc/[pid]/stat.
func readStat(pid int) (byte, int, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, 0, err
	}

	// comm may contain spaces and parens; fields resume after the last ')'
	stat := string(data)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, 0, fmt.Errorf("malformed stat for %d", pid)
	}

	fields := strings.Fields(stat[end+1:])
	if len(fields) < 2 || len(fields[0]) == 0 {
		return 0, 0, fmt.Errorf("malformed stat for %d", pid)
	}

	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed ppid for %d: %w", pid, err)
	}

	return fields[0][0], ppid, nil
}

func isZombie(pid int) bool {
	state, _, err := readStat(pid)
	return err == nil && state == 'Z'
}

// listChildren scans /proc for processes whose parent is pid.
func listChildren(pid int) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}

	var children []int
	for _, e := range entries {
		child, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}

		// processes may exit while we scan
		_, ppid, err := readStat(child)
		if err != nil {
			continue
		}
		if ppid == pid {
			children = append(children, child)
		}
	}

	return children, nil
}
