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
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

var signalNames = map[string]syscall.Signal{
	"HUP":  syscall.SIGHUP,
	"INT":  syscall.SIGINT,
	"QUIT": syscall.SIGQUIT,
	"KILL": syscall.SIGKILL,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
	"TERM": syscall.SIGTERM,
}

// SignalValue is a pflag.Value accepting "USR1", "SIGUSR1" or a number.
type SignalValue struct {
	sig syscall.Signal
}

var _ pflag.Value = (*SignalValue)(nil)

// NewSignalValue returns a SignalValue defaulting to def.
func NewSignalValue(def syscall.Signal) *SignalValue {
	return &SignalValue{sig: def}
}

// Signal returns the parsed signal.
func (v *SignalValue) Signal() syscall.Signal {
	return v.sig
}

func (v *SignalValue) String() string {
	for name, sig := range signalNames {
		if sig == v.sig {
			return name
		}
	}
	return strconv.Itoa(int(v.sig))
}

func (v *SignalValue) Set(s string) error {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "SIG")
	if sig, ok := signalNames[name]; ok {
		v.sig = sig
		return nil
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("unknown signal %q", s)
	}
	v.sig = syscall.Signal(n)
	return nil
}

func (v *SignalValue) Type() string {
	return "signal"
}
