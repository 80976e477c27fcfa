// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package mfrc522

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-mfrc522/internal/syncutil"
)

// Console output of Debugf and Debugln. MFRC522_DEBUG or DEBUG in the
// environment turns it on at startup.
var debugEnabled atomic.Bool

var (
	logMu            syncutil.Mutex
	sessionLogWriter io.Writer // guarded by logMu, nil without a session log
)

func init() {
	for _, name := range []string{"MFRC522_DEBUG", "DEBUG"} {
		if os.Getenv(name) != "" {
			debugEnabled.Store(true)
		}
	}
}

// Debugf logs protocol detail. The line always goes to the session log
// when one is open and to stdout only while debug output is enabled.
func Debugf(format string, args ...any) {
	emit(fmt.Sprintf(format, args...))
}

// Debugln is Debugf with fmt.Sprint formatting
func Debugln(args ...any) {
	emit(fmt.Sprint(args...))
}

func emit(message string) {
	logMu.Lock()
	if sessionLogWriter != nil {
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", time.Now().Format("15:04:05.000"), message)
	}
	logMu.Unlock()

	if debugEnabled.Load() {
		_, _ = fmt.Fprintf(os.Stdout, "DEBUG: %s\n", message)
	}
}

// SetDebugEnabled switches console debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on
func DebugEnabled() bool {
	return debugEnabled.Load()
}

func debugf(format string, args ...any) { Debugf(format, args...) }
func debugln(args ...any)               { Debugln(args...) }
