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
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// guarded by logMu
var (
	sessionLogFile *os.File
	sessionLogPath string
)

// InitSessionLog starts a timestamped log file in dir, or in the working
// directory when dir is empty, and returns its path. Every Debugf line is
// written there until CloseSessionLog, whether or not console debug output
// is enabled. A log that is already open is closed first.
func InitSessionLog(dir string) (string, error) {
	name := filepath.Join(dir, "mfrc522_"+time.Now().Format("20060102_150405")+".log")

	//nolint:gosec // name is built here from a timestamp
	f, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	writeSessionHeader(f)

	_ = CloseSessionLog()

	logMu.Lock()
	sessionLogFile, sessionLogPath, sessionLogWriter = f, name, f
	logMu.Unlock()
	return name, nil
}

// CloseSessionLog ends the current session log. Without one it does
// nothing.
func CloseSessionLog() error {
	logMu.Lock()
	defer logMu.Unlock()

	if sessionLogFile == nil {
		return nil
	}
	_, _ = fmt.Fprintf(sessionLogFile, "\n%s === Session ended ===\n", time.Now().Format("15:04:05.000"))
	err := sessionLogFile.Close()
	sessionLogFile, sessionLogPath, sessionLogWriter = nil, "", nil
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// SessionLogPath returns the path of the open session log, or ""
func SessionLogPath() string {
	logMu.Lock()
	defer logMu.Unlock()
	return sessionLogPath
}

func writeSessionHeader(w io.Writer) {
	lines := []string{
		"=== MFRC522 Debug Session Log ===",
		"Started: " + time.Now().Format(time.RFC3339),
		fmt.Sprintf("PID: %d", os.Getpid()),
		"OS: " + runtime.GOOS + "/" + runtime.GOARCH,
		"Go Version: " + runtime.Version(),
		"Command Line: " + strings.Join(os.Args, " "),
		"=================================",
	}
	_, _ = fmt.Fprint(w, strings.Join(lines, "\n")+"\n\n")
}
