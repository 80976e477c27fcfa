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

//nolint:paralleltest // Tests modify package-level debug state, cannot run in parallel
package mfrc522

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureDebug(t *testing.T) *bytes.Buffer {
	t.Helper()
	origEnabled, origWriter := debugEnabled.Load(), sessionLogWriter
	t.Cleanup(func() {
		debugEnabled.Store(origEnabled)
		sessionLogWriter = origWriter
	})

	var buf bytes.Buffer
	sessionLogWriter = &buf
	debugEnabled.Store(false)
	return &buf
}

func TestDebug_WritesTimestampedLines(t *testing.T) {
	tests := []struct {
		name string
		log  func()
		want string
	}{
		{name: "format", log: func() { Debugf("reg 0x%02X = %d", 0x37, 146) }, want: "DEBUG: reg 0x37 = 146"},
		{name: "sprint", log: func() { Debugln("uid", 4, "bytes") }, want: "DEBUG: uid4bytes"},
		{name: "internal", log: func() { debugf("select: level %d", 2) }, want: "DEBUG: select: level 2"},
	}

	stamp := regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG:`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureDebug(t)
			tt.log()
			assert.Contains(t, buf.String(), tt.want)
			assert.Regexp(t, stamp, buf.String())
			assert.True(t, strings.HasSuffix(buf.String(), "\n"))
		})
	}
}

func TestDebug_NilSessionWriter(t *testing.T) {
	captureDebug(t)
	sessionLogWriter = nil

	assert.NotPanics(t, func() {
		Debugf("nothing %d", 1)
		debugln("to", "see")
	})
}

func TestDebug_MultipleMessagesKeepOrder(t *testing.T) {
	buf := captureDebug(t)

	for _, m := range []string{"REQA", "anticollision CL1", "SELECT CL1"} {
		Debugf("%s", m)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "REQA")
	assert.Contains(t, lines[2], "SELECT CL1")
}

func TestSetDebugEnabled(t *testing.T) {
	captureDebug(t)

	SetDebugEnabled(true)
	assert.True(t, DebugEnabled())
	SetDebugEnabled(false)
	assert.False(t, DebugEnabled())
}

func TestSessionLog_Lifecycle(t *testing.T) {
	captureDebug(t)
	sessionLogWriter = nil
	dir := t.TempDir()

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, path, SessionLogPath())
	assert.Regexp(t, `mfrc522_\d{8}_\d{6}\.log$`, filepath.Base(path))

	Debugf("anticollision frame %d", 3)
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, SessionLogPath())

	content, err := os.ReadFile(path) //nolint:gosec // test file in temp dir
	require.NoError(t, err)
	text := string(content)
	assert.True(t, strings.HasPrefix(text, "=== MFRC522 Debug Session Log ==="))
	assert.Contains(t, text, "PID:")
	assert.Contains(t, text, "DEBUG: anticollision frame 3")
	assert.Contains(t, text, "=== Session ended ===")
}

func TestSessionLog_CloseWithoutInit(t *testing.T) {
	captureDebug(t)
	require.NoError(t, CloseSessionLog())
}

func TestSessionLog_InvalidDirectory(t *testing.T) {
	captureDebug(t)

	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.Empty(t, SessionLogPath())
}

func TestWriteSessionHeader(t *testing.T) {
	var buf bytes.Buffer
	writeSessionHeader(&buf)
	for _, want := range []string{"Started:", "OS:", "Go Version:", "Command Line:"} {
		assert.Contains(t, buf.String(), want)
	}
}
