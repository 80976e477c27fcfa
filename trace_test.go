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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceBuffer_Ring(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("spi", "/dev/spidev0.0", 3)
	for i := range 5 {
		tb.RecordTX([]byte{byte(i)}, "")
	}
	assert.Equal(t, 3, tb.Len())

	te := GetTrace(tb.WrapError(ErrTransportRead))
	require.NotNil(t, te)
	require.Len(t, te.Trace, 3)
	for i, entry := range te.Trace {
		assert.Equal(t, []byte{byte(i + 2)}, entry.Data, "oldest entries evicted first")
	}

	tb.Clear()
	assert.Equal(t, 0, tb.Len())
}

func TestTraceBuffer_DefaultSize(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("i2c", "/dev/i2c-1", 0)
	for range 20 {
		tb.RecordRX([]byte{0x92}, "")
	}
	assert.Equal(t, 16, tb.Len())
}

func TestTraceBuffer_CopiesData(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("spi", "p", 4)
	data := []byte{0xEE, 0x00}
	tb.RecordTX(data, "")
	data[0] = 0xFF

	te := GetTrace(tb.WrapError(ErrTransportRead))
	require.NotNil(t, te)
	assert.Equal(t, []byte{0xEE, 0x00}, te.Trace[0].Data)
}

func TestTraceBuffer_WrapError(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "/dev/ttyS0", 8)
	assert.NoError(t, tb.WrapError(nil))

	tb.RecordTX([]byte{0xB7}, "read VersionReg")
	tb.RecordTimeout("no echo")

	err := fmt.Errorf("version: %w", tb.WrapError(NewTimeoutError("read", "/dev/ttyS0")))
	assert.True(t, HasTrace(err))
	require.ErrorIs(t, err, ErrTransportTimeout)

	te := GetTrace(err)
	require.NotNil(t, te)
	assert.Equal(t, "uart", te.Transport)
	assert.Equal(t, "/dev/ttyS0", te.Port)
	assert.Equal(t, te.Err.Error(), te.Error())

	formatted := te.FormatTrace()
	assert.Contains(t, formatted, "[uart:/dev/ttyS0] Wire trace (2 entries):")
	assert.Contains(t, formatted, "> B7 (read VersionReg)")
	assert.Contains(t, formatted, "< (empty) (TIMEOUT: no echo)")
}

func TestTraceableError_EmptyTrace(t *testing.T) {
	t.Parallel()

	te := &TraceableError{Err: ErrTransportRead, Transport: "spi", Port: "p"}
	assert.Equal(t, "[spi:p] (no trace data)", te.FormatTrace())
	assert.False(t, HasTrace(ErrTransportRead))
	assert.Nil(t, GetTrace(ErrTransportRead))
}

func TestTraceEntry_String(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("spi", "p", 2)
	tb.RecordTX([]byte{0x01, 0xAB}, "note")
	tb.RecordRX([]byte{0x02}, "")
	te := GetTrace(tb.WrapError(ErrTransportRead))
	require.NotNil(t, te)

	assert.True(t, strings.HasSuffix(te.Trace[0].String(), "TX: 01 AB (note)"))
	assert.True(t, strings.HasSuffix(te.Trace[1].String(), "RX: 02"))
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "00 7F FF", formatHexBytes([]byte{0x00, 0x7F, 0xFF}))

	long := make([]byte, 40)
	got := formatHexBytes(long)
	assert.True(t, strings.HasSuffix(got, " ... (40 bytes total)"))
	assert.Equal(t, 32, strings.Count(got, "00"))
}
